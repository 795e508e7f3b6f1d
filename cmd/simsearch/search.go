package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/tracing"
	"github.com/urfave/cli/v2"
)

// AttributeResult is the output of one attribute in a search result.
type AttributeResult struct {
	Kind       engine.Kind  `json:"kind"`
	Scale      float64      `json:"scale"`
	Emitted    int          `json:"emitted"`
	Verified   int          `json:"verified,omitempty"`
	Reinserted int          `json:"reinserted,omitempty"`
	DurationMS int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
	Entries    []sink.Entry `json:"entries"`
}

// SearchResult is what the search command prints.
type SearchResult struct {
	QueryID    string                     `json:"query_id"`
	Skipped    int                        `json:"skipped_rows"`
	Attributes map[string]AttributeResult `json:"attributes"`
	Published  *engine.PublishStats       `json:"published,omitempty"`
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:   "search",
		Usage:  "Run a query file and print every attribute's ranked entries",
		Action: runSearch,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "query",
				Aliases:  []string{"q"},
				Usage:    "Path to YAML query file",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "Publish emissions to the configured Kafka topic",
			},
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Calibrate multimetric scales without Redis",
			},
		},
	}
}

func runSearch(c *cli.Context) error {
	s := stateFrom(c)
	defer s.serveMetrics()()

	qf, err := LoadQueryFile(c.String("query"))
	if err != nil {
		return cli.Exit(err, 2)
	}
	queryID := qf.ID
	if queryID == "" {
		queryID = tracing.NewTraceID()
	}
	ctx := logger.WithQueryID(c.Context, queryID)

	params, err := qf.Params(s.cfg.Search)
	if err != nil {
		return cli.Exit(err, 2)
	}
	ds, report, err := s.loadDataset(ctx, qf)
	if err != nil {
		return err
	}

	p := &planner{cfg: s.cfg, params: params, scale: directScaler(s.cfg.Pivot)}
	if !c.Bool("no-cache") {
		if rc, err := s.connectRedis(ctx); err != nil {
			slog.Warn("redis unavailable, scale caching disabled", "error", err)
		} else {
			defer rc.Close()
			cache := engine.NewScaleCache(rc, s.cfg.Redis.CacheTTL, s.metrics)
			p.scale = cachedScaler(s.cfg.Pivot, cache, indexName(qf))
		}
	}
	tasks, err := p.tasks(ctx, qf, ds)
	if err != nil {
		return err
	}
	report.Merge(p.report)

	coord, err := engine.NewCoordinator(s.cfg.Pool.Size,
		engine.WithMetrics(s.metrics),
		engine.WithTimeout(s.cfg.Search.Timeout),
		engine.WithPollInterval(s.cfg.Search.PollInterval),
		engine.WithTracing(s.cfg.Tracing.Enabled),
	)
	if err != nil {
		return err
	}
	defer coord.Close()

	var execOpts []engine.ExecOption
	var producer *kafka.Producer
	if c.Bool("publish") {
		producer = kafka.NewProducer(s.cfg.Kafka, s.cfg.Kafka.Topics.Emissions)
		defer producer.Close()
		execOpts = append(execOpts, engine.WithEmissions(s.cfg.Search.BatchSize))
	}
	exec, err := coord.Execute(ctx, tasks, execOpts...)
	if err != nil {
		return cli.Exit(err, 2)
	}

	result := SearchResult{QueryID: queryID, Skipped: report.Skipped}
	if producer != nil {
		pub := engine.NewPublisher(producer, engine.PublisherConfig{BatchSize: s.cfg.Search.BatchSize}, s.metrics)
		stats := pub.Drain(ctx, queryID, exec.Emissions)
		result.Published = &stats
	}
	reports, waitErr := exec.Wait()
	result.Attributes = collect(exec, reports)

	if err := writeJSON(os.Stdout, result); err != nil {
		return err
	}
	if waitErr != nil {
		return cli.Exit(fmt.Sprintf("search finished with errors: %v", waitErr), 1)
	}
	return nil
}

func collect(exec *engine.Execution, reports []engine.Report) map[string]AttributeResult {
	out := make(map[string]AttributeResult, len(reports))
	for _, r := range reports {
		ar := AttributeResult{
			Kind:       r.Kind,
			Scale:      r.Scale,
			Emitted:    r.Emitted,
			Verified:   r.Verified,
			Reinserted: r.Reinserted,
			DurationMS: r.Duration.Milliseconds(),
			Entries:    exec.Buffers[r.Attribute].Entries(),
		}
		if r.Err != nil {
			ar.Error = r.Err.Error()
		}
		out[r.Attribute] = ar
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
