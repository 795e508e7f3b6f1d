package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/engine"
	"github.com/urfave/cli/v2"
)

func loadtestCommand() *cli.Command {
	return &cli.Command{
		Name:   "loadtest",
		Usage:  "Replay a query file concurrently and report latency percentiles",
		Action: runLoadtestCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "query",
				Aliases:  []string{"q"},
				Usage:    "Query file (YAML)",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Value: 10,
				Usage: "Concurrent query executions",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Value: 10 * time.Second,
				Usage: "Test duration",
			},
			&cli.Int64Flag{
				Name:  "requests",
				Usage: "Stop after this many executions (0 runs for the whole duration)",
			},
		},
	}
}

type loadConfig struct {
	Concurrency int
	Duration    time.Duration
	Requests    int64
}

// loadStats collects per-execution outcomes from concurrent workers.
type loadStats struct {
	total     atomic.Int64
	errors    atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (s *loadStats) record(d time.Duration, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

// loadSummary is the printed outcome of a load test. Latencies cover
// successful executions only.
type loadSummary struct {
	Total     int64
	Errors    int64
	PerSecond float64
	Min       time.Duration
	Avg       time.Duration
	P50       time.Duration
	P90       time.Duration
	P95       time.Duration
	P99       time.Duration
	Max       time.Duration
	StdDev    time.Duration
}

func (s *loadStats) summary(elapsed time.Duration) loadSummary {
	out := loadSummary{Total: s.total.Load(), Errors: s.errors.Load()}
	if elapsed > 0 {
		out.PerSecond = float64(out.Total) / elapsed.Seconds()
	}

	s.mu.Lock()
	latencies := make([]time.Duration, len(s.latencies))
	copy(latencies, s.latencies)
	s.mu.Unlock()
	if len(latencies) == 0 {
		return out
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	out.Avg = sum / time.Duration(len(latencies))
	out.Min = latencies[0]
	out.Max = latencies[len(latencies)-1]
	out.P50 = percentile(latencies, 50)
	out.P90 = percentile(latencies, 90)
	out.P95 = percentile(latencies, 95)
	out.P99 = percentile(latencies, 99)

	var sumSquared float64
	for _, l := range latencies {
		diff := float64(l - out.Avg)
		sumSquared += diff * diff
	}
	out.StdDev = time.Duration(math.Sqrt(sumSquared / float64(len(latencies))))
	return out
}

// percentile reads the p-th percentile of an ascending slice by the
// nearest-rank method.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// runLoadTest executes tasks repeatedly from cfg.Concurrency workers until
// the duration elapses, ctx is cancelled, or cfg.Requests executions were
// issued. Task indexes are shared across workers; every execution builds its
// own searches.
func runLoadTest(ctx context.Context, coord *engine.Coordinator, tasks []engine.Task, cfg loadConfig) (*loadStats, time.Duration) {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	stats := &loadStats{latencies: make([]time.Duration, 0, 1024)}
	var issued atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				if cfg.Requests > 0 && issued.Add(1) > cfg.Requests {
					return
				}
				begin := time.Now()
				exec, err := coord.Execute(ctx, tasks)
				if err == nil {
					_, err = exec.Wait()
				}
				if ctx.Err() != nil {
					// Executions cut short by the end of the test are not counted.
					return
				}
				stats.record(time.Since(begin), err)
			}
		}()
	}
	wg.Wait()
	return stats, time.Since(start)
}

func printLoadSummary(w io.Writer, sum loadSummary) {
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Executions: %d\n", sum.Total)
	fmt.Fprintf(w, "Errors:           %d\n", sum.Errors)
	if sum.Total > 0 {
		fmt.Fprintf(w, "Error Rate:       %.2f%%\n", float64(sum.Errors)/float64(sum.Total)*100)
		fmt.Fprintf(w, "Executions/sec:   %.2f\n", sum.PerSecond)
	}
	if sum.Total == sum.Errors {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Latency ===")
	fmt.Fprintf(w, "Min:    %s\n", sum.Min)
	fmt.Fprintf(w, "Avg:    %s\n", sum.Avg)
	fmt.Fprintf(w, "P50:    %s\n", sum.P50)
	fmt.Fprintf(w, "P90:    %s\n", sum.P90)
	fmt.Fprintf(w, "P95:    %s\n", sum.P95)
	fmt.Fprintf(w, "P99:    %s\n", sum.P99)
	fmt.Fprintf(w, "Max:    %s\n", sum.Max)
	fmt.Fprintf(w, "StdDev: %s\n", sum.StdDev)
}

func runLoadtestCommand(c *cli.Context) error {
	s := stateFrom(c)
	defer s.serveMetrics()()

	qf, err := LoadQueryFile(c.String("query"))
	if err != nil {
		return cli.Exit(err, 2)
	}
	params, err := qf.Params(s.cfg.Search)
	if err != nil {
		return cli.Exit(err, 2)
	}
	ds, _, err := s.loadDataset(c.Context, qf)
	if err != nil {
		return err
	}
	p := &planner{cfg: s.cfg, params: params, scale: directScaler(s.cfg.Pivot)}
	tasks, err := p.tasks(c.Context, qf, ds)
	if err != nil {
		return err
	}

	coord, err := engine.NewCoordinator(s.cfg.Pool.Size,
		engine.WithMetrics(s.metrics),
		engine.WithTimeout(s.cfg.Search.Timeout),
	)
	if err != nil {
		return err
	}
	defer coord.Close()

	cfg := loadConfig{
		Concurrency: c.Int("concurrency"),
		Duration:    c.Duration("duration"),
		Requests:    c.Int64("requests"),
	}
	fmt.Fprintf(os.Stderr, "load testing %d attributes: concurrency=%d duration=%s\n",
		len(tasks), cfg.Concurrency, cfg.Duration)

	stats, elapsed := runLoadTest(c.Context, coord, tasks, cfg)
	sum := stats.summary(elapsed)
	printLoadSummary(os.Stdout, sum)
	if sum.Total == 0 {
		return cli.Exit("no executions completed", 1)
	}
	return nil
}
