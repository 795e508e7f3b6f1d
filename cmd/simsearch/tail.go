package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/metrics"
	"github.com/urfave/cli/v2"
)

func tailCommand() *cli.Command {
	return &cli.Command{
		Name:   "tail",
		Usage:  "Print published emissions as JSON lines",
		Action: runTail,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "query-id",
				Usage: "Only print emissions of this query",
			},
			&cli.BoolFlag{
				Name:  "from-start",
				Usage: "Start at the oldest retained offset for a new consumer group",
			},
			&cli.IntFlag{
				Name:  "max",
				Usage: "Stop after printing this many emissions (0 = run until interrupted)",
			},
		},
	}
}

func runTail(c *cli.Context) error {
	s := stateFrom(c)
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	probe := kafka.NewProducer(s.cfg.Kafka, s.cfg.Kafka.Topics.Emissions)
	defer probe.Close()
	checker := health.NewChecker()
	checker.Register("kafka", health.PingCheck(probe))
	defer s.serveMetrics(metrics.Route{Pattern: "/readyz", Handler: checker.ReadyHandler()})()

	filter := c.String("query-id")
	limit := int64(c.Int("max"))
	var printed atomic.Int64
	enc := json.NewEncoder(os.Stdout)

	handler := func(ctx context.Context, msg kafka.Message) error {
		if filter != "" && msg.Headers["query_id"] != filter {
			return nil
		}
		ev, err := kafka.DecodeJSON[engine.EmissionEvent](msg.Value)
		if err != nil {
			slog.Warn("skipping undecodable emission", "offset", msg.Offset, "error", err)
			return nil
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
		if n := printed.Add(1); limit > 0 && n >= limit {
			cancel()
		}
		return nil
	}

	consumer := kafka.NewConsumer(s.cfg.Kafka, s.cfg.Kafka.Topics.Emissions, c.Bool("from-start"), handler)
	defer consumer.Close()
	return consumer.Start(ctx)
}
