// Command simsearch runs progressive per-attribute similarity searches over
// a CSV file or Postgres table and reports, caches or publishes the results.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/dataset"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
)

const (
	stateKey     = "state"
	routeTimeout = 5 * time.Second
)

// state is shared by every command through the app metadata.
type state struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func main() {
	app := &cli.App{
		Name:  "simsearch",
		Usage: "Progressive multi-modal top-k similarity search",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				EnvVars: []string{"SIMSEARCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override logging level (debug, info, warn, error)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			searchCommand(),
			calibrateCommand(),
			tailCommand(),
			healthCommand(),
			loadtestCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "simsearch: %v\n", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	slog.SetDefault(logger.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[stateKey] = &state{cfg: cfg, registry: reg, metrics: metrics.New(reg)}
	return nil
}

func stateFrom(c *cli.Context) *state {
	return c.App.Metadata[stateKey].(*state)
}

// serveMetrics starts the metrics server when enabled and returns a stop
// function that is always safe to call.
func (s *state) serveMetrics(routes ...metrics.Route) func() {
	if !s.cfg.Metrics.Enabled {
		return func() {}
	}
	for i, r := range routes {
		routes[i].Handler = middleware.Chain(r.Handler,
			middleware.Recover(logger.WithComponent("metrics-server")),
			middleware.Metrics(s.metrics, r.Pattern),
			middleware.Timeout(routeTimeout),
		)
	}
	shutdown := metrics.StartServer(s.cfg.Metrics.Port, s.registry, routes...)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("metrics server shutdown", "error", err)
		}
	}
}

// connectPostgres opens the configured database, retrying transient failures.
func (s *state) connectPostgres(ctx context.Context) (*postgres.Client, error) {
	var client *postgres.Client
	err := resilience.Retry(ctx, "postgres-connect", resilience.RetryConfig{}, func() error {
		var err error
		client, err = postgres.New(ctx, s.cfg.Postgres)
		return err
	})
	return client, err
}

// connectRedis opens the configured Redis, retrying transient failures.
func (s *state) connectRedis(ctx context.Context) (*pkgredis.Client, error) {
	var client *pkgredis.Client
	err := resilience.Retry(ctx, "redis-connect", resilience.RetryConfig{MaxAttempts: 2}, func() error {
		var err error
		client, err = pkgredis.NewClient(ctx, s.cfg.Redis)
		return err
	})
	return client, err
}

// loadDataset reads the columns qf needs from its source and records skipped
// rows.
func (s *state) loadDataset(ctx context.Context, qf *QueryFile) (*dataset.Dataset, dataset.LoadReport, error) {
	if qf.Source.CSV != "" {
		ds, report, err := dataset.LoadCSVFile(qf.Source.CSV, qf.Source.IDColumn, qf.Columns())
		s.metrics.ItemsSkipped.WithLabelValues("csv").Add(float64(report.Skipped))
		return ds, report, err
	}
	client, err := s.connectPostgres(ctx)
	if err != nil {
		return nil, dataset.LoadReport{}, err
	}
	defer client.Close()
	ds, report, err := dataset.LoadPostgres(ctx, client.DB, qf.Source.Table, qf.Source.IDColumn, qf.Columns())
	s.metrics.ItemsSkipped.WithLabelValues("postgres").Add(float64(report.Skipped))
	return ds, report, err
}

// indexName identifies a dataset in cache keys.
func indexName(qf *QueryFile) string {
	if qf.Source.CSV != "" {
		return "csv:" + qf.Source.CSV
	}
	return "table:" + qf.Source.Table
}
