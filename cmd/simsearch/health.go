package main

import (
	"context"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/redis"
	"github.com/urfave/cli/v2"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:   "health",
		Usage:  "Check the configured Postgres, Redis and Kafka",
		Action: runHealth,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "optional",
				Usage: "Components whose failure only degrades the report (postgres, redis, kafka)",
				Value: cli.NewStringSlice("kafka"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Deadline for all checks",
				Value: 5 * time.Second,
			},
		},
	}
}

// connectCheck reports down when the client cannot be created at all.
func connectCheck(connect func(ctx context.Context) (health.Pinger, func() error, error)) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		p, closeFn, err := connect(ctx)
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		defer closeFn()
		return health.PingCheck(p)(ctx)
	}
}

func runHealth(c *cli.Context) error {
	s := stateFrom(c)
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	checks := map[string]health.Check{
		"postgres": connectCheck(func(ctx context.Context) (health.Pinger, func() error, error) {
			client, err := postgres.New(ctx, s.cfg.Postgres)
			if err != nil {
				return nil, nil, err
			}
			return client, client.Close, nil
		}),
		"redis": connectCheck(func(ctx context.Context) (health.Pinger, func() error, error) {
			client, err := pkgredis.NewClient(ctx, s.cfg.Redis)
			if err != nil {
				return nil, nil, err
			}
			return client, client.Close, nil
		}),
		"kafka": connectCheck(func(ctx context.Context) (health.Pinger, func() error, error) {
			producer := kafka.NewProducer(s.cfg.Kafka, s.cfg.Kafka.Topics.Emissions)
			return producer, producer.Close, nil
		}),
	}
	optional := make(map[string]bool)
	for _, name := range c.StringSlice("optional") {
		optional[name] = true
	}

	checker := health.NewChecker()
	for name, check := range checks {
		if optional[name] {
			check = health.Optional(check)
		}
		checker.Register(name, check)
	}
	report := checker.Run(ctx)
	if err := writeJSON(os.Stdout, report); err != nil {
		return err
	}
	if report.Status == health.StatusDown {
		return cli.Exit("", 1)
	}
	return nil
}
