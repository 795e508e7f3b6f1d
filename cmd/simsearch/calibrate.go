package main

import (
	"context"
	"os"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/pivot"
	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/resilience"
	"github.com/urfave/cli/v2"
)

// Calibration is the calibrate command's output for one multimetric
// attribute.
type Calibration struct {
	Attribute string             `json:"attribute"`
	K         int                `json:"k"`
	Cached    bool               `json:"cached"`
	Scales    map[string]float64 `json:"scales"`
	MaxRange  map[string]float64 `json:"max_range"`
}

func calibrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "calibrate",
		Usage:  "Compute per-attribute k-NN scales of every multimetric attribute in a query file",
		Action: runCalibrate,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "query",
				Aliases:  []string{"q"},
				Usage:    "Path to YAML query file",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "k",
				Usage: "Neighbour rank whose distance becomes the scale (default: topK)",
			},
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Skip the Redis scale cache",
			},
			&cli.BoolFlag{
				Name:  "invalidate",
				Usage: "Drop cached scales of this dataset before calibrating",
			},
		},
	}
}

func runCalibrate(c *cli.Context) error {
	s := stateFrom(c)
	ctx := c.Context

	qf, err := LoadQueryFile(c.String("query"))
	if err != nil {
		return cli.Exit(err, 2)
	}
	params, err := qf.Params(s.cfg.Search)
	if err != nil {
		return cli.Exit(err, 2)
	}
	k := c.Int("k")
	if k <= 0 {
		k = params.TopK
	}
	ds, _, err := s.loadDataset(ctx, qf)
	if err != nil {
		return err
	}

	var cache *engine.ScaleCache
	if !c.Bool("no-cache") {
		rc, err := s.connectRedis(ctx)
		if err != nil {
			return err
		}
		defer rc.Close()
		cache = engine.NewScaleCache(rc, s.cfg.Redis.CacheTTL, s.metrics)
	}

	p := &planner{cfg: s.cfg, params: params}
	var out []Calibration
	for _, a := range qf.Attributes {
		if a.Kind != engine.KindMultiMetric {
			continue
		}
		ix, query, err := p.multiMetric(a, ds)
		if err != nil {
			return err
		}
		name := indexName(qf) + ":" + a.Name
		if cache != nil && c.Bool("invalidate") {
			if err := cache.Invalidate(ctx, name); err != nil {
				return err
			}
		}
		cal := Calibration{Attribute: a.Name, K: k, MaxRange: ix.MaxRangeScales()}
		err = resilience.WithTimeout(ctx, s.cfg.Search.Timeout, "calibrate "+a.Name, func(ctx context.Context) error {
			var err error
			cal.Scales, cal.Cached, err = calibrateOne(ctx, cache, name, ix, query.Values, k)
			return err
		})
		if err != nil {
			return err
		}
		out = append(out, cal)
	}
	if len(out) == 0 {
		return cli.Exit(apperrors.New(apperrors.ErrInvalidQuery, "", "query file has no multimetric attribute"), 2)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attribute < out[j].Attribute })
	return writeJSON(os.Stdout, out)
}

func calibrateOne(ctx context.Context, cache *engine.ScaleCache, name string, ix *pivot.Index, values map[string]pivot.Value, k int) (map[string]float64, bool, error) {
	if cache == nil {
		scales, err := ix.Calibrate(ctx, values, k)
		return scales, false, err
	}
	return cache.Calibrate(ctx, name, ix, values, k)
}
