// Package engine runs one search task per attribute of a query. Tasks write
// into per-attribute buffers and, optionally, a shared emissions channel
// that a rank-aggregation stage or the Kafka publisher drains.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/categorical"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/numeric"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/pivot"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/spatial"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/config"
	"golang.org/x/time/rate"
)

// Kind names the search algorithm behind a task.
type Kind string

const (
	KindCategorical Kind = "categorical"
	KindNumeric     Kind = "numeric"
	KindSpatial     Kind = "spatial"
	KindMultiMetric Kind = "multimetric"
)

// Params are the per-query knobs shared by every task. Limit caps the number
// of emitted entries (the candidate pool M); TopK fixes the scale.
type Params struct {
	TopK      int
	Limit     int
	Decay     float64
	BatchSize int
}

func ParamsFromConfig(cfg config.SearchConfig) Params {
	return Params{
		TopK:      cfg.TopK,
		Limit:     cfg.CandidatePool,
		Decay:     cfg.Decay,
		BatchSize: cfg.BatchSize,
	}
}

func (p Params) batch() int {
	if p.BatchSize < 1 {
		return 1
	}
	return p.BatchSize
}

// Report summarises one finished task.
type Report struct {
	Attribute  string        `json:"attribute"`
	Kind       Kind          `json:"kind"`
	Emitted    int           `json:"emitted"`
	Verified   int           `json:"verified"`
	Reinserted int           `json:"reinserted"`
	Scale      float64       `json:"scale"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// Task searches one attribute index for one query value. Run writes every
// result to out and must return once ctx is done. throttle may be nil.
type Task interface {
	Attribute() string
	Kind() Kind
	Run(ctx context.Context, out sink.Sink, throttle *rate.Limiter) (Report, error)
}

// CategoricalTask runs a token-set search. Query is the raw attribute text,
// tokenized with the index's delimiter.
type CategoricalTask struct {
	Name   string
	Index  *categorical.Index
	Query  string
	Params Params
}

func (t *CategoricalTask) Attribute() string { return t.Name }
func (t *CategoricalTask) Kind() Kind        { return KindCategorical }

func (t *CategoricalTask) Run(ctx context.Context, out sink.Sink, throttle *rate.Limiter) (Report, error) {
	if throttle != nil {
		if err := throttle.Wait(ctx); err != nil {
			return Report{}, err
		}
	}
	cal := similarity.NewCalibrator(t.Params.Decay)
	s := categorical.NewSearch(t.Index, t.Index.Query(t.Query), t.Params.TopK, t.Params.Limit, cal, out)
	err := s.Run(ctx)
	st := s.Stats()
	return Report{Emitted: st.Emitted, Verified: st.Verified, Scale: cal.Scale()}, err
}

// NumericTask walks outwards from a query key.
type NumericTask struct {
	Name   string
	Index  *numeric.Index
	Query  float64
	Params Params
}

func (t *NumericTask) Attribute() string { return t.Name }
func (t *NumericTask) Kind() Kind        { return KindNumeric }

func (t *NumericTask) Run(ctx context.Context, out sink.Sink, throttle *rate.Limiter) (Report, error) {
	cal := similarity.NewCalibrator(t.Params.Decay)
	s, err := numeric.NewSearch(t.Index, t.Query, t.Params.TopK, cal, out)
	if err != nil {
		return Report{}, err
	}
	err = drive(ctx, s, t.Params, throttle)
	return Report{Emitted: s.Emitted(), Scale: cal.Scale()}, err
}

// SpatialTask browses a point tree in Euclidean distance order.
type SpatialTask struct {
	Name   string
	Tree   *spatial.Tree
	Query  []float64
	Params Params
}

func (t *SpatialTask) Attribute() string { return t.Name }
func (t *SpatialTask) Kind() Kind        { return KindSpatial }

func (t *SpatialTask) Run(ctx context.Context, out sink.Sink, throttle *rate.Limiter) (Report, error) {
	cal := similarity.NewCalibrator(t.Params.Decay)
	s, err := spatial.NewSearch(t.Tree, t.Query, t.Params.TopK, t.Params.Limit, cal, out)
	if err != nil {
		return Report{}, err
	}
	err = drive(ctx, s, t.Params, throttle)
	return Report{Emitted: s.Emitted(), Scale: cal.Scale()}, err
}

// MultiMetricTask searches a pivot index over several attributes at once.
type MultiMetricTask struct {
	Name   string
	Index  *pivot.Index
	Query  pivot.Query
	Params Params
}

func (t *MultiMetricTask) Attribute() string { return t.Name }
func (t *MultiMetricTask) Kind() Kind        { return KindMultiMetric }

func (t *MultiMetricTask) Run(ctx context.Context, out sink.Sink, throttle *rate.Limiter) (Report, error) {
	cal := similarity.NewCalibrator(t.Params.Decay)
	s, err := t.Index.NewSearch(t.Query, t.Params.TopK, t.Params.Limit, cal, out)
	if err != nil {
		return Report{}, err
	}
	err = drive(ctx, s, t.Params, throttle)
	st := s.Stats()
	return Report{Emitted: s.Emitted(), Verified: st.Verified, Reinserted: st.Reinserted, Scale: cal.Scale()}, err
}

type poller interface {
	Poll(n int) (int, error)
	Emitted() int
	Close()
}

// drive polls p in batches until it is exhausted, reaches the limit, or ctx
// is done. Close always runs so held-back results are flushed.
func drive(ctx context.Context, p poller, params Params, throttle *rate.Limiter) error {
	defer p.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := params.batch()
		if params.Limit > 0 {
			remaining := params.Limit - p.Emitted()
			if remaining <= 0 {
				return nil
			}
			n = min(n, remaining)
		}
		if throttle != nil {
			if err := throttle.Wait(ctx); err != nil {
				return err
			}
		}
		if _, err := p.Poll(n); err != nil {
			if errors.Is(err, numeric.ErrExhausted) || errors.Is(err, spatial.ErrExhausted) {
				return nil
			}
			return err
		}
	}
}
