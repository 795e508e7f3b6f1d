package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/sink"
	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/resilience"
)

// EmissionEvent is the Kafka payload of one emitted entry. Seq numbers the
// entries of one attribute in emission order.
type EmissionEvent struct {
	QueryID   string  `json:"query_id"`
	Attribute string  `json:"attribute"`
	Seq       int     `json:"seq"`
	ID        string  `json:"id"`
	Value     any     `json:"value"`
	Distance  float64 `json:"distance"`
	Score     float64 `json:"score"`
}

// EventPublisher writes a batch of events. *kafka.Producer satisfies it.
type EventPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// PublisherConfig controls batching and fault handling.
type PublisherConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	Retry         resilience.RetryConfig
	Breaker       resilience.CircuitBreakerConfig
}

// PublishStats counts what one Drain call did with its events.
type PublishStats struct {
	Published int `json:"published"`
	Dropped   int `json:"dropped"`
}

// Publisher forwards an execution's emissions to Kafka in batches. A batch
// that still fails after retries is dropped; draining continues so tasks
// never block on the channel.
type Publisher struct {
	producer      EventPublisher
	breaker       *resilience.CircuitBreaker
	retry         resilience.RetryConfig
	batchSize     int
	flushInterval time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

func NewPublisher(producer EventPublisher, cfg PublisherConfig, m *metrics.Metrics) *Publisher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = func(err error) bool {
			return !errors.Is(err, resilience.ErrCircuitOpen) && apperrors.IsRetryable(err)
		}
	}
	hook := cfg.Breaker.OnStateChange
	cfg.Breaker.OnStateChange = func(name string, to resilience.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		if hook != nil {
			hook(name, to)
		}
	}
	return &Publisher{
		producer:      producer,
		breaker:       resilience.NewCircuitBreaker("kafka-emissions", cfg.Breaker),
		retry:         cfg.Retry,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		metrics:       m,
		logger:        slog.Default().With("component", "emission-publisher"),
	}
}

// Drain reads in until it is closed, publishing its entries under queryID.
// Once ctx is done remaining entries are read and dropped.
func (p *Publisher) Drain(ctx context.Context, queryID string, in <-chan sink.Tagged) PublishStats {
	var stats PublishStats
	seq := make(map[string]int)
	batch := make([]kafka.Event, 0, p.batchSize)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if ctx.Err() != nil {
			stats.Dropped += len(batch)
			p.metrics.EventsPublished.WithLabelValues("dropped").Add(float64(len(batch)))
			batch = batch[:0]
			return
		}
		err := resilience.Retry(ctx, "publish-emissions", p.retry, func() error {
			return p.breaker.Execute(func() error {
				return p.producer.PublishBatch(ctx, batch)
			})
		})
		if err != nil {
			p.logger.Error("dropping emission batch",
				"query_id", queryID,
				"batch_size", len(batch),
				"error", err,
			)
			stats.Dropped += len(batch)
			p.metrics.EventsPublished.WithLabelValues("dropped").Add(float64(len(batch)))
		} else {
			stats.Published += len(batch)
			p.metrics.EventsPublished.WithLabelValues("published").Add(float64(len(batch)))
		}
		batch = make([]kafka.Event, 0, p.batchSize)
	}

	for {
		select {
		case t, ok := <-in:
			if !ok {
				flush()
				p.logger.Debug("emissions drained",
					"query_id", queryID,
					"published", stats.Published,
					"dropped", stats.Dropped,
				)
				return stats
			}
			n := seq[t.Attribute]
			seq[t.Attribute] = n + 1
			batch = append(batch, kafka.Event{
				Key: queryID + ":" + t.Attribute,
				Value: EmissionEvent{
					QueryID:   queryID,
					Attribute: t.Attribute,
					Seq:       n,
					ID:        t.ID,
					Value:     t.Value,
					Distance:  t.Distance,
					Score:     t.Score,
				},
				Headers: map[string]string{"query_id": queryID, "attribute": t.Attribute},
			})
			if len(batch) >= p.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// BreakerState exposes the publisher's circuit state.
func (p *Publisher) BreakerState() resilience.State {
	return p.breaker.GetState()
}
