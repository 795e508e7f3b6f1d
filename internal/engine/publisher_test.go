package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	calls   int
	err     error
}

func (f *fakeProducer) PublishBatch(_ context.Context, events []kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, append([]kafka.Event(nil), events...))
	return nil
}

func (f *fakeProducer) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func feed(entries ...sink.Tagged) <-chan sink.Tagged {
	ch := make(chan sink.Tagged, len(entries))
	for _, e := range entries {
		ch <- e
	}
	close(ch)
	return ch
}

func tagged(attr string, n int) []sink.Tagged {
	out := make([]sink.Tagged, n)
	for i := range out {
		out[i] = sink.Tagged{Attribute: attr, Entry: sink.Entry{ID: fmt.Sprintf("%s-%d", attr, i), Distance: float64(i), Score: 1}}
	}
	return out
}

func TestPublisherBatchesBySize(t *testing.T) {
	producer := &fakeProducer{}
	p := NewPublisher(producer, PublisherConfig{BatchSize: 2, FlushInterval: time.Hour}, nil)

	entries := append(tagged("price", 3), tagged("tags", 2)...)
	stats := p.Drain(context.Background(), "q1", feed(entries...))

	assert.Equal(t, PublishStats{Published: 5}, stats)
	require.Len(t, producer.batches, 3)
	assert.Len(t, producer.batches[0], 2)
	assert.Len(t, producer.batches[2], 1)

	first := producer.batches[0][0]
	assert.Equal(t, "q1:price", first.Key)
	assert.Equal(t, map[string]string{"query_id": "q1", "attribute": "price"}, first.Headers)

	var seqs []int
	for _, b := range producer.batches {
		for _, e := range b {
			ev := e.Value.(EmissionEvent)
			if ev.Attribute == "tags" {
				seqs = append(seqs, ev.Seq)
			}
		}
	}
	assert.Equal(t, []int{0, 1}, seqs)
}

func TestPublisherFlushesOnInterval(t *testing.T) {
	producer := &fakeProducer{}
	p := NewPublisher(producer, PublisherConfig{BatchSize: 100, FlushInterval: 5 * time.Millisecond}, nil)

	ch := make(chan sink.Tagged)
	done := make(chan PublishStats)
	go func() { done <- p.Drain(context.Background(), "q2", ch) }()

	ch <- tagged("price", 1)[0]
	assert.Eventually(t, func() bool { return producer.published() == 1 }, time.Second, time.Millisecond)
	close(ch)
	assert.Equal(t, PublishStats{Published: 1}, <-done)
}

func TestPublisherDropsAfterFailuresAndTripsBreaker(t *testing.T) {
	reg := prometheus.NewRegistry()
	producer := &fakeProducer{err: errors.New("leader not available")}
	p := NewPublisher(producer, PublisherConfig{
		BatchSize:     1,
		FlushInterval: time.Hour,
		Retry:         resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Breaker:       resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour},
	}, metrics.New(reg))

	stats := p.Drain(context.Background(), "q3", feed(tagged("price", 3)...))
	assert.Equal(t, PublishStats{Dropped: 3}, stats)
	assert.Equal(t, 1, producer.calls)
	assert.Equal(t, resilience.StateOpen, p.BreakerState())

	families, err := reg.Gather()
	require.NoError(t, err)
	var state, dropped float64
	for _, f := range families {
		switch f.GetName() {
		case "simsearch_circuit_breaker_state":
			state = f.GetMetric()[0].GetGauge().GetValue()
		case "simsearch_events_published_total":
			for _, m := range f.GetMetric() {
				dropped += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(resilience.StateOpen), state)
	assert.Equal(t, 3.0, dropped)
}

func TestPublisherDrainsAfterCancel(t *testing.T) {
	producer := &fakeProducer{}
	p := NewPublisher(producer, PublisherConfig{BatchSize: 2}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats := p.Drain(ctx, "q4", feed(tagged("price", 5)...))
	assert.Equal(t, PublishStats{Dropped: 5}, stats)
	assert.Zero(t, producer.calls)
}

func TestPublisherWithCoordinator(t *testing.T) {
	producer := &fakeProducer{}
	p := NewPublisher(producer, PublisherConfig{BatchSize: 3}, nil)
	c := newCoordinator(t)

	exec, err := c.Execute(context.Background(), []Task{numericTask(t), spatialTask(t)}, WithEmissions(4))
	require.NoError(t, err)
	stats := p.Drain(context.Background(), "q5", exec.Emissions)
	_, err = exec.Wait()
	require.NoError(t, err)

	assert.Equal(t, 7, stats.Published)
	assert.Equal(t, 7, producer.published())
}
