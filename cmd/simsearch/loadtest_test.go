package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	sorted := make([]time.Duration, 100)
	for i := range sorted {
		sorted[i] = time.Duration(i+1) * time.Millisecond
	}
	assert.Equal(t, 50*time.Millisecond, percentile(sorted, 50))
	assert.Equal(t, 99*time.Millisecond, percentile(sorted, 99))
	assert.Equal(t, 100*time.Millisecond, percentile(sorted, 100))
	assert.Equal(t, time.Millisecond, percentile(sorted, 0))
	assert.Zero(t, percentile(nil, 50))
}

func TestLoadStatsSummary(t *testing.T) {
	var s loadStats
	s.record(3*time.Millisecond, nil)
	s.record(1*time.Millisecond, nil)
	s.record(2*time.Millisecond, nil)
	s.record(time.Second, errors.New("boom"))

	sum := s.summary(2 * time.Second)
	assert.Equal(t, int64(4), sum.Total)
	assert.Equal(t, int64(1), sum.Errors)
	assert.Equal(t, 2.0, sum.PerSecond)
	assert.Equal(t, time.Millisecond, sum.Min)
	assert.Equal(t, 3*time.Millisecond, sum.Max)
	assert.Equal(t, 2*time.Millisecond, sum.Avg)
	assert.Equal(t, 2*time.Millisecond, sum.P50)

	var buf bytes.Buffer
	printLoadSummary(&buf, sum)
	assert.Contains(t, buf.String(), "Total Executions: 4")
	assert.Contains(t, buf.String(), "Error Rate:       25.00%")
	assert.Contains(t, buf.String(), "P99:")
}

func TestRunLoadTestStopsAtRequestLimit(t *testing.T) {
	tasks, _ := planQuery(t, config.Default())
	coord, err := engine.NewCoordinator(4)
	require.NoError(t, err)
	defer coord.Close()

	stats, elapsed := runLoadTest(context.Background(), coord, tasks, loadConfig{
		Concurrency: 3,
		Duration:    time.Minute,
		Requests:    8,
	})
	sum := stats.summary(elapsed)
	assert.Equal(t, int64(8), sum.Total)
	assert.Zero(t, sum.Errors)
	assert.Less(t, elapsed, time.Minute)
	assert.Positive(t, sum.Max)
}
