package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/pivot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNotFound = errors.New("not found")

type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	sets    int
	flushed []string
	failGet bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) GetJSON(_ context.Context, key string, dst any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return errors.New("connection refused")
	}
	b, ok := m.data[key]
	if !ok {
		return errNotFound
	}
	return json.Unmarshal(b, dst)
}

func (m *memStore) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	m.sets++
	return nil
}

func (m *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed = append(m.flushed, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func TestScaleCacheHitAfterMiss(t *testing.T) {
	task := multiMetricTask(t)
	store := newMemStore()
	cache := NewScaleCache(store, time.Minute, nil)
	ctx := context.Background()

	first, hit, err := cache.Calibrate(ctx, "listings", task.Index, task.Query.Values, 2)
	require.NoError(t, err)
	assert.False(t, hit)
	require.Contains(t, first, "size")
	require.Contains(t, first, "pos")

	direct, err := task.Index.Calibrate(ctx, task.Query.Values, 2)
	require.NoError(t, err)
	assert.Equal(t, direct, first)

	second, hit, err := cache.Calibrate(ctx, "listings", task.Index, task.Query.Values, 2)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, second)

	hits, misses := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
	assert.Equal(t, 1, store.sets)
}

func TestScaleCacheConcurrentMissesAgree(t *testing.T) {
	task := multiMetricTask(t)
	store := newMemStore()
	cache := NewScaleCache(store, time.Minute, nil)

	var wg sync.WaitGroup
	results := make([]map[string]float64, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scales, _, err := cache.Calibrate(context.Background(), "listings", task.Index, task.Query.Values, 3)
			assert.NoError(t, err)
			results[i] = scales
		}(i)
	}
	wg.Wait()
	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
	assert.GreaterOrEqual(t, store.sets, 1)
}

func TestScaleCacheStoreFailureFallsBack(t *testing.T) {
	task := multiMetricTask(t)
	store := newMemStore()
	store.failGet = true
	cache := NewScaleCache(store, time.Minute, nil)

	scales, hit, err := cache.Calibrate(context.Background(), "listings", task.Index, task.Query.Values, 2)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, scales, 2)
}

func TestScaleCacheInvalidate(t *testing.T) {
	task := multiMetricTask(t)
	store := newMemStore()
	cache := NewScaleCache(store, time.Minute, nil)
	ctx := context.Background()

	_, _, err := cache.Calibrate(ctx, "listings", task.Index, task.Query.Values, 2)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, "listings"))
	assert.Equal(t, []string{"simsearch:scale:listings:*"}, store.flushed)

	_, hit, err := cache.Calibrate(ctx, "listings", task.Index, task.Query.Values, 2)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestScaleKey(t *testing.T) {
	const fp = "n=4|\"price\"=manhattan{NaNDistance:1}"
	base := map[string]pivot.Value{
		"tags":  pivot.TokenValue("a,b", []string{"a", "b"}),
		"price": pivot.PointValue("10", 10),
	}
	key := ScaleKey("listings", fp, base, 5)
	assert.True(t, strings.HasPrefix(key, "simsearch:scale:listings:"))

	reordered := map[string]pivot.Value{
		"price": pivot.PointValue("10", 10),
		"tags":  pivot.TokenValue("b,a", []string{"b", "a"}),
	}
	assert.Equal(t, key, ScaleKey("listings", fp, reordered, 5))

	assert.NotEqual(t, key, ScaleKey("listings", fp, base, 6))
	assert.NotEqual(t, key, ScaleKey("other", fp, base, 5))
	assert.NotEqual(t, key, ScaleKey("listings", "n=4|\"price\"=euclidean{NaNDistance:1}", base, 5))

	withNaN := map[string]pivot.Value{"price": pivot.PointValue("", math.NaN())}
	assert.Equal(t, ScaleKey("listings", fp, withNaN, 5), ScaleKey("listings", fp, withNaN, 5))
	assert.NotEqual(t, ScaleKey("listings", fp, withNaN, 5), ScaleKey("listings", fp, map[string]pivot.Value{"price": {}}, 5))
}

func pointIndex(t *testing.T, metric pivot.Metric) *pivot.Index {
	t.Helper()
	ix, err := pivot.Build([]pivot.Attribute{{
		Name:   "loc",
		Metric: metric,
		Values: map[string]pivot.Value{
			"a": pivot.PointValue("", 0, 0),
			"b": pivot.PointValue("", 3, 4),
			"c": pivot.PointValue("", 6, 8),
		},
	}}, pivot.Options{PivotsPerAttribute: 1, Seed: 1, Fanout: 4})
	require.NoError(t, err)
	return ix
}

func TestScaleCacheSeparatesMetrics(t *testing.T) {
	cache := NewScaleCache(newMemStore(), time.Minute, nil)
	ctx := context.Background()
	values := map[string]pivot.Value{"loc": pivot.PointValue("", 0, 0)}

	euclid, _, err := cache.Calibrate(ctx, "listings:near", pointIndex(t, pivot.Euclidean{NaNDistance: 1}), values, 2)
	require.NoError(t, err)
	assert.Equal(t, 5.0, euclid["loc"])

	manhattanIx := pointIndex(t, pivot.Manhattan{NaNDistance: 1})
	got, hit, err := cache.Calibrate(ctx, "listings:near", manhattanIx, values, 2)
	require.NoError(t, err)
	assert.False(t, hit, "a different metric must not reuse cached scales")
	assert.Equal(t, 7.0, got["loc"])

	_, hit, err = cache.Calibrate(ctx, "listings:near", pointIndex(t, pivot.Manhattan{NaNDistance: 2}), values, 2)
	require.NoError(t, err)
	assert.False(t, hit, "nan distance is part of the key")
}
