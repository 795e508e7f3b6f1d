package engine

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/pivot"
	"github.com/Adithya-Monish-Kumar-K/simsearch/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

const scaleKeyPrefix = "simsearch:scale:"

// ScaleStore is the key-value backend of a ScaleCache. *redis.Client
// satisfies it.
type ScaleStore interface {
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// ScaleCache memoises per-attribute k-NN scales of a multi-metric index.
// Concurrent misses for the same key share one calibration.
type ScaleCache struct {
	store   ScaleStore
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func NewScaleCache(store ScaleStore, ttl time.Duration, m *metrics.Metrics) *ScaleCache {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &ScaleCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "scale-cache"),
	}
}

// Calibrate returns ix's scales for the query values, computing and storing
// them on a miss. The bool reports a cache hit. Store failures degrade to a
// direct calibration.
func (c *ScaleCache) Calibrate(ctx context.Context, indexName string, ix *pivot.Index, values map[string]pivot.Value, k int) (map[string]float64, bool, error) {
	key := ScaleKey(indexName, ix.Fingerprint(), values, k)
	if scales, ok := c.get(ctx, key); ok {
		return scales, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		if scales, ok := c.get(ctx, key); ok {
			return scales, nil
		}
		scales, err := ix.Calibrate(ctx, values, k)
		if err != nil {
			return nil, err
		}
		if err := c.store.SetJSON(ctx, key, scales, c.ttl); err != nil {
			c.logger.Error("cache set failed", "key", key, "error", err)
		}
		return scales, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(map[string]float64), false, nil
}

func (c *ScaleCache) get(ctx context.Context, key string) (map[string]float64, bool) {
	var scales map[string]float64
	if err := c.store.GetJSON(ctx, key, &scales); err != nil {
		c.misses.Add(1)
		c.metrics.ScaleCacheMisses.Inc()
		c.logger.Debug("cache miss", "key", key, "error", err)
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.ScaleCacheHits.Inc()
	return scales, true
}

// Invalidate drops every cached scale of indexName.
func (c *ScaleCache) Invalidate(ctx context.Context, indexName string) error {
	deleted, err := c.store.FlushByPattern(ctx, scaleKeyPrefix+indexName+":*")
	if err != nil {
		return fmt.Errorf("invalidating scale cache: %w", err)
	}
	c.logger.Info("cache invalidate", "index", indexName, "keys_deleted", deleted)
	return nil
}

func (c *ScaleCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// ScaleKey hashes the index fingerprint, the query values and k into a cache
// key. Attributes are taken in name order and token lists sorted, so equal
// queries share a key.
func ScaleKey(indexName, fingerprint string, values map[string]pivot.Value, k int) string {
	names := make([]string, 0, len(values))
	for n := range values {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "k=%d|ix=%s", k, fingerprint)
	for _, n := range names {
		v := values[n]
		b.WriteString("|")
		b.WriteString(strconv.Quote(n))
		b.WriteString("=")
		switch {
		case v.Tokens != nil:
			tokens := append([]string(nil), v.Tokens...)
			sort.Strings(tokens)
			b.WriteString("t:")
			for _, t := range tokens {
				b.WriteString(strconv.Quote(t))
				b.WriteString(",")
			}
		case v.Point != nil:
			b.WriteString("p:")
			for _, x := range v.Point {
				b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
				b.WriteString(",")
			}
		default:
			b.WriteString("-")
		}
	}
	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s%s:%x", scaleKeyPrefix, indexName, hash[:16])
}
