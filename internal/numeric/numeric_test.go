package numeric

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/sink"
	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildIndex(t *testing.T, keys ...float64) *Index {
	t.Helper()
	values := make([]Value, len(keys))
	for i, k := range keys {
		values[i] = Value{ID: idFor(k), Key: k}
	}
	ix, skipped := BuildIndex(values)
	require.Zero(t, skipped)
	return ix
}

func idFor(k float64) string {
	return fmt.Sprintf("k%g", k)
}

func drain(t *testing.T, s *Search, batch int) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		_, err := s.Poll(batch)
		if errors.Is(err, ErrExhausted) {
			return
		}
		require.NoError(t, err)
	}
	t.Fatal("search did not exhaust")
}

func ids(entries []sink.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestSearchOrdersByDistance(t *testing.T) {
	const decay = 0.2
	ix := buildIndex(t, 1, 4, 9, 15)
	buf := sink.NewBuffer()
	cal := similarity.NewCalibrator(decay)
	s, err := NewSearch(ix, 10, 2, cal, buf)
	require.NoError(t, err)

	drain(t, s, 1)
	got := buf.Entries()
	assert.Equal(t, []string{"k9", "k15", "k4", "k1"}, ids(got))
	assert.Equal(t, []float64{1, 5, 6, 9}, []float64{got[0].Distance, got[1].Distance, got[2].Distance, got[3].Distance})

	assert.Equal(t, 5.0, cal.Scale(), "scale is the distance of the 2nd value")
	assert.InDelta(t, math.Exp(-decay/5), got[0].Score, 1e-12)
	assert.InDelta(t, math.Exp(-decay), got[1].Score, 1e-12)
	assert.Equal(t, 15.0, got[1].Value)
}

func TestSearchExactKeyFirst(t *testing.T) {
	ix, _ := BuildIndex([]Value{
		{ID: "a", Key: 3},
		{ID: "b", Key: 5},
		{ID: "c", Key: 5},
		{ID: "d", Key: 7},
	})
	buf := sink.NewBuffer()
	s, err := NewSearch(ix, 5, 1, similarity.NewCalibrator(1), buf)
	require.NoError(t, err)

	n, err := s.Poll(1)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "both values of the exact key come in one poll")

	drain(t, s, 10)
	got := buf.Entries()
	assert.Equal(t, []string{"b", "c", "d", "a"}, ids(got), "ties prefer the larger key")
	assert.Equal(t, 1.0, got[0].Score)
	assert.Equal(t, 1.0, got[1].Score)
}

func TestSearchExhaustedIsDistinctFromEmptyPoll(t *testing.T) {
	ix := buildIndex(t, 1, 2)
	s, err := NewSearch(ix, 100, 1, similarity.NewCalibrator(1), sink.NewBuffer())
	require.NoError(t, err)

	n, err := s.Poll(0)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Poll(5)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.Poll(5)
	assert.ErrorIs(t, err, ErrExhausted)
	_, err = s.Poll(5)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestSearchEmptyIndex(t *testing.T) {
	ix, _ := BuildIndex(nil)
	buf := sink.NewBuffer()
	s, err := NewSearch(ix, 1, 3, similarity.NewCalibrator(1), buf)
	require.NoError(t, err)
	_, err = s.Poll(3)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Zero(t, buf.Len())
}

func TestSearchFlushesShortResult(t *testing.T) {
	ix := buildIndex(t, 2, 6)
	buf := sink.NewBuffer()
	cal := similarity.NewCalibrator(1)
	s, err := NewSearch(ix, 0, 10, cal, buf)
	require.NoError(t, err)

	drain(t, s, 4)
	require.Equal(t, 2, buf.Len())
	assert.Equal(t, 6.0, cal.Scale(), "fewer than topk values fix the scale at the last one")
}

func TestSearchMonotonic(t *testing.T) {
	keys := []float64{-7, -3.5, 0, 0.25, 2, 2, 8, 13, 21, 34, 55}
	values := make([]Value, len(keys))
	for i, k := range keys {
		values[i] = Value{ID: strconv.Itoa(i), Key: k}
	}
	ix, _ := BuildIndex(values)
	assert.Equal(t, len(keys), ix.Len())
	assert.Equal(t, len(keys)-1, ix.Keys())

	for _, q := range []float64{-100, -3.5, 1, 2, 17.5, 100} {
		buf := sink.NewBuffer()
		s, err := NewSearch(ix, q, 3, similarity.NewCalibrator(0.5), buf)
		require.NoError(t, err)
		drain(t, s, 2)
		got := buf.Entries()
		require.Len(t, got, len(keys))
		for i := 1; i < len(got); i++ {
			assert.GreaterOrEqual(t, got[i].Distance, got[i-1].Distance, "query %v rank %d", q, i)
			assert.LessOrEqual(t, got[i].Score, got[i-1].Score)
		}
	}
}

func TestBuildIndexSkipsNaN(t *testing.T) {
	ix, skipped := BuildIndex([]Value{{ID: "a", Key: 1}, {ID: "b", Key: math.NaN()}})
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, ix.Len())
	assert.Equal(t, []string{"a"}, ix.Lookup(1))

	lo, hi, ok := ix.Range()
	require.True(t, ok)
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 1.0, hi)
}

func TestNewSearchRejectsNaNQuery(t *testing.T) {
	ix := buildIndex(t, 1)
	_, err := NewSearch(ix, math.NaN(), 1, similarity.NewCalibrator(1), sink.NewBuffer())
	assert.ErrorIs(t, err, apperrors.ErrInvalidQuery)
}
