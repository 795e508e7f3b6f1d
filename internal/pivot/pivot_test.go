package pivot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/sink"
	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nanDistance = 1.0

func TestMetrics(t *testing.T) {
	a := PointValue("a", 0, 0)
	b := PointValue("b", 3, 4)
	tests := []struct {
		metric   Metric
		x, y     Value
		expected float64
	}{
		{Manhattan{nanDistance}, a, b, 7},
		{Euclidean{nanDistance}, a, b, 5},
		{Chebyshev{nanDistance}, a, b, 4},
		{Haversine{nanDistance}, PointValue("", 0, 0), PointValue("", 0, 90), 90},
		{Haversine{nanDistance}, PointValue("", 10, 20), PointValue("", 10, 20), 0},
		{Jaccard{nanDistance}, TokenValue("", []string{"a", "b"}), TokenValue("", []string{"b", "c"}), 1 - 1.0/3},
		{Jaccard{nanDistance}, TokenValue("", nil), TokenValue("", nil), 0},
		{Euclidean{nanDistance}, a, PointValue("", 1, math.NaN()), nanDistance},
		{Jaccard{nanDistance}, Value{}, TokenValue("", []string{"a"}), nanDistance},
	}
	for _, tt := range tests {
		t.Run(tt.metric.Name(), func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.metric.Distance(tt.x, tt.y), 1e-9)
			assert.InDelta(t, tt.expected, tt.metric.Distance(tt.y, tt.x), 1e-9)
		})
	}
}

func TestMetricByName(t *testing.T) {
	for _, name := range []string{"manhattan", "euclidean", "chebyshev", "haversine", "jaccard"} {
		m, err := MetricByName(name, 2)
		require.NoError(t, err)
		assert.Equal(t, name, m.Name())
	}
	_, err := MetricByName("hamming", 1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}

func TestSelectorPicksExtremes(t *testing.T) {
	values := make([]Value, 11)
	for i := range values {
		values[i] = PointValue(fmt.Sprint(i), float64(i))
	}
	values[4] = Value{}

	for seed := int64(0); seed < 5; seed++ {
		pivots := NewSelector(Euclidean{nanDistance}, values, seed).Select(3)
		require.Len(t, pivots, 3)
		assert.ElementsMatch(t, []int{0, 10}, pivots[:2], "seed %d", seed)
		assert.NotContains(t, pivots, 4, "missing values are never pivots")
	}

	again := NewSelector(Euclidean{nanDistance}, values, 9).Select(4)
	assert.Equal(t, again, NewSelector(Euclidean{nanDistance}, values, 9).Select(4))

	assert.Len(t, NewSelector(Euclidean{nanDistance}, values[:2], 1).Select(5), 2)
	assert.Empty(t, NewSelector(Euclidean{nanDistance}, []Value{{}, {}}, 1).Select(2))
}

type dataset struct {
	attrs []Attribute
	ids   []string
}

// indexed reports whether id has a value for at least one attribute.
func (ds dataset) indexed(id string) bool {
	for _, attr := range ds.attrs {
		if _, ok := attr.Values[id]; ok {
			return true
		}
	}
	return false
}

func randomDataset(rng *rand.Rand, n int, missingRate float64) dataset {
	loc := Attribute{Name: "location", Metric: Haversine{nanDistance}, Values: map[string]Value{}}
	price := Attribute{Name: "price", Metric: Manhattan{nanDistance}, Values: map[string]Value{}}
	tags := Attribute{Name: "tags", Metric: Jaccard{nanDistance}, Values: map[string]Value{}}
	ds := dataset{attrs: []Attribute{loc, price, tags}}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("e%03d", i)
		ds.ids = append(ds.ids, id)
		if rng.Float64() >= missingRate {
			loc.Values[id] = PointValue(id, 35+rng.Float64()*10, 20+rng.Float64()*10)
		}
		if rng.Float64() >= missingRate {
			price.Values[id] = PointValue(id, rng.Float64()*100)
		}
		if rng.Float64() >= missingRate {
			var tt []string
			for j := 0; j < 1+rng.Intn(4); j++ {
				tt = append(tt, fmt.Sprintf("t%d", rng.Intn(12)))
			}
			tags.Values[id] = TokenValue(id, tt)
		}
	}
	return ds
}

func bruteForce(ds dataset, q Query) []float64 {
	var sumW float64
	for _, w := range q.Weights {
		sumW += w
	}
	var out []float64
	for _, id := range ds.ids {
		if !ds.indexed(id) {
			continue
		}
		var sum float64
		for _, attr := range ds.attrs {
			w := q.Weights[attr.Name]
			v, ok := attr.Values[id]
			if w == 0 || !ok || v.Missing() {
				continue
			}
			s := 1.0
			if sc, ok := q.Scales[attr.Name]; ok {
				s = sc
			}
			sum += w * attr.Metric.Distance(q.Values[attr.Name], v) / s
		}
		out = append(out, sum/sumW)
	}
	sort.Float64s(out)
	return out
}

func drain(t *testing.T, poll func(int) (int, error)) {
	t.Helper()
	for i := 0; i < 100000; i++ {
		_, err := poll(5)
		if errors.Is(err, ErrExhausted) {
			return
		}
		require.NoError(t, err)
	}
	t.Fatal("search did not exhaust")
}

func TestSearchLazyVerificationMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	for _, missing := range []float64{0, 0.2} {
		ds := randomDataset(rng, 300, missing)
		ix, err := Build(ds.attrs, Options{PivotsPerAttribute: 2, Seed: 3, Fanout: 8})
		require.NoError(t, err)
		if missing == 0 {
			require.Equal(t, 300, ix.Len())
		}

		for qi := 0; qi < 8; qi++ {
			q := Query{
				Values: map[string]Value{
					"location": PointValue("q", 35+rng.Float64()*10, 20+rng.Float64()*10),
					"price":    PointValue("q", rng.Float64()*100),
					"tags":     TokenValue("q", []string{fmt.Sprintf("t%d", rng.Intn(12)), "t1"}),
				},
				Weights: map[string]float64{"location": rng.Float64(), "price": rng.Float64(), "tags": 0.5},
				Scales:  map[string]float64{"location": 3, "price": 25, "tags": 0.5},
			}
			want := bruteForce(ds, q)

			buf := sink.NewBuffer()
			s, err := ix.NewSearch(q, 5, 40, similarity.NewCalibrator(0.5), buf)
			require.NoError(t, err)
			drain(t, s.Poll)

			got := buf.Entries()
			require.Len(t, got, 40, "missing %v query %d", missing, qi)
			for i := range got {
				assert.InDelta(t, want[i], got[i].Distance, 1e-9, "missing %v query %d rank %d", missing, qi, i)
				if i > 0 {
					assert.GreaterOrEqual(t, got[i].Distance, got[i-1].Distance-1e-9)
				}
			}
			assert.IsType(t, map[string]string{}, got[0].Value)
		}
	}
}

func TestCalibrateFindsKthDistancePerAttribute(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	ds := randomDataset(rng, 200, 0)
	ix, err := Build(ds.attrs, Options{PivotsPerAttribute: 3, Seed: 1, Fanout: 6})
	require.NoError(t, err)

	values := map[string]Value{
		"location": PointValue("q", 40, 25),
		"price":    PointValue("q", 50),
		"tags":     TokenValue("q", []string{"t3", "t4"}),
	}
	const k = 7
	scales, err := ix.Calibrate(context.Background(), values, k)
	require.NoError(t, err)
	require.Len(t, scales, 3)

	for _, attr := range ds.attrs {
		d := bruteForce(ds, Query{Values: values, Weights: map[string]float64{attr.Name: 1}})
		want := 1.0
		for i := k - 1; i < len(d); i++ {
			if d[i] > 0 {
				want = d[i]
				break
			}
		}
		assert.InDelta(t, want, scales[attr.Name], 1e-9, attr.Name)
	}
}

func TestCalibrateCancelled(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	ds := randomDataset(rng, 500, 0)
	ix, err := Build(ds.attrs, Options{PivotsPerAttribute: 1, Seed: 1, Fanout: 4})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Every tag value sits at the same distance, so browsing runs long enough
	// to hit a context check.
	_, err = ix.Calibrate(ctx, map[string]Value{"tags": TokenValue("q", []string{"nothing"})}, 400)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalibrateRejectsBadValueBeforeBrowsing(t *testing.T) {
	ix, err := Build([]Attribute{
		{Name: "a", Metric: Euclidean{nanDistance}, Values: map[string]Value{"e1": PointValue("", 1), "e2": PointValue("", 5)}},
		{Name: "b", Metric: Euclidean{nanDistance}, Values: map[string]Value{"e1": PointValue("", 1, 2), "e2": PointValue("", 3, 4)}},
	}, Options{PivotsPerAttribute: 1, Seed: 1, Fanout: 4})
	require.NoError(t, err)

	scales, err := ix.Calibrate(context.Background(), map[string]Value{
		"a": PointValue("", 0),
		"b": PointValue("", 0),
	}, 1)
	assert.ErrorIs(t, err, apperrors.ErrDimensionMismatch)
	assert.Nil(t, scales)
}

func TestEntityMissingWeightedAttributesRanksFirst(t *testing.T) {
	ix, err := Build([]Attribute{
		{Name: "a", Metric: Euclidean{nanDistance}, Values: map[string]Value{
			"e1": PointValue("e1", 1), "e2": PointValue("e2", 5),
		}},
		{Name: "b", Metric: Euclidean{nanDistance}, Values: map[string]Value{
			"e1": PointValue("e1", 1), "e2": PointValue("e2", 2), "lone": PointValue("lone", 9),
		}},
	}, Options{PivotsPerAttribute: 1, Seed: 1, Fanout: 4})
	require.NoError(t, err)

	buf := sink.NewBuffer()
	s, err := ix.NewSearch(Query{
		Values:  map[string]Value{"a": PointValue("q", 4)},
		Weights: map[string]float64{"a": 1},
	}, 1, 0, similarity.NewCalibrator(0.5), buf)
	require.NoError(t, err)
	drain(t, s.Poll)

	got := buf.Entries()
	require.Len(t, got, 3)
	assert.Equal(t, "lone", got[0].ID)
	assert.Zero(t, got[0].Distance)
	assert.Equal(t, "e2", got[1].ID)
	assert.InDelta(t, 1, got[1].Distance, 1e-9)
	assert.Equal(t, "e1", got[2].ID)
	assert.InDelta(t, 3, got[2].Distance, 1e-9)
}

func TestFingerprint(t *testing.T) {
	build := func(metric Metric, ids ...string) *Index {
		values := make(map[string]Value, len(ids))
		for i, id := range ids {
			values[id] = PointValue(id, float64(i))
		}
		ix, err := Build([]Attribute{{Name: "x", Metric: metric, Values: values}}, Options{PivotsPerAttribute: 1, Fanout: 4})
		require.NoError(t, err)
		return ix
	}
	base := build(Euclidean{nanDistance}, "a", "b")
	assert.Equal(t, base.Fingerprint(), build(Euclidean{nanDistance}, "a", "b").Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), build(Manhattan{nanDistance}, "a", "b").Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), build(Euclidean{2 * nanDistance}, "a", "b").Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), build(Euclidean{nanDistance}, "a", "b", "c").Fingerprint())
}

func TestMaxRangeScales(t *testing.T) {
	ix, err := Build([]Attribute{
		{Name: "x", Metric: Euclidean{nanDistance}, Values: map[string]Value{
			"a": PointValue("a", 0), "b": PointValue("b", 10), "c": PointValue("c", 4),
		}},
		{Name: "same", Metric: Euclidean{nanDistance}, Values: map[string]Value{
			"a": PointValue("a", 1), "b": PointValue("b", 1),
		}},
	}, Options{PivotsPerAttribute: 2, Seed: 1, Fanout: 4})
	require.NoError(t, err)

	scales := ix.MaxRangeScales()
	assert.Equal(t, 10.0, scales["x"])
	assert.Equal(t, 1.0, scales["same"], "a zero range falls back to 1")

	refs := ix.References()
	require.Len(t, refs, 2)
	assert.Equal(t, 0, refs[0].Start)
	assert.Equal(t, 2, refs[0].Dim())
}

func TestQueryValidation(t *testing.T) {
	ix, err := Build([]Attribute{
		{Name: "x", Metric: Euclidean{nanDistance}, Values: map[string]Value{"a": PointValue("a", 1, 2)}},
		{Name: "tags", Metric: Jaccard{nanDistance}, Values: map[string]Value{"a": TokenValue("a", []string{"t"})}},
	}, Options{PivotsPerAttribute: 1, Fanout: 4})
	require.NoError(t, err)

	tests := []struct {
		name  string
		query Query
		want  error
	}{
		{"unknown value", Query{Values: map[string]Value{"y": PointValue("", 1)}}, apperrors.ErrUnknownAttribute},
		{"unknown weight", Query{Weights: map[string]float64{"y": 1}}, apperrors.ErrUnknownAttribute},
		{"all zero weights", Query{Weights: map[string]float64{"x": 0}}, apperrors.ErrInvalidQuery},
		{"negative weight", Query{Weights: map[string]float64{"x": -1}}, apperrors.ErrInvalidQuery},
		{"zero scale", Query{Scales: map[string]float64{"x": 0}}, apperrors.ErrInvalidQuery},
		{"tokens for point metric", Query{Values: map[string]Value{"x": TokenValue("", []string{"a"})}}, apperrors.ErrInvalidQuery},
		{"wrong dimension", Query{Values: map[string]Value{"x": PointValue("", 1)}}, apperrors.ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ix.NewSearch(tt.query, 1, 0, similarity.NewCalibrator(1), sink.NewBuffer())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuildRejectsMismatchedValues(t *testing.T) {
	_, err := Build(nil, Options{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)

	_, err = Build([]Attribute{{Name: "x", Metric: Euclidean{}, Values: map[string]Value{
		"a": PointValue("a", 1), "b": PointValue("b", 1, 2),
	}}}, Options{})
	assert.ErrorIs(t, err, apperrors.ErrDimensionMismatch)

	_, err = Build([]Attribute{{Name: "geo", Metric: Haversine{}, Values: map[string]Value{
		"a": PointValue("a", 1, 2, 3),
	}}}, Options{})
	assert.ErrorIs(t, err, apperrors.ErrDimensionMismatch)

	_, err = Build([]Attribute{{Name: "tags", Metric: Jaccard{}, Values: map[string]Value{
		"a": PointValue("a", 1),
	}}}, Options{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}
