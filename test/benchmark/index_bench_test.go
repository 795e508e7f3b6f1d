// Package benchmark contains Go benchmarks for index construction and the
// progressive searches of every attribute kind.
package benchmark

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/categorical"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/numeric"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/pivot"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/spatial"
)

var vocabulary = []string{
	"wifi", "pool", "parking", "kitchen", "sauna", "gym", "garden", "balcony",
	"elevator", "heating", "aircon", "washer", "dryer", "fireplace", "terrace",
	"pets", "smoking", "breakfast", "crib", "workspace",
}

func tokenSets(n int, seed int64) []categorical.TokenSet {
	rng := rand.New(rand.NewSource(seed))
	sets := make([]categorical.TokenSet, n)
	for i := range sets {
		size := 1 + rng.Intn(6)
		tokens := make([]string, size)
		for j := range tokens {
			tokens[j] = vocabulary[rng.Intn(len(vocabulary))]
		}
		sets[i] = categorical.NewTokenSet(fmt.Sprintf("e%d", i), strings.Join(tokens, ","), ",")
	}
	return sets
}

func numericValues(n int, seed int64) []numeric.Value {
	rng := rand.New(rand.NewSource(seed))
	values := make([]numeric.Value, n)
	for i := range values {
		values[i] = numeric.Value{ID: fmt.Sprintf("e%d", i), Key: float64(rng.Intn(n / 2))}
	}
	return values
}

func spatialEntries(n, dims int, seed int64) []spatial.Entry {
	rng := rand.New(rand.NewSource(seed))
	entries := make([]spatial.Entry, n)
	for i := range entries {
		p := make([]float64, dims)
		for d := range p {
			p[d] = rng.Float64() * 100
		}
		entries[i] = spatial.Entry{ID: fmt.Sprintf("e%d", i), Point: p}
	}
	return entries
}

func pivotAttributes(n int, seed int64) []pivot.Attribute {
	rng := rand.New(rand.NewSource(seed))
	loc := pivot.Attribute{Name: "location", Metric: pivot.Euclidean{NaNDistance: 1}, Values: make(map[string]pivot.Value, n)}
	price := pivot.Attribute{Name: "price", Metric: pivot.Manhattan{NaNDistance: 1}, Values: make(map[string]pivot.Value, n)}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("e%d", i)
		loc.Values[id] = pivot.PointValue("", rng.Float64()*10, rng.Float64()*10)
		price.Values[id] = pivot.PointValue("", float64(50+rng.Intn(400)))
	}
	return []pivot.Attribute{loc, price}
}

var sizes = []int{1000, 10000}

// BenchmarkCategoricalBuild measures dictionary, collection and inverted
// index construction.
func BenchmarkCategoricalBuild(b *testing.B) {
	for _, n := range sizes {
		sets := tokenSets(n, 1)
		b.Run(fmt.Sprintf("sets_%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = categorical.BuildIndex(sets, ",")
			}
		})
	}
}

func BenchmarkTokenize(b *testing.B) {
	raw := strings.Join(vocabulary, ", ")
	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	for i := 0; i < b.N; i++ {
		_ = categorical.Tokenize(raw, ",")
	}
}

func BenchmarkNumericBuild(b *testing.B) {
	for _, n := range sizes {
		values := numericValues(n, 2)
		b.Run(fmt.Sprintf("values_%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, _ = numeric.BuildIndex(values)
			}
		})
	}
}

// BenchmarkSpatialBuild measures STR bulk loading for several fanouts.
func BenchmarkSpatialBuild(b *testing.B) {
	entries := spatialEntries(10000, 2, 3)
	for _, fanout := range []int{4, 16, 64} {
		b.Run(fmt.Sprintf("fanout_%d", fanout), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := spatial.Build(entries, fanout); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkPivotBuild(b *testing.B) {
	attrs := pivotAttributes(5000, 4)
	for _, pivots := range []int{1, 2, 4} {
		b.Run(fmt.Sprintf("pivots_%d", pivots), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, err := pivot.Build(attrs, pivot.Options{PivotsPerAttribute: pivots, Seed: 1, Fanout: 16})
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
