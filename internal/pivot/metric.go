// Package pivot indexes entities described by several attributes, each with
// its own distance metric, in a single R-tree over their pivot embeddings.
// Every attribute value is replaced by its distances to a few reference
// values (pivots); by the triangle inequality those coordinates give lower
// bounds on the true distances, which the search verifies lazily.
package pivot

import (
	"fmt"
	"math"

	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
)

// Value is one attribute value of one entity. Point metrics read Point and
// Jaccard reads Tokens. A zero Value is missing.
type Value struct {
	Raw    string
	Point  []float64
	Tokens []string
}

func PointValue(raw string, coords ...float64) Value {
	return Value{Raw: raw, Point: coords}
}

func TokenValue(raw string, tokens []string) Value {
	if tokens == nil {
		tokens = []string{}
	}
	return Value{Raw: raw, Tokens: tokens}
}

// Missing reports whether v carries no usable value: neither a point nor a
// token set, or a point with a NaN coordinate.
func (v Value) Missing() bool {
	if v.Tokens != nil {
		return false
	}
	if v.Point == nil {
		return true
	}
	for _, c := range v.Point {
		if math.IsNaN(c) {
			return true
		}
	}
	return false
}

// Metric is a distance between two values of one attribute. Distances
// involving a missing value return the metric's configured NaN distance.
type Metric interface {
	Name() string
	Distance(a, b Value) float64
}

// Diff is the lower bound on a metric distance given two distances to the
// same pivot.
func Diff(a, b float64) float64 {
	return math.Abs(a - b)
}

type Manhattan struct{ NaNDistance float64 }

func (Manhattan) Name() string { return "manhattan" }

func (m Manhattan) Distance(a, b Value) float64 {
	if a.Missing() || b.Missing() {
		return m.NaNDistance
	}
	var sum float64
	for i := range a.Point {
		sum += math.Abs(a.Point[i] - b.Point[i])
	}
	return sum
}

type Euclidean struct{ NaNDistance float64 }

func (Euclidean) Name() string { return "euclidean" }

func (m Euclidean) Distance(a, b Value) float64 {
	if a.Missing() || b.Missing() {
		return m.NaNDistance
	}
	var sum float64
	for i := range a.Point {
		d := a.Point[i] - b.Point[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

type Chebyshev struct{ NaNDistance float64 }

func (Chebyshev) Name() string { return "chebyshev" }

func (m Chebyshev) Distance(a, b Value) float64 {
	if a.Missing() || b.Missing() {
		return m.NaNDistance
	}
	var maxDiff float64
	for i := range a.Point {
		maxDiff = math.Max(maxDiff, math.Abs(a.Point[i]-b.Point[i]))
	}
	return maxDiff
}

// Haversine is the great-circle angle, in degrees, between two (lat, lon)
// points given in degrees.
type Haversine struct{ NaNDistance float64 }

func (Haversine) Name() string { return "haversine" }

func (m Haversine) Distance(a, b Value) float64 {
	if a.Missing() || b.Missing() {
		return m.NaNDistance
	}
	lat1, lon1 := radians(a.Point[0]), radians(a.Point[1])
	lat2, lon2 := radians(b.Point[0]), radians(b.Point[1])
	h := math.Pow(math.Sin((lat2-lat1)/2), 2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin((lon2-lon1)/2), 2)
	angle := 2 * math.Asin(math.Min(1, math.Sqrt(h)))
	return angle * 180 / math.Pi
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Jaccard is 1 minus the Jaccard similarity of two token sets.
type Jaccard struct{ NaNDistance float64 }

func (Jaccard) Name() string { return "jaccard" }

func (m Jaccard) Distance(a, b Value) float64 {
	if a.Missing() || b.Missing() {
		return m.NaNDistance
	}
	set := make(map[string]struct{}, len(a.Tokens))
	for _, t := range a.Tokens {
		set[t] = struct{}{}
	}
	union := len(set)
	inter := 0
	seen := make(map[string]struct{}, len(b.Tokens))
	for _, t := range b.Tokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return 1 - float64(inter)/float64(union)
}

// MetricByName resolves a configured metric name.
func MetricByName(name string, nanDistance float64) (Metric, error) {
	switch name {
	case "manhattan":
		return Manhattan{NaNDistance: nanDistance}, nil
	case "euclidean", "":
		return Euclidean{NaNDistance: nanDistance}, nil
	case "chebyshev":
		return Chebyshev{NaNDistance: nanDistance}, nil
	case "haversine":
		return Haversine{NaNDistance: nanDistance}, nil
	case "jaccard":
		return Jaccard{NaNDistance: nanDistance}, nil
	}
	return nil, apperrors.New(apperrors.ErrInvalidConfig, "", fmt.Sprintf("unknown metric %q", name))
}

func isTokenMetric(m Metric) bool {
	_, ok := m.(Jaccard)
	return ok
}
