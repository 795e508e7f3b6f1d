package spatial

import "math"

// Rect is an axis-aligned bounding box. A dimension whose Min exceeds its Max
// is empty. HasNaN marks dimensions where some covered point had a NaN
// coordinate; such a dimension bounds nothing.
type Rect struct {
	Min    []float64
	Max    []float64
	HasNaN []bool
}

// EmptyRect returns a rect with every dimension empty.
func EmptyRect(dims int) Rect {
	r := Rect{
		Min:    make([]float64, dims),
		Max:    make([]float64, dims),
		HasNaN: make([]bool, dims),
	}
	for d := 0; d < dims; d++ {
		r.Min[d] = math.Inf(1)
		r.Max[d] = math.Inf(-1)
	}
	return r
}

// ExtendPoint grows r to cover p. NaN coordinates only set HasNaN.
func (r *Rect) ExtendPoint(p []float64) {
	for d, v := range p {
		if math.IsNaN(v) {
			r.HasNaN[d] = true
			continue
		}
		r.Min[d] = math.Min(r.Min[d], v)
		r.Max[d] = math.Max(r.Max[d], v)
	}
}

// ExtendRect grows r to cover o.
func (r *Rect) ExtendRect(o Rect) {
	for d := range r.Min {
		if o.HasNaN != nil && o.HasNaN[d] {
			r.HasNaN[d] = true
		}
		if o.Min[d] > o.Max[d] {
			continue
		}
		r.Min[d] = math.Min(r.Min[d], o.Min[d])
		r.Max[d] = math.Max(r.Max[d], o.Max[d])
	}
}

// EmptyDim reports whether dimension d holds no coordinate.
func (r Rect) EmptyDim(d int) bool {
	return r.Min[d] > r.Max[d]
}

// Center returns the midpoint of dimension d, or NaN when it is empty.
func (r Rect) Center(d int) float64 {
	if r.EmptyDim(d) {
		return math.NaN()
	}
	return (r.Min[d] + r.Max[d]) / 2
}

// Gap is the distance from v to the interval [min, max] of dimension d. It is
// zero when v is NaN or the dimension bounds nothing.
func (r Rect) Gap(d int, v float64) float64 {
	if math.IsNaN(v) || r.EmptyDim(d) || (r.HasNaN != nil && r.HasNaN[d]) {
		return 0
	}
	switch {
	case v < r.Min[d]:
		return r.Min[d] - v
	case v > r.Max[d]:
		return v - r.Max[d]
	}
	return 0
}

// Euclidean is the L2 distance between two points of equal dimension.
func Euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// MinDist is the smallest Euclidean distance from p to any point of r.
func MinDist(p []float64, r Rect) float64 {
	var sum float64
	for d, v := range p {
		g := r.Gap(d, v)
		sum += g * g
	}
	return math.Sqrt(sum)
}
