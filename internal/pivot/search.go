package pivot

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/spatial"
	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
)

// ErrExhausted is returned by Poll once the search emitted every entity it
// will ever emit.
var ErrExhausted = spatial.ErrExhausted

// Query is a multi-attribute query. Nil Weights weigh every attribute 1; an
// attribute absent from Scales is not rescaled.
type Query struct {
	Values  map[string]Value
	Weights map[string]float64
	Scales  map[string]float64
}

// bounder computes weighted, rescaled distances for one query. It serves
// both as the tree's lower-bound source and as the exact verifier.
type bounder struct {
	ix      *Index
	q       []float64
	qValues []Value
	w       []float64
	scale   []float64
	sumW    float64
}

func (ix *Index) resolve(q Query) (*bounder, error) {
	n := len(ix.refs)
	b := &bounder{
		ix:      ix,
		qValues: make([]Value, n),
		w:       make([]float64, n),
		scale:   make([]float64, n),
	}
	for name := range q.Values {
		if _, ok := ix.byName[name]; !ok {
			return nil, apperrors.New(apperrors.ErrUnknownAttribute, name, "query value for unknown attribute")
		}
	}
	for name := range q.Weights {
		if _, ok := ix.byName[name]; !ok {
			return nil, apperrors.New(apperrors.ErrUnknownAttribute, name, "weight for unknown attribute")
		}
	}
	for name := range q.Scales {
		if _, ok := ix.byName[name]; !ok {
			return nil, apperrors.New(apperrors.ErrUnknownAttribute, name, "scale for unknown attribute")
		}
	}
	for m, ref := range ix.refs {
		v := q.Values[ref.Name]
		if err := ix.checkQueryValue(m, v); err != nil {
			return nil, err
		}
		b.qValues[m] = v

		w := 1.0
		if q.Weights != nil {
			w = q.Weights[ref.Name]
		}
		if w < 0 || math.IsNaN(w) {
			return nil, apperrors.Newf(apperrors.ErrInvalidQuery, ref.Name, "weight must be non-negative, got %v", w)
		}
		b.w[m] = w
		b.sumW += w

		s, ok := q.Scales[ref.Name]
		if !ok {
			s = 1
		}
		if !(s > 0) {
			return nil, apperrors.Newf(apperrors.ErrInvalidQuery, ref.Name, "scale must be positive, got %v", s)
		}
		b.scale[m] = s
	}
	if !(b.sumW > 0) {
		return nil, apperrors.New(apperrors.ErrInvalidQuery, "", "at least one attribute needs a positive weight")
	}
	b.q = ix.embed(ix.dims(), func(m int) Value { return b.qValues[m] })
	return b, nil
}

func (ix *Index) checkQueryValue(m int, v Value) error {
	ref := ix.refs[m]
	if v.Missing() {
		return nil
	}
	if isTokenMetric(ref.Metric) != (v.Tokens != nil) {
		return apperrors.Newf(apperrors.ErrInvalidQuery, ref.Name, "query value %q does not match metric %s", v.Raw, ref.Metric.Name())
	}
	if v.Tokens == nil && len(ix.pivots[m]) > 0 && len(ix.pivots[m][0].Point) != len(v.Point) {
		return apperrors.Newf(apperrors.ErrDimensionMismatch, ref.Name,
			"query value has %d coordinates, expected %d", len(v.Point), len(ix.pivots[m][0].Point))
	}
	return nil
}

// NodeBound takes, per attribute, the largest gap between the query's pivot
// coordinates and the box over that attribute's span.
func (b *bounder) NodeBound(mbr spatial.Rect) float64 {
	var sum float64
	for m, ref := range b.ix.refs {
		if b.w[m] == 0 {
			continue
		}
		var gap float64
		for i := ref.Start; i <= ref.End; i++ {
			gap = maxIgnoringNaN(gap, mbr.Gap(i, b.q[i]))
		}
		sum += b.w[m] * gap / b.scale[m]
	}
	return sum / b.sumW
}

// EntryBound is NodeBound for a single embedded point.
func (b *bounder) EntryBound(entry int) float64 {
	point := b.ix.tree.Entries[entry].Point
	var sum float64
	for m, ref := range b.ix.refs {
		if b.w[m] == 0 {
			continue
		}
		var gap float64
		for i := ref.Start; i <= ref.End; i++ {
			gap = maxIgnoringNaN(gap, Diff(b.q[i], point[i]))
		}
		sum += b.w[m] * gap / b.scale[m]
	}
	return sum / b.sumW
}

// ExactDistance measures the original values. Attributes the entity lacks
// are left out.
func (b *bounder) ExactDistance(entry int) float64 {
	var sum float64
	for m, ref := range b.ix.refs {
		if b.w[m] == 0 {
			continue
		}
		v := b.ix.values[m][entry]
		if v.Missing() {
			continue
		}
		sum += b.w[m] * ref.Metric.Distance(b.qValues[m], v) / b.scale[m]
	}
	return sum / b.sumW
}

func maxIgnoringNaN(a, b float64) float64 {
	switch {
	case math.IsNaN(b):
		return a
	case math.IsNaN(a):
		return b
	}
	return math.Max(a, b)
}

// NewSearch prepares a progressive multi-attribute search. Entities come out
// in non-decreasing combined distance; the topk-th distance fixes the
// calibrator's scale and at most limit entities are emitted, or all when
// limit is not positive.
func (ix *Index) NewSearch(q Query, topk, limit int, cal *similarity.Calibrator, out sink.Sink) (*spatial.Search, error) {
	b, err := ix.resolve(q)
	if err != nil {
		return nil, err
	}
	return spatial.NewSearchFrom(spatial.NewBrowser(ix.tree, b, b), topk, limit, cal, out), nil
}

// Nearest returns the k entities nearest to q without calibration.
func (ix *Index) Nearest(q Query, k int) ([]spatial.Neighbor, error) {
	b, err := ix.resolve(q)
	if err != nil {
		return nil, err
	}
	browser := spatial.NewBrowser(ix.tree, b, b)
	out := make([]spatial.Neighbor, 0, k)
	for len(out) < k {
		nb, ok := browser.Next()
		if !ok {
			break
		}
		out = append(out, nb)
	}
	return out, nil
}
