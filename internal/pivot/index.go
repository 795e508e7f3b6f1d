package pivot

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/spatial"
	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
)

// Attribute is one searchable attribute with the values of every entity
// that has it.
type Attribute struct {
	Name   string
	Metric Metric
	Values map[string]Value
}

// Reference describes where an attribute's pivot coordinates live in the
// embedding. The span [Start, End] is inclusive; End < Start when the
// attribute got no pivot.
type Reference struct {
	Name   string
	Metric Metric
	Start  int
	End    int
}

func (r Reference) Dim() int { return r.End - r.Start + 1 }

// Options controls index construction.
type Options struct {
	PivotsPerAttribute int
	Seed               int64
	Fanout             int
}

// Index is a multi-attribute pivot index. It is immutable after Build and
// safe for concurrent searches.
type Index struct {
	refs   []Reference
	byName map[string]int
	pivots [][]Value
	ids    []string
	values [][]Value
	tree   *spatial.Tree
}

// Build selects pivots per attribute, embeds every entity and bulk-loads the
// embeddings into an R-tree. Entities are the union of the ids of all
// attributes; an entity without a value for an attribute is missing there.
func Build(attrs []Attribute, opts Options) (*Index, error) {
	logger := slog.Default().With("component", "pivot-index")
	if len(attrs) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidConfig, "", "pivot index needs at least one attribute")
	}
	if opts.PivotsPerAttribute < 1 {
		opts.PivotsPerAttribute = 1
	}

	ix := &Index{byName: make(map[string]int, len(attrs))}
	idSet := make(map[string]struct{})
	for m, attr := range attrs {
		if _, dup := ix.byName[attr.Name]; dup {
			return nil, apperrors.New(apperrors.ErrInvalidConfig, attr.Name, "duplicate attribute")
		}
		if attr.Metric == nil {
			return nil, apperrors.New(apperrors.ErrInvalidConfig, attr.Name, "attribute has no metric")
		}
		ix.byName[attr.Name] = m
		for id := range attr.Values {
			idSet[id] = struct{}{}
		}
	}
	ix.ids = make([]string, 0, len(idSet))
	for id := range idSet {
		ix.ids = append(ix.ids, id)
	}
	sort.Strings(ix.ids)

	ix.values = make([][]Value, len(attrs))
	for m, attr := range attrs {
		col := make([]Value, len(ix.ids))
		for e, id := range ix.ids {
			col[e] = attr.Values[id]
		}
		if err := checkValues(attr, col); err != nil {
			return nil, err
		}
		ix.values[m] = col
	}

	ix.refs = make([]Reference, len(attrs))
	ix.pivots = make([][]Value, len(attrs))
	dims := 0
	for m, attr := range attrs {
		sel := NewSelector(attr.Metric, ix.values[m], opts.Seed+int64(m))
		chosen := sel.Select(opts.PivotsPerAttribute)
		pivots := make([]Value, len(chosen))
		for j, i := range chosen {
			pivots[j] = ix.values[m][i]
		}
		ix.pivots[m] = pivots
		ix.refs[m] = Reference{
			Name:   attr.Name,
			Metric: attr.Metric,
			Start:  dims,
			End:    dims + len(pivots) - 1,
		}
		dims += len(pivots)
		logger.Debug("pivots selected",
			"attribute", attr.Name,
			"metric", attr.Metric.Name(),
			"pivots", len(pivots),
		)
	}

	entries := make([]spatial.Entry, len(ix.ids))
	for e, id := range ix.ids {
		raw := make(map[string]string, len(attrs))
		for m, attr := range attrs {
			if v := ix.values[m][e]; !v.Missing() {
				raw[attr.Name] = v.Raw
			}
		}
		entries[e] = spatial.Entry{ID: id, Point: ix.embed(dims, func(m int) Value { return ix.values[m][e] }), Value: raw}
	}
	tree, err := spatial.Build(entries, opts.Fanout)
	if err != nil {
		return nil, err
	}
	ix.tree = tree
	logger.Info("pivot index built",
		"entities", len(ix.ids),
		"attributes", len(attrs),
		"dimensions", dims,
		"height", tree.Height(),
	)
	return ix, nil
}

// embed computes the pivot coordinates of one entity. Missing values embed
// as NaN so bounds ignore them.
func (ix *Index) embed(dims int, value func(m int) Value) []float64 {
	point := make([]float64, dims)
	for m, ref := range ix.refs {
		v := value(m)
		for j, p := range ix.pivots[m] {
			if v.Missing() {
				point[ref.Start+j] = math.NaN()
				continue
			}
			point[ref.Start+j] = ref.Metric.Distance(p, v)
		}
	}
	return point
}

func checkValues(attr Attribute, col []Value) error {
	tokens := isTokenMetric(attr.Metric)
	dim := -1
	for _, v := range col {
		if v.Tokens == nil && v.Point == nil {
			continue
		}
		if tokens != (v.Tokens != nil) {
			return apperrors.Newf(apperrors.ErrInvalidConfig, attr.Name,
				"value %q does not match metric %s", v.Raw, attr.Metric.Name())
		}
		if tokens {
			continue
		}
		if dim < 0 {
			dim = len(v.Point)
		}
		if len(v.Point) != dim {
			return apperrors.Newf(apperrors.ErrDimensionMismatch, attr.Name,
				"value %q has %d coordinates, expected %d", v.Raw, len(v.Point), dim)
		}
	}
	if _, ok := attr.Metric.(Haversine); ok && dim >= 0 && dim != 2 {
		return apperrors.Newf(apperrors.ErrDimensionMismatch, attr.Name,
			"haversine needs (lat, lon) points, got %d coordinates", dim)
	}
	return nil
}

func (ix *Index) References() []Reference { return ix.refs }

// Fingerprint describes everything besides the query that k-NN distances
// depend on: the entity count and, per attribute in name order, the metric
// with its parameters. Indexes with equal fingerprints over the same data
// calibrate identically.
func (ix *Index) Fingerprint() string {
	refs := make([]Reference, len(ix.refs))
	copy(refs, ix.refs)
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })

	var b strings.Builder
	fmt.Fprintf(&b, "n=%d", len(ix.ids))
	for _, r := range refs {
		fmt.Fprintf(&b, "|%q=%s%+v", r.Name, r.Metric.Name(), r.Metric)
	}
	return b.String()
}

func (ix *Index) Len() int { return len(ix.ids) }

func (ix *Index) Tree() *spatial.Tree { return ix.tree }

// Pivots returns the pivot values of attribute name.
func (ix *Index) Pivots(name string) ([]Value, bool) {
	m, ok := ix.byName[name]
	if !ok {
		return nil, false
	}
	return ix.pivots[m], true
}

func (ix *Index) dims() int {
	if len(ix.refs) == 0 {
		return 0
	}
	last := ix.refs[len(ix.refs)-1]
	return last.End + 1
}
