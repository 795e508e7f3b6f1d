// Package numeric finds the values nearest to a numeric query key by walking
// an ordered index outwards from the key in both directions.
package numeric

import (
	"math"

	"github.com/tidwall/btree"
)

// Value is one entity's numeric attribute value.
type Value struct {
	ID  string
	Key float64
}

// group holds every entity sharing one key, in insertion order.
type group struct {
	key float64
	ids []string
}

func groupLess(a, b group) bool {
	return a.key < b.key
}

// Index is an ordered map from key to entity ids. It is read-only after
// BuildIndex and may be searched concurrently.
type Index struct {
	tree   *btree.BTreeG[group]
	values int
}

// BuildIndex indexes values, skipping NaN keys. It returns the index and the
// number of values skipped.
func BuildIndex(values []Value) (*Index, int) {
	byKey := make(map[float64][]string)
	order := make([]float64, 0, len(values))
	skipped := 0
	for _, v := range values {
		if math.IsNaN(v.Key) {
			skipped++
			continue
		}
		if _, ok := byKey[v.Key]; !ok {
			order = append(order, v.Key)
		}
		byKey[v.Key] = append(byKey[v.Key], v.ID)
	}
	tree := btree.NewBTreeGOptions(groupLess, btree.Options{NoLocks: true})
	for _, key := range order {
		tree.Set(group{key: key, ids: byKey[key]})
	}
	return &Index{tree: tree, values: len(values) - skipped}, skipped
}

// Len is the number of indexed values.
func (ix *Index) Len() int { return ix.values }

// Keys is the number of distinct keys.
func (ix *Index) Keys() int { return ix.tree.Len() }

// Lookup returns the ids stored under key.
func (ix *Index) Lookup(key float64) []string {
	g, ok := ix.tree.Get(group{key: key})
	if !ok {
		return nil
	}
	return g.ids
}

// Range returns the smallest and largest key. ok is false for an empty index.
func (ix *Index) Range() (lo, hi float64, ok bool) {
	minG, ok := ix.tree.Min()
	if !ok {
		return 0, 0, false
	}
	maxG, _ := ix.tree.Max()
	return minG.key, maxG.key, true
}
