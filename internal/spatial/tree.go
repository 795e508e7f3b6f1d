// Package spatial implements a bulk-loaded R-tree over n-dimensional points
// and best-first k-nearest-neighbour browsing over it.
package spatial

import (
	"math"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
)

// DefaultFanout is the node capacity used when none is configured.
const DefaultFanout = 16

// Entry is one indexed point.
type Entry struct {
	ID    string
	Point []float64
	Value any
}

type NodeKind uint8

const (
	Leaf NodeKind = iota
	Internal
)

// Node is an arena node. Leaves reference Tree.Entries, internal nodes
// reference Tree.Nodes.
type Node struct {
	Kind     NodeKind
	Children []int
	Entries  []int
	MBR      Rect
}

// Tree is an immutable R-tree. Nodes and entries live in flat slices and
// reference each other by index.
type Tree struct {
	Nodes   []Node
	Entries []Entry
	Root    int
	Dims    int
	height  int
}

// Build bulk-loads entries with Sort-Tile-Recursive packing. Every point must
// have the same dimension; NaN coordinates are allowed and ignored by the
// bounding boxes.
func Build(entries []Entry, fanout int) (*Tree, error) {
	if fanout < 2 {
		fanout = DefaultFanout
	}
	t := &Tree{Entries: entries, Root: -1}
	if len(entries) == 0 {
		return t, nil
	}
	t.Dims = len(entries[0].Point)
	for _, e := range entries {
		if len(e.Point) != t.Dims {
			return nil, apperrors.Newf(apperrors.ErrDimensionMismatch, "",
				"entry %s has %d dimensions, expected %d", e.ID, len(e.Point), t.Dims)
		}
	}

	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	level := make([]int, 0)
	for _, group := range tile(idx, func(i, d int) float64 { return entries[i].Point[d] }, 0, t.Dims, fanout) {
		mbr := EmptyRect(t.Dims)
		for _, e := range group {
			mbr.ExtendPoint(entries[e].Point)
		}
		level = append(level, t.add(Node{Kind: Leaf, Entries: group, MBR: mbr}))
	}
	t.height = 1

	for len(level) > 1 {
		center := func(i, d int) float64 { return t.Nodes[i].MBR.Center(d) }
		next := make([]int, 0, len(level)/fanout+1)
		for _, group := range tile(level, center, 0, t.Dims, fanout) {
			mbr := EmptyRect(t.Dims)
			for _, c := range group {
				mbr.ExtendRect(t.Nodes[c].MBR)
			}
			next = append(next, t.add(Node{Kind: Internal, Children: group, MBR: mbr}))
		}
		level = next
		t.height++
	}
	t.Root = level[0]
	return t, nil
}

func (t *Tree) add(n Node) int {
	t.Nodes = append(t.Nodes, n)
	return len(t.Nodes) - 1
}

func (t *Tree) Len() int { return len(t.Entries) }

// Height is the number of node levels; 0 for an empty tree.
func (t *Tree) Height() int { return t.height }

// tile partitions items into groups of at most capacity, slicing along one
// dimension at a time.
func tile(items []int, coord func(i, d int) float64, dim, dims, capacity int) [][]int {
	if len(items) <= capacity {
		return [][]int{clone(items)}
	}
	sorted := clone(items)
	sort.SliceStable(sorted, func(a, b int) bool {
		return lessNaNLast(coord(sorted[a], dim), coord(sorted[b], dim))
	})
	if dim >= dims-1 {
		return chunk(sorted, capacity)
	}
	pages := ceilDiv(len(sorted), capacity)
	slabs := int(math.Ceil(math.Pow(float64(pages), 1/float64(dims-dim))))
	slabSize := capacity * ceilDiv(pages, slabs)
	var groups [][]int
	for _, slab := range chunk(sorted, slabSize) {
		groups = append(groups, tile(slab, coord, dim+1, dims, capacity)...)
	}
	return groups
}

func lessNaNLast(a, b float64) bool {
	switch {
	case math.IsNaN(a):
		return false
	case math.IsNaN(b):
		return true
	}
	return a < b
}

func chunk(items []int, size int) [][]int {
	groups := make([][]int, 0, ceilDiv(len(items), size))
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		groups = append(groups, items[start:end:end])
	}
	return groups
}

func clone(items []int) []int {
	out := make([]int, len(items))
	copy(out, items)
	return out
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
