package spatial

import (
	"container/heap"
	"math"
)

// Kind tags a worklist item. Ties on distance are broken by kind in this
// order, then by index.
type Kind uint8

const (
	// KindExact is an entry whose distance is final.
	KindExact Kind = iota
	// KindEntry is an entry keyed by a lower bound that still needs
	// verification.
	KindEntry
	// KindNode is a tree node keyed by its bounding-box lower bound.
	KindNode
)

// Item is one worklist element.
type Item struct {
	Kind     Kind
	Index    int
	Distance float64
}

func (a Item) less(b Item) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.Index < b.Index
}

// Compile time check to ensure itemHeap satisfies the heap interface.
var _ heap.Interface = (*itemHeap)(nil)

type itemHeap []Item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(Item))
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Worklist is a min-priority queue of items under a total order.
type Worklist struct {
	h itemHeap
}

// Push adds item. A NaN distance is queued as +Inf.
func (w *Worklist) Push(item Item) {
	if math.IsNaN(item.Distance) {
		item.Distance = math.Inf(1)
	}
	heap.Push(&w.h, item)
}

// Pop removes the smallest item.
func (w *Worklist) Pop() (Item, bool) {
	if len(w.h) == 0 {
		return Item{}, false
	}
	return heap.Pop(&w.h).(Item), true
}

// Peek returns the smallest item without removing it.
func (w *Worklist) Peek() (Item, bool) {
	if len(w.h) == 0 {
		return Item{}, false
	}
	return w.h[0], true
}

func (w *Worklist) Len() int { return len(w.h) }
