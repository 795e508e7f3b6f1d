package spatial

// Bounder supplies lower bounds on the distance from a fixed query.
type Bounder interface {
	NodeBound(mbr Rect) float64
	EntryBound(entry int) float64
}

// Verifier computes the true distance of an entry whose bound may be loose.
type Verifier interface {
	ExactDistance(entry int) float64
}

// Neighbor is one entry in browsing order.
type Neighbor struct {
	Index    int
	ID       string
	Value    any
	Point    []float64
	Distance float64
}

// BrowseStats counts the work done by a Browser.
type BrowseStats struct {
	Expanded   int
	Verified   int
	Reinserted int
	Returned   int
}

// Browser walks a tree best-first, returning entries in non-decreasing
// distance. Without a Verifier entry bounds are taken as exact. With one,
// an entry is verified when it reaches the head of the worklist and re-queued
// if its true distance exceeds the next bound.
type Browser struct {
	tree     *Tree
	bounder  Bounder
	verifier Verifier
	queue    Worklist
	stats    BrowseStats
}

func NewBrowser(tree *Tree, bounder Bounder, verifier Verifier) *Browser {
	b := &Browser{tree: tree, bounder: bounder, verifier: verifier}
	if tree.Root >= 0 {
		b.queue.Push(Item{
			Kind:     KindNode,
			Index:    tree.Root,
			Distance: bounder.NodeBound(tree.Nodes[tree.Root].MBR),
		})
	}
	return b
}

// Next returns the next nearest entry, or false once the tree is exhausted.
func (b *Browser) Next() (Neighbor, bool) {
	for {
		item, ok := b.queue.Pop()
		if !ok {
			return Neighbor{}, false
		}
		switch item.Kind {
		case KindNode:
			b.expand(item.Index)
		case KindEntry:
			d := b.verifier.ExactDistance(item.Index)
			b.stats.Verified++
			if head, ok := b.queue.Peek(); ok && d > head.Distance {
				b.queue.Push(Item{Kind: KindExact, Index: item.Index, Distance: d})
				b.stats.Reinserted++
				continue
			}
			return b.neighbor(item.Index, d), true
		case KindExact:
			return b.neighbor(item.Index, item.Distance), true
		}
	}
}

func (b *Browser) Stats() BrowseStats { return b.stats }

// Exhausted reports whether the worklist is empty.
func (b *Browser) Exhausted() bool { return b.queue.Len() == 0 }

func (b *Browser) expand(n int) {
	b.stats.Expanded++
	node := &b.tree.Nodes[n]
	if node.Kind == Internal {
		for _, c := range node.Children {
			b.queue.Push(Item{
				Kind:     KindNode,
				Index:    c,
				Distance: b.bounder.NodeBound(b.tree.Nodes[c].MBR),
			})
		}
		return
	}
	kind := KindExact
	if b.verifier != nil {
		kind = KindEntry
	}
	for _, e := range node.Entries {
		b.queue.Push(Item{Kind: kind, Index: e, Distance: b.bounder.EntryBound(e)})
	}
}

func (b *Browser) neighbor(entry int, d float64) Neighbor {
	b.stats.Returned++
	e := b.tree.Entries[entry]
	return Neighbor{
		Index:    entry,
		ID:       e.ID,
		Value:    e.Value,
		Point:    e.Point,
		Distance: d,
	}
}

// pointBounder is the plain Euclidean bounder: entry bounds are exact.
type pointBounder struct {
	tree  *Tree
	query []float64
}

func (p pointBounder) NodeBound(mbr Rect) float64 {
	return MinDist(p.query, mbr)
}

func (p pointBounder) EntryBound(entry int) float64 {
	return Euclidean(p.query, p.tree.Entries[entry].Point)
}
