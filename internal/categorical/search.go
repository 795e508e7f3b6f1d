package categorical

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/sink"
	"github.com/RoaringBitmap/roaring/v2"
)

// overlapPrecision rounds overlap bounds before taking the ceiling so that
// values like 2.0000000001 do not jump to the next integer.
const overlapPrecision = 1e5

// Stats summarises one categorical search.
type Stats struct {
	Positions int
	Verified  int
	Emitted   int
}

type match struct {
	pos int
	sim float64
}

// Search is the per-query state of a progressive Jaccard top-M search. It
// emits entities in non-increasing similarity order as soon as no unseen
// entity can outrank them.
type Search struct {
	index   *Index
	query   []int
	k       int
	m       int
	emitter *similarity.Emitter
	logger  *slog.Logger
	stats   Stats

	threshold   float64
	minLength   int
	maxLength   int
	minOverlap  []int
	prefixBound int
}

// NewSearch prepares a search for query (a sorted id set, see Index.Query).
// The first k results fix the calibrator's scale and at most m results are
// emitted.
func NewSearch(index *Index, query []int, k, m int, cal *similarity.Calibrator, out sink.Sink) *Search {
	if k < 1 {
		k = 1
	}
	if m < k {
		m = k
	}
	return &Search{
		index:       index,
		query:       query,
		k:           k,
		m:           m,
		emitter:     similarity.NewEmitter(cal, k, out, similarity.WithSetDistance()),
		logger:      slog.Default().With("component", "categorical-search"),
		prefixBound: len(query),
	}
}

func (s *Search) Stats() Stats { return s.stats }

// Run sweeps the query's tokens once. It returns ctx's error if the context
// is cancelled between positions; everything emitted up to then stays valid.
func (s *Search) Run(ctx context.Context) error {
	defer s.emitter.Close()

	r := s.query
	coll := s.index.Collection
	if len(r) == 0 || coll.Len() == 0 {
		return nil
	}
	lenR := len(r)

	seen := roaring.New()
	kept := make([]match, 0, s.m+1)
	emitted := 0
	eqoverlap := 1

	for i := 0; i < s.prefixBound && emitted < s.m; {
		if err := ctx.Err(); err != nil {
			return err
		}
		tok := r[i]
		visit := func(pos int, ascending bool) bool {
			if seen.Contains(uint32(pos)) {
				return true
			}
			target := coll.Sets[pos]
			sl := len(target)
			if s.threshold > 0 {
				if sl < s.minLength {
					return ascending
				}
				if sl > s.maxLength-i {
					return !ascending
				}
				eqoverlap = s.minOverlap[sl-s.minLength]
			}
			if lenR-eqoverlap+1 < i {
				return true
			}
			if !prefixContains(target, sl-eqoverlap+1, tok) {
				return true
			}
			seen.Add(uint32(pos))
			s.stats.Verified++

			sim := Jaccard.Similarity(r, target)
			if len(kept) >= s.m && sim <= s.threshold {
				return true
			}
			place := sort.Search(len(kept), func(j int) bool { return kept[j].sim < sim })
			place = max(place, emitted)
			if place >= s.m {
				return true
			}
			kept = append(kept, match{})
			copy(kept[place+1:], kept[place:])
			kept[place] = match{pos: pos, sim: sim}
			if len(kept) > s.m {
				kept = kept[:s.m]
			}
			if len(kept) == s.m {
				s.tighten(kept[len(kept)-1].sim, lenR)
			}
			return true
		}
		s.scan(s.index.Inverted.Postings(tok), lenR, visit)

		i++
		s.stats.Positions++
		upper := 1 - float64(i)/float64(lenR)
		for emitted < len(kept) && kept[emitted].sim >= upper {
			s.emit(kept[emitted])
			emitted++
		}
	}

	// Whatever is still kept can no longer be displaced by an unseen entity.
	for ; emitted < len(kept); emitted++ {
		s.emit(kept[emitted])
	}
	s.logger.Debug("categorical search finished",
		"query_size", lenR,
		"positions", s.stats.Positions,
		"verified", s.stats.Verified,
		"emitted", s.stats.Emitted,
	)
	return nil
}

// tighten recomputes the length and overlap bounds for a new threshold t.
func (s *Search) tighten(t float64, lenR int) {
	if !(t > 0) {
		return
	}
	s.threshold = t
	ratio := t / (1 + t)
	s.minLength = int(math.Ceil(float64(lenR) * t))
	s.maxLength = int(math.Ceil(float64(lenR) / t))
	s.minOverlap = make([]int, s.maxLength-s.minLength+1)
	for p := range s.minOverlap {
		s.minOverlap[p] = int(math.Ceil(roundTo(ratio*float64(lenR+s.minLength+p), overlapPrecision)))
	}
	s.prefixBound = lenR - s.minOverlap[0] + 1
}

// scan visits a posting list outward from the first member at least as long
// as the query: ascending lengths first, then descending from just below.
// visit returns false to abandon the current direction.
func (s *Search) scan(list []int, lenR int, visit func(pos int, ascending bool) bool) {
	if len(list) == 0 {
		return
	}
	sets := s.index.Collection.Sets
	var start int
	switch {
	case lenR <= len(sets[list[0]]):
		start = 0
	case lenR > len(sets[list[len(list)-1]]):
		start = len(list)
	default:
		start = sort.Search(len(list), func(j int) bool {
			return len(sets[list[j]]) >= lenR
		})
	}
	for j := start; j < len(list); j++ {
		if !visit(list[j], true) {
			break
		}
	}
	for j := start - 1; j >= 0; j-- {
		if !visit(list[j], false) {
			break
		}
	}
}

func (s *Search) emit(m match) {
	coll := s.index.Collection
	id := coll.Keys[m.pos]
	s.emitter.Emit(id, coll.Originals[id], 1-m.sim)
	s.stats.Emitted++
}

// prefixContains reports whether tok is among the first n tokens of set.
func prefixContains(set []int, n int, tok int) bool {
	n = min(n, len(set))
	for m := 0; m < n; m++ {
		if set[m] == tok {
			return true
		}
		if set[m] > tok {
			return false
		}
	}
	return false
}
