package numeric

import (
	"errors"
	"log/slog"
	"math"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/sink"
	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
	"github.com/tidwall/btree"
)

// ErrExhausted is returned by Poll once every indexed value was emitted. It
// is distinct from a poll that emitted nothing.
var ErrExhausted = errors.New("numeric: no further results")

// Search is the per-query state of a nearest-key walk. Two cursors start at
// the query key and move apart; at each step the closer one is taken, the
// right one on a tie.
type Search struct {
	index   *Index
	query   float64
	emitter *similarity.Emitter
	logger  *slog.Logger

	started bool
	done    bool
	left    btree.IterG[group]
	right   btree.IterG[group]
	leftOK  bool
	rightOK bool
	exact   []string
	emitted int
}

// NewSearch prepares a walk from query. The topk-th value's distance becomes
// the calibrator's scale.
func NewSearch(index *Index, query float64, topk int, cal *similarity.Calibrator, out sink.Sink) (*Search, error) {
	if math.IsNaN(query) || math.IsInf(query, 0) {
		return nil, apperrors.Newf(apperrors.ErrInvalidQuery, "", "numeric query must be finite, got %v", query)
	}
	return &Search{
		index:   index,
		query:   query,
		emitter: similarity.NewEmitter(cal, topk, out),
		logger:  slog.Default().With("component", "numeric-search"),
	}, nil
}

// Poll visits keys until at least n values were emitted or the index is
// exhausted, and returns the number of values emitted. Values of one key are
// never split across polls.
func (s *Search) Poll(n int) (int, error) {
	if s.done {
		return 0, ErrExhausted
	}
	if !s.started {
		s.start()
	}
	count := 0
	if len(s.exact) > 0 {
		count += s.emitGroup(group{key: s.query, ids: s.exact})
		s.exact = nil
	}
	for count < n && (s.leftOK || s.rightOK) {
		var ld, rd float64
		if s.leftOK {
			ld = s.query - s.left.Item().key
		}
		if s.rightOK {
			rd = s.right.Item().key - s.query
		}
		if s.rightOK && (!s.leftOK || rd <= ld) {
			count += s.emitGroup(s.right.Item())
			s.rightOK = s.right.Next()
			continue
		}
		count += s.emitGroup(s.left.Item())
		s.leftOK = s.left.Prev()
	}
	if !s.leftOK && !s.rightOK {
		s.finish()
		if count == 0 {
			return 0, ErrExhausted
		}
	}
	return count, nil
}

// Emitted is the number of values emitted so far.
func (s *Search) Emitted() int { return s.emitted }

func (s *Search) start() {
	s.started = true
	pivot := group{key: s.query}

	s.right = s.index.tree.Iter()
	s.rightOK = s.right.Seek(pivot)
	if s.rightOK && s.right.Item().key == s.query {
		s.exact = s.right.Item().ids
		s.rightOK = s.right.Next()
	}

	s.left = s.index.tree.Iter()
	if s.left.Seek(pivot) {
		s.leftOK = s.left.Prev()
	} else {
		s.leftOK = s.left.Last()
	}
}

func (s *Search) finish() {
	if s.done {
		return
	}
	s.done = true
	s.emitter.Close()
	if s.started {
		s.left.Release()
		s.right.Release()
	}
	s.logger.Debug("numeric search exhausted",
		"query", s.query,
		"emitted", s.emitted,
	)
}

func (s *Search) emitGroup(g group) int {
	d := math.Abs(g.key - s.query)
	for _, id := range g.ids {
		s.emitter.Emit(id, g.key, d)
	}
	s.emitted += len(g.ids)
	return len(g.ids)
}

// Close stops the walk early and flushes held-back results.
func (s *Search) Close() {
	s.finish()
}
