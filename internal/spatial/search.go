package spatial

import (
	"errors"
	"log/slog"
	"math"

	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/simsearch/internal/sink"
	apperrors "github.com/Adithya-Monish-Kumar-K/simsearch/pkg/errors"
)

// ErrExhausted is returned by Poll once the search emitted every entry it
// will ever emit.
var ErrExhausted = errors.New("spatial: no further results")

// Search is the per-query state of a progressive k-nearest-neighbour search
// over points.
type Search struct {
	browser *Browser
	emitter *similarity.Emitter
	limit   int
	emitted int
	done    bool
	logger  *slog.Logger
}

// NewSearch prepares a Euclidean search from query. The topk-th distance
// fixes the calibrator's scale; at most limit entries are emitted, or all of
// them when limit is not positive.
func NewSearch(tree *Tree, query []float64, topk, limit int, cal *similarity.Calibrator, out sink.Sink) (*Search, error) {
	if tree.Len() > 0 && len(query) != tree.Dims {
		return nil, apperrors.Newf(apperrors.ErrDimensionMismatch, "",
			"query has %d dimensions, tree has %d", len(query), tree.Dims)
	}
	for _, v := range query {
		if math.IsNaN(v) {
			return nil, apperrors.New(apperrors.ErrInvalidQuery, "", "query point contains NaN")
		}
	}
	browser := NewBrowser(tree, pointBounder{tree: tree, query: query}, nil)
	return NewSearchFrom(browser, topk, limit, cal, out), nil
}

// NewSearchFrom wraps any browser, such as one with custom bounds, in a
// progressive search.
func NewSearchFrom(browser *Browser, topk, limit int, cal *similarity.Calibrator, out sink.Sink) *Search {
	return &Search{
		browser: browser,
		emitter: similarity.NewEmitter(cal, topk, out),
		limit:   limit,
		logger:  slog.Default().With("component", "spatial-search"),
	}
}

// Poll emits up to n more entries and returns how many it emitted.
func (s *Search) Poll(n int) (int, error) {
	if s.done {
		return 0, ErrExhausted
	}
	count := 0
	for count < n {
		if s.limit > 0 && s.emitted >= s.limit {
			break
		}
		nb, ok := s.browser.Next()
		if !ok {
			break
		}
		s.emitter.Emit(nb.ID, nb.Value, nb.Distance)
		s.emitted++
		count++
	}
	if (s.limit > 0 && s.emitted >= s.limit) || s.browser.Exhausted() {
		s.finish()
		if count == 0 {
			return 0, ErrExhausted
		}
	}
	return count, nil
}

func (s *Search) Emitted() int { return s.emitted }

func (s *Search) Stats() BrowseStats { return s.browser.Stats() }

// Close stops the search early and flushes held-back results.
func (s *Search) Close() {
	s.finish()
}

func (s *Search) finish() {
	if s.done {
		return
	}
	s.done = true
	s.emitter.Close()
	st := s.browser.Stats()
	s.logger.Debug("spatial search finished",
		"emitted", s.emitted,
		"expanded", st.Expanded,
		"reinserted", st.Reinserted,
	)
}
