package similarity

import "github.com/Adithya-Monish-Kumar-K/simsearch/internal/sink"

// Emitter writes results of one attribute search into a sink. The first k
// results are held back unscored; the k-th distance fixes the calibrator's
// scale, the held results are flushed with their scores, and every later
// result is scored as it arrives.
type Emitter struct {
	cal     *Calibrator
	k       int
	out     sink.Sink
	setMode bool
	pending []sink.Entry
	flushed bool
	count   int
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithSetDistance scores through Calibrator.ScoreSet.
func WithSetDistance() EmitterOption {
	return func(e *Emitter) { e.setMode = true }
}

func NewEmitter(cal *Calibrator, k int, out sink.Sink, opts ...EmitterOption) *Emitter {
	if k < 1 {
		k = 1
	}
	e := &Emitter{
		cal:     cal,
		k:       k,
		out:     out,
		pending: make([]sink.Entry, 0, k),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit records one result at distance d. Distances must arrive in
// non-decreasing order.
func (e *Emitter) Emit(id string, value any, d float64) {
	e.count++
	entry := sink.Entry{ID: id, Value: value, Distance: d}
	if e.flushed {
		entry.Score = e.score(d)
		e.out.Emit(entry)
		return
	}
	e.pending = append(e.pending, entry)
	if len(e.pending) >= e.k {
		e.cal.Fix(d)
		e.flush()
	}
}

// Close flushes results still held back because fewer than k arrived, fixing
// the scale from the last of them.
func (e *Emitter) Close() {
	if e.flushed {
		return
	}
	if n := len(e.pending); n > 0 {
		e.cal.Fix(e.pending[n-1].Distance)
	}
	e.flush()
}

// Count is the number of results passed to Emit.
func (e *Emitter) Count() int { return e.count }

// Pending is the number of results held back awaiting the scale.
func (e *Emitter) Pending() int { return len(e.pending) }

func (e *Emitter) flush() {
	for _, entry := range e.pending {
		entry.Score = e.score(entry.Distance)
		e.out.Emit(entry)
	}
	e.pending = nil
	e.flushed = true
}

func (e *Emitter) score(d float64) float64 {
	if e.setMode {
		return e.cal.ScoreSet(d)
	}
	return e.cal.Score(d)
}
