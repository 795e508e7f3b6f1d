// Package sink holds the output side of every attribute search: entries are
// appended by exactly one search task and read by whatever aggregates them.
package sink

import (
	"sync"
	"sync/atomic"
)

// Entry is one scored candidate for one attribute.
type Entry struct {
	ID       string  `json:"id"`
	Value    any     `json:"value"`
	Distance float64 `json:"distance"`
	Score    float64 `json:"score"`
}

// Sink accepts entries in the order a search proves them final.
type Sink interface {
	Emit(Entry)
}

// Func adapts a function to a Sink.
type Func func(Entry)

func (f Func) Emit(e Entry) { f(e) }

// Tee fans every entry out to several sinks in order.
type Tee []Sink

func (t Tee) Emit(e Entry) {
	for _, s := range t {
		s.Emit(e)
	}
}

// Buffer is an append-only, concurrency-safe sink with a finished latch. The
// latch flips once, after the writer's last Emit.
type Buffer struct {
	mu       sync.Mutex
	entries  []Entry
	finished atomic.Bool
	once     sync.Once
	done     chan struct{}
}

func NewBuffer() *Buffer {
	return &Buffer{done: make(chan struct{})}
}

func (b *Buffer) Emit(e Entry) {
	b.mu.Lock()
	b.entries = append(b.entries, e)
	b.mu.Unlock()
}

// Entries returns a copy of everything emitted so far.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Finish marks the buffer complete. Later calls are no-ops.
func (b *Buffer) Finish() {
	b.once.Do(func() {
		b.finished.Store(true)
		close(b.done)
	})
}

// Running reports whether the writer may still append.
func (b *Buffer) Running() bool {
	return !b.finished.Load()
}

func (b *Buffer) Done() <-chan struct{} {
	return b.done
}

// Tagged is an entry labelled with the attribute that produced it.
type Tagged struct {
	Attribute string `json:"attribute"`
	Entry
}

// Chan forwards entries to a channel, tagged with Attribute. Sends block
// until the receiver reads or Done is closed; entries sent after Done closes
// are dropped. A nil Done never unblocks.
type Chan struct {
	Attribute string
	C         chan<- Tagged
	Done      <-chan struct{}
}

func (c Chan) Emit(e Entry) {
	select {
	case c.C <- Tagged{Attribute: c.Attribute, Entry: e}:
	case <-c.Done:
	}
}
