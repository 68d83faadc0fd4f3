// Package statelog is the append-only observability sink. The gateway
// writes one entry per RPC invocation and per connection lifecycle event;
// a slow or failing sink must never delay or fail an RPC, so callers go
// through AsyncSink and treat every append as fire-and-forget.
package statelog

import (
	"sync"
	"time"
)

type Entry struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
	TS    string         `json:"ts"`
}

// NewEntry stamps an entry with the current UTC time.
func NewEntry(event string, data map[string]any) Entry {
	return Entry{
		Event: event,
		Data:  data,
		TS:    time.Now().UTC().Format(time.RFC3339Nano),
	}
}

type Sink interface {
	Append(entry Entry) error
	Close() error
}

// MemorySink keeps the most recent entries in a ring. Used by tests and as
// the memory:// backend.
type MemorySink struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
}

func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemorySink{capacity: capacity}
}

func (s *MemorySink) Append(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	if len(s.entries) > s.capacity {
		s.entries = s.entries[len(s.entries)-s.capacity:]
	}
	return nil
}

func (s *MemorySink) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func (s *MemorySink) Close() error {
	return nil
}

// AsyncSink decouples producers from the backing sink with a bounded
// channel drained by one background goroutine. Append never blocks: a full
// queue drops the entry. Errors from the inner sink are swallowed.
type AsyncSink struct {
	inner Sink
	ch    chan Entry
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewAsyncSink(inner Sink, depth int) *AsyncSink {
	if depth <= 0 {
		depth = 256
	}
	s := &AsyncSink{
		inner: inner,
		ch:    make(chan Entry, depth),
		done:  make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *AsyncSink) drain() {
	defer close(s.done)
	for entry := range s.ch {
		_ = s.inner.Append(entry)
	}
}

// Append after Close is a silent drop, not a panic: handlers on hijacked
// connections can outlive the server shutdown that closes the sink.
func (s *AsyncSink) Append(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- entry:
	default:
	}
	return nil
}

// Close flushes queued entries, stops the drain goroutine, and closes the
// inner sink.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	<-s.done
	return s.inner.Close()
}
