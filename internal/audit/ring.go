package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCapacity bounds the in-memory ring when no capacity is configured.
const DefaultCapacity = 10_000

// Log is the bounded in-memory audit ring. Appends are O(1) and evict the
// oldest entry once the ring is full; reads page newest-first. Durability
// beyond the ring is the sink's job.
type Log struct {
	mu    sync.Mutex
	buf   []Entry
	next  int
	full  bool
	total uint64

	sink   Sink
	logger *zap.Logger
}

// NewLog creates a ring of the given capacity. sink may be nil; a sink
// append failure is logged and never fails the caller.
func NewLog(capacity int, sink Sink, logger *zap.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		buf:    make([]Entry, capacity),
		sink:   sink,
		logger: logger,
	}
}

// Append records one entry, stamping ID and time when unset.
func (l *Log) Append(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	l.mu.Lock()
	l.buf[l.next] = e
	l.next++
	if l.next == len(l.buf) {
		l.next = 0
		l.full = true
	}
	l.total++
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		if err := sink.Append(e); err != nil {
			l.logger.Error("audit sink append failed",
				zap.String("event", e.Event),
				zap.String("action_id", e.ActionID),
				zap.Error(err))
		}
	}
}

// Len reports how many entries the ring currently holds.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.buf)
	}
	return l.next
}

// Total reports how many entries were ever appended, including evicted.
func (l *Log) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(n int) []Entry {
	return l.Page(0, n)
}

// Page returns up to limit entries starting offset entries back from the
// newest. Offsets past the ring return an empty slice.
func (l *Log) Page(offset, limit int) []Entry {
	if limit <= 0 || offset < 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = len(l.buf)
	}
	if offset >= size {
		return nil
	}
	if offset+limit > size {
		limit = size - offset
	}

	out := make([]Entry, 0, limit)
	// Entry i-newest lives at next-1-i modulo capacity.
	for i := offset; i < offset+limit; i++ {
		idx := l.next - 1 - i
		if idx < 0 {
			idx += len(l.buf)
		}
		out = append(out, l.buf[idx])
	}
	return out
}
