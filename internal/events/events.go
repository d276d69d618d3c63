// Package events carries lifecycle notifications from the engine to
// in-process observers. The bus is injected where it is needed; there is no
// package-level singleton.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/trust"
)

// Type enumerates the observable lifecycle moments.
type Type string

const (
	ActionApproved    Type = "action_approved"
	ActionRejected    Type = "action_rejected"
	ActionStarted     Type = "action_started"
	ActionCompleted   Type = "action_completed"
	ActionFailed      Type = "action_failed"
	RollbackCompleted Type = "rollback_completed"
	RollbackFailed    Type = "rollback_failed"
	TierChanged       Type = "tier_changed"
	TrustDecayed      Type = "trust_decayed"
)

// TierChange describes a tier boundary crossing.
type TierChange struct {
	From  trust.Tier `json:"from"`
	To    trust.Tier `json:"to"`
	Trust float64    `json:"trust"`
}

// Event is one notification. Seq increases monotonically across the bus, so
// observers can detect gaps introduced by their own slow consumption.
type Event struct {
	Seq    uint64         `json:"seq"`
	Type   Type           `json:"type"`
	Time   time.Time      `json:"time"`
	Action *action.Action `json:"action,omitempty"`
	Tier   *TierChange    `json:"tier,omitempty"`
}

// Emitter is the narrow interface components publish through.
type Emitter interface {
	Emit(Event)
}

// NopEmitter discards events; useful as a test default.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

// Bus fans events out to subscriber channels. Sends never block: a
// subscriber that stops draining loses events rather than stalling the
// engine, and the drop counter makes that visible.
type Bus struct {
	mu      sync.RWMutex
	subs    map[<-chan Event]chan Event
	closed  bool
	seq     atomic.Uint64
	dropped atomic.Uint64
	buffer  int
}

// NewBus creates a bus whose subscriber channels hold up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[<-chan Event]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a new observer channel. After Close the returned
// channel is already closed.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes and closes an observer channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
}

// Emit stamps the event and delivers it to every subscriber that has room.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	ev.Seq = b.seq.Add(1)
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were discarded due to full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Emit becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = map[<-chan Event]chan Event{}
}
