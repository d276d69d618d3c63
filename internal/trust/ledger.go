// Package trust maintains the scalar trust score that gates every action.
// The score moves slowly up on success, sharply down on failure, and decays
// toward a floor when idle, so elevated autonomy is earned and re-earned.
package trust

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Outcome feedback and decay constants. Asymmetry is deliberate: one failure
// costs five successes.
const (
	SuccessDelta = 0.01
	FailureDelta = 0.05

	DefaultInitial       = 0.5
	DefaultDecayRate     = 0.001
	DefaultDecayFloor    = 0.1
	DefaultDecayInterval = time.Hour
)

// Cause tags what moved the score.
type Cause string

const (
	CauseSuccess Cause = "success"
	CauseFailure Cause = "failure"
	CauseDecay   Cause = "decay"
	CauseAdmin   Cause = "admin"
)

// Adjustment reports one score mutation with enough context for audit
// entries and tier-change events.
type Adjustment struct {
	Cause       Cause
	Before      float64
	After       float64
	TierBefore  Tier
	TierAfter   Tier
	TierChanged bool
}

// Ledger holds the current trust score. Reads are lock-free; all mutations
// serialize through one mutex, so adjustments and decay ticks interleave in
// a single total order.
type Ledger struct {
	mu    sync.Mutex
	bits  atomic.Uint64
	table *Table

	decayRate  float64
	decayFloor float64

	gapped    atomic.Bool
	gapWarned atomic.Bool
	logger    *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithDecay overrides the decay rate and floor.
func WithDecay(rate, floor float64) Option {
	return func(l *Ledger) {
		l.decayRate = rate
		l.decayFloor = floor
	}
}

// WithLogger attaches a logger; the default discards.
func WithLogger(lg *zap.Logger) Option {
	return func(l *Ledger) { l.logger = lg }
}

// NewLedger builds a ledger over a validated tier table, starting at the
// given (clamped) score.
func NewLedger(table *Table, initial float64, opts ...Option) *Ledger {
	l := &Ledger{
		table:      table,
		decayRate:  DefaultDecayRate,
		decayFloor: DefaultDecayFloor,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.bits.Store(math.Float64bits(clamp01(initial)))
	return l
}

// Current returns the score without taking the mutation lock.
func (l *Ledger) Current() float64 {
	return math.Float64frombits(l.bits.Load())
}

// Tier returns the tier for the current score.
func (l *Ledger) Tier() Tier {
	return l.TierFor(l.Current())
}

// TierFor maps a score to its tier. A score no tier covers falls back to the
// most restrictive tier and raises a sticky gap flag; validated tables never
// take that path.
func (l *Ledger) TierFor(score float64) Tier {
	if t, ok := l.table.Lookup(score); ok {
		return t
	}
	l.gapped.Store(true)
	if l.gapWarned.CompareAndSwap(false, true) {
		l.logger.Warn("tier table gap, using most restrictive tier",
			zap.Float64("score", score))
	}
	return l.table.Lowest()
}

// GapDetected reports whether any lookup ever missed the table.
func (l *Ledger) GapDetected() bool {
	return l.gapped.Load()
}

// Table exposes the tier table for display.
func (l *Ledger) Table() *Table {
	return l.table
}

// AdjustOnOutcome applies the execution-outcome feedback: +SuccessDelta
// clamped to 1 on success, -FailureDelta clamped to 0 on failure.
func (l *Ledger) AdjustOnOutcome(success bool) Adjustment {
	if success {
		return l.mutate(CauseSuccess, func(s float64) float64 {
			return clamp01(s + SuccessDelta)
		})
	}
	return l.mutate(CauseFailure, func(s float64) float64 {
		return clamp01(s - FailureDelta)
	})
}

// Decay applies one decay tick: the score drifts down by the decay rate but
// never below the floor, and a score already at or under the floor is left
// alone. Decay never raises the score.
func (l *Ledger) Decay() Adjustment {
	return l.mutate(CauseDecay, func(s float64) float64 {
		if s <= l.decayFloor {
			return s
		}
		return math.Max(l.decayFloor, s-l.decayRate)
	})
}

// Set is the explicit administrative reset. Nothing else writes the score
// directly.
func (l *Ledger) Set(score float64) Adjustment {
	return l.mutate(CauseAdmin, func(float64) float64 {
		return clamp01(score)
	})
}

func (l *Ledger) mutate(cause Cause, f func(float64) float64) Adjustment {
	l.mu.Lock()
	defer l.mu.Unlock()
	before := math.Float64frombits(l.bits.Load())
	after := f(before)
	l.bits.Store(math.Float64bits(after))

	tb, ta := l.TierFor(before), l.TierFor(after)
	return Adjustment{
		Cause:       cause,
		Before:      before,
		After:       after,
		TierBefore:  tb,
		TierAfter:   ta,
		TierChanged: tb.ID != ta.ID,
	}
}

// StartDecay runs decay ticks at the given interval on a background
// goroutine. Every tick's adjustment is passed to fn (which may be nil).
// The returned stop function cancels the ticker and waits for it to exit.
func (l *Ledger) StartDecay(interval time.Duration, fn func(Adjustment)) (stop func()) {
	if interval <= 0 {
		interval = DefaultDecayInterval
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				adj := l.Decay()
				if fn != nil {
					fn(adj)
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
