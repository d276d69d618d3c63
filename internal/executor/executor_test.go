package executor

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/audit"
	"github.com/warden-project/warden/internal/capability"
	"github.com/warden-project/warden/internal/errclass"
	"github.com/warden-project/warden/internal/events"
	"github.com/warden-project/warden/internal/handler"
	"github.com/warden-project/warden/internal/snapshot"
	"github.com/warden-project/warden/internal/trust"
)

// fakeHandler scripts one action type for executor tests.
type fakeHandler struct {
	name     string
	validate func(action.Params) error
	execute  func(context.Context, *action.Action) (string, error)
}

func (h *fakeHandler) Name() string        { return h.name }
func (h *fakeHandler) Description() string { return "test handler" }

func (h *fakeHandler) Validate(p action.Params) error {
	if h.validate != nil {
		return h.validate(p)
	}
	return nil
}

func (h *fakeHandler) Execute(ctx context.Context, act *action.Action) (string, error) {
	return h.execute(ctx, act)
}

// captureEmitter records emitted events in order.
type captureEmitter struct {
	mu  sync.Mutex
	evs []events.Event
}

func (c *captureEmitter) Emit(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, ev)
}

func (c *captureEmitter) types() []events.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Type, len(c.evs))
	for i, ev := range c.evs {
		out[i] = ev.Type
	}
	return out
}

type rig struct {
	store   *Store
	reg     *handler.Registry
	ledger  *trust.Ledger
	backend *snapshot.MemBackend
	log     *audit.Log
	emitted *captureEmitter
	exec    *Executor
}

func testTable(t *testing.T) *trust.Table {
	t.Helper()
	table, err := trust.NewTable([]trust.Tier{
		{ID: 0, Name: "restricted", Min: 0, Max: 0.25},
		{ID: 1, Name: "standard", Min: 0.25, Max: 0.6},
		{ID: 2, Name: "autonomous", Min: 0.6, Max: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	return table
}

// newRig builds an executor over fake handlers "probe" (read-only) and
// "mutate" (mutating, rollback available), backed by an in-memory
// snapshot store.
func newRig(t *testing.T, initial float64, cfg Config) *rig {
	t.Helper()
	contracts, err := capability.NewRegistry([]capability.Contract{
		{Type: "probe", TrustThreshold: 0.1, Risk: "low"},
		{Type: "mutate", TrustThreshold: 0.2, Mutating: true, Rollback: true, Risk: "high"},
		{Type: "ghost", TrustThreshold: 0.1, Mutating: true, Risk: "medium"},
	})
	if err != nil {
		t.Fatal(err)
	}
	r := &rig{
		store:   NewStore(),
		reg:     handler.NewRegistry(),
		ledger:  trust.NewLedger(testTable(t), initial),
		backend: snapshot.NewMemBackend(),
		log:     audit.NewLog(64, nil, nil),
		emitted: &captureEmitter{},
	}
	r.exec = NewExecutor(r.store, r.reg, contracts, r.ledger,
		snapshot.NewManager(r.backend, nil), r.log, r.emitted, cfg, nil)
	return r
}

// approved stores a ready-to-run action and returns its id.
func (r *rig) approved(typ string, autoRollback bool) string {
	act := action.New(action.Request{Type: typ, Resource: "res", Actor: "tester"})
	act.Status = action.StatusApproved
	act.Metadata.AutoRollback = autoRollback
	r.store.Put(act)
	return act.ID
}

// auditTrail returns the audit event names oldest first.
func (r *rig) auditTrail() []string {
	entries := r.log.Recent(64)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e.Event
	}
	return out
}

func sameSeq[T comparable](got, want []T) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRunCompletesAction(t *testing.T) {
	r := newRig(t, 0.9, Config{MaxConcurrent: 2, Timeout: time.Second})
	r.reg.Register(&fakeHandler{name: "probe", execute: func(context.Context, *action.Action) (string, error) {
		return "ok", nil
	}})
	id := r.approved("probe", false)

	final, err := r.exec.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Status != action.StatusCompleted {
		t.Errorf("status = %s, want %s", final.Status, action.StatusCompleted)
	}
	if final.Result != "ok" {
		t.Errorf("result = %q, want ok", final.Result)
	}
	if final.StartedAt.IsZero() || final.CompletedAt.IsZero() {
		t.Error("timestamps not recorded")
	}

	if got := r.ledger.Current(); !almost(got, 0.91) {
		t.Errorf("trust = %v, want 0.91", got)
	}
	if got, want := r.auditTrail(), []string{audit.EventStarted, audit.EventCompleted}; !sameSeq(got, want) {
		t.Errorf("audit trail = %v, want %v", got, want)
	}
	if got, want := r.emitted.types(), []events.Type{events.ActionStarted, events.ActionCompleted}; !sameSeq(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	stored, _ := r.store.Get(id)
	if stored.Status != action.StatusCompleted {
		t.Errorf("stored status = %s, want completed", stored.Status)
	}
}

func TestRunFailureRollsBack(t *testing.T) {
	r := newRig(t, 0.9, Config{MaxConcurrent: 2, Timeout: time.Second})
	r.backend.Put("f", []byte("v1"))
	r.reg.Register(&fakeHandler{name: "mutate", execute: func(context.Context, *action.Action) (string, error) {
		r.backend.Put("f", []byte("v2"))
		return "", errors.New("handler exploded")
	}})
	id := r.approved("mutate", true)

	final, err := r.exec.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Status != action.StatusRolledBack {
		t.Fatalf("status = %s, want %s", final.Status, action.StatusRolledBack)
	}
	if final.Failure == "" || !strings.Contains(final.Failure, "handler exploded") {
		t.Errorf("failure = %q", final.Failure)
	}
	if final.FailureCode != "E_EXECUTION" {
		t.Errorf("failure code = %s, want E_EXECUTION", final.FailureCode)
	}
	if final.Metadata.PreSnapshot == "" {
		t.Error("pre-snapshot ref not recorded")
	}
	if final.Rollback == nil || !final.Rollback.Success {
		t.Fatalf("rollback = %+v, want success", final.Rollback)
	}
	if final.Rollback.RestoredRef != final.Metadata.PreSnapshot {
		t.Errorf("restored %s, want %s", final.Rollback.RestoredRef, final.Metadata.PreSnapshot)
	}

	// The working set is back to its pre-action content.
	if got, _ := r.backend.Get("f"); string(got) != "v1" {
		t.Errorf("state = %q, want v1", got)
	}
	if got := r.ledger.Current(); !almost(got, 0.85) {
		t.Errorf("trust = %v, want 0.85", got)
	}

	want := []string{audit.EventStarted, audit.EventFailed, audit.EventRollbackInitiated, audit.EventRollbackCompleted}
	if got := r.auditTrail(); !sameSeq(got, want) {
		t.Errorf("audit trail = %v, want %v", got, want)
	}
	wantEv := []events.Type{events.ActionStarted, events.ActionFailed, events.RollbackCompleted}
	if got := r.emitted.types(); !sameSeq(got, wantEv) {
		t.Errorf("events = %v, want %v", got, wantEv)
	}
}

func TestRunFailureWithoutAutoRollback(t *testing.T) {
	r := newRig(t, 0.9, Config{MaxConcurrent: 2, Timeout: time.Second})
	r.backend.Put("f", []byte("v1"))
	r.reg.Register(&fakeHandler{name: "mutate", execute: func(context.Context, *action.Action) (string, error) {
		r.backend.Put("f", []byte("v2"))
		return "", errors.New("handler exploded")
	}})
	id := r.approved("mutate", false)

	final, err := r.exec.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Status != action.StatusFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
	if final.Rollback != nil {
		t.Errorf("rollback attempted: %+v", final.Rollback)
	}
	// Without rollback the mutation stands.
	if got, _ := r.backend.Get("f"); string(got) != "v2" {
		t.Errorf("state = %q, want v2", got)
	}
}

func TestRunRollbackFailureStaysFailed(t *testing.T) {
	r := newRig(t, 0.9, Config{MaxConcurrent: 2, Timeout: time.Second})
	r.backend.Put("f", []byte("v1"))
	r.backend.RestoreErr = errors.New("disk gone")
	r.reg.Register(&fakeHandler{name: "mutate", execute: func(context.Context, *action.Action) (string, error) {
		return "", errors.New("handler exploded")
	}})
	id := r.approved("mutate", true)

	final, err := r.exec.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Status != action.StatusFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
	if final.Rollback == nil || final.Rollback.Success {
		t.Fatalf("rollback = %+v, want recorded failure", final.Rollback)
	}
	if !strings.Contains(final.Rollback.Err, "E_ROLLBACK") {
		t.Errorf("rollback err = %q, want E_ROLLBACK class", final.Rollback.Err)
	}
	// Both the execution error and the rollback error stay visible.
	if final.Failure == "" {
		t.Error("execution failure lost")
	}
	if r.backend.RestoreCalls != 1 {
		t.Errorf("restore calls = %d, want 1 (no retry)", r.backend.RestoreCalls)
	}

	want := []string{audit.EventStarted, audit.EventFailed, audit.EventRollbackInitiated, audit.EventRollbackFailed}
	if got := r.auditTrail(); !sameSeq(got, want) {
		t.Errorf("audit trail = %v, want %v", got, want)
	}
}

func TestRunTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newRig(t, 0.9, Config{MaxConcurrent: 2, Timeout: 30 * time.Millisecond})
	r.reg.Register(&fakeHandler{name: "probe", execute: func(ctx context.Context, _ *action.Action) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}})
	id := r.approved("probe", false)

	final, err := r.exec.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Status != action.StatusFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
	if final.FailureCode != "E_TIMEOUT" {
		t.Errorf("failure code = %s, want E_TIMEOUT", final.FailureCode)
	}
}

func TestRunUnregisteredTypeFails(t *testing.T) {
	r := newRig(t, 0.9, Config{MaxConcurrent: 2, Timeout: time.Second})
	id := r.approved("ghost", true)

	final, err := r.exec.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Status != action.StatusFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
	if final.FailureCode != "E_NOT_IMPLEMENTED" {
		t.Errorf("failure code = %s, want E_NOT_IMPLEMENTED", final.FailureCode)
	}
	// No handler ever ran, so nothing was captured or restored.
	if r.backend.SnapshotCalls != 0 {
		t.Errorf("snapshot calls = %d, want 0", r.backend.SnapshotCalls)
	}
	if final.Metadata.PreSnapshot != "" {
		t.Errorf("pre-snapshot = %q, want empty", final.Metadata.PreSnapshot)
	}
	// The failure still costs trust.
	if got := r.ledger.Current(); !almost(got, 0.85) {
		t.Errorf("trust = %v, want 0.85", got)
	}
}

func TestRunSnapshotFailureFailsBeforeDispatch(t *testing.T) {
	r := newRig(t, 0.9, Config{MaxConcurrent: 2, Timeout: time.Second})
	r.backend.SnapshotErr = errors.New("capture failed")
	var ran atomic.Bool
	r.reg.Register(&fakeHandler{name: "mutate", execute: func(context.Context, *action.Action) (string, error) {
		ran.Store(true)
		return "ok", nil
	}})
	id := r.approved("mutate", true)

	final, err := r.exec.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Status != action.StatusFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
	if !strings.Contains(final.Failure, "pre-action snapshot") {
		t.Errorf("failure = %q", final.Failure)
	}
	if ran.Load() {
		t.Error("handler ran without a snapshot")
	}
	if final.Rollback != nil {
		t.Errorf("rollback attempted with no snapshot: %+v", final.Rollback)
	}
}

func TestRunCallerErrors(t *testing.T) {
	r := newRig(t, 0.9, Config{MaxConcurrent: 2, Timeout: time.Second})
	ctx := context.Background()

	if _, err := r.exec.Run(ctx, "no-such-id"); !errors.Is(err, errclass.ErrActionNotFound) {
		t.Errorf("unknown id: got %v, want %v", err, errclass.ErrActionNotFound)
	}

	pending := action.New(action.Request{Type: "probe", Resource: "res"})
	r.store.Put(pending)
	if _, err := r.exec.Run(ctx, pending.ID); err == nil {
		t.Error("pending action executed")
	}

	rejected := action.New(action.Request{Type: "probe", Resource: "res"})
	rejected.Status = action.StatusRejected
	r.store.Put(rejected)
	if _, err := r.exec.Run(ctx, rejected.ID); err == nil {
		t.Error("rejected action executed")
	}
	if got, _ := r.store.Get(rejected.ID); got.Status != action.StatusRejected {
		t.Errorf("rejected action moved to %s", got.Status)
	}

	unconfirmed := action.New(action.Request{Type: "probe", Resource: "res"})
	unconfirmed.Status = action.StatusApproved
	unconfirmed.Metadata.RequiresConfirmation = true
	r.store.Put(unconfirmed)
	if _, err := r.exec.Run(ctx, unconfirmed.ID); err == nil || !strings.Contains(err.Error(), "confirmation") {
		t.Errorf("unconfirmed action: got %v, want confirmation error", err)
	}
}

func TestRunDoubleExecuteIsBusy(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newRig(t, 0.9, Config{MaxConcurrent: 2, Timeout: time.Second})
	gate := make(chan struct{})
	started := make(chan struct{})
	r.reg.Register(&fakeHandler{name: "probe", execute: func(context.Context, *action.Action) (string, error) {
		close(started)
		<-gate
		return "ok", nil
	}})
	id := r.approved("probe", false)

	done := make(chan error, 1)
	go func() {
		_, err := r.exec.Run(context.Background(), id)
		done <- err
	}()
	<-started

	if _, err := r.exec.Run(context.Background(), id); !errors.Is(err, errclass.ErrBusy) {
		t.Errorf("second Run: got %v, want %v", err, errclass.ErrBusy)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}
}

func TestRunConcurrencyBound(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newRig(t, 0.9, Config{MaxConcurrent: 2, Timeout: time.Second})
	var running, peak atomic.Int32
	r.reg.Register(&fakeHandler{name: "probe", execute: func(context.Context, *action.Action) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return "ok", nil
	}})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		id := r.approved("probe", false)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.exec.Run(context.Background(), id); err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestTierChangeOnOutcome(t *testing.T) {
	// 0.26 is just above the standard tier floor; one failure drops
	// through it.
	r := newRig(t, 0.26, Config{MaxConcurrent: 2, Timeout: time.Second})
	r.reg.Register(&fakeHandler{name: "probe", execute: func(context.Context, *action.Action) (string, error) {
		return "", errors.New("nope")
	}})
	id := r.approved("probe", false)

	if _, err := r.exec.Run(context.Background(), id); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var change *events.TierChange
	for _, ev := range r.emitted.evs {
		if ev.Type == events.TierChanged {
			change = ev.Tier
		}
	}
	if change == nil {
		t.Fatal("no tier change event")
	}
	if change.From.Name != "standard" || change.To.Name != "restricted" {
		t.Errorf("tier change %s -> %s, want standard -> restricted", change.From.Name, change.To.Name)
	}

	found := false
	for _, name := range r.auditTrail() {
		if name == audit.EventTierChanged {
			found = true
		}
	}
	if !found {
		t.Error("no tier_changed audit entry")
	}
}

func TestRunValidationFailureFails(t *testing.T) {
	r := newRig(t, 0.9, Config{MaxConcurrent: 2, Timeout: time.Second})
	r.reg.Register(&fakeHandler{
		name:     "mutate",
		validate: func(action.Params) error { return errclass.ErrInvalidParams.WithMessage("bad params") },
		execute: func(context.Context, *action.Action) (string, error) {
			t.Error("execute called despite failed validation")
			return "", nil
		},
	})
	id := r.approved("mutate", true)

	final, err := r.exec.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Status != action.StatusFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
	if final.FailureCode != "E_INVALID_PARAMS" {
		t.Errorf("failure code = %s, want E_INVALID_PARAMS", final.FailureCode)
	}
	if r.backend.SnapshotCalls != 0 {
		t.Errorf("snapshot calls = %d, want 0", r.backend.SnapshotCalls)
	}
}
