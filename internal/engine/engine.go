// Package engine assembles the governance pipeline behind one facade:
// submission through the policy evaluator, confirmation, execution with
// snapshot and rollback, trust feedback, audit, events, webhooks, and the
// autonomous batch runner. The daemon, the CLI and the MCP server all talk
// to this type and nothing below it.
package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/audit"
	"github.com/warden-project/warden/internal/autonomy"
	"github.com/warden-project/warden/internal/capability"
	"github.com/warden-project/warden/internal/config"
	"github.com/warden-project/warden/internal/errclass"
	"github.com/warden-project/warden/internal/events"
	"github.com/warden-project/warden/internal/executor"
	"github.com/warden-project/warden/internal/handler"
	"github.com/warden-project/warden/internal/notify"
	"github.com/warden-project/warden/internal/policy"
	"github.com/warden-project/warden/internal/snapshot"
	"github.com/warden-project/warden/internal/trust"
)

// Engine is the assembled governance core. Construct with New, shut down
// with Close.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	ledger    *trust.Ledger
	contracts *capability.Registry
	store     *executor.Store
	eval      *policy.Evaluator
	pending   *policy.PendingStore
	exec      *executor.Executor
	wheel     *autonomy.Orchestrator
	log       *audit.Log
	bus       *events.Bus
	notifier  *notify.Notifier

	started   time.Time
	stopDecay func()
	closeOnce sync.Once
}

// TrustStatus is the trust view returned to callers.
type TrustStatus struct {
	Score    float64      `json:"score"`
	Tier     trust.Tier   `json:"tier"`
	DoorSlam float64      `json:"door_slam_threshold"`
	Gap      bool         `json:"tier_gap_detected,omitempty"`
	Tiers    []trust.Tier `json:"tiers"`
}

// Status summarizes a running engine for status displays.
type Status struct {
	Trust      TrustStatus `json:"trust"`
	Actions    int         `json:"actions"`
	Pending    int         `json:"awaiting_confirmation"`
	AuditSize  int         `json:"audit_entries"`
	AuditTotal uint64      `json:"audit_total"`
	StartedAt  time.Time   `json:"started_at"`
}

// New builds and starts an engine from a validated config. A nil cfg means
// defaults. The returned engine owns background work (trust decay, webhook
// delivery) until Close.
func New(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	table, err := cfg.TierTable()
	if err != nil {
		return nil, err
	}
	contracts, err := cfg.CapabilityRegistry()
	if err != nil {
		return nil, err
	}
	ledger := trust.NewLedger(table, cfg.Trust.Initial,
		trust.WithDecay(cfg.Trust.Decay.Rate, cfg.Trust.Decay.Floor),
		trust.WithLogger(logger))

	var sink audit.Sink
	if cfg.Audit.Path != "" {
		fs, err := audit.NewFileSink(cfg.Audit.Path)
		if err != nil {
			return nil, err
		}
		sink = fs
	}
	log := audit.NewLog(cfg.Audit.Ring, sink, logger)
	bus := events.NewBus(64)

	backend, err := snapshot.NewDirBackend(cfg.Workspace.Root, cfg.Workspace.State, logger)
	if err != nil {
		return nil, err
	}
	snapshots := snapshot.NewManager(backend, logger)

	handlers := handler.NewRegistry()
	handler.RegisterAll(handlers, handler.Workspace{Root: cfg.Workspace.Root}, nil)

	store := executor.NewStore()
	exec := executor.NewExecutor(store, handlers, contracts, ledger, snapshots, log, bus,
		executor.Config{
			MaxConcurrent: cfg.Limits.MaxConcurrentActions,
			Timeout:       cfg.Limits.ActionTimeoutDuration(),
		}, logger)

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		ledger:    ledger,
		contracts: contracts,
		store:     store,
		eval:      policy.NewEvaluator(contracts, ledger, cfg.Policy.Locks, cfg.Policy.DoorSlamThreshold, logger),
		pending:   policy.NewPendingStore(cfg.Policy.ConfirmTTLDuration()),
		exec:      exec,
		log:       log,
		bus:       bus,
		started:   time.Now().UTC(),
	}
	e.wheel = autonomy.NewOrchestrator(runner{e}, ledger, logger)

	if cfg.Notify.Enabled && len(cfg.Notify.Hooks) > 0 {
		e.notifier = notify.New(cfg.Notify, nil, logger)
		e.notifier.Watch(bus.Subscribe())
	}
	e.stopDecay = ledger.StartDecay(cfg.Trust.Decay.IntervalDuration(), e.onDecay)

	logger.Info("engine started",
		zap.Float64("trust", ledger.Current()),
		zap.String("tier", ledger.Tier().Name),
		zap.String("workspace", cfg.Workspace.Root),
		zap.Int("contracts", len(contracts.Types())))
	return e, nil
}

// Close stops background work. Safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.stopDecay()
		if e.notifier != nil {
			e.notifier.Stop()
		}
		e.bus.Close()
		e.logger.Info("engine stopped")
	})
}

// runner adapts the engine to the autonomy orchestrator without widening
// the public surface.
type runner struct{ e *Engine }

func (r runner) Propose(ctx context.Context, req action.Request) (*action.Action, error) {
	return r.e.Submit(ctx, req)
}

func (r runner) Run(ctx context.Context, id string) (*action.Action, error) {
	return r.e.Execute(ctx, id)
}

// Submit runs a request through the permission pipeline and records the
// resulting action. A denial comes back as a Rejected action with a nil
// error; the error return is reserved for malformed requests.
func (e *Engine) Submit(ctx context.Context, req action.Request) (*action.Action, error) {
	if req.Type == "" {
		return nil, errclass.ErrInvalidParams.WithMessage("action type is required")
	}
	if req.Resource == "" {
		return nil, errclass.ErrInvalidParams.WithMessage("resource is required")
	}
	if req.Source != "" {
		if _, err := action.ParseSource(string(req.Source)); err != nil {
			return nil, errclass.ErrInvalidParams.WithMessagef("source: %v", err)
		}
	}
	if req.Urgency != "" {
		if _, err := action.ParseUrgency(string(req.Urgency)); err != nil {
			return nil, errclass.ErrInvalidParams.WithMessagef("urgency: %v", err)
		}
	}

	act, verdict := e.eval.Evaluate(req)
	e.store.Put(act)
	e.auditAction(audit.EventRequested, act, "action requested", nil)

	switch verdict.Decision {
	case policy.Deny:
		e.auditAction(audit.EventRejected, act, verdict.Reason, map[string]string{
			"stage": string(verdict.Stage),
			"code":  verdict.Code,
		})
		e.emit(events.ActionRejected, act)
	case policy.Escalate:
		e.pending.Put(act.ID)
		e.auditAction(audit.EventApproved, act, "approved, awaiting confirmation", nil)
		e.emit(events.ActionApproved, act)
	case policy.Allow:
		e.auditAction(audit.EventApproved, act, "approved", nil)
		e.emit(events.ActionApproved, act)
	}
	return act, nil
}

// Execute drives an approved action to a terminal status. For actions that
// await confirmation this call is the confirmation: the pending entry is
// consumed first and an expired window fails without executing anything.
// The id may be a unique prefix.
func (e *Engine) Execute(ctx context.Context, id string) (*action.Action, error) {
	id, err := e.store.Resolve(id)
	if err != nil {
		return nil, err
	}
	act, ok := e.store.Get(id)
	if !ok {
		return nil, errclass.ErrActionNotFound.WithMessagef("unknown action %s", id)
	}
	if act.Status == action.StatusApproved && act.Metadata.RequiresConfirmation {
		if _, err := e.pending.Take(id); err != nil {
			return nil, err
		}
		if _, err := e.store.Update(id, func(a *action.Action) error {
			a.Metadata.RequiresConfirmation = false
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return e.exec.Run(ctx, id)
}

// Get returns one action by id or unique id prefix.
func (e *Engine) Get(id string) (*action.Action, error) {
	id, err := e.store.Resolve(id)
	if err != nil {
		return nil, err
	}
	act, ok := e.store.Get(id)
	if !ok {
		return nil, errclass.ErrActionNotFound.WithMessagef("unknown action %s", id)
	}
	return act, nil
}

// List returns actions newest first, filtered.
func (e *Engine) List(f executor.Filter) []*action.Action {
	return e.store.List(f)
}

// TakeTheWheel runs an autonomous batch: every proposal flows through the
// same permission pipeline and executor as a user submission.
func (e *Engine) TakeTheWheel(ctx context.Context, proposals []autonomy.Proposal, opts autonomy.Options) (*autonomy.Report, error) {
	return e.wheel.TakeTheWheel(ctx, proposals, opts)
}

// Trust reports the current trust posture.
func (e *Engine) Trust() TrustStatus {
	score := e.ledger.Current()
	return TrustStatus{
		Score:    score,
		Tier:     e.ledger.TierFor(score),
		DoorSlam: e.eval.DoorSlamThreshold(),
		Gap:      e.ledger.GapDetected(),
		Tiers:    e.ledger.Table().Tiers(),
	}
}

// SetTrust is the administrative trust override. The score clamps to [0,1]
// and the change lands in the audit log under the given actor.
func (e *Engine) SetTrust(score float64, actor string) (TrustStatus, error) {
	if math.IsNaN(score) {
		return TrustStatus{}, errclass.ErrInvalidParams.WithMessage("trust score is NaN")
	}
	adj := e.ledger.Set(score)
	e.log.Append(audit.Entry{
		Event:       audit.EventTrustSet,
		ActorID:     actor,
		Message:     "trust score set administratively",
		TrustBefore: adj.Before,
		TrustAfter:  adj.After,
		TierBefore:  adj.TierBefore.Name,
		TierAfter:   adj.TierAfter.Name,
	})
	e.tierChange(adj)
	e.logger.Info("trust set",
		zap.Float64("before", adj.Before),
		zap.Float64("after", adj.After),
		zap.String("actor", actor))
	return e.Trust(), nil
}

// Status summarizes the engine for status displays.
func (e *Engine) Status() Status {
	return Status{
		Trust:      e.Trust(),
		Actions:    e.store.Len(),
		Pending:    e.pending.Len(),
		AuditSize:  e.log.Len(),
		AuditTotal: e.log.Total(),
		StartedAt:  e.started,
	}
}

// AuditRecent returns the newest n audit entries, newest first. A fresh
// engine has an empty ring but may sit on an older chain file; the durable
// log fills in what the ring does not hold yet.
func (e *Engine) AuditRecent(n int) []audit.Entry {
	entries := e.log.Recent(n)
	if len(entries) >= n || e.cfg.Audit.Path == "" {
		return entries
	}
	fromFile, err := audit.Tail(e.cfg.Audit.Path, n)
	if err != nil || len(fromFile) <= len(entries) {
		return entries
	}
	// Every ring entry also went through the sink, so the file tail is the
	// superset. Reverse it to keep the newest-first contract.
	out := make([]audit.Entry, 0, len(fromFile))
	for i := len(fromFile) - 1; i >= 0; i-- {
		out = append(out, fromFile[i])
	}
	return out
}

// AuditPage returns one page of in-memory audit entries, newest first.
func (e *Engine) AuditPage(offset, limit int) []audit.Entry {
	return e.log.Page(offset, limit)
}

// AuditPath returns the durable chain file path, empty when audit runs
// in-memory only.
func (e *Engine) AuditPath() string {
	return e.cfg.Audit.Path
}

// VerifyAudit re-walks the durable hash chain.
func (e *Engine) VerifyAudit() error {
	if e.cfg.Audit.Path == "" {
		return errclass.ErrConfig.WithMessage("no durable audit log configured")
	}
	return audit.Verify(e.cfg.Audit.Path)
}

// Subscribe returns a live event channel. Callers that stop draining lose
// events rather than blocking the engine.
func (e *Engine) Subscribe() <-chan events.Event {
	return e.bus.Subscribe()
}

// Unsubscribe closes a subscription channel.
func (e *Engine) Unsubscribe(ch <-chan events.Event) {
	e.bus.Unsubscribe(ch)
}

// Config exposes the effective configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// onDecay records decay ticks that moved the score. Ticks at the floor are
// silent; an hourly no-op would drown the audit log.
func (e *Engine) onDecay(adj trust.Adjustment) {
	if adj.Before == adj.After {
		return
	}
	e.log.Append(audit.Entry{
		Event:       audit.EventTrustDecayed,
		Message:     "trust decayed",
		TrustBefore: adj.Before,
		TrustAfter:  adj.After,
		TierBefore:  adj.TierBefore.Name,
		TierAfter:   adj.TierAfter.Name,
	})
	e.bus.Emit(events.Event{Type: events.TrustDecayed})
	e.tierChange(adj)
}

// auditAction writes a steady-trust entry for one action event.
func (e *Engine) auditAction(event string, act *action.Action, msg string, details map[string]string) {
	cur := e.ledger.Current()
	tier := e.ledger.TierFor(cur).Name
	e.log.Append(audit.Entry{
		Event:       event,
		ActorID:     act.Metadata.Actor,
		ActionID:    act.ID,
		ActionType:  act.Type,
		Resource:    act.Resource,
		Message:     msg,
		Details:     details,
		TrustBefore: cur,
		TrustAfter:  cur,
		TierBefore:  tier,
		TierAfter:   tier,
	})
}

func (e *Engine) emit(typ events.Type, act *action.Action) {
	e.bus.Emit(events.Event{Type: typ, Action: act.Clone()})
}

// tierChange records a tier boundary crossing caused by an admin set or a
// decay tick. Execution-outcome crossings are recorded by the executor.
func (e *Engine) tierChange(adj trust.Adjustment) {
	if !adj.TierChanged {
		return
	}
	e.log.Append(audit.Entry{
		Event:       audit.EventTierChanged,
		Message:     "tier changed from " + adj.TierBefore.Name + " to " + adj.TierAfter.Name,
		TrustBefore: adj.Before,
		TrustAfter:  adj.After,
		TierBefore:  adj.TierBefore.Name,
		TierAfter:   adj.TierAfter.Name,
	})
	e.bus.Emit(events.Event{
		Type: events.TierChanged,
		Tier: &events.TierChange{From: adj.TierBefore, To: adj.TierAfter, Trust: adj.After},
	})
}
