// Package executor drives approved actions through their state machine:
// snapshot, dispatch, outcome, trust feedback, and rollback on failure. It
// owns every status transition past approval; nothing else writes the
// action table while an action is in flight.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/audit"
	"github.com/warden-project/warden/internal/capability"
	"github.com/warden-project/warden/internal/errclass"
	"github.com/warden-project/warden/internal/events"
	"github.com/warden-project/warden/internal/handler"
	"github.com/warden-project/warden/internal/snapshot"
	"github.com/warden-project/warden/internal/trust"
)

// Config bounds concurrent execution.
type Config struct {
	// MaxConcurrent caps how many actions run at once. Extra Run calls
	// queue on the semaphore.
	MaxConcurrent int

	// Timeout is the per-action handler budget. A handler that exceeds it
	// fails with a timeout; there is no other way to stop a running action.
	Timeout time.Duration
}

// DefaultConfig returns the stock execution limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
		Timeout:       2 * time.Minute,
	}
}

// Executor runs approved actions. All fields are set at construction and
// never change; per-action state lives in the store.
type Executor struct {
	store     *Store
	handlers  *handler.Registry
	contracts *capability.Registry
	ledger    *trust.Ledger
	snapshots *snapshot.Manager
	log       *audit.Log
	events    events.Emitter
	sem       *semaphore.Weighted
	cfg       Config
	logger    *zap.Logger
}

// NewExecutor wires an executor over its collaborators. events and logger
// may be nil.
func NewExecutor(
	store *Store,
	handlers *handler.Registry,
	contracts *capability.Registry,
	ledger *trust.Ledger,
	snapshots *snapshot.Manager,
	log *audit.Log,
	emitter events.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		store:     store,
		handlers:  handlers,
		contracts: contracts,
		ledger:    ledger,
		snapshots: snapshots,
		log:       log,
		events:    emitter,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cfg:       cfg,
		logger:    logger,
	}
}

// Store exposes the action table for reads.
func (e *Executor) Store() *Store {
	return e.store
}

// Run executes one approved action to a terminal status and returns the
// terminal record. Execution failures are reported inside the action, not
// as a Go error; the error return covers caller mistakes only: unknown id,
// an action that is not approved or still awaits confirmation, or a second
// Run for an id already in flight.
func (e *Executor) Run(ctx context.Context, id string) (*action.Action, error) {
	act, ok := e.store.Get(id)
	if !ok {
		return nil, errclass.ErrActionNotFound.WithMessagef("unknown action %s", id)
	}
	if act.Metadata.RequiresConfirmation {
		return nil, errclass.ErrExecution.WithMessagef("action %s awaits confirmation", id)
	}
	if act.Status != action.StatusApproved {
		return nil, errclass.ErrExecution.WithMessagef("action %s is %s, not approved", id, act.Status)
	}
	contract, ok := e.contracts.ContractFor(act.Type)
	if !ok {
		// The policy evaluator rejects uncontracted types before approval,
		// so reaching here means the executor was fed an unapproved record.
		return nil, errclass.ErrConfig.WithMessagef("no capability contract for %s", act.Type)
	}

	if !e.store.begin(id) {
		return nil, errclass.ErrBusy.WithMessagef("action %s is already executing", id)
	}
	defer e.store.end(id)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, errclass.ErrBusy.WithMessagef("queue wait aborted: %v", err)
	}
	defer e.sem.Release(1)

	// Entering InProgress is the authoritative gate: the transition check
	// runs under the table lock, so a rejected or terminal action can never
	// start, whatever the earlier reads said.
	current, err := e.store.Update(id, func(a *action.Action) error {
		if !a.Status.CanTransition(action.StatusInProgress) {
			return errclass.ErrExecution.WithMessagef("action %s is %s, not approved", id, a.Status)
		}
		a.Status = action.StatusInProgress
		a.StartedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("action started",
		zap.String("action_id", current.ID),
		zap.String("type", current.Type),
		zap.String("resource", current.Resource))
	e.log.Append(e.entry(audit.EventStarted, current, e.steady(), "execution started"))
	e.emit(events.ActionStarted, current)

	// Resolve the handler before any snapshot I/O. A missing handler is an
	// execution failure, but one with no side effects to roll back.
	h, ok := e.handlers.Lookup(current.Type)
	if !ok {
		return e.fail(ctx, current,
			errclass.ErrNotImplemented.WithMessagef("no handler registered for %s", current.Type),
			snapshot.Ref{})
	}
	if err := h.Validate(current.Params); err != nil {
		return e.fail(ctx, current, err, snapshot.Ref{})
	}

	// Pre-action snapshot for mutating types. Snapshot I/O happens here,
	// outside the trust lock, so slow captures never stall trust reads.
	var preRef snapshot.Ref
	if contract.Mutating {
		ref, err := e.snapshots.Create(ctx, current.ID)
		if err != nil {
			// Without a capture there is no rollback guarantee, so the
			// action fails before the handler touches anything.
			return e.fail(ctx, current,
				errclass.ErrExecution.WithMessagef("pre-action snapshot: %v", err),
				snapshot.Ref{})
		}
		preRef = ref
		current, err = e.store.Update(id, func(a *action.Action) error {
			a.Metadata.PreSnapshot = ref.ID
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	result, execErr := e.dispatch(ctx, h, current)
	if execErr != nil {
		return e.fail(ctx, current, execErr, preRef)
	}
	return e.complete(current, result)
}

// dispatch runs the handler under the action timeout. The handler goroutine
// is not killed on timeout; it keeps running until it honors its context,
// and its eventual result is discarded.
func (e *Executor) dispatch(ctx context.Context, h handler.Handler, act *action.Action) (string, error) {
	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.Execute(runCtx, act)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", errclass.ErrTimeout.WithMessagef("handler exceeded %s", e.cfg.Timeout)
		}
		return "", errclass.ErrExecution.WithMessagef("execution interrupted: %v", runCtx.Err())
	}
}

// complete finishes a successful run: terminal status, trust reward, audit
// and events.
func (e *Executor) complete(act *action.Action, result string) (*action.Action, error) {
	final, err := e.store.Update(act.ID, func(a *action.Action) error {
		a.Status = action.StatusCompleted
		a.CompletedAt = time.Now().UTC()
		a.Result = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	adj := e.ledger.AdjustOnOutcome(true)
	e.logger.Info("action completed",
		zap.String("action_id", final.ID),
		zap.String("type", final.Type),
		zap.Float64("trust", adj.After))
	e.log.Append(e.entry(audit.EventCompleted, final, adj, result))
	e.emit(events.ActionCompleted, final)
	e.tierChange(final, adj)
	return final, nil
}

// fail finishes a failed run: terminal failure status, trust penalty, audit
// and events, then rollback when the action asked for it and a pre-action
// snapshot exists.
func (e *Executor) fail(ctx context.Context, act *action.Action, execErr error, preRef snapshot.Ref) (*action.Action, error) {
	final, err := e.store.Update(act.ID, func(a *action.Action) error {
		a.Status = action.StatusFailed
		a.CompletedAt = time.Now().UTC()
		a.Failure = execErr.Error()
		a.FailureCode = errclass.CodeOf(execErr)
		return nil
	})
	if err != nil {
		return nil, err
	}

	adj := e.ledger.AdjustOnOutcome(false)
	e.logger.Warn("action failed",
		zap.String("action_id", final.ID),
		zap.String("type", final.Type),
		zap.String("error", final.Failure),
		zap.Float64("trust", adj.After))
	e.log.Append(e.entry(audit.EventFailed, final, adj, final.Failure))
	e.emit(events.ActionFailed, final)
	e.tierChange(final, adj)

	if !final.Metadata.AutoRollback || preRef.ID == "" {
		return final, nil
	}
	return e.rollback(ctx, final, preRef)
}

// rollback restores the pre-action snapshot after a failure. A restore
// failure leaves the action Failed with the rollback error recorded; it
// never triggers another restore.
func (e *Executor) rollback(ctx context.Context, act *action.Action, ref snapshot.Ref) (*action.Action, error) {
	e.log.Append(e.entry(audit.EventRollbackInitiated, act, e.steady(),
		fmt.Sprintf("restoring snapshot %s", ref.ShortID())))

	// The restore proceeds even if the caller has gone away; an abandoned
	// rollback would leave the working set half-mutated and unaudited.
	res, err := e.snapshots.Restore(context.WithoutCancel(ctx), ref)
	if err != nil {
		res = &action.RollbackResult{
			Success: false,
			Err:     errclass.ErrRollback.WithMessagef("restore %s: %v", ref.ShortID(), err).Error(),
		}
	}

	if !res.Success {
		final, uerr := e.store.Update(act.ID, func(a *action.Action) error {
			a.Rollback = res
			return nil
		})
		if uerr != nil {
			return nil, uerr
		}
		e.logger.Error("rollback failed",
			zap.String("action_id", final.ID),
			zap.String("snapshot", ref.ShortID()),
			zap.String("error", res.Err))
		e.log.Append(e.entry(audit.EventRollbackFailed, final, e.steady(), res.Err))
		e.emit(events.RollbackFailed, final)
		return final, nil
	}

	final, uerr := e.store.Update(act.ID, func(a *action.Action) error {
		a.Status = action.StatusRolledBack
		a.Rollback = res
		return nil
	})
	if uerr != nil {
		return nil, uerr
	}
	e.logger.Info("rollback completed",
		zap.String("action_id", final.ID),
		zap.String("snapshot", ref.ShortID()),
		zap.Int("files", res.Files))
	e.log.Append(e.entry(audit.EventRollbackCompleted, final, e.steady(),
		fmt.Sprintf("restored %d files from %s", res.Files, ref.ShortID())))
	e.emit(events.RollbackCompleted, final)
	return final, nil
}

// entry builds an audit entry for one lifecycle moment.
func (e *Executor) entry(event string, act *action.Action, adj trust.Adjustment, msg string) audit.Entry {
	return audit.Entry{
		Event:       event,
		ActorID:     act.Metadata.Actor,
		ActionID:    act.ID,
		ActionType:  act.Type,
		Resource:    act.Resource,
		Message:     msg,
		TrustBefore: adj.Before,
		TrustAfter:  adj.After,
		TierBefore:  adj.TierBefore.Name,
		TierAfter:   adj.TierAfter.Name,
	}
}

// steady reports the current trust state as an unchanged adjustment, for
// audit entries on events that move no trust.
func (e *Executor) steady() trust.Adjustment {
	cur := e.ledger.Current()
	t := e.ledger.TierFor(cur)
	return trust.Adjustment{Before: cur, After: cur, TierBefore: t, TierAfter: t}
}

func (e *Executor) emit(t events.Type, act *action.Action) {
	e.events.Emit(events.Event{Type: t, Action: act})
}

// tierChange records a tier boundary crossing caused by an outcome
// adjustment, as both an audit entry and a bus event.
func (e *Executor) tierChange(act *action.Action, adj trust.Adjustment) {
	if !adj.TierChanged {
		return
	}
	e.logger.Info("tier changed",
		zap.String("from", adj.TierBefore.Name),
		zap.String("to", adj.TierAfter.Name),
		zap.Float64("trust", adj.After))
	e.log.Append(e.entry(audit.EventTierChanged, act, adj,
		fmt.Sprintf("tier changed from %s to %s", adj.TierBefore.Name, adj.TierAfter.Name)))
	e.events.Emit(events.Event{
		Type: events.TierChanged,
		Tier: &events.TierChange{From: adj.TierBefore, To: adj.TierAfter, Trust: adj.After},
	})
}
