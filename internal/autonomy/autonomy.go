// Package autonomy drives self-directed batches: the agent proposes a list
// of actions and the orchestrator walks them through the governance gate
// one at a time, so each action's trust feedback is visible to the gate
// before the next proposal is judged.
package autonomy

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/errclass"
	"github.com/warden-project/warden/internal/trust"
)

// DefaultActor names autonomous batches in audit trails when the caller
// does not.
const DefaultActor = "warden-autonomy"

// Runner is the slice of the engine the orchestrator drives: submit one
// request through the permission gate, then run an approved action.
type Runner interface {
	Propose(ctx context.Context, req action.Request) (*action.Action, error)
	Run(ctx context.Context, id string) (*action.Action, error)
}

// Proposal is one intended action in a batch.
type Proposal struct {
	Type        string        `json:"type"`
	Resource    string        `json:"resource"`
	Description string        `json:"description,omitempty"`
	Params      action.Params `json:"params,omitempty"`
}

// UnmarshalJSON rehydrates the typed Params union from the wire form.
func (p *Proposal) UnmarshalJSON(data []byte) error {
	type alias Proposal
	aux := struct {
		Params json.RawMessage `json:"params,omitempty"`
		*alias
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Params) > 0 && string(aux.Params) != "null" {
		typed, err := action.UnmarshalParams(p.Type, aux.Params)
		if err != nil {
			return err
		}
		p.Params = typed
	}
	return nil
}

// Options shape how a batch is driven.
type Options struct {
	// Actor overrides the audit actor for the batch.
	Actor string

	// Confirm holds every approved action for explicit confirmation
	// instead of executing it. The default is to execute straight away;
	// auto-rollback covers the failure case.
	Confirm bool
}

// Report summarizes one batch. Actions always holds exactly one record per
// proposal, whatever happened to each.
type Report struct {
	BatchID     string           `json:"batch_id"`
	Total       int              `json:"total"`
	Completed   int              `json:"completed"`
	Failed      int              `json:"failed"`
	RolledBack  int              `json:"rolled_back"`
	Rejected    int              `json:"rejected"`
	Pending     int              `json:"pending"`
	TrustBefore float64          `json:"trust_before"`
	TrustAfter  float64          `json:"trust_after"`
	Actions     []*action.Action `json:"actions"`
}

// Orchestrator runs autonomous batches against an engine.
type Orchestrator struct {
	runner Runner
	ledger *trust.Ledger
	logger *zap.Logger
}

// NewOrchestrator wires an orchestrator. logger may be nil.
func NewOrchestrator(runner Runner, ledger *trust.Ledger, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{runner: runner, ledger: ledger, logger: logger}
}

// TakeTheWheel processes the proposals strictly in order. Every proposal
// yields exactly one action in the report: a rejection or failure is
// recorded and the batch moves on. Each action's outcome lands in the
// trust ledger before the next proposal meets the gate, so a failure
// early in the batch can legitimately deny what follows. The only early
// exit is context cancellation, which returns the partial report and the
// context error.
func (o *Orchestrator) TakeTheWheel(ctx context.Context, proposals []Proposal, opts Options) (*Report, error) {
	actor := opts.Actor
	if actor == "" {
		actor = DefaultActor
	}
	report := &Report{
		BatchID:     uuid.NewString(),
		Total:       len(proposals),
		TrustBefore: o.ledger.Current(),
		Actions:     make([]*action.Action, 0, len(proposals)),
	}
	o.logger.Info("autonomous batch started",
		zap.String("batch_id", report.BatchID),
		zap.Int("proposals", len(proposals)),
		zap.Float64("trust", report.TrustBefore))

	for i, p := range proposals {
		if err := ctx.Err(); err != nil {
			report.TrustAfter = o.ledger.Current()
			return report, err
		}

		req := action.Request{
			Type:             p.Type,
			Resource:         p.Resource,
			Description:      p.Description,
			Params:           p.Params,
			Actor:            actor,
			Source:           action.SourceAutonomous,
			SkipConfirmation: !opts.Confirm,
			AutoRollback:     true,
			BatchID:          report.BatchID,
		}

		act, err := o.runner.Propose(ctx, req)
		if err != nil {
			// A submission that breaks before the gate still owes the
			// report a record.
			act = action.New(req)
			act.Status = action.StatusRejected
			act.Rejection = &action.Rejection{
				Stage:  "submit",
				Code:   errclass.CodeOf(err),
				Reason: err.Error(),
			}
			o.logger.Warn("proposal submission failed",
				zap.String("batch_id", report.BatchID),
				zap.Int("index", i),
				zap.Error(err))
		}

		if act.Status == action.StatusApproved && !act.Metadata.RequiresConfirmation {
			ran, err := o.runner.Run(ctx, act.ID)
			if err != nil {
				o.logger.Warn("proposal execution refused",
					zap.String("batch_id", report.BatchID),
					zap.String("action_id", act.ID),
					zap.Error(err))
			} else {
				act = ran
			}
		}

		report.Actions = append(report.Actions, act)
		o.tally(report, act)
	}

	report.TrustAfter = o.ledger.Current()
	o.logger.Info("autonomous batch finished",
		zap.String("batch_id", report.BatchID),
		zap.Int("completed", report.Completed),
		zap.Int("rejected", report.Rejected),
		zap.Int("failed", report.Failed+report.RolledBack),
		zap.Float64("trust", report.TrustAfter))
	return report, nil
}

func (o *Orchestrator) tally(r *Report, act *action.Action) {
	switch act.Status {
	case action.StatusCompleted:
		r.Completed++
	case action.StatusFailed:
		r.Failed++
	case action.StatusRolledBack:
		r.RolledBack++
	case action.StatusRejected:
		r.Rejected++
	default:
		r.Pending++
	}
}
