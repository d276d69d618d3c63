// Copyright 2026 Marcelo Cantos
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/capability"
	"github.com/warden-project/warden/internal/errclass"
	"github.com/warden-project/warden/internal/trust"
)

// DefaultDoorSlamThreshold is the trust floor under which high-risk action
// types are rejected outright.
const DefaultDoorSlamThreshold = 0.2

// highRisk is the door-slam action-type set. Hardcoded: a misconfigured
// contract table must not be able to loosen the guard.
var highRisk = map[string]bool{
	action.TypeFileDelete:    true,
	action.TypeSystemCommand: true,
	action.TypeExternalComm:  true,
}

// HighRiskTypes lists the door-slam action types for display.
func HighRiskTypes() []string {
	return []string{action.TypeFileDelete, action.TypeExternalComm, action.TypeSystemCommand}
}

// Evaluator runs the ordered permission pipeline:
//
//	1. trust gate        (capability contract vs current trust)
//	2. constitutional locks
//	3. door-slam guard
//	4. confirmation requirement
//
// The first failing stage determines the rejection; later stages never run.
type Evaluator struct {
	registry *capability.Registry
	ledger   *trust.Ledger
	locks    []string
	slam     float64
	logger   *zap.Logger
}

// NewEvaluator builds an evaluator. Lock tokens match case-insensitively;
// a non-positive doorSlam threshold falls back to the default.
func NewEvaluator(reg *capability.Registry, ledger *trust.Ledger, locks []string, doorSlam float64, logger *zap.Logger) *Evaluator {
	if doorSlam <= 0 {
		doorSlam = DefaultDoorSlamThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	lowered := make([]string, 0, len(locks))
	for _, l := range locks {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			lowered = append(lowered, l)
		}
	}
	return &Evaluator{
		registry: reg,
		ledger:   ledger,
		locks:    lowered,
		slam:     doorSlam,
		logger:   logger,
	}
}

// DoorSlamThreshold reports the configured guard floor.
func (e *Evaluator) DoorSlamThreshold() float64 {
	return e.slam
}

// Evaluate runs the pipeline over a request and returns the constructed
// Action in Rejected or Approved state plus the verdict. Denials are
// decisions, not errors; the caller never sees a raised error for them.
func (e *Evaluator) Evaluate(req action.Request) (*action.Action, Verdict) {
	act := action.New(req)
	cur := e.ledger.Current()

	// Stage 1: trust gate. A missing contract is a configuration fault and
	// fails closed here, at permission time, never at execution time.
	contract, ok := e.registry.ContractFor(act.Type)
	if !ok {
		v := Verdict{
			Decision: Deny,
			Stage:    StageTrustGate,
			Code:     errclass.ErrConfig.Code,
			Reason:   fmt.Sprintf("no capability contract for action type %q", act.Type),
			Required: capability.AbsentThreshold,
			Current:  cur,
		}
		e.reject(act, v)
		return act, v
	}
	act.Metadata.Risk = contract.Risk
	if cur < contract.TrustThreshold {
		v := Verdict{
			Decision: Deny,
			Stage:    StageTrustGate,
			Code:     errclass.ErrPermissionDenied.Code,
			Reason: fmt.Sprintf("insufficient trust for %s: required %.2f, current %.2f",
				act.Type, contract.TrustThreshold, cur),
			Required: contract.TrustThreshold,
			Current:  cur,
		}
		e.reject(act, v)
		return act, v
	}

	// Stage 2: constitutional locks over the resource string and type name.
	if lock := e.matchLock(act); lock != "" {
		v := Verdict{
			Decision: Deny,
			Stage:    StageLocks,
			Code:     errclass.ErrPolicyViolation.Code,
			Reason:   fmt.Sprintf("policy violation: constitutional lock %q", lock),
			Current:  cur,
			Lock:     lock,
		}
		e.reject(act, v)
		return act, v
	}

	// Stage 3: door slam. Independent of the contract threshold so a
	// misconfigured contract cannot authorize high-risk work at low trust.
	if cur < e.slam && highRisk[act.Type] {
		v := Verdict{
			Decision: Deny,
			Stage:    StageDoorSlam,
			Code:     errclass.ErrPolicyViolation.Code,
			Reason: fmt.Sprintf("door slam: trust %.2f below floor %.2f for high-risk %s",
				cur, e.slam, act.Type),
			Required: e.slam,
			Current:  cur,
		}
		e.reject(act, v)
		return act, v
	}

	// Stage 4: confirmation requirement. Confirmation is the default; the
	// requester has to waive it explicitly.
	act.Status = action.StatusApproved
	act.Metadata.RequiresConfirmation = !req.SkipConfirmation
	decision := Escalate
	if req.SkipConfirmation {
		decision = Allow
	}
	v := Verdict{
		Decision: decision,
		Stage:    StageConfirm,
		Current:  cur,
		Required: contract.TrustThreshold,
	}
	e.logger.Debug("action approved",
		zap.String("action_id", act.ID),
		zap.String("type", act.Type),
		zap.String("decision", decision.String()),
		zap.Float64("trust", cur))
	return act, v
}

func (e *Evaluator) reject(act *action.Action, v Verdict) {
	act.Status = action.StatusRejected
	act.Rejection = &action.Rejection{
		Stage:    string(v.Stage),
		Code:     v.Code,
		Reason:   v.Reason,
		Required: v.Required,
		Current:  v.Current,
		Lock:     v.Lock,
	}
	e.logger.Info("action rejected",
		zap.String("action_id", act.ID),
		zap.String("type", act.Type),
		zap.String("stage", string(v.Stage)),
		zap.String("reason", v.Reason))
}

func (e *Evaluator) matchLock(act *action.Action) string {
	haystack := strings.ToLower(act.Resource) + "\x00" + strings.ToLower(act.Type)
	for _, lock := range e.locks {
		if strings.Contains(haystack, lock) {
			return lock
		}
	}
	return ""
}
