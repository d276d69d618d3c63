// Copyright 2026 Marcelo Cantos
// SPDX-License-Identifier: Apache-2.0

package policy

// Decision represents the outcome of policy evaluation.
type Decision int

const (
	Allow    Decision = iota // execute immediately
	Deny                     // action is rejected
	Escalate                 // approved, awaiting explicit confirmation
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Escalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// Stage names the pipeline stage that produced a verdict. Stages run in a
// fixed order and the first failure wins; reasons are never aggregated.
type Stage string

const (
	StageTrustGate Stage = "trust_gate"
	StageLocks     Stage = "constitutional_lock"
	StageDoorSlam  Stage = "door_slam"
	StageConfirm   Stage = "confirmation"
)

// Verdict is a structured policy decision. Required and Current carry the
// trust numbers that drove a trust-gate or door-slam outcome so rejections
// are precise about what was missing.
type Verdict struct {
	Decision Decision
	Stage    Stage
	Code     string // stable error class for denials
	Reason   string // human-readable explanation
	Required float64
	Current  float64
	Lock     string // matched lock token, if any
}
