package audit

import "time"

// Event names for audit entries, one per observable lifecycle moment.
const (
	EventRequested         = "action_requested"
	EventApproved          = "action_approved"
	EventRejected          = "action_rejected"
	EventStarted           = "action_started"
	EventCompleted         = "action_completed"
	EventFailed            = "action_failed"
	EventRollbackInitiated = "rollback_initiated"
	EventRollbackCompleted = "rollback_completed"
	EventRollbackFailed    = "rollback_failed"
	EventTrustDecayed      = "trust_decayed"
	EventTierChanged       = "tier_changed"
	EventTrustSet          = "trust_admin_set"
)

// Entry is a single audit record. Every entry carries the trust score and
// tier on both sides of the event, equal when the event moved neither, so
// the full trust trajectory can be rebuilt from the log alone.
//
// Seq, PrevHash and Hash belong to the durable hash chain and are stamped
// by the file sink; in-memory ring copies leave them zero.
type Entry struct {
	Seq         uint64            `json:"seq,omitempty"`
	ID          string            `json:"id"`
	Time        time.Time         `json:"ts"`
	PrevHash    string            `json:"prev_hash,omitempty"`
	Event       string            `json:"event"`
	ActorID     string            `json:"actor_id,omitempty"`
	ActionID    string            `json:"action_id,omitempty"`
	ActionType  string            `json:"action_type,omitempty"`
	Resource    string            `json:"resource,omitempty"`
	Message     string            `json:"message,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
	TrustBefore float64           `json:"trust_before"`
	TrustAfter  float64           `json:"trust_after"`
	TierBefore  string            `json:"tier_before"`
	TierAfter   string            `json:"tier_after"`
	Hash        string            `json:"hash,omitempty"`
}
