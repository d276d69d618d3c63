package action

import "fmt"

// Status is an action's position in the lifecycle state machine.
//
//	Pending -> Approved | Rejected
//	Approved -> InProgress
//	InProgress -> Completed | Failed
//	Failed -> RolledBack
//
// Rejected, Completed and RolledBack are terminal. Failed is terminal unless
// a rollback restores the pre-execution snapshot.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRejected   Status = "rejected"
	StatusRolledBack Status = "rolled_back"
)

// CanTransition reports whether the machine permits moving to the given
// status. Self-transitions are not permitted.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed
	case StatusFailed:
		return to == StatusRolledBack
	default:
		return false
	}
}

// Terminal reports whether no further transition can occur. Failed is not
// terminal because a rollback may still move it to RolledBack.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusRolledBack:
		return true
	}
	return false
}

// ParseStatus validates a wire-format status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusInProgress, StatusCompleted,
		StatusFailed, StatusRejected, StatusRolledBack:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Source identifies who initiated an action.
type Source string

const (
	SourceUser       Source = "user_request"
	SourceAutonomous Source = "autonomous"
	SourceScheduled  Source = "scheduled"
)

// ParseSource validates a source string, defaulting empty to user_request.
func ParseSource(s string) (Source, error) {
	if s == "" {
		return SourceUser, nil
	}
	switch Source(s) {
	case SourceUser, SourceAutonomous, SourceScheduled:
		return Source(s), nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Urgency is advisory scheduling metadata; it never affects permission.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// ParseUrgency validates an urgency string, defaulting empty to normal.
func ParseUrgency(s string) (Urgency, error) {
	if s == "" {
		return UrgencyNormal, nil
	}
	switch Urgency(s) {
	case UrgencyLow, UrgencyNormal, UrgencyHigh:
		return Urgency(s), nil
	}
	return "", fmt.Errorf("unknown urgency %q", s)
}

// Risk grades the blast radius of an action type.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// ParseRisk validates a risk string, defaulting empty to low.
func ParseRisk(s string) (Risk, error) {
	if s == "" {
		return RiskLow, nil
	}
	switch Risk(s) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return Risk(s), nil
	}
	return "", fmt.Errorf("unknown risk %q", s)
}
