// Package action defines the governed action record, its lifecycle state
// machine, and the closed set of per-type parameter schemas.
package action

import (
	"time"

	"github.com/google/uuid"
)

// Known action types. The capability registry decides which of these are
// permitted; a type absent from the registry is never executed.
const (
	TypeFileRead      = "file_read"
	TypeFileWrite     = "file_write"
	TypeFileDelete    = "file_delete"
	TypeFileMove      = "file_move"
	TypeDirCreate     = "dir_create"
	TypeDirList       = "dir_list"
	TypeSystemCommand = "system_command"
	TypeExternalComm  = "external_comm"
)

// Metadata carries provenance and execution directives for one action.
type Metadata struct {
	Actor                string  `json:"actor,omitempty"`
	Source               Source  `json:"source"`
	Urgency              Urgency `json:"urgency"`
	Risk                 Risk    `json:"risk"`
	RequiresConfirmation bool    `json:"requires_confirmation"`
	AutoRollback         bool    `json:"auto_rollback"`
	PreSnapshot          string  `json:"pre_snapshot,omitempty"`
	PostSnapshot         string  `json:"post_snapshot,omitempty"`
	BatchID              string  `json:"batch_id,omitempty"`
}

// Rejection explains a denial precisely: the stage that fired, the stable
// error class, and for trust failures the numbers that drove the decision.
type Rejection struct {
	Stage    string  `json:"stage"`
	Code     string  `json:"code"`
	Reason   string  `json:"reason"`
	Required float64 `json:"required,omitempty"`
	Current  float64 `json:"current,omitempty"`
	Lock     string  `json:"lock,omitempty"`
}

// RollbackResult records one restore attempt after a failed execution.
type RollbackResult struct {
	Success     bool   `json:"success"`
	RollbackID  string `json:"rollback_id"`
	RestoredRef string `json:"restored_ref,omitempty"`
	Files       int    `json:"files_restored"`
	Err         string `json:"error,omitempty"`
}

// Action is the unit of governance. One record per requested action, living
// in the shared action table from submission until pruned.
type Action struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Resource    string          `json:"resource"`
	Params      Params          `json:"params,omitempty"`
	Status      Status          `json:"status"`
	Metadata    Metadata        `json:"metadata"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   time.Time       `json:"started_at,omitzero"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
	Result      string          `json:"result,omitempty"`
	Failure     string          `json:"failure,omitempty"`
	FailureCode string          `json:"failure_code,omitempty"`
	Rejection   *Rejection      `json:"rejection,omitempty"`
	Rollback    *RollbackResult `json:"rollback,omitempty"`
}

// Request is the inbound submission shape accepted by the engine.
type Request struct {
	Type             string  `json:"type"`
	Resource         string  `json:"resource"`
	Description      string  `json:"description,omitempty"`
	Params           Params  `json:"params,omitempty"`
	Actor            string  `json:"actor,omitempty"`
	Source           Source  `json:"source,omitempty"`
	Urgency          Urgency `json:"urgency,omitempty"`
	SkipConfirmation bool    `json:"skip_confirmation,omitempty"`
	AutoRollback     bool    `json:"auto_rollback,omitempty"`
	BatchID          string  `json:"batch_id,omitempty"`
}

// New builds a Pending action from a request. Risk is stamped by the policy
// evaluator from the capability contract, not chosen by the requester.
func New(req Request) *Action {
	src := req.Source
	if src == "" {
		src = SourceUser
	}
	urg := req.Urgency
	if urg == "" {
		urg = UrgencyNormal
	}
	return &Action{
		ID:          uuid.NewString(),
		Type:        req.Type,
		Description: req.Description,
		Resource:    req.Resource,
		Params:      req.Params,
		Status:      StatusPending,
		Metadata: Metadata{
			Actor:        req.Actor,
			Source:       src,
			Urgency:      urg,
			AutoRollback: req.AutoRollback,
			BatchID:      req.BatchID,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep enough copy for handing across goroutine boundaries.
// Params values are immutable by convention, so the pointer is shared.
func (a *Action) Clone() *Action {
	c := *a
	if a.Rejection != nil {
		r := *a.Rejection
		c.Rejection = &r
	}
	if a.Rollback != nil {
		r := *a.Rollback
		c.Rollback = &r
	}
	return &c
}
