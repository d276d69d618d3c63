// Package errclass defines the stable, machine-readable error classes that
// cross package and process boundaries. Callers match with errors.Is against
// the class values; messages are advisory.
package errclass

import (
	"errors"
	"fmt"
)

// Error is a stable error class with an optional instance message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on Code only, so wrapped instances compare equal to their class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithMessage returns a new Error with the same Code but a specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg}
}

// WithMessagef returns a new Error with a formatted message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the class code from an error chain. Untyped errors
// classify as execution failures.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrExecution.Code
}

var (
	// ErrPermissionDenied: trust below the contract threshold, or no
	// contract exists for the action type.
	ErrPermissionDenied = &Error{Code: "E_PERMISSION_DENIED"}
	// ErrPolicyViolation: a constitutional lock or the door-slam guard
	// rejected the action.
	ErrPolicyViolation = &Error{Code: "E_POLICY_VIOLATION"}
	// ErrExecution: the handler ran and failed.
	ErrExecution = &Error{Code: "E_EXECUTION"}
	// ErrTimeout: the handler exceeded the configured action timeout.
	ErrTimeout = &Error{Code: "E_TIMEOUT"}
	// ErrRollback: a post-failure restore itself failed.
	ErrRollback = &Error{Code: "E_ROLLBACK"}
	// ErrConfig: invalid or incoherent configuration.
	ErrConfig = &Error{Code: "E_CONFIG"}
	// ErrNotImplemented: a contracted action type has no registered handler.
	ErrNotImplemented = &Error{Code: "E_NOT_IMPLEMENTED"}
	// ErrActionNotFound: no action with the given id.
	ErrActionNotFound = &Error{Code: "E_ACTION_NOT_FOUND"}
	// ErrConfirmExpired: the approval window for a pending action lapsed.
	ErrConfirmExpired = &Error{Code: "E_CONFIRM_EXPIRED"}
	// ErrInvalidParams: action parameters failed boundary validation.
	ErrInvalidParams = &Error{Code: "E_INVALID_PARAMS"}
	// ErrBusy: the action is already executing.
	ErrBusy = &Error{Code: "E_BUSY"}
)
