package engine

import (
	"errors"

	"github.com/amitjoshi/expenseflow/internal/domain/workflow"
)

// Not-found errors: surfaced to the caller, no state change.
var (
	ErrExpenseNotFound    = errors.New("expense not found")
	ErrTaskNotFound       = errors.New("approval task not found")
	ErrDefinitionNotFound = errors.New("workflow definition not found")
	ErrNoActiveDefinition = errors.New("company has no active workflow definition")
)

// Conflict errors: surfaced for explicit handling, never silently overwritten.
var (
	// ErrTaskAlreadyDecided is returned when a decision targets a task that is
	// no longer open. The coordinator downgrades an identical replay to a
	// no-op success and keeps this error only for conflicting decisions.
	ErrTaskAlreadyDecided = errors.New("task already decided")

	// ErrFinalizeConflict is returned when two finalize attempts race and the
	// expense was concluded by the other writer with a different status.
	ErrFinalizeConflict = errors.New("expense already finalized")

	ErrNotWithdrawable = errors.New("expense can no longer be withdrawn")
)

// Validation / authorization errors: rejected before any state change.
var (
	ErrUnauthorized    = errors.New("caller is not the task assignee")
	ErrNotOwner        = errors.New("caller does not own the expense")
	ErrInvalidDecision = errors.New("decision must be APPROVE or REJECT")
)

// ErrDirectoryUnavailable marks a transient directory lookup failure. The
// engine performs no automatic retry; callers may retry the whole operation.
var ErrDirectoryUnavailable = errors.New("directory lookup failed")

// IsNotFound reports whether the error belongs to the not-found class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrExpenseNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrNoActiveDefinition)
}

// IsConflict reports whether the error belongs to the conflict class.
func IsConflict(err error) bool {
	return errors.Is(err, ErrTaskAlreadyDecided) ||
		errors.Is(err, ErrFinalizeConflict) ||
		errors.Is(err, ErrNotWithdrawable) ||
		errors.Is(err, workflow.ErrInvalidTransition)
}

// IsTransient reports whether the error is retryable by the caller.
func IsTransient(err error) bool {
	return errors.Is(err, ErrDirectoryUnavailable)
}
