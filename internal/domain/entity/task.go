package entity

import "time"

// Task status constants. MOOT marks a task closed administratively after its
// scope resolved without the assignee deciding; moot tasks never count
// toward rule evaluation.
const (
	TaskStatusOpen     = "OPEN"
	TaskStatusApproved = "APPROVED"
	TaskStatusRejected = "REJECTED"
	TaskStatusMoot     = "MOOT"
)

// Decision constants
const (
	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"
)

// ApprovalTask is a single assignee's approval unit for one expense at one
// step. A decided task is immutable; the ledger never deletes tasks, so the
// full decision history is preserved.
type ApprovalTask struct {
	ID         string     `json:"id"`
	ExpenseID  string     `json:"expense_id"`
	StepOrder  int        `json:"step_order"`
	AssigneeID UserID     `json:"assignee_id"`
	Status     string     `json:"status"`
	Decision   string     `json:"decision,omitempty"`
	Comment    string     `json:"comment,omitempty"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsDecided returns true once the assignee has approved or rejected.
func (t *ApprovalTask) IsDecided() bool {
	return t.Status == TaskStatusApproved || t.Status == TaskStatusRejected
}

// DecisionStatus maps a decision to the resulting task status.
func DecisionStatus(decision string) (string, bool) {
	switch decision {
	case DecisionApprove:
		return TaskStatusApproved, true
	case DecisionReject:
		return TaskStatusRejected, true
	}
	return "", false
}
