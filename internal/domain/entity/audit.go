package entity

import "time"

// AuditEvent is one immutable record in the audit log, written for every
// workflow transition. Audit rows are append-only.
type AuditEvent struct {
	ID         string    `json:"id"`
	ExpenseID  string    `json:"expense_id"`
	TaskID     string    `json:"task_id,omitempty"`
	EventType  string    `json:"event_type"`
	ActorID    UserID    `json:"actor_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
