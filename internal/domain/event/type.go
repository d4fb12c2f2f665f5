package event

// Type identifies the type of domain event
type Type string

const (
	TypeExpenseSubmitted Type = "expense.submitted"
	TypeExpenseApproved  Type = "expense.approved"
	TypeExpenseRejected  Type = "expense.rejected"
	TypeExpenseWithdrawn Type = "expense.withdrawn"
	TypeTaskOpened       Type = "task.opened"
	TypeTaskDecided      Type = "task.decided"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeExpenseSubmitted,
		TypeExpenseApproved,
		TypeExpenseRejected,
		TypeExpenseWithdrawn,
		TypeTaskOpened,
		TypeTaskDecided:
		return true
	default:
		return false
	}
}
