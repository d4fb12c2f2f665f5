package entity

import "time"

// Expense status constants. APPROVED, REJECTED and WITHDRAWN are terminal.
const (
	ExpenseStatusDraft     = "DRAFT"
	ExpenseStatusPending   = "PENDING"
	ExpenseStatusApproved  = "APPROVED"
	ExpenseStatusRejected  = "REJECTED"
	ExpenseStatusWithdrawn = "WITHDRAWN"
)

// Expense category constants
const (
	CategoryTravel    = "TRAVEL"
	CategoryMeals     = "MEALS"
	CategoryOffice    = "OFFICE"
	CategorySoftware  = "SOFTWARE"
	CategoryEquipment = "EQUIPMENT"
	CategoryOther     = "OTHER"
)

// Expense represents a submitted expense claim. The workflow definition is
// snapshotted onto the expense at submission time, so later edits to the
// definition never affect an in-flight expense.
type Expense struct {
	ID                   string     `json:"id"`
	CompanyID            string     `json:"company_id"`
	EmployeeID           UserID     `json:"employee_id"`
	AmountOriginal       float64    `json:"amount_original"`
	CurrencyOriginal     string     `json:"currency_original"`
	AmountCompany        float64    `json:"amount_company"`
	CurrencyCompany      string     `json:"currency_company"`
	Category             string     `json:"category"`
	Description          string     `json:"description"`
	ExpenseDate          time.Time  `json:"expense_date"`
	Status               string     `json:"status"`
	WorkflowDefinitionID string     `json:"workflow_definition_id,omitempty"`
	SubmittedAt          *time.Time `json:"submitted_at,omitempty"`
	FinalizedAt          *time.Time `json:"finalized_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsTerminal returns true if the expense has reached a final status and no
// further tasks may be created for it.
func (e *Expense) IsTerminal() bool {
	switch e.Status {
	case ExpenseStatusApproved, ExpenseStatusRejected, ExpenseStatusWithdrawn:
		return true
	}
	return false
}
