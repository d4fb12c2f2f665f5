package engine

import (
	"context"
	"time"

	"github.com/amitjoshi/expenseflow/internal/domain/entity"
)

// ExpenseRepository defines persistence operations for Expense.
// Implementations return (nil, nil) for a missing row.
type ExpenseRepository interface {
	Create(ctx context.Context, expense *entity.Expense) error
	GetByID(ctx context.Context, id string) (*entity.Expense, error)

	// MarkSubmitted moves a DRAFT expense to PENDING and snapshots the
	// workflow definition onto it. Returns false when the expense was not
	// in DRAFT (lost race with a concurrent submit).
	MarkSubmitted(ctx context.Context, id, definitionID string, at time.Time) (bool, error)

	// FinalizeStatus transitions PENDING to the given terminal status with a
	// compare-and-swap on the current status. Returns false when no row
	// matched, meaning another writer finalized first.
	FinalizeStatus(ctx context.Context, id, toStatus string, at time.Time) (bool, error)

	ListByEmployee(ctx context.Context, employeeID entity.UserID, limit, offset int) ([]*entity.Expense, error)
}

// WorkflowRepository defines persistence operations for WorkflowDefinition.
type WorkflowRepository interface {
	Create(ctx context.Context, def *entity.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowDefinition, error)
	GetActiveByCompany(ctx context.Context, companyID string) (*entity.WorkflowDefinition, error)

	// Activate marks the given definition active and deactivates every other
	// definition of the company in the same transaction.
	Activate(ctx context.Context, companyID, definitionID string) error

	ListByCompany(ctx context.Context, companyID string) ([]*entity.WorkflowDefinition, error)
}

// TaskRepository defines persistence operations for ApprovalTask.
type TaskRepository interface {
	CreateBatch(ctx context.Context, tasks []*entity.ApprovalTask) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalTask, error)

	// Decide records a decision with a compare-and-swap on status = OPEN.
	// Returns false when the task was already decided or closed; the caller
	// re-reads to find out by whom.
	Decide(ctx context.Context, id, status, decision, comment string, at time.Time) (bool, error)

	ListByExpense(ctx context.Context, expenseID string) ([]*entity.ApprovalTask, error)
	ListOpenByAssignee(ctx context.Context, assigneeID entity.UserID) ([]*entity.ApprovalTask, error)

	// CloseOpenAsMoot administratively closes all open tasks of an expense.
	CloseOpenAsMoot(ctx context.Context, expenseID string) (int64, error)
}

// Directory resolves assignee selectors against the organization. Lookups
// are the engine's only external suspension point; failures are transient
// and must be wrapped with ErrDirectoryUnavailable.
type Directory interface {
	ResolveAssignees(ctx context.Context, selector entity.AssigneeSelector, expense *entity.Expense) ([]entity.UserID, error)
	ManagerOf(ctx context.Context, userID entity.UserID) (entity.UserID, bool, error)
}

// TransactionManager executes a function within a storage transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
