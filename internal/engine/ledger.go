package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/domain/entity"
)

// Ledger is the authoritative record of approval tasks. It enforces
// one-decision-per-task through a compare-and-swap on task status and never
// deletes a task, preserving the full audit history.
type Ledger struct {
	tasks  TaskRepository
	logger *zap.Logger
}

// NewLedger creates a new task ledger.
func NewLedger(tasks TaskRepository, logger *zap.Logger) *Ledger {
	return &Ledger{
		tasks:  tasks,
		logger: logger,
	}
}

// Assignment pairs a step order with a resolved assignee.
type Assignment struct {
	StepOrder  int
	AssigneeID entity.UserID
}

// CreateTasks opens one task per assignment for the expense.
func (l *Ledger) CreateTasks(ctx context.Context, expenseID string, assignments []Assignment) ([]*entity.ApprovalTask, error) {
	if len(assignments) == 0 {
		return nil, nil
	}

	now := time.Now()
	tasks := make([]*entity.ApprovalTask, 0, len(assignments))
	for _, a := range assignments {
		tasks = append(tasks, &entity.ApprovalTask{
			ID:         uuid.NewString(),
			ExpenseID:  expenseID,
			StepOrder:  a.StepOrder,
			AssigneeID: a.AssigneeID,
			Status:     entity.TaskStatusOpen,
			CreatedAt:  now,
		})
	}

	if err := l.tasks.CreateBatch(ctx, tasks); err != nil {
		return nil, fmt.Errorf("create tasks: %w", err)
	}

	l.logger.Info("Approval tasks opened",
		zap.String("expense_id", expenseID),
		zap.Int("count", len(tasks)))
	return tasks, nil
}

// RecordDecision records an assignee's decision on an open task. It returns
// the task in its resulting state. Error cases:
//   - ErrTaskNotFound for an unknown id
//   - ErrUnauthorized when the actor is not the task's assignee
//   - ErrInvalidDecision for a decision other than APPROVE/REJECT
//   - ErrTaskAlreadyDecided when the task is no longer open; the returned
//     task carries the winning decision so the caller can tell a replay
//     from a conflict
func (l *Ledger) RecordDecision(ctx context.Context, taskID string, actorID entity.UserID, decision, comment string) (*entity.ApprovalTask, error) {
	status, ok := entity.DecisionStatus(decision)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	task, err := l.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.AssigneeID != actorID {
		return nil, fmt.Errorf("%w: task %s belongs to %s", ErrUnauthorized, taskID, task.AssigneeID)
	}

	now := time.Now()
	won, err := l.tasks.Decide(ctx, taskID, status, decision, comment, now)
	if err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}
	if !won {
		// Lost the race or replayed: re-read to report the winning decision.
		decided, err := l.tasks.GetByID(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("reload decided task: %w", err)
		}
		if decided == nil {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return decided, fmt.Errorf("%w: task %s is %s", ErrTaskAlreadyDecided, taskID, decided.Status)
	}

	task.Status = status
	task.Decision = decision
	task.Comment = comment
	task.DecidedAt = &now

	l.logger.Info("Decision recorded",
		zap.String("task_id", taskID),
		zap.String("expense_id", task.ExpenseID),
		zap.String("decision", decision),
		zap.String("assignee_id", string(actorID)))
	return task, nil
}

// TasksFor returns every task ever opened for the expense.
func (l *Ledger) TasksFor(ctx context.Context, expenseID string) ([]*entity.ApprovalTask, error) {
	tasks, err := l.tasks.ListByExpense(ctx, expenseID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// OpenTasksFor returns the open tasks assigned to a user across expenses.
func (l *Ledger) OpenTasksFor(ctx context.Context, userID entity.UserID) ([]*entity.ApprovalTask, error) {
	tasks, err := l.tasks.ListOpenByAssignee(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}
	return tasks, nil
}

// CloseMoot administratively closes every remaining open task of the
// expense. Used after a scope resolves or the expense is withdrawn; moot
// tasks never count toward rule evaluation.
func (l *Ledger) CloseMoot(ctx context.Context, expenseID string) error {
	n, err := l.tasks.CloseOpenAsMoot(ctx, expenseID)
	if err != nil {
		return fmt.Errorf("close moot tasks: %w", err)
	}
	if n > 0 {
		l.logger.Info("Open tasks closed as moot",
			zap.String("expense_id", expenseID),
			zap.Int64("count", n))
	}
	return nil
}
