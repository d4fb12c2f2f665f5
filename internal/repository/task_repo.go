package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/domain/entity"
	"github.com/amitjoshi/expenseflow/pkg/database"
)

// TaskRepository implements engine.TaskRepository on SQLite.
type TaskRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *database.DB, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

// CreateBatch inserts a batch of open tasks in one statement.
func (r *TaskRepository) CreateBatch(ctx context.Context, tasks []*entity.ApprovalTask) error {
	if len(tasks) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO approval_tasks (
			id, expense_id, step_order, assignee_id, status, created_at
		) VALUES `)

	args := make([]interface{}, 0, len(tasks)*6)
	for i, task := range tasks {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, task.ID, task.ExpenseID, task.StepOrder,
			string(task.AssigneeID), task.Status, task.CreatedAt)
	}

	if _, err := r.db.Executor(ctx).ExecContext(ctx, sb.String(), args...); err != nil {
		r.logger.Error("Failed to create approval tasks",
			zap.String("expense_id", tasks[0].ExpenseID), zap.Error(err))
		return fmt.Errorf("failed to create approval tasks: %w", err)
	}
	return nil
}

// GetByID returns the task, or (nil, nil) when it does not exist.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalTask, error) {
	query := `
		SELECT id, expense_id, step_order, assignee_id, status, decision, comment, decided_at, created_at
		FROM approval_tasks WHERE id = ?
	`

	task, err := scanTask(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get approval task", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval task: %w", err)
	}
	return task, nil
}

// Decide records a decision with a compare-and-swap on status = OPEN, which
// makes the task immutable after the first decision lands.
func (r *TaskRepository) Decide(ctx context.Context, id, status, decision, comment string, at time.Time) (bool, error) {
	query := `
		UPDATE approval_tasks
		SET status = ?, decision = ?, comment = ?, decided_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		status, decision, comment, at, id, entity.TaskStatusOpen)
	if err != nil {
		r.logger.Error("Failed to record decision", zap.String("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to record decision: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// ListByExpense returns every task of an expense in creation order.
func (r *TaskRepository) ListByExpense(ctx context.Context, expenseID string) ([]*entity.ApprovalTask, error) {
	query := `
		SELECT id, expense_id, step_order, assignee_id, status, decision, comment, decided_at, created_at
		FROM approval_tasks
		WHERE expense_id = ?
		ORDER BY created_at, id
	`

	return r.queryTasks(ctx, query, expenseID)
}

// ListOpenByAssignee returns a user's open tasks across all expenses.
func (r *TaskRepository) ListOpenByAssignee(ctx context.Context, assigneeID entity.UserID) ([]*entity.ApprovalTask, error) {
	query := `
		SELECT id, expense_id, step_order, assignee_id, status, decision, comment, decided_at, created_at
		FROM approval_tasks
		WHERE assignee_id = ? AND status = ?
		ORDER BY created_at
	`

	return r.queryTasks(ctx, query, string(assigneeID), entity.TaskStatusOpen)
}

// CloseOpenAsMoot administratively closes all open tasks of an expense.
func (r *TaskRepository) CloseOpenAsMoot(ctx context.Context, expenseID string) (int64, error) {
	query := `
		UPDATE approval_tasks
		SET status = ?
		WHERE expense_id = ? AND status = ?
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		entity.TaskStatusMoot, expenseID, entity.TaskStatusOpen)
	if err != nil {
		r.logger.Error("Failed to close open tasks", zap.String("expense_id", expenseID), zap.Error(err))
		return 0, fmt.Errorf("failed to close open tasks: %w", err)
	}
	return result.RowsAffected()
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovalTask, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list approval tasks", zap.Error(err))
		return nil, fmt.Errorf("failed to list approval tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*entity.ApprovalTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*entity.ApprovalTask, error) {
	var t entity.ApprovalTask
	var assigneeID string
	var decision, comment sql.NullString
	var decidedAt sql.NullTime

	err := row.Scan(&t.ID, &t.ExpenseID, &t.StepOrder, &assigneeID,
		&t.Status, &decision, &comment, &decidedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	t.AssigneeID = entity.UserID(assigneeID)
	t.Decision = decision.String
	t.Comment = comment.String
	if decidedAt.Valid {
		t.DecidedAt = &decidedAt.Time
	}
	return &t, nil
}
