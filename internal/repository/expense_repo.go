package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/domain/entity"
	"github.com/amitjoshi/expenseflow/pkg/database"
)

// ExpenseRepository implements engine.ExpenseRepository on SQLite.
type ExpenseRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(db *database.DB, logger *zap.Logger) *ExpenseRepository {
	return &ExpenseRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new expense.
func (r *ExpenseRepository) Create(ctx context.Context, expense *entity.Expense) error {
	query := `
		INSERT INTO expenses (
			id, company_id, employee_id,
			amount_original, currency_original, amount_company, currency_company,
			category, description, expense_date,
			status, workflow_definition_id, submitted_at, finalized_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		expense.ID, expense.CompanyID, string(expense.EmployeeID),
		expense.AmountOriginal, expense.CurrencyOriginal, expense.AmountCompany, expense.CurrencyCompany,
		expense.Category, expense.Description, expense.ExpenseDate,
		expense.Status, nullString(expense.WorkflowDefinitionID), expense.SubmittedAt, expense.FinalizedAt,
		expense.CreatedAt, expense.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create expense", zap.String("id", expense.ID), zap.Error(err))
		return fmt.Errorf("failed to create expense: %w", err)
	}
	return nil
}

// GetByID returns the expense, or (nil, nil) when it does not exist.
func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*entity.Expense, error) {
	query := `
		SELECT id, company_id, employee_id,
		       amount_original, currency_original, amount_company, currency_company,
		       category, description, expense_date,
		       status, workflow_definition_id, submitted_at, finalized_at,
		       created_at, updated_at
		FROM expenses WHERE id = ?
	`

	expense, err := scanExpense(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get expense", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	return expense, nil
}

// MarkSubmitted moves a draft expense to PENDING and snapshots the workflow
// definition. The WHERE clause on status makes the write a compare-and-swap.
func (r *ExpenseRepository) MarkSubmitted(ctx context.Context, id, definitionID string, at time.Time) (bool, error) {
	query := `
		UPDATE expenses
		SET status = ?, workflow_definition_id = ?, submitted_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		entity.ExpenseStatusPending, definitionID, at, at, id, entity.ExpenseStatusDraft)
	if err != nil {
		r.logger.Error("Failed to mark expense submitted", zap.String("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to mark expense submitted: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// FinalizeStatus moves a pending expense to a terminal status with a
// compare-and-swap on the current status.
func (r *ExpenseRepository) FinalizeStatus(ctx context.Context, id, toStatus string, at time.Time) (bool, error) {
	query := `
		UPDATE expenses
		SET status = ?, finalized_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		toStatus, at, at, id, entity.ExpenseStatusPending)
	if err != nil {
		r.logger.Error("Failed to finalize expense",
			zap.String("id", id), zap.String("status", toStatus), zap.Error(err))
		return false, fmt.Errorf("failed to finalize expense: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// ListByEmployee returns an employee's expenses, newest first.
func (r *ExpenseRepository) ListByEmployee(ctx context.Context, employeeID entity.UserID, limit, offset int) ([]*entity.Expense, error) {
	query := `
		SELECT id, company_id, employee_id,
		       amount_original, currency_original, amount_company, currency_company,
		       category, description, expense_date,
		       status, workflow_definition_id, submitted_at, finalized_at,
		       created_at, updated_at
		FROM expenses
		WHERE employee_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, string(employeeID), limit, offset)
	if err != nil {
		r.logger.Error("Failed to list expenses", zap.String("employee_id", string(employeeID)), zap.Error(err))
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*entity.Expense
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, expense)
	}
	return expenses, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExpense(row rowScanner) (*entity.Expense, error) {
	var e entity.Expense
	var employeeID string
	var definitionID sql.NullString
	var submittedAt, finalizedAt sql.NullTime

	err := row.Scan(
		&e.ID, &e.CompanyID, &employeeID,
		&e.AmountOriginal, &e.CurrencyOriginal, &e.AmountCompany, &e.CurrencyCompany,
		&e.Category, &e.Description, &e.ExpenseDate,
		&e.Status, &definitionID, &submittedAt, &finalizedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.EmployeeID = entity.UserID(employeeID)
	e.WorkflowDefinitionID = definitionID.String
	if submittedAt.Valid {
		e.SubmittedAt = &submittedAt.Time
	}
	if finalizedAt.Valid {
		e.FinalizedAt = &finalizedAt.Time
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
