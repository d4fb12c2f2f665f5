package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/domain/entity"
	"github.com/amitjoshi/expenseflow/pkg/database"
)

// AuditRepository persists the append-only audit log.
type AuditRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *database.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append writes one audit record. Records are never updated or deleted.
func (r *AuditRepository) Append(ctx context.Context, evt *entity.AuditEvent) error {
	query := `
		INSERT INTO audit_events (
			id, expense_id, task_id, event_type, actor_id, detail, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		evt.ID, evt.ExpenseID, nullString(evt.TaskID), evt.EventType,
		nullString(string(evt.ActorID)), nullString(evt.Detail), evt.OccurredAt)
	if err != nil {
		r.logger.Error("Failed to append audit event",
			zap.String("expense_id", evt.ExpenseID), zap.Error(err))
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// ListByExpense returns an expense's audit trail in chronological order.
func (r *AuditRepository) ListByExpense(ctx context.Context, expenseID string) ([]*entity.AuditEvent, error) {
	query := `
		SELECT id, expense_id, task_id, event_type, actor_id, detail, occurred_at
		FROM audit_events
		WHERE expense_id = ?
		ORDER BY occurred_at, id
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, expenseID)
	if err != nil {
		r.logger.Error("Failed to list audit events", zap.String("expense_id", expenseID), zap.Error(err))
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*entity.AuditEvent
	for rows.Next() {
		var e entity.AuditEvent
		var taskID, actorID, detail sql.NullString

		err := rows.Scan(&e.ID, &e.ExpenseID, &taskID, &e.EventType, &actorID, &detail, &e.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		e.TaskID = taskID.String
		e.ActorID = entity.UserID(actorID.String)
		e.Detail = detail.String
		events = append(events, &e)
	}
	return events, rows.Err()
}
