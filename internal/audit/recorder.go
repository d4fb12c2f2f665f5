// Package audit turns workflow events into append-only audit records.
package audit

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/dispatcher"
	"github.com/amitjoshi/expenseflow/internal/domain/entity"
	"github.com/amitjoshi/expenseflow/internal/domain/event"
	"github.com/amitjoshi/expenseflow/internal/repository"
)

// Recorder subscribes to every workflow event and appends one audit record
// per event. Audit writes are best-effort: a failed write is logged and
// never propagated back into the workflow.
type Recorder struct {
	repo   *repository.AuditRepository
	logger *zap.Logger
}

// NewRecorder creates a new audit recorder.
func NewRecorder(repo *repository.AuditRepository, logger *zap.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger,
	}
}

// Register subscribes the recorder to all workflow event types.
func (r *Recorder) Register(d dispatcher.Dispatcher) {
	for _, t := range []event.Type{
		event.TypeExpenseSubmitted,
		event.TypeExpenseApproved,
		event.TypeExpenseRejected,
		event.TypeExpenseWithdrawn,
		event.TypeTaskOpened,
		event.TypeTaskDecided,
	} {
		d.SubscribeNamed(t, "audit", r.handle)
	}
}

func (r *Recorder) handle(ctx context.Context, evt *event.Event) error {
	detail := ""
	if len(evt.Payload) > 0 {
		if data, err := json.Marshal(evt.Payload); err == nil {
			detail = string(data)
		}
	}

	actor := evt.GetPayloadString("assignee_id")
	if actor == "" {
		actor = evt.GetPayloadString("employee_id")
	}

	record := &entity.AuditEvent{
		ID:         evt.ID,
		ExpenseID:  evt.ExpenseID,
		TaskID:     evt.TaskID,
		EventType:  string(evt.Type),
		ActorID:    entity.UserID(actor),
		Detail:     detail,
		OccurredAt: evt.Timestamp,
	}

	if err := r.repo.Append(ctx, record); err != nil {
		r.logger.Error("Failed to record audit event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", string(evt.Type)),
			zap.Error(err))
	}
	return nil
}
