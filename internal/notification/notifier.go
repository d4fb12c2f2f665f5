// Package notification delivers best-effort notices to assignees and
// submitters. Delivery failure never blocks or fails a workflow transition;
// the dispatcher invokes these handlers asynchronously and only logs errors.
package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/dispatcher"
	"github.com/amitjoshi/expenseflow/internal/domain/event"
)

// Notifier turns workflow events into notifications. The current transport
// is the log; a mail or chat transport can replace notify without touching
// the subscriptions.
type Notifier struct {
	logger *zap.Logger
}

// New creates a new notifier.
func New(logger *zap.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Register subscribes the notifier to the workflow events it cares about.
func (n *Notifier) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeTaskOpened, "notifier", n.handleTaskOpened)
	d.SubscribeNamed(event.TypeExpenseApproved, "notifier", n.handleFinalized)
	d.SubscribeNamed(event.TypeExpenseRejected, "notifier", n.handleFinalized)
	d.SubscribeNamed(event.TypeExpenseWithdrawn, "notifier", n.handleFinalized)
}

func (n *Notifier) handleTaskOpened(ctx context.Context, evt *event.Event) error {
	n.notify(evt.GetPayloadString("assignee_id"), "approval requested", evt)
	return nil
}

func (n *Notifier) handleFinalized(ctx context.Context, evt *event.Event) error {
	n.notify(evt.GetPayloadString("employee_id"), "expense concluded", evt)
	return nil
}

func (n *Notifier) notify(recipient, subject string, evt *event.Event) {
	n.logger.Info("Notification sent",
		zap.String("recipient", recipient),
		zap.String("subject", subject),
		zap.String("event_type", string(evt.Type)),
		zap.String("expense_id", evt.ExpenseID))
}
