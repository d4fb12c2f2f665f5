package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/dispatcher"
	"github.com/amitjoshi/expenseflow/internal/domain/entity"
	"github.com/amitjoshi/expenseflow/internal/domain/event"
	"github.com/amitjoshi/expenseflow/internal/domain/rule"
	"github.com/amitjoshi/expenseflow/internal/domain/workflow"
)

// Coordinator orchestrates the sequencer, rule evaluator and ledger in
// response to submission and decision events, and owns every expense status
// transition. Finalization runs under an expense-scoped lock plus a
// compare-and-swap on the expense row, so two racing "last decision"
// writers cannot both declare victory.
type Coordinator struct {
	expenses  ExpenseRepository
	workflows WorkflowRepository
	ledger    *Ledger
	sequencer *Sequencer
	tx        TransactionManager
	events    dispatcher.Dispatcher
	logger    *zap.Logger

	locks sync.Map // expense id -> *sync.Mutex
}

// NewCoordinator creates a new workflow coordinator.
func NewCoordinator(
	expenses ExpenseRepository,
	workflows WorkflowRepository,
	ledger *Ledger,
	sequencer *Sequencer,
	tx TransactionManager,
	events dispatcher.Dispatcher,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		expenses:  expenses,
		workflows: workflows,
		ledger:    ledger,
		sequencer: sequencer,
		tx:        tx,
		events:    events,
		logger:    logger,
	}
}

// lockExpense serializes workflow transitions per expense.
func (c *Coordinator) lockExpense(id string) func() {
	v, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (c *Coordinator) getExpense(ctx context.Context, id string) (*entity.Expense, error) {
	exp, err := c.expenses.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load expense: %w", err)
	}
	if exp == nil {
		return nil, fmt.Errorf("%w: %s", ErrExpenseNotFound, id)
	}
	return exp, nil
}

func (c *Coordinator) definitionFor(ctx context.Context, exp *entity.Expense) (*entity.WorkflowDefinition, error) {
	def, err := c.workflows.GetByID(ctx, exp.WorkflowDefinitionID)
	if err != nil {
		return nil, fmt.Errorf("load definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, exp.WorkflowDefinitionID)
	}
	return def, nil
}

// CreateDraft stores a new expense in DRAFT, ready for submission.
func (c *Coordinator) CreateDraft(ctx context.Context, exp *entity.Expense) error {
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	now := time.Now()
	exp.Status = entity.ExpenseStatusDraft
	exp.CreatedAt = now
	exp.UpdatedAt = now

	if err := c.expenses.Create(ctx, exp); err != nil {
		return fmt.Errorf("create expense: %w", err)
	}
	return nil
}

// Expense returns an expense by id.
func (c *Coordinator) Expense(ctx context.Context, id string) (*entity.Expense, error) {
	return c.getExpense(ctx, id)
}

// Submit snapshots the company's active workflow definition onto the
// expense, moves it to PENDING and opens the first evaluation scope. A
// workflow whose every step resolves to nobody approves immediately.
func (c *Coordinator) Submit(ctx context.Context, expenseID string) (*entity.Expense, error) {
	unlock := c.lockExpense(expenseID)
	defer unlock()

	exp, err := c.getExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}

	machine := workflow.NewExpenseLifecycle(workflow.State(exp.Status))
	if err := machine.Fire(ctx, workflow.TriggerSubmit); err != nil {
		return nil, err
	}

	def, err := c.workflows.GetActiveByCompany(ctx, exp.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("load active definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("%w: company %s", ErrNoActiveDefinition, exp.CompanyID)
	}

	assignments, exhausted, err := c.sequencer.OpenScope(ctx, def, exp, 0)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var tasks []*entity.ApprovalTask
	err = c.tx.WithTransaction(ctx, func(ctx context.Context) error {
		submitted, err := c.expenses.MarkSubmitted(ctx, exp.ID, def.ID, now)
		if err != nil {
			return fmt.Errorf("mark submitted: %w", err)
		}
		if !submitted {
			return fmt.Errorf("%w: expense %s left draft concurrently", workflow.ErrInvalidTransition, exp.ID)
		}
		if exhausted {
			_, err := c.expenses.FinalizeStatus(ctx, exp.ID, entity.ExpenseStatusApproved, now)
			return err
		}
		tasks, err = c.ledger.CreateTasks(ctx, exp.ID, assignments)
		return err
	})
	if err != nil {
		return nil, err
	}

	submittedEvt := event.New(event.TypeExpenseSubmitted, exp.ID, map[string]interface{}{
		"employee_id":   string(exp.EmployeeID),
		"definition_id": def.ID,
	})
	c.events.DispatchAsync(ctx, submittedEvt)
	c.emitTaskOpened(ctx, tasks, submittedEvt.CorrelationID)
	if exhausted {
		c.events.DispatchAsync(ctx, event.NewWithCorrelation(event.TypeExpenseApproved, exp.ID, map[string]interface{}{
			"reason": "no approvers resolved",
		}, submittedEvt.CorrelationID))
	}

	c.logger.Info("Expense submitted",
		zap.String("expense_id", exp.ID),
		zap.String("definition_id", def.ID),
		zap.Int("tasks_opened", len(tasks)),
		zap.Bool("auto_approved", exhausted))

	return c.getExpense(ctx, exp.ID)
}

// Decide records an approver's decision and drives the workflow forward,
// returning the expense's resulting status.
//
// Replaying an identical already-recorded decision is a no-op success; a
// different decision on a decided task surfaces ErrTaskAlreadyDecided.
func (c *Coordinator) Decide(ctx context.Context, taskID string, actorID entity.UserID, decision, comment string) (string, error) {
	task, err := c.ledger.RecordDecision(ctx, taskID, actorID, decision, comment)
	if err != nil {
		if errors.Is(err, ErrTaskAlreadyDecided) && task != nil && task.Decision == decision {
			// True duplicate: same task, same decision. Report the current
			// expense status without side effects.
			exp, lerr := c.getExpense(ctx, task.ExpenseID)
			if lerr != nil {
				return "", lerr
			}
			return exp.Status, nil
		}
		return "", err
	}

	c.events.DispatchAsync(ctx, event.New(event.TypeTaskDecided, task.ExpenseID, map[string]interface{}{
		"assignee_id": string(actorID),
		"decision":    decision,
		"step_order":  task.StepOrder,
	}).ForTask(task.ID))

	unlock := c.lockExpense(task.ExpenseID)
	defer unlock()

	exp, err := c.getExpense(ctx, task.ExpenseID)
	if err != nil {
		return "", err
	}
	if exp.IsTerminal() {
		return exp.Status, nil
	}

	def, err := c.definitionFor(ctx, exp)
	if err != nil {
		return "", err
	}
	tasks, err := c.ledger.TasksFor(ctx, exp.ID)
	if err != nil {
		return "", err
	}

	adv := c.sequencer.Evaluate(def, tasks)
	switch adv.Action {
	case ActionOpenNext:
		return c.openNext(ctx, def, exp, adv.AfterOrder)
	case ActionApprove:
		return c.finalize(ctx, exp, entity.ExpenseStatusApproved)
	case ActionReject:
		return c.finalize(ctx, exp, entity.ExpenseStatusRejected)
	default:
		return exp.Status, nil
	}
}

// openNext opens the next sequential scope, finalizing as approved when
// every remaining step auto-skips.
func (c *Coordinator) openNext(ctx context.Context, def *entity.WorkflowDefinition, exp *entity.Expense, afterOrder int) (string, error) {
	assignments, exhausted, err := c.sequencer.OpenScope(ctx, def, exp, afterOrder)
	if err != nil {
		return "", err
	}
	if exhausted {
		return c.finalize(ctx, exp, entity.ExpenseStatusApproved)
	}

	var tasks []*entity.ApprovalTask
	err = c.tx.WithTransaction(ctx, func(ctx context.Context) error {
		tasks, err = c.ledger.CreateTasks(ctx, exp.ID, assignments)
		return err
	})
	if err != nil {
		return "", err
	}

	c.emitTaskOpened(ctx, tasks, "")
	return entity.ExpenseStatusPending, nil
}

// finalize concludes the expense with a terminal status. The expense row is
// the canonical source of truth: the compare-and-swap either wins, observes
// an identical concurrent finalize (no-op), or surfaces a conflict.
func (c *Coordinator) finalize(ctx context.Context, exp *entity.Expense, toStatus string) (string, error) {
	machine := workflow.NewExpenseLifecycle(workflow.State(exp.Status))
	trigger := workflow.TriggerApprove
	if toStatus == entity.ExpenseStatusRejected {
		trigger = workflow.TriggerReject
	}
	if err := machine.Fire(ctx, trigger); err != nil {
		return "", err
	}

	now := time.Now()
	err := c.tx.WithTransaction(ctx, func(ctx context.Context) error {
		won, err := c.expenses.FinalizeStatus(ctx, exp.ID, toStatus, now)
		if err != nil {
			return fmt.Errorf("finalize expense: %w", err)
		}
		if !won {
			current, err := c.expenses.GetByID(ctx, exp.ID)
			if err != nil {
				return fmt.Errorf("re-read expense: %w", err)
			}
			if current != nil && current.Status == toStatus {
				return nil
			}
			status := "unknown"
			if current != nil {
				status = current.Status
			}
			return fmt.Errorf("%w: expense %s is %s", ErrFinalizeConflict, exp.ID, status)
		}
		return c.ledger.CloseMoot(ctx, exp.ID)
	})
	if err != nil {
		return "", err
	}

	evtType := event.TypeExpenseApproved
	if toStatus == entity.ExpenseStatusRejected {
		evtType = event.TypeExpenseRejected
	}
	c.events.DispatchAsync(ctx, event.New(evtType, exp.ID, map[string]interface{}{
		"employee_id": string(exp.EmployeeID),
	}))

	c.logger.Info("Expense finalized",
		zap.String("expense_id", exp.ID),
		zap.String("status", toStatus))
	return toStatus, nil
}

// Withdraw closes a pending expense at its owner's request. Allowed only
// while no evaluation scope has been satisfied yet.
func (c *Coordinator) Withdraw(ctx context.Context, expenseID string, actorID entity.UserID) error {
	unlock := c.lockExpense(expenseID)
	defer unlock()

	exp, err := c.getExpense(ctx, expenseID)
	if err != nil {
		return err
	}
	if exp.EmployeeID != actorID {
		return fmt.Errorf("%w: expense %s", ErrNotOwner, expenseID)
	}

	machine := workflow.NewExpenseLifecycle(workflow.State(exp.Status))
	if err := machine.Fire(ctx, workflow.TriggerWithdraw); err != nil {
		return err
	}

	def, err := c.definitionFor(ctx, exp)
	if err != nil {
		return err
	}
	tasks, err := c.ledger.TasksFor(ctx, exp.ID)
	if err != nil {
		return err
	}
	if anyScopeSatisfied(def, tasks) {
		return fmt.Errorf("%w: approval already underway", ErrNotWithdrawable)
	}

	now := time.Now()
	err = c.tx.WithTransaction(ctx, func(ctx context.Context) error {
		won, err := c.expenses.FinalizeStatus(ctx, exp.ID, entity.ExpenseStatusWithdrawn, now)
		if err != nil {
			return fmt.Errorf("withdraw expense: %w", err)
		}
		if !won {
			return fmt.Errorf("%w: expense %s", ErrFinalizeConflict, exp.ID)
		}
		return c.ledger.CloseMoot(ctx, exp.ID)
	})
	if err != nil {
		return err
	}

	c.events.DispatchAsync(ctx, event.New(event.TypeExpenseWithdrawn, exp.ID, map[string]interface{}{
		"employee_id": string(actorID),
	}))
	return nil
}

// TasksPendingFor returns the open approval tasks assigned to a user.
func (c *Coordinator) TasksPendingFor(ctx context.Context, userID entity.UserID) ([]*entity.ApprovalTask, error) {
	return c.ledger.OpenTasksFor(ctx, userID)
}

// TasksFor returns every task ever opened for an expense.
func (c *Coordinator) TasksFor(ctx context.Context, expenseID string) ([]*entity.ApprovalTask, error) {
	return c.ledger.TasksFor(ctx, expenseID)
}

// PublishDefinition validates and stores a new workflow definition.
func (c *Coordinator) PublishDefinition(ctx context.Context, def *entity.WorkflowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	now := time.Now()
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	def.CreatedAt = now
	def.UpdatedAt = now
	for i := range def.Steps {
		if def.Steps[i].ID == "" {
			def.Steps[i].ID = uuid.NewString()
		}
		def.Steps[i].DefinitionID = def.ID
		def.Steps[i].CreatedAt = now
	}

	if err := c.workflows.Create(ctx, def); err != nil {
		return fmt.Errorf("create definition: %w", err)
	}

	c.logger.Info("Workflow definition published",
		zap.String("definition_id", def.ID),
		zap.String("company_id", def.CompanyID),
		zap.Int("steps", len(def.Steps)))
	return nil
}

// ActivateDefinition makes the definition the company's single active
// workflow, deactivating any other.
func (c *Coordinator) ActivateDefinition(ctx context.Context, companyID, definitionID string) error {
	def, err := c.workflows.GetByID(ctx, definitionID)
	if err != nil {
		return fmt.Errorf("load definition: %w", err)
	}
	if def == nil || def.CompanyID != companyID {
		return fmt.Errorf("%w: %s", ErrDefinitionNotFound, definitionID)
	}

	if err := c.workflows.Activate(ctx, companyID, definitionID); err != nil {
		return fmt.Errorf("activate definition: %w", err)
	}
	return nil
}

// ListDefinitions returns a company's workflow definitions.
func (c *Coordinator) ListDefinitions(ctx context.Context, companyID string) ([]*entity.WorkflowDefinition, error) {
	return c.workflows.ListByCompany(ctx, companyID)
}

func (c *Coordinator) emitTaskOpened(ctx context.Context, tasks []*entity.ApprovalTask, correlationID string) {
	for _, t := range tasks {
		payload := map[string]interface{}{
			"assignee_id": string(t.AssigneeID),
			"step_order":  t.StepOrder,
		}
		var evt *event.Event
		if correlationID != "" {
			evt = event.NewWithCorrelation(event.TypeTaskOpened, t.ExpenseID, payload, correlationID)
		} else {
			evt = event.New(event.TypeTaskOpened, t.ExpenseID, payload)
		}
		c.events.DispatchAsync(ctx, evt.ForTask(t.ID))
	}
}

// anyScopeSatisfied reports whether any evaluation scope of the expense has
// already been satisfied, which blocks withdrawal.
func anyScopeSatisfied(def *entity.WorkflowDefinition, tasks []*entity.ApprovalTask) bool {
	if len(tasks) == 0 {
		return false
	}
	if def.IsFlat() {
		return rule.Evaluate(def.Rule, tasks) == rule.OutcomeSatisfied
	}

	orders := make(map[int]bool)
	for _, t := range tasks {
		orders[t.StepOrder] = true
	}
	for order := range orders {
		scope := tasksForStep(tasks, order)
		if rule.Evaluate(nil, scope) == rule.OutcomeSatisfied {
			return true
		}
	}
	return false
}
