package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/domain/entity"
	"github.com/amitjoshi/expenseflow/internal/domain/event"
	"github.com/amitjoshi/expenseflow/internal/domain/workflow"
)

type coordinatorFixture struct {
	coordinator *Coordinator
	expenses    *memExpenseRepo
	tasks       *memTaskRepo
	dispatched  *recordingDispatcher
}

func newCoordinatorFixture(def *entity.WorkflowDefinition, dir *mockDirectory, expenses ...*entity.Expense) *coordinatorFixture {
	logger := zap.NewNop()
	expenseRepo := newMemExpenseRepo(expenses...)
	taskRepo := newMemTaskRepo()
	dispatched := &recordingDispatcher{}
	if dir == nil {
		dir = &mockDirectory{}
	}

	coordinator := NewCoordinator(
		expenseRepo,
		singleDefinitionRepo(def),
		NewLedger(taskRepo, logger),
		NewSequencer(dir, time.Second, logger),
		nopTxManager{},
		dispatched,
		logger,
	)
	return &coordinatorFixture{
		coordinator: coordinator,
		expenses:    expenseRepo,
		tasks:       taskRepo,
		dispatched:  dispatched,
	}
}

func draftExpense() *entity.Expense {
	return &entity.Expense{
		ID:         "exp-1",
		CompanyID:  "co-1",
		EmployeeID: "emp-1",
		Status:     entity.ExpenseStatusDraft,
	}
}

func (f *coordinatorFixture) decideAs(t *testing.T, assignee entity.UserID, decision string) string {
	t.Helper()
	task := f.tasks.openTaskFor("exp-1", assignee)
	require.NotNil(t, task, "no open task for %s", assignee)
	status, err := f.coordinator.Decide(context.Background(), task.ID, assignee, decision, "")
	require.NoError(t, err)
	return status
}

func (f *coordinatorFixture) expenseStatus(t *testing.T) string {
	t.Helper()
	exp, err := f.expenses.GetByID(context.Background(), "exp-1")
	require.NoError(t, err)
	require.NotNil(t, exp)
	return exp.Status
}

// Sequential two-step chain: each approval opens the next step, the last one
// finalizes the expense.
func TestCoordinator_SequentialChain(t *testing.T) {
	def := &entity.WorkflowDefinition{
		ID:        "def-1",
		CompanyID: "co-1",
		Steps:     []entity.Step{usersStep(1, "alice"), usersStep(2, "bob")},
	}
	f := newCoordinatorFixture(def, nil, draftExpense())

	exp, err := f.coordinator.Submit(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ExpenseStatusPending, exp.Status)
	assert.Equal(t, "def-1", exp.WorkflowDefinitionID)
	require.NotNil(t, f.tasks.openTaskFor("exp-1", "alice"))
	assert.Nil(t, f.tasks.openTaskFor("exp-1", "bob"), "step 2 must not open before step 1 resolves")

	status := f.decideAs(t, "alice", entity.DecisionApprove)
	assert.Equal(t, entity.ExpenseStatusPending, status)
	require.NotNil(t, f.tasks.openTaskFor("exp-1", "bob"))

	status = f.decideAs(t, "bob", entity.DecisionApprove)
	assert.Equal(t, entity.ExpenseStatusApproved, status)
	assert.Equal(t, entity.ExpenseStatusApproved, f.expenseStatus(t))

	seen := f.dispatched.typesSeen()
	assert.Equal(t, 1, seen[event.TypeExpenseSubmitted])
	assert.Equal(t, 2, seen[event.TypeTaskOpened])
	assert.Equal(t, 2, seen[event.TypeTaskDecided])
	assert.Equal(t, 1, seen[event.TypeExpenseApproved])
}

func TestCoordinator_SequentialReject(t *testing.T) {
	def := &entity.WorkflowDefinition{
		ID:        "def-1",
		CompanyID: "co-1",
		Steps:     []entity.Step{usersStep(1, "alice"), usersStep(2, "bob")},
	}
	f := newCoordinatorFixture(def, nil, draftExpense())

	_, err := f.coordinator.Submit(context.Background(), "exp-1")
	require.NoError(t, err)

	status := f.decideAs(t, "alice", entity.DecisionReject)
	assert.Equal(t, entity.ExpenseStatusRejected, status)
	assert.Nil(t, f.tasks.openTaskFor("exp-1", "bob"), "no later step may open after a reject")
	assert.Equal(t, 1, f.dispatched.typesSeen()[event.TypeExpenseRejected])
}

// Percentage rule at 60% over three assignees: two approvals satisfy the rule
// before the third decides, and the third task closes moot.
func TestCoordinator_PercentageRule(t *testing.T) {
	def := &entity.WorkflowDefinition{
		ID:        "def-1",
		CompanyID: "co-1",
		Steps:     []entity.Step{usersStep(1, "a", "b", "c")},
		Rule:      &entity.ConditionalRule{Type: entity.RuleTypePercentage, ThresholdPct: 60},
	}
	f := newCoordinatorFixture(def, nil, draftExpense())

	_, err := f.coordinator.Submit(context.Background(), "exp-1")
	require.NoError(t, err)

	assert.Equal(t, entity.ExpenseStatusPending, f.decideAs(t, "a", entity.DecisionApprove))
	assert.Equal(t, entity.ExpenseStatusApproved, f.decideAs(t, "b", entity.DecisionApprove))

	tasks, err := f.coordinator.TasksFor(context.Background(), "exp-1")
	require.NoError(t, err)
	statuses := make(map[string]int)
	for _, task := range tasks {
		statuses[task.Status]++
	}
	assert.Equal(t, map[string]int{entity.TaskStatusApproved: 2, entity.TaskStatusMoot: 1}, statuses)
}

// A specific approver's single approval satisfies the rule regardless of the
// other assignees.
func TestCoordinator_SpecificApproverShortCircuit(t *testing.T) {
	def := &entity.WorkflowDefinition{
		ID:        "def-1",
		CompanyID: "co-1",
		Steps:     []entity.Step{usersStep(1, "x", "a", "b")},
		Rule:      &entity.ConditionalRule{Type: entity.RuleTypeSpecificApprover, ApproverIDs: []entity.UserID{"x"}},
	}
	f := newCoordinatorFixture(def, nil, draftExpense())

	_, err := f.coordinator.Submit(context.Background(), "exp-1")
	require.NoError(t, err)

	assert.Equal(t, entity.ExpenseStatusApproved, f.decideAs(t, "x", entity.DecisionApprove))
	assert.Nil(t, f.tasks.openTaskFor("exp-1", "a"))
	assert.Nil(t, f.tasks.openTaskFor("exp-1", "b"))
}

// Hybrid OR survives the specific approver rejecting while the percentage
// branch is still mathematically reachable, and fails only once it is not.
func TestCoordinator_HybridOrRejectPath(t *testing.T) {
	def := &entity.WorkflowDefinition{
		ID:        "def-1",
		CompanyID: "co-1",
		Steps:     []entity.Step{usersStep(1, "y", "a", "b", "c")},
		Rule: &entity.ConditionalRule{
			Type:         entity.RuleTypeHybrid,
			Operator:     entity.RuleOperatorOr,
			ThresholdPct: 50,
			ApproverIDs:  []entity.UserID{"y"},
		},
	}
	f := newCoordinatorFixture(def, nil, draftExpense())

	_, err := f.coordinator.Submit(context.Background(), "exp-1")
	require.NoError(t, err)

	// y rejecting kills only the specific branch: 3 of 4 could still approve.
	assert.Equal(t, entity.ExpenseStatusPending, f.decideAs(t, "y", entity.DecisionReject))
	assert.Equal(t, entity.ExpenseStatusPending, f.decideAs(t, "a", entity.DecisionReject))
	// After b rejects at most 1 of 4 can approve, below 50%: both branches dead.
	assert.Equal(t, entity.ExpenseStatusRejected, f.decideAs(t, "b", entity.DecisionReject))
}

// A manager-of-submitter step that resolves to nobody auto-satisfies and the
// sequencer advances past it immediately.
func TestCoordinator_AutoSkipEmptyStep(t *testing.T) {
	def := &entity.WorkflowDefinition{
		ID:        "def-1",
		CompanyID: "co-1",
		Steps: []entity.Step{
			{Order: 1, Assignee: entity.AssigneeSelector{Type: entity.AssigneeTypeManagerOfSubmitter}},
			usersStep(2, "bob"),
		},
	}
	f := newCoordinatorFixture(def, &mockDirectory{}, draftExpense())

	exp, err := f.coordinator.Submit(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ExpenseStatusPending, exp.Status)

	task := f.tasks.openTaskFor("exp-1", "bob")
	require.NotNil(t, task)
	assert.Equal(t, 2, task.StepOrder)
}

func TestCoordinator_AllStepsEmptyApprovesOnSubmit(t *testing.T) {
	def := &entity.WorkflowDefinition{
		ID:        "def-1",
		CompanyID: "co-1",
		Steps: []entity.Step{
			{Order: 1, Assignee: entity.AssigneeSelector{Type: entity.AssigneeTypeManagerOfSubmitter}},
		},
	}
	f := newCoordinatorFixture(def, &mockDirectory{}, draftExpense())

	exp, err := f.coordinator.Submit(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ExpenseStatusApproved, exp.Status)

	tasks, err := f.coordinator.TasksFor(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCoordinator_ManagerStepResolves(t *testing.T) {
	def := &entity.WorkflowDefinition{
		ID:        "def-1",
		CompanyID: "co-1",
		Steps: []entity.Step{
			{Order: 1, Assignee: entity.AssigneeSelector{Type: entity.AssigneeTypeManagerOfSubmitter}},
		},
	}
	dir := &mockDirectory{managers: map[entity.UserID]entity.UserID{"emp-1": "mgr-1"}}
	f := newCoordinatorFixture(def, dir, draftExpense())

	_, err := f.coordinator.Submit(context.Background(), "exp-1")
	require.NoError(t, err)
	require.NotNil(t, f.tasks.openTaskFor("exp-1", "mgr-1"))

	assert.Equal(t, entity.ExpenseStatusApproved, f.decideAs(t, "mgr-1", entity.DecisionApprove))
}

// Replaying the identical decision is a no-op success; a different decision
// on the same task is a conflict.
func TestCoordinator_DecideIdempotence(t *testing.T) {
	def := &entity.WorkflowDefinition{
		ID:        "def-1",
		CompanyID: "co-1",
		Steps:     []entity.Step{usersStep(1, "alice"), usersStep(2, "bob")},
	}
	f := newCoordinatorFixture(def, nil, draftExpense())

	_, err := f.coordinator.Submit(context.Background(), "exp-1")
	require.NoError(t, err)

	task := f.tasks.openTaskFor("exp-1", "alice")
	require.NotNil(t, task)

	first, err := f.coordinator.Decide(context.Background(), task.ID, "alice", entity.DecisionApprove, "")
	require.NoError(t, err)

	replay, err := f.coordinator.Decide(context.Background(), task.ID, "alice", entity.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, first, replay)

	tasks, err := f.coordinator.TasksFor(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Len(t, tasks, 2, "replay must not open duplicate tasks")

	_, err = f.coordinator.Decide(context.Background(), task.ID, "alice", entity.DecisionReject, "")
	assert.True(t, errors.Is(err, ErrTaskAlreadyDecided))
	assert.True(t, IsConflict(err))
}

func TestCoordinator_SubmitErrors(t *testing.T) {
	def := &entity.WorkflowDefinition{
		ID:        "def-1",
		CompanyID: "co-1",
		Steps:     []entity.Step{usersStep(1, "alice")},
	}

	t.Run("unknown expense", func(t *testing.T) {
		f := newCoordinatorFixture(def, nil)
		_, err := f.coordinator.Submit(context.Background(), "nope")
		assert.True(t, errors.Is(err, ErrExpenseNotFound))
	})

	t.Run("no active definition", func(t *testing.T) {
		exp := draftExpense()
		exp.CompanyID = "other-co"
		f := newCoordinatorFixture(def, nil, exp)
		_, err := f.coordinator.Submit(context.Background(), "exp-1")
		assert.True(t, errors.Is(err, ErrNoActiveDefinition))
	})

	t.Run("already submitted", func(t *testing.T) {
		f := newCoordinatorFixture(def, nil, draftExpense())
		_, err := f.coordinator.Submit(context.Background(), "exp-1")
		require.NoError(t, err)
		_, err = f.coordinator.Submit(context.Background(), "exp-1")
		assert.True(t, errors.Is(err, workflow.ErrInvalidTransition))
		assert.True(t, IsConflict(err))
	})
}

func TestCoordinator_Withdraw(t *testing.T) {
	def := &entity.WorkflowDefinition{
		ID:        "def-1",
		CompanyID: "co-1",
		Steps:     []entity.Step{usersStep(1, "alice"), usersStep(2, "bob")},
	}

	t.Run("pending expense withdraws and moots tasks", func(t *testing.T) {
		f := newCoordinatorFixture(def, nil, draftExpense())
		_, err := f.coordinator.Submit(context.Background(), "exp-1")
		require.NoError(t, err)

		require.NoError(t, f.coordinator.Withdraw(context.Background(), "exp-1", "emp-1"))
		assert.Equal(t, entity.ExpenseStatusWithdrawn, f.expenseStatus(t))
		assert.Nil(t, f.tasks.openTaskFor("exp-1", "alice"))
		assert.Equal(t, 1, f.dispatched.typesSeen()[event.TypeExpenseWithdrawn])
	})

	t.Run("only the owner may withdraw", func(t *testing.T) {
		f := newCoordinatorFixture(def, nil, draftExpense())
		_, err := f.coordinator.Submit(context.Background(), "exp-1")
		require.NoError(t, err)

		err = f.coordinator.Withdraw(context.Background(), "exp-1", "mallory")
		assert.True(t, errors.Is(err, ErrNotOwner))
	})

	t.Run("draft expense cannot withdraw", func(t *testing.T) {
		f := newCoordinatorFixture(def, nil, draftExpense())
		err := f.coordinator.Withdraw(context.Background(), "exp-1", "emp-1")
		assert.True(t, errors.Is(err, workflow.ErrInvalidTransition))
	})

	t.Run("blocked once a scope is satisfied", func(t *testing.T) {
		f := newCoordinatorFixture(def, nil, draftExpense())
		_, err := f.coordinator.Submit(context.Background(), "exp-1")
		require.NoError(t, err)
		f.decideAs(t, "alice", entity.DecisionApprove)

		err = f.coordinator.Withdraw(context.Background(), "exp-1", "emp-1")
		assert.True(t, errors.Is(err, ErrNotWithdrawable))
		assert.Equal(t, entity.ExpenseStatusPending, f.expenseStatus(t))
	})
}

func TestCoordinator_DecideUnauthorized(t *testing.T) {
	def := &entity.WorkflowDefinition{
		ID:        "def-1",
		CompanyID: "co-1",
		Steps:     []entity.Step{usersStep(1, "alice")},
	}
	f := newCoordinatorFixture(def, nil, draftExpense())
	_, err := f.coordinator.Submit(context.Background(), "exp-1")
	require.NoError(t, err)

	task := f.tasks.openTaskFor("exp-1", "alice")
	require.NotNil(t, task)

	_, err = f.coordinator.Decide(context.Background(), task.ID, "mallory", entity.DecisionApprove, "")
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, entity.ExpenseStatusPending, f.expenseStatus(t))
}

func TestCoordinator_FinalizeRaceIsIdempotent(t *testing.T) {
	def := &entity.WorkflowDefinition{
		ID:        "def-1",
		CompanyID: "co-1",
		Steps:     []entity.Step{usersStep(1, "alice")},
	}
	f := newCoordinatorFixture(def, nil, draftExpense())
	_, err := f.coordinator.Submit(context.Background(), "exp-1")
	require.NoError(t, err)

	// Another writer finalizes between the evaluation and our compare-and-swap.
	f.expenses.finalizeStatusFunc = func(ctx context.Context, id, toStatus string, at time.Time) (bool, error) {
		f.expenses.finalizeStatusFunc = nil
		won, err := f.expenses.FinalizeStatus(ctx, id, toStatus, at)
		require.NoError(t, err)
		require.True(t, won)
		return false, nil
	}

	status := f.decideAs(t, "alice", entity.DecisionApprove)
	assert.Equal(t, entity.ExpenseStatusApproved, status)
}

func TestCoordinator_PublishDefinition(t *testing.T) {
	created := make(map[string]*entity.WorkflowDefinition)
	workflows := &mockWorkflowRepo{
		createFunc: func(ctx context.Context, def *entity.WorkflowDefinition) error {
			created[def.ID] = def
			return nil
		},
	}
	logger := zap.NewNop()
	c := NewCoordinator(newMemExpenseRepo(), workflows, NewLedger(newMemTaskRepo(), logger),
		NewSequencer(&mockDirectory{}, time.Second, logger), nopTxManager{}, &recordingDispatcher{}, logger)

	def := &entity.WorkflowDefinition{
		CompanyID: "co-1",
		Name:      "default approval chain",
		Steps:     []entity.Step{usersStep(1, "alice"), usersStep(2, "bob")},
	}
	require.NoError(t, c.PublishDefinition(context.Background(), def))
	assert.NotEmpty(t, def.ID)
	for _, step := range def.Steps {
		assert.NotEmpty(t, step.ID)
		assert.Equal(t, def.ID, step.DefinitionID)
	}
	assert.Len(t, created, 1)

	bad := &entity.WorkflowDefinition{CompanyID: "co-1"}
	err := c.PublishDefinition(context.Background(), bad)
	assert.True(t, errors.Is(err, entity.ErrNoSteps))
}
