package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/amitjoshi/expenseflow/internal/dispatcher"
	"github.com/amitjoshi/expenseflow/internal/domain/entity"
	"github.com/amitjoshi/expenseflow/internal/domain/event"
)

// In-memory expense repository with the same compare-and-swap semantics as
// the SQLite implementation.
type memExpenseRepo struct {
	mu       sync.Mutex
	expenses map[string]*entity.Expense

	markSubmittedFunc  func(ctx context.Context, id, definitionID string, at time.Time) (bool, error)
	finalizeStatusFunc func(ctx context.Context, id, toStatus string, at time.Time) (bool, error)
}

func newMemExpenseRepo(expenses ...*entity.Expense) *memExpenseRepo {
	r := &memExpenseRepo{expenses: make(map[string]*entity.Expense)}
	for _, e := range expenses {
		cp := *e
		r.expenses[e.ID] = &cp
	}
	return r
}

func (r *memExpenseRepo) Create(ctx context.Context, expense *entity.Expense) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *expense
	r.expenses[expense.ID] = &cp
	return nil
}

func (r *memExpenseRepo) GetByID(ctx context.Context, id string) (*entity.Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.expenses[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *memExpenseRepo) MarkSubmitted(ctx context.Context, id, definitionID string, at time.Time) (bool, error) {
	if r.markSubmittedFunc != nil {
		return r.markSubmittedFunc(ctx, id, definitionID, at)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.expenses[id]
	if !ok || e.Status != entity.ExpenseStatusDraft {
		return false, nil
	}
	e.Status = entity.ExpenseStatusPending
	e.WorkflowDefinitionID = definitionID
	e.SubmittedAt = &at
	return true, nil
}

func (r *memExpenseRepo) FinalizeStatus(ctx context.Context, id, toStatus string, at time.Time) (bool, error) {
	if r.finalizeStatusFunc != nil {
		return r.finalizeStatusFunc(ctx, id, toStatus, at)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.expenses[id]
	if !ok || e.Status != entity.ExpenseStatusPending {
		return false, nil
	}
	e.Status = toStatus
	e.FinalizedAt = &at
	return true, nil
}

func (r *memExpenseRepo) ListByEmployee(ctx context.Context, employeeID entity.UserID, limit, offset int) ([]*entity.Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Expense
	for _, e := range r.expenses {
		if e.EmployeeID == employeeID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// In-memory task repository. Decide and CloseOpenAsMoot mirror the SQLite
// compare-and-swap on status = OPEN.
type memTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*entity.ApprovalTask

	decideFunc func(ctx context.Context, id, status, decision, comment string, at time.Time) (bool, error)
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{tasks: make(map[string]*entity.ApprovalTask)}
}

func (r *memTaskRepo) CreateBatch(ctx context.Context, tasks []*entity.ApprovalTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tasks {
		cp := *t
		r.tasks[t.ID] = &cp
	}
	return nil
}

func (r *memTaskRepo) GetByID(ctx context.Context, id string) (*entity.ApprovalTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *memTaskRepo) Decide(ctx context.Context, id, status, decision, comment string, at time.Time) (bool, error) {
	if r.decideFunc != nil {
		return r.decideFunc(ctx, id, status, decision, comment, at)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != entity.TaskStatusOpen {
		return false, nil
	}
	t.Status = status
	t.Decision = decision
	t.Comment = comment
	t.DecidedAt = &at
	return true, nil
}

func (r *memTaskRepo) ListByExpense(ctx context.Context, expenseID string) ([]*entity.ApprovalTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.ApprovalTask
	for _, t := range r.tasks {
		if t.ExpenseID == expenseID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memTaskRepo) ListOpenByAssignee(ctx context.Context, assigneeID entity.UserID) ([]*entity.ApprovalTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.ApprovalTask
	for _, t := range r.tasks {
		if t.AssigneeID == assigneeID && t.Status == entity.TaskStatusOpen {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memTaskRepo) CloseOpenAsMoot(ctx context.Context, expenseID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.tasks {
		if t.ExpenseID == expenseID && t.Status == entity.TaskStatusOpen {
			t.Status = entity.TaskStatusMoot
			n++
		}
	}
	return n, nil
}

// openTaskFor finds the single open task for an assignee on an expense.
func (r *memTaskRepo) openTaskFor(expenseID string, assigneeID entity.UserID) *entity.ApprovalTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.ExpenseID == expenseID && t.AssigneeID == assigneeID && t.Status == entity.TaskStatusOpen {
			cp := *t
			return &cp
		}
	}
	return nil
}

type mockWorkflowRepo struct {
	createFunc             func(ctx context.Context, def *entity.WorkflowDefinition) error
	getByIDFunc            func(ctx context.Context, id string) (*entity.WorkflowDefinition, error)
	getActiveByCompanyFunc func(ctx context.Context, companyID string) (*entity.WorkflowDefinition, error)
	activateFunc           func(ctx context.Context, companyID, definitionID string) error
	listByCompanyFunc      func(ctx context.Context, companyID string) ([]*entity.WorkflowDefinition, error)
}

func (m *mockWorkflowRepo) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, def)
	}
	return nil
}

func (m *mockWorkflowRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockWorkflowRepo) GetActiveByCompany(ctx context.Context, companyID string) (*entity.WorkflowDefinition, error) {
	if m.getActiveByCompanyFunc != nil {
		return m.getActiveByCompanyFunc(ctx, companyID)
	}
	return nil, nil
}

func (m *mockWorkflowRepo) Activate(ctx context.Context, companyID, definitionID string) error {
	if m.activateFunc != nil {
		return m.activateFunc(ctx, companyID, definitionID)
	}
	return nil
}

func (m *mockWorkflowRepo) ListByCompany(ctx context.Context, companyID string) ([]*entity.WorkflowDefinition, error) {
	if m.listByCompanyFunc != nil {
		return m.listByCompanyFunc(ctx, companyID)
	}
	return nil, nil
}

// singleDefinitionRepo serves one definition as both the active and the
// snapshotted one, which is what most workflow scenarios need.
func singleDefinitionRepo(def *entity.WorkflowDefinition) *mockWorkflowRepo {
	return &mockWorkflowRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
			if id == def.ID {
				return def, nil
			}
			return nil, nil
		},
		getActiveByCompanyFunc: func(ctx context.Context, companyID string) (*entity.WorkflowDefinition, error) {
			if companyID == def.CompanyID {
				return def, nil
			}
			return nil, nil
		},
	}
}

// mockDirectory resolves USERS selectors from the selector itself, ROLE
// selectors from the roles map and manager selectors from the managers map.
type mockDirectory struct {
	roles    map[string][]entity.UserID
	managers map[entity.UserID]entity.UserID

	resolveFunc func(ctx context.Context, selector entity.AssigneeSelector, expense *entity.Expense) ([]entity.UserID, error)
}

func (m *mockDirectory) ResolveAssignees(ctx context.Context, selector entity.AssigneeSelector, expense *entity.Expense) ([]entity.UserID, error) {
	if m.resolveFunc != nil {
		return m.resolveFunc(ctx, selector, expense)
	}
	switch selector.Type {
	case entity.AssigneeTypeUsers:
		return selector.UserIDs, nil
	case entity.AssigneeTypeRole:
		return m.roles[selector.Role], nil
	case entity.AssigneeTypeManagerOfSubmitter:
		if mgr, ok := m.managers[expense.EmployeeID]; ok {
			return []entity.UserID{mgr}, nil
		}
		return nil, nil
	}
	return nil, nil
}

func (m *mockDirectory) ManagerOf(ctx context.Context, userID entity.UserID) (entity.UserID, bool, error) {
	mgr, ok := m.managers[userID]
	return mgr, ok, nil
}

// nopTxManager runs the function directly; the in-memory repositories have
// no transactional state to manage.
type nopTxManager struct{}

func (nopTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// recordingDispatcher captures dispatched events for assertions.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (d *recordingDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}
func (d *recordingDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.record(evt)
	return nil
}

func (d *recordingDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.record(evt)
}

func (d *recordingDispatcher) Close() error { return nil }

func (d *recordingDispatcher) record(evt *event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
}

func (d *recordingDispatcher) typesSeen() map[event.Type]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[event.Type]int)
	for _, e := range d.events {
		seen[e.Type]++
	}
	return seen
}
