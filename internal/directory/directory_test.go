package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/domain/entity"
	"github.com/amitjoshi/expenseflow/internal/engine"
)

type fakeUserLookup struct {
	users map[entity.UserID]*entity.User
	err   error
}

func (f *fakeUserLookup) GetByID(ctx context.Context, id entity.UserID) (*entity.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.users[id], nil
}

func (f *fakeUserLookup) ListByIDs(ctx context.Context, ids []entity.UserID) ([]*entity.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*entity.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeUserLookup) ListByRole(ctx context.Context, companyID, role string) ([]*entity.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*entity.User
	for _, u := range f.users {
		if u.CompanyID == companyID && u.Role == role {
			out = append(out, u)
		}
	}
	return out, nil
}

func lookupWith(users ...*entity.User) *fakeUserLookup {
	f := &fakeUserLookup{users: make(map[entity.UserID]*entity.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func companyExpense(employee entity.UserID) *entity.Expense {
	return &entity.Expense{ID: "exp-1", CompanyID: "co-1", EmployeeID: employee}
}

func TestResolveAssignees_Users(t *testing.T) {
	lookup := lookupWith(
		&entity.User{ID: "alice", CompanyID: "co-1"},
		&entity.User{ID: "bob", CompanyID: "co-2"},
	)
	d := New(lookup, zap.NewNop())

	selector := entity.AssigneeSelector{
		Type:    entity.AssigneeTypeUsers,
		UserIDs: []entity.UserID{"alice", "bob", "ghost"},
	}
	ids, err := d.ResolveAssignees(context.Background(), selector, companyExpense("emp-1"))
	require.NoError(t, err)
	// bob belongs to another company, ghost does not exist.
	assert.Equal(t, []entity.UserID{"alice"}, ids)
}

func TestResolveAssignees_Role(t *testing.T) {
	lookup := lookupWith(
		&entity.User{ID: "fin-1", CompanyID: "co-1", Role: entity.RoleManager},
		&entity.User{ID: "fin-2", CompanyID: "co-1", Role: entity.RoleManager},
		&entity.User{ID: "emp-1", CompanyID: "co-1", Role: entity.RoleEmployee},
	)
	d := New(lookup, zap.NewNop())

	selector := entity.AssigneeSelector{Type: entity.AssigneeTypeRole, Role: entity.RoleManager}
	ids, err := d.ResolveAssignees(context.Background(), selector, companyExpense("emp-1"))
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.NotContains(t, ids, entity.UserID("emp-1"))
}

func TestResolveAssignees_ManagerOfSubmitter(t *testing.T) {
	mgr := entity.UserID("mgr-1")
	lookup := lookupWith(
		&entity.User{ID: "emp-1", CompanyID: "co-1", ManagerID: &mgr},
		&entity.User{ID: "orphan", CompanyID: "co-1"},
	)
	d := New(lookup, zap.NewNop())

	selector := entity.AssigneeSelector{Type: entity.AssigneeTypeManagerOfSubmitter}

	ids, err := d.ResolveAssignees(context.Background(), selector, companyExpense("emp-1"))
	require.NoError(t, err)
	assert.Equal(t, []entity.UserID{"mgr-1"}, ids)

	// No manager on record resolves to nobody, not an error.
	ids, err = d.ResolveAssignees(context.Background(), selector, companyExpense("orphan"))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestResolveAssignees_LookupFailureIsTransient(t *testing.T) {
	d := New(&fakeUserLookup{err: errors.New("db locked")}, zap.NewNop())

	selector := entity.AssigneeSelector{Type: entity.AssigneeTypeRole, Role: entity.RoleManager}
	_, err := d.ResolveAssignees(context.Background(), selector, companyExpense("emp-1"))
	assert.True(t, errors.Is(err, engine.ErrDirectoryUnavailable))
	assert.True(t, engine.IsTransient(err))
}

func TestResolveAssignees_UnknownSelector(t *testing.T) {
	d := New(lookupWith(), zap.NewNop())

	_, err := d.ResolveAssignees(context.Background(),
		entity.AssigneeSelector{Type: "GROUP"}, companyExpense("emp-1"))
	assert.True(t, errors.Is(err, entity.ErrUnknownAssignee))
}
