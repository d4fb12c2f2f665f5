// Package directory resolves assignee selectors against the organization's
// user records. Resolution happens when a step opens, never at submission
// time, so reporting-line and role changes are picked up between steps.
package directory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/domain/entity"
	"github.com/amitjoshi/expenseflow/internal/engine"
)

// UserLookup is the read-only view of the user store the directory needs.
type UserLookup interface {
	GetByID(ctx context.Context, id entity.UserID) (*entity.User, error)
	ListByIDs(ctx context.Context, ids []entity.UserID) ([]*entity.User, error)
	ListByRole(ctx context.Context, companyID, role string) ([]*entity.User, error)
}

// Directory implements engine.Directory over the users table. Lookup
// failures are wrapped as transient so callers know a retry may succeed.
type Directory struct {
	users  UserLookup
	logger *zap.Logger
}

// New creates a new directory service.
func New(users UserLookup, logger *zap.Logger) *Directory {
	return &Directory{
		users:  users,
		logger: logger,
	}
}

// ResolveAssignees resolves a selector to concrete user ids for the
// expense's company. An empty result is legitimate, not an error: a listed
// user who left, a role nobody holds, or a submitter without a manager.
func (d *Directory) ResolveAssignees(ctx context.Context, selector entity.AssigneeSelector, expense *entity.Expense) ([]entity.UserID, error) {
	switch selector.Type {
	case entity.AssigneeTypeUsers:
		return d.resolveUsers(ctx, selector.UserIDs, expense.CompanyID)
	case entity.AssigneeTypeRole:
		return d.resolveRole(ctx, expense.CompanyID, selector.Role)
	case entity.AssigneeTypeManagerOfSubmitter:
		return d.resolveManager(ctx, expense.EmployeeID)
	default:
		return nil, fmt.Errorf("%w: %q", entity.ErrUnknownAssignee, selector.Type)
	}
}

// resolveUsers keeps only the listed users that still exist in the
// expense's company.
func (d *Directory) resolveUsers(ctx context.Context, ids []entity.UserID, companyID string) ([]entity.UserID, error) {
	users, err := d.users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrDirectoryUnavailable, err)
	}

	known := make(map[entity.UserID]bool, len(users))
	for _, u := range users {
		if u.CompanyID == companyID {
			known[u.ID] = true
		}
	}

	// Preserve the selector's order.
	var resolved []entity.UserID
	for _, id := range ids {
		if known[id] {
			resolved = append(resolved, id)
		}
	}
	if len(resolved) < len(ids) {
		d.logger.Warn("Some listed assignees no longer resolve",
			zap.Int("requested", len(ids)),
			zap.Int("resolved", len(resolved)))
	}
	return resolved, nil
}

func (d *Directory) resolveRole(ctx context.Context, companyID, role string) ([]entity.UserID, error) {
	users, err := d.users.ListByRole(ctx, companyID, role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrDirectoryUnavailable, err)
	}

	ids := make([]entity.UserID, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (d *Directory) resolveManager(ctx context.Context, employeeID entity.UserID) ([]entity.UserID, error) {
	manager, ok, err := d.ManagerOf(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return []entity.UserID{manager}, nil
}

// ManagerOf returns the user's direct supervisor, if any.
func (d *Directory) ManagerOf(ctx context.Context, userID entity.UserID) (entity.UserID, bool, error) {
	user, err := d.users.GetByID(ctx, userID)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", engine.ErrDirectoryUnavailable, err)
	}
	if user == nil || !user.HasManager() {
		return "", false, nil
	}
	return *user.ManagerID, true, nil
}
