package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/domain/entity"
	"github.com/amitjoshi/expenseflow/pkg/database"
)

// UserRepository serves the read-only user views the directory and HTTP
// layer need. User lifecycle management lives outside this service.
type UserRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

const userColumns = "id, company_id, name, email, role, manager_id, created_at"

// GetByID returns the user, or (nil, nil) when they do not exist.
func (r *UserRepository) GetByID(ctx context.Context, id entity.UserID) (*entity.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = ?"

	user, err := scanUser(r.db.Executor(ctx).QueryRowContext(ctx, query, string(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get user", zap.String("id", string(id)), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListByIDs returns the users that exist among the given ids, in the order
// the database yields them.
func (r *UserRepository) ListByIDs(ctx context.Context, ids []entity.UserID) ([]*entity.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := "SELECT " + userColumns + " FROM users WHERE id IN (?" +
		repeatPlaceholder(len(ids)-1) + ")"
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}

	return r.queryUsers(ctx, query, args...)
}

// ListByRole returns the company's users holding the given role.
func (r *UserRepository) ListByRole(ctx context.Context, companyID, role string) ([]*entity.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE company_id = ? AND role = ? ORDER BY id"
	return r.queryUsers(ctx, query, companyID, role)
}

func (r *UserRepository) queryUsers(ctx context.Context, query string, args ...interface{}) ([]*entity.User, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list users", zap.Error(err))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*entity.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func scanUser(row rowScanner) (*entity.User, error) {
	var u entity.User
	var id string
	var managerID sql.NullString

	err := row.Scan(&id, &u.CompanyID, &u.Name, &u.Email, &u.Role, &managerID, &u.CreatedAt)
	if err != nil {
		return nil, err
	}

	u.ID = entity.UserID(id)
	if managerID.Valid && managerID.String != "" {
		mid := entity.UserID(managerID.String)
		u.ManagerID = &mid
	}
	return &u, nil
}

func repeatPlaceholder(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		out = append(out, ", ?"...)
	}
	return string(out)
}
