package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/domain/entity"
	"github.com/amitjoshi/expenseflow/pkg/database"
)

// WorkflowRepository implements engine.WorkflowRepository on SQLite. The
// conditional rule and per-step assignee id lists are stored as JSON.
type WorkflowRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow definition repository
func NewWorkflowRepository(db *database.DB, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a definition and its steps in one transaction.
func (r *WorkflowRepository) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		ruleJSON, err := marshalRule(def.Rule)
		if err != nil {
			return err
		}

		query := `
			INSERT INTO workflow_definitions (
				id, company_id, name, rule_json, is_active, created_by, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = r.db.Executor(ctx).ExecContext(ctx, query,
			def.ID, def.CompanyID, def.Name, ruleJSON, def.IsActive,
			string(def.CreatedBy), def.CreatedAt, def.UpdatedAt)
		if err != nil {
			r.logger.Error("Failed to create workflow definition", zap.String("id", def.ID), zap.Error(err))
			return fmt.Errorf("failed to create workflow definition: %w", err)
		}

		stepQuery := `
			INSERT INTO workflow_steps (
				id, definition_id, step_order, assignee_type, assignee_user_ids, assignee_role, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		for _, step := range def.Steps {
			userIDs, err := marshalUserIDs(step.Assignee.UserIDs)
			if err != nil {
				return err
			}
			_, err = r.db.Executor(ctx).ExecContext(ctx, stepQuery,
				step.ID, def.ID, step.Order, step.Assignee.Type,
				userIDs, nullString(step.Assignee.Role), step.CreatedAt)
			if err != nil {
				r.logger.Error("Failed to create workflow step",
					zap.String("definition_id", def.ID), zap.Int("order", step.Order), zap.Error(err))
				return fmt.Errorf("failed to create workflow step: %w", err)
			}
		}
		return nil
	})
}

// GetByID returns the definition with its steps, or (nil, nil) when it does
// not exist.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	query := `
		SELECT id, company_id, name, rule_json, is_active, created_by, created_at, updated_at
		FROM workflow_definitions WHERE id = ?
	`
	return r.getOne(ctx, query, id)
}

// GetActiveByCompany returns the company's single active definition, or
// (nil, nil) when none is active.
func (r *WorkflowRepository) GetActiveByCompany(ctx context.Context, companyID string) (*entity.WorkflowDefinition, error) {
	query := `
		SELECT id, company_id, name, rule_json, is_active, created_by, created_at, updated_at
		FROM workflow_definitions WHERE company_id = ? AND is_active = 1
	`
	return r.getOne(ctx, query, companyID)
}

// Activate marks the definition active and deactivates every other
// definition of the company, atomically.
func (r *WorkflowRepository) Activate(ctx context.Context, companyID, definitionID string) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		ex := r.db.Executor(ctx)
		if _, err := ex.ExecContext(ctx,
			"UPDATE workflow_definitions SET is_active = 0 WHERE company_id = ?", companyID); err != nil {
			return fmt.Errorf("failed to deactivate definitions: %w", err)
		}

		result, err := ex.ExecContext(ctx,
			"UPDATE workflow_definitions SET is_active = 1 WHERE id = ? AND company_id = ?",
			definitionID, companyID)
		if err != nil {
			return fmt.Errorf("failed to activate definition: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("definition %s not found for company %s", definitionID, companyID)
		}

		r.logger.Info("Workflow definition activated",
			zap.String("definition_id", definitionID), zap.String("company_id", companyID))
		return nil
	})
}

// ListByCompany returns all of a company's definitions with steps, newest
// first.
func (r *WorkflowRepository) ListByCompany(ctx context.Context, companyID string) ([]*entity.WorkflowDefinition, error) {
	query := `
		SELECT id, company_id, name, rule_json, is_active, created_by, created_at, updated_at
		FROM workflow_definitions
		WHERE company_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, companyID)
	if err != nil {
		r.logger.Error("Failed to list workflow definitions", zap.String("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to list workflow definitions: %w", err)
	}
	defer rows.Close()

	var defs []*entity.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, def := range defs {
		if def.Steps, err = r.loadSteps(ctx, def.ID); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

func (r *WorkflowRepository) getOne(ctx context.Context, query string, arg interface{}) (*entity.WorkflowDefinition, error) {
	def, err := scanDefinition(r.db.Executor(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get workflow definition", zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow definition: %w", err)
	}

	if def.Steps, err = r.loadSteps(ctx, def.ID); err != nil {
		return nil, err
	}
	return def, nil
}

func (r *WorkflowRepository) loadSteps(ctx context.Context, definitionID string) ([]entity.Step, error) {
	query := `
		SELECT id, definition_id, step_order, assignee_type, assignee_user_ids, assignee_role, created_at
		FROM workflow_steps
		WHERE definition_id = ?
		ORDER BY step_order
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow steps: %w", err)
	}
	defer rows.Close()

	var steps []entity.Step
	for rows.Next() {
		var step entity.Step
		var userIDs, role sql.NullString

		err := rows.Scan(&step.ID, &step.DefinitionID, &step.Order,
			&step.Assignee.Type, &userIDs, &role, &step.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow step: %w", err)
		}

		if userIDs.Valid && userIDs.String != "" {
			if err := json.Unmarshal([]byte(userIDs.String), &step.Assignee.UserIDs); err != nil {
				return nil, fmt.Errorf("failed to decode step assignees: %w", err)
			}
		}
		step.Assignee.Role = role.String
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func scanDefinition(row rowScanner) (*entity.WorkflowDefinition, error) {
	var def entity.WorkflowDefinition
	var ruleJSON sql.NullString
	var createdBy string

	err := row.Scan(&def.ID, &def.CompanyID, &def.Name, &ruleJSON,
		&def.IsActive, &createdBy, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}

	def.CreatedBy = entity.UserID(createdBy)
	if ruleJSON.Valid && ruleJSON.String != "" {
		var rule entity.ConditionalRule
		if err := json.Unmarshal([]byte(ruleJSON.String), &rule); err != nil {
			return nil, fmt.Errorf("failed to decode conditional rule: %w", err)
		}
		def.Rule = &rule
	}
	return &def, nil
}

func marshalRule(rule *entity.ConditionalRule) (sql.NullString, error) {
	if rule == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(rule)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode conditional rule: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func marshalUserIDs(ids []entity.UserID) (sql.NullString, error) {
	if len(ids) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode assignee ids: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
