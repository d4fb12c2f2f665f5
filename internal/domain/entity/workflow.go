package entity

import (
	"errors"
	"fmt"
	"time"
)

// Assignee selector type constants
const (
	AssigneeTypeUsers              = "USERS"
	AssigneeTypeRole               = "ROLE"
	AssigneeTypeManagerOfSubmitter = "MANAGER_OF_SUBMITTER"
)

// Conditional rule type constants
const (
	RuleTypePercentage       = "PERCENTAGE"
	RuleTypeSpecificApprover = "SPECIFIC_APPROVER"
	RuleTypeHybrid           = "HYBRID"
)

// Hybrid rule operator constants
const (
	RuleOperatorOr  = "OR"
	RuleOperatorAnd = "AND"
)

// Validation errors for workflow definitions
var (
	ErrNoSteps         = errors.New("workflow definition has no steps")
	ErrStepOrder       = errors.New("step orders must be strictly increasing")
	ErrEmptyAssignees  = errors.New("explicit assignee selector has no user ids")
	ErrEmptyRole       = errors.New("role selector has no role name")
	ErrBadThreshold    = errors.New("percentage threshold must be in (0,100]")
	ErrNoApprovers     = errors.New("specific-approver rule has no approver ids")
	ErrBadRuleOperator = errors.New("hybrid operator must be OR or AND")
	ErrUnknownRuleType = errors.New("unknown conditional rule type")
	ErrUnknownAssignee = errors.New("unknown assignee selector type")
)

// AssigneeSelector describes how a step's approvers are resolved. Resolution
// happens against the directory when the step opens, not at submission time.
type AssigneeSelector struct {
	Type    string   `json:"type"`
	UserIDs []UserID `json:"user_ids,omitempty"`
	Role    string   `json:"role,omitempty"`
}

// Validate checks the selector is well formed.
func (s AssigneeSelector) Validate() error {
	switch s.Type {
	case AssigneeTypeUsers:
		if len(s.UserIDs) == 0 {
			return ErrEmptyAssignees
		}
	case AssigneeTypeRole:
		if s.Role == "" {
			return ErrEmptyRole
		}
	case AssigneeTypeManagerOfSubmitter:
		// Resolved per expense; may legitimately resolve to nobody.
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAssignee, s.Type)
	}
	return nil
}

// Step is one stage of a workflow definition with its own assignee set.
type Step struct {
	ID           string           `json:"id"`
	DefinitionID string           `json:"definition_id"`
	Order        int              `json:"order"`
	Assignee     AssigneeSelector `json:"assignee"`
	CreatedAt    time.Time        `json:"created_at"`
}

// ConditionalRule aggregates decisions into a single verdict. When set on a
// definition, all steps are opened together and the rule is evaluated over
// the union of their tasks; when absent the workflow is strictly sequential.
type ConditionalRule struct {
	Type         string   `json:"type"`
	ThresholdPct float64  `json:"threshold_pct,omitempty"`
	ApproverIDs  []UserID `json:"approver_ids,omitempty"`
	Operator     string   `json:"operator,omitempty"`
}

// Validate checks the rule is well formed. Malformed rules are rejected
// before any workflow state changes.
func (r *ConditionalRule) Validate() error {
	switch r.Type {
	case RuleTypePercentage:
		return r.validateThreshold()
	case RuleTypeSpecificApprover:
		return r.validateApprovers()
	case RuleTypeHybrid:
		if r.Operator != RuleOperatorOr && r.Operator != RuleOperatorAnd {
			return fmt.Errorf("%w: %q", ErrBadRuleOperator, r.Operator)
		}
		if err := r.validateThreshold(); err != nil {
			return err
		}
		return r.validateApprovers()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRuleType, r.Type)
	}
}

func (r *ConditionalRule) validateThreshold() error {
	if r.ThresholdPct <= 0 || r.ThresholdPct > 100 {
		return fmt.Errorf("%w: %.2f", ErrBadThreshold, r.ThresholdPct)
	}
	return nil
}

func (r *ConditionalRule) validateApprovers() error {
	if len(r.ApproverIDs) == 0 {
		return ErrNoApprovers
	}
	return nil
}

// IsApprover returns true if the given user is listed on the rule.
func (r *ConditionalRule) IsApprover(id UserID) bool {
	for _, a := range r.ApproverIDs {
		if a == id {
			return true
		}
	}
	return false
}

// WorkflowDefinition is an immutable-after-publish approval template owned
// by a company. At most one definition is active per company at a time.
type WorkflowDefinition struct {
	ID        string           `json:"id"`
	CompanyID string           `json:"company_id"`
	Name      string           `json:"name"`
	Steps     []Step           `json:"steps"`
	Rule      *ConditionalRule `json:"rule,omitempty"`
	IsActive  bool             `json:"is_active"`
	CreatedBy UserID           `json:"created_by"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Validate checks the definition: at least one step, strictly increasing
// step orders, well-formed selectors and rule.
func (d *WorkflowDefinition) Validate() error {
	if len(d.Steps) == 0 {
		return ErrNoSteps
	}
	prev := 0
	for _, step := range d.Steps {
		if step.Order <= prev {
			return fmt.Errorf("%w: step %d follows %d", ErrStepOrder, step.Order, prev)
		}
		prev = step.Order
		if err := step.Assignee.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", step.Order, err)
		}
	}
	if d.Rule != nil {
		return d.Rule.Validate()
	}
	return nil
}

// IsFlat reports whether the definition evaluates as a single merged scope.
// Presence of a conditional rule implies flat evaluation across all steps.
func (d *WorkflowDefinition) IsFlat() bool {
	return d.Rule != nil
}

// StepAfter returns the first step with order greater than the given order,
// or nil when none remains.
func (d *WorkflowDefinition) StepAfter(order int) *Step {
	for i := range d.Steps {
		if d.Steps[i].Order > order {
			return &d.Steps[i]
		}
	}
	return nil
}

// FirstStep returns the lowest-order step, or nil for an empty definition.
func (d *WorkflowDefinition) FirstStep() *Step {
	if len(d.Steps) == 0 {
		return nil
	}
	return &d.Steps[0]
}
