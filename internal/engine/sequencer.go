package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/domain/entity"
	"github.com/amitjoshi/expenseflow/internal/domain/rule"
)

// NextAction tells the coordinator what to do after a scope evaluation.
type NextAction int

const (
	// ActionWait: the current scope is still pending, nothing to do.
	ActionWait NextAction = iota
	// ActionOpenNext: the current step is satisfied and a later step exists.
	ActionOpenNext
	// ActionApprove: the final scope is satisfied, finalize the expense.
	ActionApprove
	// ActionReject: the scope failed, finalize the expense as rejected.
	ActionReject
)

// Advance is the sequencer's verdict after a decision lands. AfterOrder is
// the step order the next scope must open beyond (ActionOpenNext only).
type Advance struct {
	Action     NextAction
	AfterOrder int
}

// Sequencer walks a definition's ordered steps, resolving assignees against
// the directory at the moment a step opens so organizational changes between
// steps are honored.
type Sequencer struct {
	directory Directory
	timeout   time.Duration
	logger    *zap.Logger
}

// NewSequencer creates a new step sequencer. The timeout bounds every
// directory lookup.
func NewSequencer(directory Directory, timeout time.Duration, logger *zap.Logger) *Sequencer {
	return &Sequencer{
		directory: directory,
		timeout:   timeout,
		logger:    logger,
	}
}

// OpenScope resolves the next evaluation scope for the expense.
//
// A definition with a conditional rule evaluates flat: every step's assignees
// are merged in step order into one scope that opens at once. Without a rule
// the workflow is strictly sequential: the scope is the first step beyond
// afterOrder that resolves to at least one assignee; steps resolving to
// nobody are satisfied immediately and skipped.
//
// exhausted is true when no step beyond afterOrder yields any assignee, which
// means the remaining workflow auto-satisfies.
func (s *Sequencer) OpenScope(ctx context.Context, def *entity.WorkflowDefinition, expense *entity.Expense, afterOrder int) (assignments []Assignment, exhausted bool, err error) {
	if def.IsFlat() {
		return s.openFlat(ctx, def, expense)
	}
	return s.openSequential(ctx, def, expense, afterOrder)
}

func (s *Sequencer) openFlat(ctx context.Context, def *entity.WorkflowDefinition, expense *entity.Expense) ([]Assignment, bool, error) {
	seen := make(map[entity.UserID]bool)
	var assignments []Assignment

	for _, step := range def.Steps {
		ids, err := s.resolveStep(ctx, step, expense)
		if err != nil {
			return nil, false, err
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			assignments = append(assignments, Assignment{StepOrder: step.Order, AssigneeID: id})
		}
	}

	return assignments, len(assignments) == 0, nil
}

func (s *Sequencer) openSequential(ctx context.Context, def *entity.WorkflowDefinition, expense *entity.Expense, afterOrder int) ([]Assignment, bool, error) {
	for _, step := range def.Steps {
		if step.Order <= afterOrder {
			continue
		}

		ids, err := s.resolveStep(ctx, step, expense)
		if err != nil {
			return nil, false, err
		}
		if len(ids) == 0 {
			// Nobody to ask: the step is satisfied immediately.
			s.logger.Info("Step resolved to no assignees, auto-skipping",
				zap.String("expense_id", expense.ID),
				zap.Int("step_order", step.Order))
			continue
		}

		assignments := make([]Assignment, 0, len(ids))
		for _, id := range ids {
			assignments = append(assignments, Assignment{StepOrder: step.Order, AssigneeID: id})
		}
		return assignments, false, nil
	}

	return nil, true, nil
}

// resolveStep resolves one step's assignees, deduplicated, order preserved.
func (s *Sequencer) resolveStep(ctx context.Context, step entity.Step, expense *entity.Expense) ([]entity.UserID, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ids, err := s.directory.ResolveAssignees(ctx, step.Assignee, expense)
	if err != nil {
		return nil, fmt.Errorf("resolve step %d: %w", step.Order, err)
	}

	seen := make(map[entity.UserID]bool, len(ids))
	deduped := ids[:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		deduped = append(deduped, id)
	}
	return deduped, nil
}

// Evaluate runs the governing rule over the expense's current scope and maps
// the outcome onto the next action.
func (s *Sequencer) Evaluate(def *entity.WorkflowDefinition, tasks []*entity.ApprovalTask) Advance {
	if def.IsFlat() {
		return mapOutcome(rule.Evaluate(def.Rule, tasks), 0, nil)
	}

	current := currentStepOrder(tasks)
	if current == 0 {
		// Every step auto-skipped; nothing was ever asked of anyone.
		return Advance{Action: ActionApprove}
	}

	scope := tasksForStep(tasks, current)
	return mapOutcome(rule.Evaluate(nil, scope), current, def.StepAfter(current))
}

func mapOutcome(outcome rule.Outcome, current int, next *entity.Step) Advance {
	switch outcome {
	case rule.OutcomeFailed:
		return Advance{Action: ActionReject}
	case rule.OutcomeSatisfied:
		if next != nil {
			return Advance{Action: ActionOpenNext, AfterOrder: current}
		}
		return Advance{Action: ActionApprove}
	default:
		return Advance{Action: ActionWait}
	}
}

// currentStepOrder returns the highest step order any task was opened for.
func currentStepOrder(tasks []*entity.ApprovalTask) int {
	max := 0
	for _, t := range tasks {
		if t.StepOrder > max {
			max = t.StepOrder
		}
	}
	return max
}

func tasksForStep(tasks []*entity.ApprovalTask, order int) []*entity.ApprovalTask {
	var scope []*entity.ApprovalTask
	for _, t := range tasks {
		if t.StepOrder == order {
			scope = append(scope, t)
		}
	}
	return scope
}
