// Package rule aggregates approval decisions into a single verdict.
// Evaluation is pure: no I/O, no clock, only the rule and the tasks in scope.
package rule

import "github.com/amitjoshi/expenseflow/internal/domain/entity"

// Outcome is the verdict of evaluating a rule over a task scope.
type Outcome string

const (
	OutcomeSatisfied Outcome = "SATISFIED"
	OutcomePending   Outcome = "PENDING"
	OutcomeFailed    Outcome = "FAILED"
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	return string(o)
}

// tally counts tasks by status. Moot tasks are excluded everywhere: they were
// closed administratively and never count toward a rule.
type tally struct {
	total    int
	approved int
	rejected int
	open     int
}

func count(tasks []*entity.ApprovalTask) tally {
	var t tally
	for _, task := range tasks {
		switch task.Status {
		case entity.TaskStatusOpen:
			t.open++
		case entity.TaskStatusApproved:
			t.approved++
		case entity.TaskStatusRejected:
			t.rejected++
		case entity.TaskStatusMoot:
			continue
		default:
			continue
		}
		t.total++
	}
	return t
}

// Evaluate returns the verdict for the given rule over the tasks in scope.
// A nil rule means unanimous sequential approval: every task must approve and
// a single reject fails the scope. A scope with zero countable tasks is
// Satisfied immediately (auto-skip, e.g. a manager selector that resolved to
// nobody).
func Evaluate(r *entity.ConditionalRule, tasks []*entity.ApprovalTask) Outcome {
	t := count(tasks)
	if t.total == 0 {
		return OutcomeSatisfied
	}
	if r == nil {
		return evaluateUnanimous(t)
	}
	switch r.Type {
	case entity.RuleTypePercentage:
		return evaluatePercentage(r.ThresholdPct, t)
	case entity.RuleTypeSpecificApprover:
		return evaluateSpecific(r, tasks)
	case entity.RuleTypeHybrid:
		pct := evaluatePercentage(r.ThresholdPct, t)
		approver := evaluateSpecific(r, tasks)
		if r.Operator == entity.RuleOperatorAnd {
			return combineAnd(pct, approver)
		}
		return combineOr(pct, approver)
	}
	// Unknown rule types are rejected at validation time; treat defensively
	// as pending rather than guessing a verdict.
	return OutcomePending
}

// evaluateUnanimous: all tasks must approve, any reject fails.
func evaluateUnanimous(t tally) Outcome {
	if t.rejected > 0 {
		return OutcomeFailed
	}
	if t.approved == t.total {
		return OutcomeSatisfied
	}
	return OutcomePending
}

// evaluatePercentage: satisfied once approved/total reaches the threshold,
// failed once the threshold is unreachable even if every open task approves.
// Comparisons are kept in multiplied-out integer-friendly form to avoid
// float division artifacts at exact thresholds.
func evaluatePercentage(thresholdPct float64, t tally) Outcome {
	if float64(t.approved)*100 >= thresholdPct*float64(t.total) {
		return OutcomeSatisfied
	}
	if float64(t.approved+t.open)*100 < thresholdPct*float64(t.total) {
		return OutcomeFailed
	}
	return OutcomePending
}

// evaluateSpecific: satisfied as soon as any listed approver approves, failed
// as soon as a listed approver rejects. Decisions by non-listed assignees
// never change the result.
func evaluateSpecific(r *entity.ConditionalRule, tasks []*entity.ApprovalTask) Outcome {
	rejected := false
	for _, task := range tasks {
		if !r.IsApprover(task.AssigneeID) {
			continue
		}
		switch task.Status {
		case entity.TaskStatusApproved:
			return OutcomeSatisfied
		case entity.TaskStatusRejected:
			rejected = true
		}
	}
	if rejected {
		return OutcomeFailed
	}
	return OutcomePending
}

// combineOr: satisfied if either branch is satisfied, failed only when both
// branches have failed.
func combineOr(a, b Outcome) Outcome {
	if a == OutcomeSatisfied || b == OutcomeSatisfied {
		return OutcomeSatisfied
	}
	if a == OutcomeFailed && b == OutcomeFailed {
		return OutcomeFailed
	}
	return OutcomePending
}

// combineAnd: satisfied only when both branches are satisfied, failed as soon
// as either branch fails.
func combineAnd(a, b Outcome) Outcome {
	if a == OutcomeFailed || b == OutcomeFailed {
		return OutcomeFailed
	}
	if a == OutcomeSatisfied && b == OutcomeSatisfied {
		return OutcomeSatisfied
	}
	return OutcomePending
}
