package scheduler

import (
	"github.com/sequencehq/engine/internal/rulebook"
	"github.com/sequencehq/engine/internal/types"
)

// ConditionResult is the outcome of evaluating a sequence step's
// condition against the preceding step (spec.md §4.5.3).
type ConditionResult string

const (
	ConditionMet     ConditionResult = "met"
	ConditionAlways  ConditionResult = "always"
	ConditionWaiting ConditionResult = "waiting"
	ConditionFailed  ConditionResult = "failed"
)

// EvaluateCondition implements the fixed condition table. checkStepJob
// is nil when the referenced step has not yet been scheduled, which is
// "waiting" for every table condition type; always and expr conditions
// do not look at checkStepJob.
func EvaluateCondition(cond *types.Condition, checkStepJob *types.Job, exprVars map[string]any) (ConditionResult, error) {
	if cond == nil || cond.Type == "" || cond.Type == types.CondAlways {
		return ConditionAlways, nil
	}

	if cond.Type == types.CondExpr {
		ok, err := rulebook.EvaluateExpr(cond.Expr, exprVars)
		if err != nil {
			if cond.SkipIfNotMet {
				return ConditionFailed, nil
			}
			return ConditionWaiting, nil
		}
		if ok {
			return ConditionMet, nil
		}
		if cond.SkipIfNotMet {
			return ConditionFailed, nil
		}
		return ConditionWaiting, nil
	}

	if checkStepJob == nil {
		return ConditionWaiting, nil
	}
	status := rulebook.Status(checkStepJob.Status)

	switch cond.Type {
	case types.CondIfOpened:
		switch status {
		case rulebook.StatusOpened, rulebook.StatusUniqueOpened, rulebook.StatusClicked:
			return ConditionMet, nil
		case rulebook.StatusSent, rulebook.StatusDelivered:
			return ConditionWaiting, nil
		}
		if isFailure(status) && cond.SkipIfNotMet {
			return ConditionFailed, nil
		}
		return ConditionWaiting, nil

	case types.CondIfClicked:
		if status == rulebook.StatusClicked {
			return ConditionMet, nil
		}
		switch status {
		case rulebook.StatusSent, rulebook.StatusDelivered, rulebook.StatusOpened, rulebook.StatusUniqueOpened:
			return ConditionWaiting, nil
		}
		if isFailure(status) && cond.SkipIfNotMet {
			return ConditionFailed, nil
		}
		return ConditionWaiting, nil

	case types.CondIfNotOpened:
		switch status {
		case rulebook.StatusOpened, rulebook.StatusUniqueOpened, rulebook.StatusClicked:
			return ConditionFailed, nil
		case rulebook.StatusSent, rulebook.StatusDelivered:
			return ConditionMet, nil
		}
		return ConditionWaiting, nil

	case types.CondIfNotClicked:
		if status == rulebook.StatusClicked {
			return ConditionFailed, nil
		}
		switch status {
		case rulebook.StatusSent, rulebook.StatusDelivered, rulebook.StatusOpened, rulebook.StatusUniqueOpened:
			return ConditionMet, nil
		}
		return ConditionWaiting, nil
	}

	return ConditionWaiting, nil
}

func isFailure(s rulebook.Status) bool {
	for _, f := range rulebook.GetFailureStatuses() {
		if f == s {
			return true
		}
	}
	return false
}

// SequenceWalkResult is what WalkSequence returns after walking an
// ordered, filtered followup sequence per spec.md §4.5.2 step 10:
// stops at the first step whose condition is met/always; steps whose
// condition is explicitly failed get a skipped placeholder (returned
// separately so the caller can materialize it); waiting steps are
// simply passed over.
type SequenceWalkResult struct {
	StepToSchedule *types.FollowupDef
	SkippedSteps   []types.FollowupDef
}

// WalkSequence evaluates steps in order, given a resolver for the
// status of each step's check-step job (nil if not yet scheduled).
func WalkSequence(steps []types.FollowupDef, alreadyPending map[string]bool, completed map[string]bool, jobByStep func(step string) *types.Job, exprVars map[string]any) (SequenceWalkResult, error) {
	var result SequenceWalkResult

	for i, step := range steps {
		if completed[step.Name] || alreadyPending[step.Name] {
			continue
		}

		var checkJob *types.Job
		if step.Condition != nil {
			checkStep := step.Condition.CheckStep
			if checkStep == "" || checkStep == "previous" {
				if i > 0 {
					checkJob = jobByStep(steps[i-1].Name)
				}
			} else {
				checkJob = jobByStep(checkStep)
			}
		}

		res, err := EvaluateCondition(step.Condition, checkJob, exprVars)
		if err != nil {
			return result, err
		}

		switch res {
		case ConditionMet, ConditionAlways:
			step := step
			result.StepToSchedule = &step
			return result, nil
		case ConditionFailed:
			result.SkippedSteps = append(result.SkippedSteps, step)
			continue
		case ConditionWaiting:
			continue
		}
	}

	return result, nil
}
