package scheduler

import (
	"testing"

	"github.com/sequencehq/engine/internal/rulebook"
	"github.com/sequencehq/engine/internal/types"
)

func TestEvaluateCondition_Always(t *testing.T) {
	res, err := EvaluateCondition(nil, nil, nil)
	if err != nil {
		t.Fatalf("EvaluateCondition: %v", err)
	}
	if res != ConditionAlways {
		t.Fatalf("expected ConditionAlways, got %v", res)
	}
}

func TestEvaluateCondition_IfOpened(t *testing.T) {
	cond := &types.Condition{Type: types.CondIfOpened}

	waiting, err := EvaluateCondition(cond, nil, nil)
	if err != nil || waiting != ConditionWaiting {
		t.Fatalf("expected waiting when check step not scheduled, got %v, %v", waiting, err)
	}

	opened := &types.Job{Status: string(rulebook.StatusOpened)}
	res, err := EvaluateCondition(cond, opened, nil)
	if err != nil || res != ConditionMet {
		t.Fatalf("expected met on opened, got %v, %v", res, err)
	}

	sent := &types.Job{Status: string(rulebook.StatusSent)}
	res, err = EvaluateCondition(cond, sent, nil)
	if err != nil || res != ConditionWaiting {
		t.Fatalf("expected waiting on sent-but-not-opened, got %v, %v", res, err)
	}
}

func TestEvaluateCondition_IfOpenedSkipOnFailure(t *testing.T) {
	cond := &types.Condition{Type: types.CondIfOpened, SkipIfNotMet: true}
	bounced := &types.Job{Status: string(rulebook.StatusHardBounce)}

	res, err := EvaluateCondition(cond, bounced, nil)
	if err != nil {
		t.Fatalf("EvaluateCondition: %v", err)
	}
	if res != ConditionFailed {
		t.Fatalf("expected failed on hard bounce with skipIfNotMet, got %v", res)
	}
}

func TestEvaluateCondition_IfNotOpened(t *testing.T) {
	cond := &types.Condition{Type: types.CondIfNotOpened}

	sent := &types.Job{Status: string(rulebook.StatusSent)}
	res, err := EvaluateCondition(cond, sent, nil)
	if err != nil || res != ConditionMet {
		t.Fatalf("expected met when sent with no open, got %v, %v", res, err)
	}

	opened := &types.Job{Status: string(rulebook.StatusOpened)}
	res, err = EvaluateCondition(cond, opened, nil)
	if err != nil || res != ConditionFailed {
		t.Fatalf("expected failed when already opened, got %v, %v", res, err)
	}
}

func TestEvaluateCondition_Expr(t *testing.T) {
	cond := &types.Condition{Type: types.CondExpr, Expr: "leadScore > 50"}

	res, err := EvaluateCondition(cond, nil, map[string]any{"leadScore": 80})
	if err != nil || res != ConditionMet {
		t.Fatalf("expected met, got %v, %v", res, err)
	}

	res, err = EvaluateCondition(cond, nil, map[string]any{"leadScore": 10})
	if err != nil || res != ConditionWaiting {
		t.Fatalf("expected waiting when expr false and skipIfNotMet unset, got %v, %v", res, err)
	}
}

func TestWalkSequence_StopsAtFirstMet(t *testing.T) {
	steps := []types.FollowupDef{
		{Name: "step1"},
		{Name: "step2", Condition: &types.Condition{Type: types.CondIfOpened}},
	}
	jobs := map[string]*types.Job{
		"step1": {Type: "step1", Status: string(rulebook.StatusOpened)},
	}
	jobByStep := func(s string) *types.Job { return jobs[s] }

	result, err := WalkSequence(steps, map[string]bool{}, map[string]bool{}, jobByStep, nil)
	if err != nil {
		t.Fatalf("WalkSequence: %v", err)
	}
	if result.StepToSchedule == nil || result.StepToSchedule.Name != "step1" {
		t.Fatalf("expected step1 (no condition) to be chosen first, got %+v", result.StepToSchedule)
	}
}

func TestWalkSequence_SkipsCompletedAndCollectsFailed(t *testing.T) {
	steps := []types.FollowupDef{
		{Name: "step1"},
		{Name: "step2", Condition: &types.Condition{Type: types.CondIfOpened, SkipIfNotMet: true}},
		{Name: "step3"},
	}
	completed := map[string]bool{"step1": true}
	jobs := map[string]*types.Job{
		"step1": {Type: "step1", Status: string(rulebook.StatusHardBounce)},
	}
	jobByStep := func(s string) *types.Job { return jobs[s] }

	result, err := WalkSequence(steps, map[string]bool{}, completed, jobByStep, nil)
	if err != nil {
		t.Fatalf("WalkSequence: %v", err)
	}
	if len(result.SkippedSteps) != 1 || result.SkippedSteps[0].Name != "step2" {
		t.Fatalf("expected step2 recorded as skipped, got %+v", result.SkippedSteps)
	}
	if result.StepToSchedule == nil || result.StepToSchedule.Name != "step3" {
		t.Fatalf("expected step3 to be chosen, got %+v", result.StepToSchedule)
	}
}
