package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/ids"
)

func newTestPlan(t *testing.T) *domain.Plan {
	t.Helper()
	return domain.NewPlan(ids.NewContextID(), "why did the build fail?", "why did the build fail?", time.Now())
}

func TestPlanStepLifecycle(t *testing.T) {
	plan := newTestPlan(t)
	step := domain.NewPlanStep(plan.ID, plan.ContextID, 1, "search_logs", "find the failing job", nil)
	plan.AppendSteps([]*domain.PlanStep{step}, time.Now())

	require.NoError(t, step.Start())
	require.Error(t, step.Start(), "cannot start twice")

	result := domain.SuccessResult("search_logs", "found it", "job 42 failed on step build")
	require.NoError(t, step.Complete(result))
	require.Equal(t, domain.StepStatusDone, step.Status)
	require.Error(t, step.Complete(result), "cannot complete twice")
}

func TestPrependBeforeShiftsSubsequentStepsAndDependencies(t *testing.T) {
	plan := newTestPlan(t)
	s0 := domain.NewPlanStep(plan.ID, plan.ContextID, 1, "fetch", "fetch logs", nil)
	s1 := domain.NewPlanStep(plan.ID, plan.ContextID, 2, "analyze", "analyze logs", []int{1})
	plan.AppendSteps([]*domain.PlanStep{s0, s1}, time.Now())

	require.NoError(t, s0.Start())
	require.NoError(t, s0.Complete(domain.SuccessResult("fetch", "ok", "logs")))
	require.NoError(t, s1.Start())
	failure := domain.SuccessResult("analyze", "", "")
	failure.Success = false
	require.NoError(t, s1.Fail(failure))

	recovery := domain.NewPlanStep(plan.ID, plan.ContextID, 2, "retry_fetch", "refetch with wider window", []int{1})
	require.NoError(t, plan.PrependBefore(2, []*domain.PlanStep{recovery}, time.Now()))

	require.Equal(t, 1, s0.Order)
	require.Equal(t, 2, recovery.Order)
	require.Equal(t, 3, s1.Order)
	require.Equal(t, []int{1}, s1.DependsOn, "dependency on the untouched completed step is unchanged")
}

func TestPrependBeforeRefusesToShiftCompletedSteps(t *testing.T) {
	plan := newTestPlan(t)
	s0 := domain.NewPlanStep(plan.ID, plan.ContextID, 1, "fetch", "fetch logs", nil)
	plan.AppendSteps([]*domain.PlanStep{s0}, time.Now())
	require.NoError(t, s0.Start())
	require.NoError(t, s0.Complete(domain.SuccessResult("fetch", "ok", "logs")))

	recovery := domain.NewPlanStep(plan.ID, plan.ContextID, 1, "extra", "extra work", nil)
	require.Error(t, plan.PrependBefore(1, []*domain.PlanStep{recovery}, time.Now()))
}
