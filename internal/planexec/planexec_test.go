package planexec_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jervis-ai/jervis/internal/concurrency"
	"github.com/jervis-ai/jervis/internal/config"
	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/hooks"
	"github.com/jervis-ai/jervis/internal/ids"
	"github.com/jervis-ai/jervis/internal/llm"
	"github.com/jervis-ai/jervis/internal/model"
	"github.com/jervis-ai/jervis/internal/planexec"
	"github.com/jervis-ai/jervis/internal/tokencount"
	"github.com/jervis-ai/jervis/internal/tools"
)

// stepTool is a fake Tool whose outcome is driven entirely by a function, so
// tests can script success, failure, or stateful behavior across repeated
// invocations within a single plan run.
type stepTool struct {
	name string
	run  func(stepInstruction string) (*domain.ToolResult, error)
}

func (s stepTool) Name() string               { return s.name }
func (s stepTool) Aliases() []string          { return nil }
func (s stepTool) PlannerDescription() string { return s.name + " does things" }
func (s stepTool) ParametersSchema() string   { return `{"type":"string"}` }
func (s stepTool) Execute(ctx context.Context, plan *domain.Plan, stepInstruction string, stepCtx tools.StepContext) (*domain.ToolResult, error) {
	return s.run(stepInstruction)
}

func alwaysSucceeds(name string) stepTool {
	return stepTool{name: name, run: func(string) (*domain.ToolResult, error) {
		return domain.SuccessResult(name, "done", "result of "+name), nil
	}}
}

func alwaysFails(name string) stepTool {
	return stepTool{name: name, run: func(string) (*domain.ToolResult, error) {
		return domain.FailureResult(name, "boom", "simulated failure"), nil
	}}
}

// fakeFinalizerClient returns a fixed FINALIZER response regardless of the
// mapping values it is invoked with.
type fakeFinalizerClient struct{ answer string }

func (f *fakeFinalizerClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return &model.Response{
		StopReason: "end_turn",
		Content: []model.Message{{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: `{"answer":"` + f.answer + `"}`}},
		}},
	}, nil
}

func (f *fakeFinalizerClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func newFinalizerGateway(answer string) *llm.Gateway {
	catalog := []config.ModelProfile{
		{Name: "fast", Provider: "fake", WireName: "fake-fast", Capabilities: []string{"type:chat", "ctx:100000"}},
	}
	mgr := concurrency.NewManager(func(string) int64 { return 4 }, func(string) concurrency.Mode { return concurrency.ModeInterruptible })
	return llm.New(catalog, tokencount.New(nil), mgr, nil,
		llm.WithTemplate(planexec.FinalizerPromptType, llm.PromptTemplate{
			ModelType: "chat", System: "finalize", User: "{{.originalQuestion}} {{.stepSummaries}} {{.failed}}", MaxOutputTokens: 500,
		}),
		llm.WithProvider("fake", &fakeFinalizerClient{answer: answer}, ""),
	)
}

func newTestPlan(steps ...*domain.PlanStep) (*domain.TaskContext, *domain.Plan) {
	taskCtx := domain.NewTaskContext(ids.NewClientID(), ids.NewProjectID(), false)
	plan := domain.NewPlan(taskCtx.ID, "what should we do?", "what should we do?", time.Now())
	plan.Steps = steps
	return taskCtx, plan
}

func TestExecutorRunSucceedsAndFinalizesWhenEveryStepCompletes(t *testing.T) {
	registry, err := tools.NewRegistry(alwaysSucceeds("step_a"), alwaysSucceeds("step_b"))
	require.NoError(t, err)

	gw := newFinalizerGateway("all done")
	bus := hooks.NewBus()
	var statusChanges []string
	_, err = bus.Register(hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
		if e, ok := evt.(hooks.PlanStatusChangeEvent); ok {
			statusChanges = append(statusChanges, e.From+"->"+e.To)
		}
		return nil
	}))
	require.NoError(t, err)

	exec := planexec.New(registry, gw, bus)

	planID := ids.NewPlanID()
	contextID := ids.NewContextID()
	step1 := domain.NewPlanStep(planID, contextID, 0, "step_a", "do a", nil)
	step2 := domain.NewPlanStep(planID, contextID, 1, "step_b", "do b", []int{0})
	taskCtx, plan := newTestPlan(step1, step2)
	plan.ID = planID
	plan.ContextID = contextID

	err = exec.Run(context.Background(), taskCtx, plan)
	require.NoError(t, err)
	require.Equal(t, domain.PlanStatusFinalized, plan.Status)
	require.Equal(t, "all done", plan.FinalAnswer)
	require.Contains(t, statusChanges, "CREATED->RUNNING")
	require.Contains(t, statusChanges, "RUNNING->COMPLETED")
	require.Contains(t, statusChanges, "COMPLETED->FINALIZED")
}

func TestExecutorRunInsertsRecoveryStepOnFailure(t *testing.T) {
	registry, err := tools.NewRegistry(alwaysFails("flaky"))
	require.NoError(t, err)

	gw := newFinalizerGateway("could not complete")
	exec := planexec.New(registry, gw, nil)

	planID := ids.NewPlanID()
	contextID := ids.NewContextID()
	step1 := domain.NewPlanStep(planID, contextID, 0, "flaky", "do the flaky thing", nil)
	taskCtx, plan := newTestPlan(step1)
	plan.ID = planID
	plan.ContextID = contextID

	err = exec.Run(context.Background(), taskCtx, plan)
	require.NoError(t, err)
	require.Equal(t, domain.PlanStatusFailed, plan.Status)
	require.Equal(t, "could not complete", plan.FinalAnswer)

	// The circuit breaker trips after MaxConsecutiveRecoveryFailures
	// consecutive failures (the original step plus two failed recovery
	// attempts, since "reasoning" is not registered in this test); each
	// failure prepends one more recovery step, including one final step
	// left PENDING when the breaker cuts execution short.
	require.Greater(t, len(plan.Steps), 1)
	require.True(t, plan.HasFailedStep())
}

func TestExecutorRunRecoversWhenReasoningToolSucceeds(t *testing.T) {
	// flaky fails once, then succeeds on the retry its recovery step earns.
	attempts := 0
	flaky := stepTool{name: "flaky", run: func(string) (*domain.ToolResult, error) {
		attempts++
		if attempts == 1 {
			return domain.FailureResult("flaky", "boom", "simulated failure"), nil
		}
		return domain.SuccessResult("flaky", "done", "second attempt worked"), nil
	}}
	registry, err := tools.NewRegistry(flaky, alwaysSucceeds(tools.ReasoningToolName))
	require.NoError(t, err)

	gw := newFinalizerGateway("recovered and finished")
	exec := planexec.New(registry, gw, nil)

	planID := ids.NewPlanID()
	contextID := ids.NewContextID()
	step1 := domain.NewPlanStep(planID, contextID, 0, "flaky", "do the flaky thing", nil)
	taskCtx, plan := newTestPlan(step1)
	plan.ID = planID
	plan.ContextID = contextID

	err = exec.Run(context.Background(), taskCtx, plan)
	require.NoError(t, err)
	require.Equal(t, domain.PlanStatusFinalized, plan.Status)
	require.Equal(t, "recovered and finished", plan.FinalAnswer)
	require.Equal(t, 2, attempts)

	var sawRecoveryDone bool
	for _, s := range plan.Steps {
		if s.ToolName == tools.ReasoningToolName && s.Status == domain.StepStatusDone {
			sawRecoveryDone = true
		}
	}
	require.True(t, sawRecoveryDone)
}

func TestExecutorRunBreakerTripsWhenRecoveredStepKeepsFailing(t *testing.T) {
	// The recovery step always succeeds, but the flaky step fails on every
	// retry; the breaker must still trip after three flaky failures because
	// recovery-step successes do not reset the consecutive-failure count.
	registry, err := tools.NewRegistry(
		alwaysFails("flaky"),
		alwaysSucceeds(tools.ReasoningToolName),
	)
	require.NoError(t, err)

	gw := newFinalizerGateway("explained the failure")
	exec := planexec.New(registry, gw, nil)

	planID := ids.NewPlanID()
	contextID := ids.NewContextID()
	step1 := domain.NewPlanStep(planID, contextID, 0, "flaky", "do the flaky thing", nil)
	taskCtx, plan := newTestPlan(step1)
	plan.ID = planID
	plan.ContextID = contextID

	err = exec.Run(context.Background(), taskCtx, plan)
	require.NoError(t, err)
	require.Equal(t, domain.PlanStatusFailed, plan.Status)
	require.Equal(t, "explained the failure", plan.FinalAnswer)
	require.True(t, plan.HasFailedStep())
}

// stubReplanner appends one extra step whenever the configured planner tool
// completes successfully.
type stubReplanner struct {
	called bool
}

func (r *stubReplanner) Replan(ctx context.Context, taskCtx *domain.TaskContext, plan *domain.Plan, completed *domain.PlanStep) ([]*domain.PlanStep, error) {
	r.called = true
	return []*domain.PlanStep{
		domain.NewPlanStep(plan.ID, completed.ContextID, plan.NextOrder(), "step_b", "follow-up step", nil),
	}, nil
}

func TestExecutorRunTriggersReplanningOnPlannerStepCompletion(t *testing.T) {
	registry, err := tools.NewRegistry(alwaysSucceeds("planner_tool"), alwaysSucceeds("step_b"))
	require.NoError(t, err)

	replanner := &stubReplanner{}
	gw := newFinalizerGateway("done after replanning")
	exec := planexec.New(registry, gw, nil, planexec.WithReplanner("planner_tool", replanner))

	planID := ids.NewPlanID()
	contextID := ids.NewContextID()
	step1 := domain.NewPlanStep(planID, contextID, 0, "planner_tool", "plan the work", nil)
	taskCtx, plan := newTestPlan(step1)
	plan.ID = planID
	plan.ContextID = contextID

	err = exec.Run(context.Background(), taskCtx, plan)
	require.NoError(t, err)
	require.True(t, replanner.called)
	require.Equal(t, domain.PlanStatusFinalized, plan.Status)
	require.Len(t, plan.Steps, 2)
}

func TestExecutorRunRespectsParallelismCap(t *testing.T) {
	registry, err := tools.NewRegistry(alwaysSucceeds("step_a"))
	require.NoError(t, err)

	gw := newFinalizerGateway("done")
	exec := planexec.New(registry, gw, nil, planexec.WithParallelism(1))

	planID := ids.NewPlanID()
	contextID := ids.NewContextID()
	step1 := domain.NewPlanStep(planID, contextID, 0, "step_a", "do a", nil)
	step2 := domain.NewPlanStep(planID, contextID, 1, "step_a", "do a again", nil)
	taskCtx, plan := newTestPlan(step1, step2)
	plan.ID = planID
	plan.ContextID = contextID

	err = exec.Run(context.Background(), taskCtx, plan)
	require.NoError(t, err)
	require.Equal(t, domain.PlanStatusFinalized, plan.Status)
}
