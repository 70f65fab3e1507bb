package planexec

import (
	"context"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/jervis-ai/jervis/internal/domain"
)

// RunPlanActivityName and RunPlanWorkflowName are the Temporal registration
// names for the durable plan-execution backend.
const (
	RunPlanActivityName = "jervis.planexec.RunPlan"
	RunPlanWorkflowName = "jervis.planexec.RunPlanWorkflow"
)

// RunPlanInput is the durable-workflow input: a snapshot of the plan and
// its owning task context. Executor.Run mutates the snapshot in place and the
// caller is responsible for persisting the result once the workflow
// completes.
type RunPlanInput struct {
	TaskContext *domain.TaskContext
	Plan        *domain.Plan
}

// runPlanActivity adapts Executor.Run to Temporal's activity signature.
// Activities, unlike workflow code, may perform arbitrary I/O (LLM calls,
// tool side effects), which is exactly what Run does.
func (e *Executor) runPlanActivity(ctx context.Context, in RunPlanInput) (*domain.Plan, error) {
	if err := e.Run(ctx, in.TaskContext, in.Plan); err != nil {
		return nil, err
	}
	return in.Plan, nil
}

// RunPlanWorkflow is a thin Temporal workflow that delegates to the
// RunPlanActivityName activity. Running plan execution as a durable
// Temporal activity (rather than plain in-process goroutines) buys
// survival across a worker restart mid-plan, at the cost of Temporal's
// activity-result size limits; callers that do not need that durability
// can call Executor.Run directly instead, which this workflow's activity
// body also does.
func RunPlanWorkflow(ctx workflow.Context, in RunPlanInput) (*domain.Plan, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 0, // unbounded: plan execution is long-running and paced by LLM/tool latency, not a fixed SLA
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var out *domain.Plan
	err := workflow.ExecuteActivity(ctx, RunPlanActivityName, in).Get(ctx, &out)
	return out, err
}

// NewStartOptions builds the client.StartWorkflowOptions for starting one
// plan's durable execution. WorkflowIDReusePolicy is set to allow
// duplicate so re-driving an at-least-once plan execution (for example
// after a crash between a tool's external writes and its PlanStep
// transition) starts a fresh workflow run rather than erroring on an ID
// collision with the terminated prior attempt; execution is at-least-once
// with idempotent transitions.
func NewStartOptions(planID string, taskQueue string) client.StartWorkflowOptions {
	return client.StartWorkflowOptions{
		ID:                    "jervis-plan-" + planID,
		TaskQueue:             taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
}

// RegisterTemporal registers the durable plan-execution workflow and
// activity with w, so a process running a Temporal worker can offer plan
// execution as a durable backend alongside Executor.Run's direct,
// in-process path.
func (e *Executor) RegisterTemporal(w worker.Worker) {
	w.RegisterWorkflowWithOptions(RunPlanWorkflow, workflow.RegisterOptions{Name: RunPlanWorkflowName})
	w.RegisterActivityWithOptions(e.runPlanActivity, activity.RegisterOptions{Name: RunPlanActivityName})
}
