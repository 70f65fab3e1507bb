// Package planexec implements the Plan Executor: ready-set
// scheduling of a Plan's steps up to a parallelism cap, failure recovery
// via prepended RECOVERY_REASONING steps with a three-strike circuit
// breaker, dynamic re-planning when a planner-shaped tool completes, and a
// finalizer pass that turns a COMPLETED (or FAILED) plan into a
// user-visible answer.
package planexec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/hooks"
	"github.com/jervis-ai/jervis/internal/ids"
	"github.com/jervis-ai/jervis/internal/llm"
	"github.com/jervis-ai/jervis/internal/telemetry"
	"github.com/jervis-ai/jervis/internal/tools"
)

// FinalizerPromptType is the gateway prompt type the finalizer invokes.
const FinalizerPromptType = "FINALIZER"

// DefaultParallelismCap bounds how many ready steps the executor launches
// concurrently for a single plan.
const DefaultParallelismCap = 4

// MaxConsecutiveRecoveryFailures is the recovery circuit breaker: once
// this many step failures happen with no intervening success of a
// non-recovery step (a succeeding recovery step does not reset the count),
// the plan transitions to FAILED instead of inserting another recovery step.
const MaxConsecutiveRecoveryFailures = 3

// Replanner ingests a completed planner-shaped step's tool result and
// returns the new steps to append to plan (dynamic re-planning).
// Executor treats a step as planner-shaped when its ToolName equals the
// configured PlannerToolName.
type Replanner interface {
	Replan(ctx context.Context, taskCtx *domain.TaskContext, plan *domain.Plan, completed *domain.PlanStep) ([]*domain.PlanStep, error)
}

type finalizerResult struct {
	Answer string `json:"answer"`
}

// completion is one step's terminal outcome, delivered over the executor's
// internal results channel.
type completion struct {
	step   *domain.PlanStep
	result *domain.ToolResult
	err    error
}

// Executor schedules and runs a Plan's steps to completion.
type Executor struct {
	registry    *tools.Registry
	gateway     *llm.Gateway
	bus         hooks.Bus
	replanner   Replanner
	parallelism int64
	logger      telemetry.Logger

	// plannerToolName names the tool whose successful completion triggers
	// dynamic re-planning via replanner. Empty disables the behavior.
	plannerToolName string
}

// Option configures an Executor during construction.
type Option func(*Executor)

// WithParallelism overrides DefaultParallelismCap.
func WithParallelism(n int64) Option {
	return func(e *Executor) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithLogger overrides the Executor's logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithReplanner installs a Replanner invoked whenever a step named
// plannerToolName completes successfully.
func WithReplanner(plannerToolName string, r Replanner) Option {
	return func(e *Executor) {
		e.plannerToolName = plannerToolName
		e.replanner = r
	}
}

// New constructs an Executor over registry and gateway,
// publishing lifecycle events on bus.
func New(registry *tools.Registry, gateway *llm.Gateway, bus hooks.Bus, opts ...Option) *Executor {
	e := &Executor{
		registry:    registry,
		gateway:     gateway,
		bus:         bus,
		parallelism: DefaultParallelismCap,
		logger:      telemetry.NewNoopLogger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run drives plan from CREATED through to FINALIZED or FAILED, scheduling
// ready steps up to the parallelism cap, recovering from failures by
// prepending RECOVERY_REASONING steps, and invoking the finalizer once no
// further progress is possible.
//
// Run respects ctx cancellation: Execute receives ctx directly, and once
// ctx is done the next attempt to launch a step fails with the context's
// error, which Run returns without waiting for steps still in flight
// (their completions land in the buffered results channel).
func (e *Executor) Run(ctx context.Context, taskCtx *domain.TaskContext, plan *domain.Plan) error {
	now := time.Now()
	if plan.Status == domain.PlanStatusCreated {
		if err := plan.MarkRunning(now); err != nil {
			return err
		}
		e.publishStatusChange(ctx, plan, domain.PlanStatusCreated, domain.PlanStatusRunning)
	}

	sem := semaphore.NewWeighted(e.parallelism)
	// Buffered to the parallelism cap so an in-flight step's goroutine can
	// always deliver its completion and exit, even when Run returns early
	// (breaker trip, cancellation) and nobody is left receiving.
	results := make(chan completion, e.parallelism)
	inFlight := 0
	consecutiveFailures := 0
	// recoveryFor maps each inserted RECOVERY_REASONING step to the failed
	// step it is diagnosing, so the failed step can be retried once its
	// recovery step completes.
	recoveryFor := make(map[ids.StepID]*domain.PlanStep)

	launch := func(step *domain.PlanStep) error {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		if err := step.Start(); err != nil {
			sem.Release(1)
			return err
		}
		inFlight++
		go func() {
			defer sem.Release(1)
			result, err := e.executeStep(ctx, taskCtx, plan, step)
			results <- completion{step: step, result: result, err: err}
		}()
		return nil
	}

	for {
		for _, step := range plan.ReadySteps() {
			if err := launch(step); err != nil {
				return err
			}
		}
		if inFlight == 0 {
			break
		}

		comp := <-results
		inFlight--

		if comp.err != nil || (comp.result != nil && !comp.result.Success) {
			consecutiveFailures++
			if err := e.handleFailure(ctx, plan, comp, recoveryFor); err != nil {
				return err
			}
			if consecutiveFailures >= MaxConsecutiveRecoveryFailures {
				return e.fail(ctx, taskCtx, plan)
			}
			continue
		}

		// A succeeding recovery step earns its failed step a retry but does
		// not reset the breaker: only a non-recovery success does, so an
		// always-failing step still trips the three-strike limit across its
		// recover/retry rounds.
		if failed, ok := recoveryFor[comp.step.ID]; ok {
			delete(recoveryFor, comp.step.ID)
			if err := e.handleSuccess(ctx, taskCtx, plan, comp); err != nil {
				return err
			}
			if err := failed.ResetForRetry(); err != nil {
				return err
			}
			continue
		}

		consecutiveFailures = 0
		if err := e.handleSuccess(ctx, taskCtx, plan, comp); err != nil {
			return err
		}
	}

	if plan.HasFailedStep() {
		return e.fail(ctx, taskCtx, plan)
	}
	return e.complete(ctx, taskCtx, plan)
}

// executeStep looks up the step's tool and invokes it, turning an unknown
// tool name or registry miss into a FailureResult rather than an error so
// the normal recovery path handles it uniformly.
func (e *Executor) executeStep(ctx context.Context, taskCtx *domain.TaskContext, plan *domain.Plan, step *domain.PlanStep) (*domain.ToolResult, error) {
	tool, ok := e.registry.ByName(step.ToolName)
	if !ok {
		return domain.FailureResult(step.ToolName, "tool not found", fmt.Sprintf("no tool registered for name %q", step.ToolName)), nil
	}
	if err := e.registry.ValidateParameters(step.ToolName, step.StepInstruction); err != nil {
		return domain.FailureResult(step.ToolName, "step instruction failed parameters schema", err.Error()), nil
	}
	stepCtx := tools.StepContext{
		TaskContext:   taskCtx,
		ContextID:     step.ContextID,
		CorrelationID: plan.ID.Hex(),
	}
	result, err := tool.Execute(ctx, plan, step.StepInstruction, stepCtx)
	if err != nil {
		return domain.FailureResult(step.ToolName, "tool execution error", err.Error()), nil
	}
	return result, nil
}

func (e *Executor) handleSuccess(ctx context.Context, taskCtx *domain.TaskContext, plan *domain.Plan, comp completion) error {
	if err := comp.step.Complete(comp.result); err != nil {
		return err
	}
	e.publishStepCompletion(ctx, plan, comp.step)

	if e.replanner != nil && e.plannerToolName != "" && comp.step.ToolName == e.plannerToolName {
		newSteps, err := e.replanner.Replan(ctx, taskCtx, plan, comp.step)
		if err != nil {
			e.logger.Warn(ctx, "planexec: re-plan failed", "planId", plan.ID.Hex(), "stepId", comp.step.ID.Hex(), "error", err)
			return nil
		}
		if len(newSteps) > 0 {
			plan.AppendSteps(newSteps, time.Now())
		}
	}
	return nil
}

// handleFailure marks the step FAILED and inserts a RECOVERY_REASONING
// step immediately before it, encoding the original failure and the
// remaining goals ("fix first, then continue"). The
// inserted step is recorded in recoveryFor so its success resets the
// failed step back to PENDING for a retry.
func (e *Executor) handleFailure(ctx context.Context, plan *domain.Plan, comp completion, recoveryFor map[ids.StepID]*domain.PlanStep) error {
	result := comp.result
	if result == nil {
		result = domain.FailureResult(comp.step.ToolName, "execution error", errString(comp.err))
	}
	if err := comp.step.Fail(result); err != nil {
		return err
	}
	e.publishStepCompletion(ctx, plan, comp.step)

	recoveryInstruction := buildRecoveryInstruction(plan, comp.step, result)
	recoveryStep := domain.NewPlanStep(plan.ID, comp.step.ContextID, comp.step.Order, tools.ReasoningToolName, recoveryInstruction, nil)
	recoveryFor[recoveryStep.ID] = comp.step
	return plan.PrependBefore(comp.step.Order, []*domain.PlanStep{recoveryStep}, time.Now())
}

func buildRecoveryInstruction(plan *domain.Plan, failed *domain.PlanStep, result *domain.ToolResult) string {
	var remaining []string
	for _, s := range plan.Steps {
		if s.Order > failed.Order && s.Status == domain.StepStatusPending {
			remaining = append(remaining, s.StepInstruction)
		}
	}
	var b strings.Builder
	b.WriteString("RECOVERY_REASONING: step ")
	fmt.Fprintf(&b, "%d (%s) failed: %s. ", failed.Order, failed.ToolName, result.ErrorMessage)
	b.WriteString("Diagnose the failure and propose how to proceed. ")
	if len(remaining) > 0 {
		b.WriteString("Remaining goals: ")
		b.WriteString(strings.Join(remaining, "; "))
	}
	return b.String()
}

func (e *Executor) complete(ctx context.Context, taskCtx *domain.TaskContext, plan *domain.Plan) error {
	if err := plan.MarkCompleted(time.Now()); err != nil {
		return err
	}
	e.publishStatusChange(ctx, plan, domain.PlanStatusRunning, domain.PlanStatusCompleted)

	answer, err := e.finalize(ctx, plan, false)
	if err != nil {
		return err
	}
	if err := plan.Finalize(answer, time.Now()); err != nil {
		return err
	}
	e.publishStatusChange(ctx, plan, domain.PlanStatusCompleted, domain.PlanStatusFinalized)
	e.publishAgentResponse(ctx, taskCtx, plan)
	return nil
}

// fail transitions plan to FAILED and still invokes the finalizer so the
// user receives an explanation instead of a stack trace.
func (e *Executor) fail(ctx context.Context, taskCtx *domain.TaskContext, plan *domain.Plan) error {
	from := plan.Status
	if err := plan.MarkFailed(time.Now()); err != nil {
		return err
	}
	e.publishStatusChange(ctx, plan, from, domain.PlanStatusFailed)

	answer, err := e.finalize(ctx, plan, true)
	if err != nil {
		e.logger.Warn(ctx, "planexec: finalizer failed for a failed plan", "planId", plan.ID.Hex(), "error", err)
		answer = "The task could not be completed."
	}
	plan.RecordFailureAnswer(answer, time.Now())
	e.publishAgentResponse(ctx, taskCtx, plan)
	return nil
}

func (e *Executor) finalize(ctx context.Context, plan *domain.Plan, failed bool) (string, error) {
	mapping := map[string]string{
		"originalQuestion": plan.OriginalQuestion,
		"stepSummaries":    summarizeSteps(plan),
		"failed":           fmt.Sprintf("%t", failed),
	}
	resp, err := llm.CallLLM[finalizerResult](ctx, e.gateway, llm.CallOptions{
		PromptType:    FinalizerPromptType,
		MappingValues: mapping,
		CorrelationID: plan.ID.Hex(),
	})
	if err != nil {
		return "", err
	}
	return resp.Result.Answer, nil
}

func summarizeSteps(plan *domain.Plan) string {
	var b strings.Builder
	for _, s := range plan.Steps {
		fmt.Fprintf(&b, "%d. [%s] %s: ", s.Order, s.Status, s.ToolName)
		if s.ToolResult != nil {
			b.WriteString(s.ToolResult.Summary)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (e *Executor) publishStepCompletion(ctx context.Context, plan *domain.Plan, step *domain.PlanStep) {
	if e.bus == nil {
		return
	}
	evt := hooks.StepCompletionEvent{
		EventID:  hooks.NewEventID(),
		PlanID:   plan.ID.Hex(),
		StepID:   step.ID.Hex(),
		Order:    step.Order,
		ToolName: step.ToolName,
		Status:   string(step.Status),
	}
	if step.ToolResult != nil {
		evt.Summary = step.ToolResult.Summary
		evt.ErrorMessage = step.ToolResult.ErrorMessage
	}
	if err := e.bus.Publish(ctx, evt); err != nil {
		e.logger.Warn(ctx, "planexec: publishing step completion failed", "error", err)
	}
}

func (e *Executor) publishStatusChange(ctx context.Context, plan *domain.Plan, from, to domain.PlanStatus) {
	if e.bus == nil {
		return
	}
	evt := hooks.PlanStatusChangeEvent{EventID: hooks.NewEventID(), PlanID: plan.ID.Hex(), From: string(from), To: string(to)}
	if err := e.bus.Publish(ctx, evt); err != nil {
		e.logger.Warn(ctx, "planexec: publishing status change failed", "error", err)
	}
}

func (e *Executor) publishAgentResponse(ctx context.Context, taskCtx *domain.TaskContext, plan *domain.Plan) {
	if e.bus == nil {
		return
	}
	var contextID ids.ContextID
	if taskCtx != nil {
		contextID = taskCtx.ID
	} else {
		contextID = plan.ContextID
	}
	evt := hooks.AgentResponseEvent{EventID: hooks.NewEventID(), ContextID: contextID.Hex(), PlanID: plan.ID.Hex(), Answer: plan.FinalAnswer}
	if err := e.bus.Publish(ctx, evt); err != nil {
		e.logger.Warn(ctx, "planexec: publishing agent response failed", "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

