package domain

import (
	"time"

	"github.com/jervis-ai/jervis/internal/ids"
	"github.com/jervis-ai/jervis/internal/jerrors"
)

// PlanStatus is the lifecycle state of a Plan.
type PlanStatus string

const (
	PlanStatusCreated   PlanStatus = "CREATED"
	PlanStatusRunning   PlanStatus = "RUNNING"
	PlanStatusCompleted PlanStatus = "COMPLETED"
	PlanStatusFinalized PlanStatus = "FINALIZED"
	PlanStatusFailed    PlanStatus = "FAILED"
)

// StepStatus is the lifecycle state of a PlanStep.
type StepStatus string

const (
	StepStatusPending StepStatus = "PENDING"
	StepStatusRunning StepStatus = "RUNNING"
	StepStatusDone    StepStatus = "DONE"
	StepStatusFailed  StepStatus = "FAILED"
)

// PlanStep is one node of a Plan's dependency graph. Order is unique within
// a plan and DependsOn only ever names steps with a strictly lower Order;
// the planner is responsible for establishing that invariant, and the
// executor relies on it to compute a topological schedule.
type PlanStep struct {
	ID     ids.StepID
	Order  int
	PlanID ids.PlanID

	ContextID       ids.ContextID
	ToolName        string
	StepInstruction string

	// DependsOn names the Order of every step this one requires to have
	// completed first.
	DependsOn []int

	// StepGroup optionally tags steps that must be scheduled together (for
	// example, steps issued against the same external rate-limited
	// connection).
	StepGroup *string

	Status     StepStatus
	ToolResult *ToolResult
}

// NewPlanStep constructs a PENDING step at the given order.
func NewPlanStep(planID ids.PlanID, contextID ids.ContextID, order int, toolName, instruction string, dependsOn []int) *PlanStep {
	return &PlanStep{
		ID:              ids.NewStepID(),
		Order:           order,
		PlanID:          planID,
		ContextID:       contextID,
		ToolName:        toolName,
		StepInstruction: instruction,
		DependsOn:       dependsOn,
		Status:          StepStatusPending,
	}
}

// Start transitions a PENDING step to RUNNING.
func (s *PlanStep) Start() error {
	if s.Status != StepStatusPending {
		return jerrors.Newf(jerrors.StateConflict, "step %d cannot start from status %s", s.Order, s.Status)
	}
	s.Status = StepStatusRunning
	return nil
}

// Complete transitions a RUNNING step to DONE, recording its result.
func (s *PlanStep) Complete(result *ToolResult) error {
	if s.Status != StepStatusRunning {
		return jerrors.Newf(jerrors.StateConflict, "step %d cannot complete from status %s", s.Order, s.Status)
	}
	s.Status = StepStatusDone
	s.ToolResult = result
	return nil
}

// Fail transitions a RUNNING step to FAILED, recording its result.
func (s *PlanStep) Fail(result *ToolResult) error {
	if s.Status != StepStatusRunning {
		return jerrors.Newf(jerrors.StateConflict, "step %d cannot fail from status %s", s.Order, s.Status)
	}
	s.Status = StepStatusFailed
	s.ToolResult = result
	return nil
}

// ResetForRetry returns a FAILED step to PENDING, clearing its result, so
// the executor can schedule it again after a recovery step has run. DONE
// steps are never reset.
func (s *PlanStep) ResetForRetry() error {
	if s.Status != StepStatusFailed {
		return jerrors.Newf(jerrors.StateConflict, "step %d cannot be retried from status %s", s.Order, s.Status)
	}
	s.Status = StepStatusPending
	s.ToolResult = nil
	return nil
}

// Plan is a DAG of PlanSteps executed on behalf of one TaskContext.
type Plan struct {
	ID               ids.PlanID
	ContextID        ids.ContextID
	OriginalQuestion string
	EnglishQuestion  string
	Status           PlanStatus
	Steps            []*PlanStep

	ContextSummary string
	FinalAnswer    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPlan constructs an empty CREATED plan.
func NewPlan(contextID ids.ContextID, originalQuestion, englishQuestion string, now time.Time) *Plan {
	return &Plan{
		ID:               ids.NewPlanID(),
		ContextID:        contextID,
		OriginalQuestion: originalQuestion,
		EnglishQuestion:  englishQuestion,
		Status:           PlanStatusCreated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// AppendSteps adds newly planned steps to the end of the plan, renumbering
// them to start at max(order)+1.
func (p *Plan) AppendSteps(steps []*PlanStep, now time.Time) {
	base := p.maxOrder()
	for i, s := range steps {
		s.Order = base + i + 1
	}
	p.Steps = append(p.Steps, steps...)
	p.UpdatedAt = now
}

// AppendNewStep builds and appends a single PENDING step, returning it.
func (p *Plan) AppendNewStep(contextID ids.ContextID, toolName, instruction string, dependsOn []int, now time.Time) *PlanStep {
	step := NewPlanStep(p.ID, contextID, p.maxOrder()+1, toolName, instruction, dependsOn)
	p.Steps = append(p.Steps, step)
	p.UpdatedAt = now
	return step
}

// PrependSteps inserts steps at the very front of the plan, renumbering
// every existing step by adding len(steps) to its Order (and to any
// DependsOn reference).
func (p *Plan) PrependSteps(steps []*PlanStep, now time.Time) {
	shift := len(steps)
	if shift == 0 {
		return
	}
	for _, s := range p.Steps {
		s.Order += shift
		for i, dep := range s.DependsOn {
			s.DependsOn[i] = dep + shift
		}
	}
	for i, s := range steps {
		s.Order = i + 1
	}
	merged := make([]*PlanStep, 0, len(p.Steps)+len(steps))
	merged = append(merged, steps...)
	merged = append(merged, p.Steps...)
	p.Steps = merged
	p.UpdatedAt = now
}

// PrependNewStep builds and prepends a single PENDING step ahead of every
// other step, returning it.
func (p *Plan) PrependNewStep(contextID ids.ContextID, toolName, instruction string, now time.Time) *PlanStep {
	step := NewPlanStep(p.ID, contextID, 0, toolName, instruction, nil)
	p.PrependSteps([]*PlanStep{step}, now)
	return step
}

// NextOrder reports the Order the next call to AppendSteps (or
// AppendNewStep) will assign to the first step it appends, letting callers
// precompute DependsOn references before the steps are actually attached to
// the plan.
func (p *Plan) NextOrder() int {
	return p.maxOrder() + 1
}

func (p *Plan) maxOrder() int {
	max := 0
	for _, s := range p.Steps {
		if s.Order > max {
			max = s.Order
		}
	}
	return max
}

// MarkRunning transitions a CREATED plan to RUNNING, the first time any of
// its steps starts.
func (p *Plan) MarkRunning(now time.Time) error {
	if p.Status != PlanStatusCreated {
		return jerrors.Newf(jerrors.StateConflict, "plan %s cannot start from status %s", p.ID.Hex(), p.Status)
	}
	p.Status = PlanStatusRunning
	p.UpdatedAt = now
	return nil
}

// MarkCompleted transitions a RUNNING plan to COMPLETED once every step has
// reached DONE and no re-plan is pending.
func (p *Plan) MarkCompleted(now time.Time) error {
	if p.Status != PlanStatusRunning {
		return jerrors.Newf(jerrors.StateConflict, "plan %s cannot complete from status %s", p.ID.Hex(), p.Status)
	}
	if !p.AllStepsDone() {
		return jerrors.Newf(jerrors.StateConflict, "plan %s has steps that are not yet DONE", p.ID.Hex())
	}
	p.Status = PlanStatusCompleted
	p.UpdatedAt = now
	return nil
}

// Finalize transitions a COMPLETED plan to FINALIZED, recording the
// finalizer's user-visible answer.
func (p *Plan) Finalize(answer string, now time.Time) error {
	if p.Status != PlanStatusCompleted {
		return jerrors.Newf(jerrors.StateConflict, "plan %s cannot finalize from status %s", p.ID.Hex(), p.Status)
	}
	p.FinalAnswer = answer
	p.Status = PlanStatusFinalized
	p.UpdatedAt = now
	return nil
}

// MarkFailed transitions a non-terminal plan to FAILED. It is a no-op (but
// not an error) if the plan is already FAILED, so the executor can call it
// unconditionally once recovery is exhausted.
func (p *Plan) MarkFailed(now time.Time) error {
	if p.Status == PlanStatusFailed {
		return nil
	}
	if p.Status == PlanStatusFinalized {
		return jerrors.Newf(jerrors.StateConflict, "plan %s cannot fail from status %s", p.ID.Hex(), p.Status)
	}
	p.Status = PlanStatusFailed
	p.UpdatedAt = now
	return nil
}

// RecordFailureAnswer attaches the finalizer's user-facing explanation to a
// FAILED plan without attempting the (inapplicable) FAILED->FINALIZED
// transition; failed plans stay FAILED.
func (p *Plan) RecordFailureAnswer(answer string, now time.Time) {
	p.FinalAnswer = answer
	p.UpdatedAt = now
}

// StepByID returns the step with the given id, if present.
func (p *Plan) StepByID(id ids.StepID) (*PlanStep, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// ReadySteps returns every PENDING step whose DependsOn orders have all
// reached DONE, in order. The executor schedules exactly this set on
// each tick.
func (p *Plan) ReadySteps() []*PlanStep {
	doneOrders := make(map[int]bool, len(p.Steps))
	for _, s := range p.Steps {
		if s.Status == StepStatusDone {
			doneOrders[s.Order] = true
		}
	}
	var ready []*PlanStep
	for _, s := range p.Steps {
		if s.Status != StepStatusPending {
			continue
		}
		allDone := true
		for _, dep := range s.DependsOn {
			if !doneOrders[dep] {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, s)
		}
	}
	return ready
}

// AllStepsDone reports whether every step in the plan has reached DONE.
func (p *Plan) AllStepsDone() bool {
	for _, s := range p.Steps {
		if s.Status != StepStatusDone {
			return false
		}
	}
	return true
}

// HasFailedStep reports whether any step in the plan is terminally FAILED.
func (p *Plan) HasFailedStep() bool {
	for _, s := range p.Steps {
		if s.Status == StepStatusFailed {
			return true
		}
	}
	return false
}

// InFlightCount reports how many steps are currently RUNNING.
func (p *Plan) InFlightCount() int {
	n := 0
	for _, s := range p.Steps {
		if s.Status == StepStatusRunning {
			n++
		}
	}
	return n
}

// PrependBefore inserts recovery steps immediately before the step at
// failedOrder, per the "fix first, then continue" re-planning policy:
// existing steps at or after failedOrder are shifted down by len(inserted)
// to make room, and the inserted steps take the vacated order range
// starting at failedOrder. Completed (DONE) steps are never shifted: if one
// sits at or after failedOrder the call returns a StateConflict error.
func (p *Plan) PrependBefore(failedOrder int, inserted []*PlanStep, now time.Time) error {
	shift := len(inserted)
	if shift == 0 {
		return nil
	}
	for _, s := range p.Steps {
		if s.Order >= failedOrder {
			if s.Status == StepStatusDone {
				return jerrors.Newf(jerrors.StateConflict, "refusing to shift completed step %d", s.Order)
			}
			s.Order += shift
			for i, dep := range s.DependsOn {
				if dep >= failedOrder {
					s.DependsOn[i] = dep + shift
				}
			}
		}
	}
	for i, s := range inserted {
		s.Order = failedOrder + i
	}

	merged := make([]*PlanStep, 0, len(p.Steps)+len(inserted))
	merged = append(merged, inserted...)
	merged = append(merged, p.Steps...)
	p.Steps = merged
	p.UpdatedAt = now
	return nil
}
