// Package planner implements the two-phase planning pipeline: a goal
// graph phase that produces a topologically ordered set of step
// requirements, and a tool-reasoning phase that resolves each requirement
// to a concrete tool invocation, producing the PlanSteps the executor
// schedules.
package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/jerrors"
	"github.com/jervis-ai/jervis/internal/llm"
)

// PlannerPromptType is the gateway prompt type phase 1 invokes.
const PlannerPromptType = "PLANNER"

// ToolReasoningPromptType is the gateway prompt type phase 2 invokes.
const ToolReasoningPromptType = "TOOL_REASONING"

// FallbackToolName is the tool used when a proposed tool name cannot be
// resolved to any catalog entry by exact or alias match.
const FallbackToolName = "reasoning"

// ToolCatalogEntry describes one registered tool the way the planner
// prompts (and tool-name resolution) need to see it: its canonical name,
// any aliases, and the description injected into planner/reasoning
// prompts.
type ToolCatalogEntry struct {
	Name               string
	Aliases            []string
	PlannerDescription string
}

// NextStepRequest is one unit of work the planner phase identified, paired
// by position with the GoalsDto describing its place in the dependency
// graph.
type NextStepRequest struct {
	Description string
}

// GoalsDto is the dependency-graph metadata for one NextStepRequest.
type GoalsDto struct {
	GoalID     string
	GoalIntent string
	DependsOn  []string
}

// ToolSelection is phase 2's proposal for how to satisfy one requirement.
type ToolSelection struct {
	ToolName   string
	Reasoning  string
	Parameters map[string]string
}

// requirement bundles one NextStepRequest with its GoalsDto for topological
// ordering; phase 1 emits these as parallel arrays, matched by position.
type requirement struct {
	step NextStepRequest
	goal GoalsDto
}

type phase1Result struct {
	NextSteps []struct {
		Description string `json:"description"`
	} `json:"nextSteps"`
	Goals []struct {
		GoalID     string   `json:"goalId"`
		GoalIntent string   `json:"goalIntent"`
		DependsOn  []string `json:"dependsOn"`
	} `json:"goals"`
}

type phase2Result struct {
	Selections []struct {
		ToolName   string            `json:"toolName"`
		Reasoning  string            `json:"reasoning"`
		Parameters map[string]string `json:"parameters"`
	} `json:"selections"`
}

// Planner drives the two LLM-backed phases over the gateway.
type Planner struct {
	gateway *llm.Gateway
}

// New constructs a Planner over gateway.
func New(gateway *llm.Gateway) *Planner {
	return &Planner{gateway: gateway}
}

// Plan runs both phases for englishQuestion against plan's current context
// and appends the resulting steps to plan via AppendSteps, returning the
// newly created steps in their final, dependency-ordered sequence.
func (p *Planner) Plan(ctx context.Context, taskCtx *domain.TaskContext, plan *domain.Plan, englishQuestion, contextSummary string, catalog []ToolCatalogEntry) ([]*domain.PlanStep, error) {
	reqs, err := p.runPhase1(ctx, taskCtx, englishQuestion, contextSummary, catalog, "")
	if err != nil {
		return nil, err
	}
	ordered, err := topologicalSortRequirements(reqs)
	if jerrors.Is(err, jerrors.CyclicDependency) || jerrors.Is(err, jerrors.MissingDependency) {
		// Invalid goal graph: re-prompt the planner once with the
		// validator's message before giving up.
		reqs, err = p.runPhase1(ctx, taskCtx, englishQuestion, contextSummary, catalog, err.Error())
		if err != nil {
			return nil, err
		}
		ordered, err = topologicalSortRequirements(reqs)
	}
	if err != nil {
		return nil, err
	}
	selections, err := p.runPhase2(ctx, taskCtx, ordered, catalog)
	if err != nil {
		return nil, err
	}

	steps := buildPlanSteps(plan, ordered, selections)
	plan.AppendSteps(steps, time.Now())
	return steps, nil
}

func (p *Planner) runPhase1(ctx context.Context, taskCtx *domain.TaskContext, englishQuestion, contextSummary string, catalog []ToolCatalogEntry, validationHint string) ([]requirement, error) {
	mapping := map[string]string{
		"englishQuestion": englishQuestion,
		"contextSummary":  contextSummary,
		"toolCatalog":     formatCatalog(catalog),
		"validationHint":  validationHint,
	}
	resp, err := llm.CallLLM[phase1Result](ctx, p.gateway, llm.CallOptions{
		PromptType:    PlannerPromptType,
		MappingValues: mapping,
		Quick:         taskCtx != nil && taskCtx.Quick,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Result.NextSteps) != len(resp.Result.Goals) {
		return nil, jerrors.New(jerrors.LlmParseFailure, "planner: nextSteps and goals arrays have mismatched lengths")
	}

	reqs := make([]requirement, len(resp.Result.NextSteps))
	for i := range resp.Result.NextSteps {
		reqs[i] = requirement{
			step: NextStepRequest{Description: resp.Result.NextSteps[i].Description},
			goal: GoalsDto{
				GoalID:     resp.Result.Goals[i].GoalID,
				GoalIntent: resp.Result.Goals[i].GoalIntent,
				DependsOn:  resp.Result.Goals[i].DependsOn,
			},
		}
	}
	return reqs, nil
}

func (p *Planner) runPhase2(ctx context.Context, taskCtx *domain.TaskContext, ordered []requirement, catalog []ToolCatalogEntry) ([]ToolSelection, error) {
	if len(ordered) == 0 {
		return nil, nil
	}
	mapping := map[string]string{
		"requirements": formatRequirements(ordered),
		"toolCatalog":  formatCatalog(catalog),
	}
	resp, err := llm.CallLLM[phase2Result](ctx, p.gateway, llm.CallOptions{
		PromptType:    ToolReasoningPromptType,
		MappingValues: mapping,
		Quick:         taskCtx != nil && taskCtx.Quick,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Result.Selections) != len(ordered) {
		return nil, jerrors.New(jerrors.LlmParseFailure, "planner: tool selections count does not match requirement count")
	}

	selections := make([]ToolSelection, len(resp.Result.Selections))
	for i, s := range resp.Result.Selections {
		selections[i] = ToolSelection{
			ToolName:   ResolveToolName(s.ToolName, catalog),
			Reasoning:  s.Reasoning,
			Parameters: s.Parameters,
		}
	}
	return selections, nil
}

// ResolveToolName resolves a proposed tool name to a catalog entry's
// canonical name: exact case-insensitive match, then alias
// case-insensitive match, falling back to FallbackToolName when neither
// matches.
func ResolveToolName(proposed string, catalog []ToolCatalogEntry) string {
	lower := strings.ToLower(proposed)
	for _, entry := range catalog {
		if strings.ToLower(entry.Name) == lower {
			return entry.Name
		}
	}
	for _, entry := range catalog {
		for _, alias := range entry.Aliases {
			if strings.ToLower(alias) == lower {
				return entry.Name
			}
		}
	}
	return FallbackToolName
}

// topologicalSortRequirements orders requirements by their goal dependency
// graph via DFS with a visiting set: a goal revisited while still
// "visiting" is a cycle (jerrors.CyclicDependency); a dependency naming a
// goal absent from the batch is a missing reference
// (jerrors.MissingDependency).
func topologicalSortRequirements(reqs []requirement) ([]requirement, error) {
	byID := make(map[string]requirement, len(reqs))
	for _, r := range reqs {
		byID[r.goal.GoalID] = r
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(reqs))
	var order []requirement

	var visit func(id, from string) error
	visit = func(id, from string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			if from != "" {
				return jerrors.Newf(jerrors.CyclicDependency, "planner: cyclic dependency between goal %q and goal %q", from, id)
			}
			return jerrors.Newf(jerrors.CyclicDependency, "planner: cyclic dependency at goal %q", id)
		}
		r, ok := byID[id]
		if !ok {
			return jerrors.Newf(jerrors.MissingDependency, "planner: goal %q depends on unknown goal", id)
		}
		state[id] = visiting
		for _, dep := range r.goal.DependsOn {
			if _, ok := byID[dep]; !ok {
				return jerrors.Newf(jerrors.MissingDependency, "planner: goal %q depends on unknown goal %q", id, dep)
			}
			if err := visit(dep, id); err != nil {
				return err
			}
		}
		state[id] = done
		order = append(order, r)
		return nil
	}

	for _, r := range reqs {
		if err := visit(r.goal.GoalID, ""); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// buildPlanSteps converts ordered requirements and their resolved tool
// selections into PlanSteps, computing DependsOn as final plan Order
// values (the batch's position within [plan.NextOrder(), ...]) so the
// dependency references remain valid after AppendSteps attaches them.
func buildPlanSteps(plan *domain.Plan, ordered []requirement, selections []ToolSelection) []*domain.PlanStep {
	base := plan.NextOrder()
	positionOf := make(map[string]int, len(ordered))
	for i, r := range ordered {
		positionOf[r.goal.GoalID] = i
	}

	steps := make([]*domain.PlanStep, len(ordered))
	for i, r := range ordered {
		dependsOn := make([]int, 0, len(r.goal.DependsOn))
		for _, dep := range r.goal.DependsOn {
			if j, ok := positionOf[dep]; ok {
				dependsOn = append(dependsOn, base+j)
			}
		}
		selection := selections[i]
		instruction := r.step.Description + renderParameters(selection.Parameters)
		steps[i] = domain.NewPlanStep(plan.ID, plan.ContextID, base+i, selection.ToolName, instruction, dependsOn)
	}
	return steps
}

func renderParameters(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(" [")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", k, params[k])
	}
	b.WriteString("]")
	return b.String()
}

func formatCatalog(catalog []ToolCatalogEntry) string {
	var b strings.Builder
	for _, entry := range catalog {
		fmt.Fprintf(&b, "- %s: %s\n", entry.Name, entry.PlannerDescription)
	}
	return b.String()
}

func formatRequirements(ordered []requirement) string {
	var b strings.Builder
	for i, r := range ordered {
		fmt.Fprintf(&b, "%d. %s (goal=%s)\n", i+1, r.step.Description, r.goal.GoalIntent)
	}
	return b.String()
}
