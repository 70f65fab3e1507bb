package tools

import (
	"context"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/llm"
)

// ReasoningPromptType is the gateway prompt type the reasoning tool invokes.
const ReasoningPromptType = "REASONING"

// ReasoningToolName is the fallback tool name planner.ResolveToolName
// returns when a proposed tool name cannot be resolved to any catalog
// entry. It is also used, tagged by instruction, as the vehicle for
// RECOVERY_REASONING steps inserted by the plan executor's recovery
// policy.
const ReasoningToolName = "reasoning"

type reasoningResult struct {
	Summary string `json:"summary"`
	Content string `json:"content"`
}

// ReasoningTool is a general-purpose tool backed directly by the LLM
// gateway: it has no external side effect beyond producing a textual
// answer to its step instruction, so it serves both as the planner's
// catch-all fallback and as the RECOVERY_REASONING vehicle.
type ReasoningTool struct {
	gateway *llm.Gateway
}

// NewReasoningTool constructs a ReasoningTool over gateway.
func NewReasoningTool(gateway *llm.Gateway) *ReasoningTool {
	return &ReasoningTool{gateway: gateway}
}

func (t *ReasoningTool) Name() string      { return ReasoningToolName }
func (t *ReasoningTool) Aliases() []string { return []string{"fallback", "general_reasoning"} }
func (t *ReasoningTool) PlannerDescription() string {
	return "Reasons in natural language over its step instruction and produces a textual answer. Use for analysis, summarization, or any requirement no other tool directly satisfies."
}

func (t *ReasoningTool) ParametersSchema() string {
	return `{"type":"string","minLength":1}`
}

func (t *ReasoningTool) Execute(ctx context.Context, plan *domain.Plan, stepInstruction string, stepCtx StepContext) (*domain.ToolResult, error) {
	mapping := map[string]string{
		"instruction":    stepInstruction,
		"contextSummary": plan.ContextSummary,
	}
	resp, err := llm.CallLLM[reasoningResult](ctx, t.gateway, llm.CallOptions{
		PromptType:    ReasoningPromptType,
		MappingValues: mapping,
		CorrelationID: stepCtx.CorrelationID,
	})
	if err != nil {
		return nil, err
	}
	return domain.SuccessResult(t.Name(), resp.Result.Summary, resp.Result.Content), nil
}
