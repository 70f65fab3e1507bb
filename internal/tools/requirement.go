package tools

import (
	"context"
	"strings"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/jerrors"
	"github.com/jervis-ai/jervis/internal/llm"
	"github.com/jervis-ai/jervis/internal/requirements"
)

// RequirementExtractionPromptType is the gateway prompt type used to parse a
// step instruction into a structured requirement.
const RequirementExtractionPromptType = "REQUIREMENT_EXTRACTION"

// CreateRequirementToolName is the canonical name of the requirement
// capture tool.
const CreateRequirementToolName = "create_requirement"

type requirementParams struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Priority    string   `json:"priority"`
}

// CreateRequirementTool captures a user requirement out of its step
// instruction: the instruction is parsed into structured fields via the
// LLM gateway, validated, and persisted to the requirements store. Saving
// is an upsert keyed by (context, title), so re-invoking the tool with
// identical parameters within a plan records the requirement once.
type CreateRequirementTool struct {
	gateway *llm.Gateway
	store   requirements.Store
}

// NewCreateRequirementTool constructs a CreateRequirementTool.
func NewCreateRequirementTool(gateway *llm.Gateway, store requirements.Store) *CreateRequirementTool {
	return &CreateRequirementTool{gateway: gateway, store: store}
}

func (t *CreateRequirementTool) Name() string      { return CreateRequirementToolName }
func (t *CreateRequirementTool) Aliases() []string { return []string{"record_requirement"} }
func (t *CreateRequirementTool) PlannerDescription() string {
	return "Records a user requirement (title, description, keywords, priority) for later tracking. Use when the user asks for something to be remembered, tracked, or turned into a work item."
}

func (t *CreateRequirementTool) ParametersSchema() string {
	return `{"type":"string","minLength":1}`
}

func (t *CreateRequirementTool) Execute(ctx context.Context, plan *domain.Plan, stepInstruction string, stepCtx StepContext) (*domain.ToolResult, error) {
	resp, err := llm.CallLLM[requirementParams](ctx, t.gateway, llm.CallOptions{
		PromptType:    RequirementExtractionPromptType,
		MappingValues: map[string]string{"instruction": stepInstruction},
		CorrelationID: stepCtx.CorrelationID,
	})
	if err != nil {
		return nil, err
	}

	params := resp.Result
	req, err := domain.NewUserRequirement(
		stepCtx.ContextID,
		params.Title,
		params.Description,
		params.Keywords,
		domain.ParseRequirementPriority(params.Priority),
	)
	if err != nil {
		if jerrors.Is(err, jerrors.ValidationFailure) {
			return domain.FailureResult(t.Name(), "requirement validation failed", err.Error()), nil
		}
		return nil, err
	}

	if err := t.store.Upsert(ctx, req); err != nil {
		return nil, jerrors.Wrap(jerrors.ProviderTransient, "tools: saving requirement", err)
	}
	summary := "recorded requirement: " + req.Title
	content := req.Title
	if req.Description != "" {
		content += "\n" + req.Description
	}
	if len(req.Keywords) > 0 {
		content += "\nkeywords: " + strings.Join(req.Keywords, ", ")
	}
	return domain.SuccessResult(t.Name(), summary, content), nil
}
