// Package tools implements the MCP tool registry and tool contract:
// named tools with parameter schemas, planner-facing descriptions, and a
// single execute entry point.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/ids"
	"github.com/jervis-ai/jervis/internal/jerrors"
)

// StepContext carries the per-invocation context a Tool's Execute needs
// beyond the plan and its own step instruction: the conversation envelope
// it runs under and a correlation id threaded through LLM calls and dialog
// requests.
type StepContext struct {
	TaskContext   *domain.TaskContext
	ContextID     ids.ContextID
	CorrelationID string
}

// Tool is the single contract every registered capability implements.
// A tool typically (1) parses its step instruction into
// structured parameters via the LLM gateway with its own prompt type, (2)
// performs its side effect, and (3) returns a ToolResult. Tools MUST be
// idempotent when invoked with identical parameters within a single plan.
type Tool interface {
	// Name is the tool's canonical, case-sensitive identifier as recorded
	// on PlanStep.ToolName.
	Name() string
	// Aliases lists additional names tool-name resolution accepts (see
	// planner.ResolveToolName).
	Aliases() []string
	// PlannerDescription is the human-readable description injected into
	// planner and tool-reasoning prompts. Must be non-blank.
	PlannerDescription() string
	// ParametersSchema returns the JSON Schema (draft 2020-12) the tool's
	// step instruction must validate against, giving the planner-facing
	// parameter schema a concrete, enforced representation instead of an
	// untyped map. Must be a compilable schema
	// document.
	ParametersSchema() string
	// Execute performs the tool's side effect for one PlanStep, given its
	// rendered step instruction.
	Execute(ctx context.Context, plan *domain.Plan, stepInstruction string, stepCtx StepContext) (*domain.ToolResult, error)
}

// Registry is the process-wide catalog of registered tools, validated once
// at construction time.
type Registry struct {
	byName  map[string]Tool
	schemas map[string]*jsonschema.Schema
	order   []string
}

// NewRegistry validates and indexes tools, returning an error if any tool
// has a blank PlannerDescription, an uncompilable ParametersSchema, or if
// two tools declare the same Name.
func NewRegistry(toolList ...Tool) (*Registry, error) {
	r := &Registry{
		byName:  make(map[string]Tool, len(toolList)),
		schemas: make(map[string]*jsonschema.Schema, len(toolList)),
	}
	compiler := jsonschema.NewCompiler()
	for _, t := range toolList {
		if strings.TrimSpace(t.PlannerDescription()) == "" {
			return nil, jerrors.Newf(jerrors.ValidationFailure, "tools: %q has a blank planner description", t.Name())
		}
		if _, exists := r.byName[t.Name()]; exists {
			return nil, jerrors.Newf(jerrors.ValidationFailure, "tools: duplicate tool name %q", t.Name())
		}

		var schemaDoc any
		if err := json.Unmarshal([]byte(t.ParametersSchema()), &schemaDoc); err != nil {
			return nil, jerrors.Wrap(jerrors.ValidationFailure, fmt.Sprintf("tools: %q has an invalid parameters schema", t.Name()), err)
		}
		resource := t.Name() + ".schema.json"
		if err := compiler.AddResource(resource, schemaDoc); err != nil {
			return nil, jerrors.Wrap(jerrors.ValidationFailure, fmt.Sprintf("tools: %q registering parameters schema", t.Name()), err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return nil, jerrors.Wrap(jerrors.ValidationFailure, fmt.Sprintf("tools: %q compiling parameters schema", t.Name()), err)
		}

		r.byName[t.Name()] = t
		r.schemas[t.Name()] = schema
		r.order = append(r.order, t.Name())
	}
	return r, nil
}

// ValidateParameters checks stepInstruction (wrapped as a JSON string
// literal, since step instructions are natural-language text rather than
// structured JSON objects) against the named tool's compiled
// ParametersSchema, returning a ValidationFailure on any violation.
func (r *Registry) ValidateParameters(toolName, stepInstruction string) error {
	schema, ok := r.schemas[toolName]
	if !ok {
		return jerrors.Newf(jerrors.ValidationFailure, "tools: no parameters schema registered for %q", toolName)
	}
	encoded, err := json.Marshal(stepInstruction)
	if err != nil {
		return jerrors.Wrap(jerrors.ValidationFailure, "tools: encoding step instruction for schema validation", err)
	}
	var instance any
	if err := json.Unmarshal(encoded, &instance); err != nil {
		return jerrors.Wrap(jerrors.ValidationFailure, "tools: decoding encoded step instruction for schema validation", err)
	}
	if err := schema.Validate(instance); err != nil {
		return jerrors.Wrap(jerrors.ValidationFailure, fmt.Sprintf("tools: %q step instruction failed parameters schema", toolName), err)
	}
	return nil
}

// ByName looks up a tool by its canonical name.
func (r *Registry) ByName(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// GetAllTools returns every registered tool, in registration order.
func (r *Registry) GetAllTools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// GetAllToolsPlannerDescriptions returns the newline-joined
// "name: description" list fed to the planner prompt, in registration
// order.
func (r *Registry) GetAllToolsPlannerDescriptions() string {
	var b strings.Builder
	for _, name := range r.order {
		t := r.byName[name]
		b.WriteString(t.Name())
		b.WriteString(": ")
		b.WriteString(t.PlannerDescription())
		b.WriteString("\n")
	}
	return b.String()
}

// Names returns every registered tool's canonical name, sorted, for
// deterministic test assertions.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
