package tools

import (
	"context"
	"strings"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/rag"
)

// RAGSearchToolName is the canonical name of the RAG retrieval tool.
const RAGSearchToolName = "rag_search"

// RAGSearchTool exposes the RAG pipeline as a plannable tool: its step
// instruction is split into one or more newline-separated queries executed
// concurrently and synthesized into a single answer.
type RAGSearchTool struct {
	pipeline *rag.Pipeline
}

// NewRAGSearchTool constructs a RAGSearchTool over pipeline.
func NewRAGSearchTool(pipeline *rag.Pipeline) *RAGSearchTool {
	return &RAGSearchTool{pipeline: pipeline}
}

func (t *RAGSearchTool) Name() string      { return RAGSearchToolName }
func (t *RAGSearchTool) Aliases() []string { return []string{"search", "knowledge_search"} }
func (t *RAGSearchTool) PlannerDescription() string {
	return "Searches the indexed knowledge base (issues, wikis, commits, email) via hybrid vector+keyword retrieval and synthesizes a natural-language answer. Use when the requirement needs facts from indexed external sources."
}

func (t *RAGSearchTool) ParametersSchema() string {
	return `{"type":"string","minLength":1}`
}

func (t *RAGSearchTool) Execute(ctx context.Context, plan *domain.Plan, stepInstruction string, stepCtx StepContext) (*domain.ToolResult, error) {
	queries := splitQueries(stepInstruction)
	taskCtx := stepCtx.TaskContext
	if taskCtx == nil {
		taskCtx = &domain.TaskContext{ID: stepCtx.ContextID}
	}

	answer, err := t.pipeline.ExecuteRAGPipeline(ctx, queries, stepInstruction, taskCtx)
	if err != nil {
		return nil, err
	}
	return domain.SuccessResult(t.Name(), "retrieved and synthesized knowledge base answer", answer), nil
}

func splitQueries(instruction string) []string {
	var queries []string
	for _, line := range strings.Split(instruction, "\n") {
		if q := strings.TrimSpace(line); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		queries = []string{instruction}
	}
	return queries
}
