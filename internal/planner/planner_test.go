package planner_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jervis-ai/jervis/internal/concurrency"
	"github.com/jervis-ai/jervis/internal/config"
	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/ids"
	"github.com/jervis-ai/jervis/internal/llm"
	"github.com/jervis-ai/jervis/internal/model"
	"github.com/jervis-ai/jervis/internal/planner"
	"github.com/jervis-ai/jervis/internal/tokencount"
)

// scriptedClient answers each Complete call with the next response in
// sequence, letting a test drive phase 1 then phase 2 deterministically.
type scriptedClient struct {
	responses []string
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	resp := c.responses[c.calls]
	c.calls++
	return &model.Response{
		StopReason: "end_turn",
		Content: []model.Message{{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: resp}},
		}},
	}, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func newTestGateway(client model.Client) *llm.Gateway {
	catalog := []config.ModelProfile{
		{Name: "fast", Provider: "fake", WireName: "fake-fast", Capabilities: []string{"type:chat", "ctx:100000"}},
	}
	mgr := concurrency.NewManager(func(string) int64 { return 4 }, func(string) concurrency.Mode { return concurrency.ModeInterruptible })
	return llm.New(catalog, tokencount.New(nil), mgr, nil,
		llm.WithTemplate(planner.PlannerPromptType, llm.PromptTemplate{ModelType: "chat", System: "plan", User: "{{.englishQuestion}}", MaxOutputTokens: 500}),
		llm.WithTemplate(planner.ToolReasoningPromptType, llm.PromptTemplate{ModelType: "chat", System: "select tools", User: "{{.requirements}}", MaxOutputTokens: 500}),
		llm.WithProvider("fake", client, ""),
	)
}

func testPlan() (*domain.TaskContext, *domain.Plan) {
	taskCtx := domain.NewTaskContext(ids.NewClientID(), ids.NewProjectID(), false)
	plan := domain.NewPlan(taskCtx.ID, "why did ci fail?", "why did ci fail?", time.Now())
	return taskCtx, plan
}

func TestPlanBuildsDependencyOrderedSteps(t *testing.T) {
	phase1 := `{"nextSteps":[{"description":"fetch the failing job log"},{"description":"summarize the failure"}],
	"goals":[{"goalId":"g1","goalIntent":"gather evidence","dependsOn":[]},{"goalId":"g2","goalIntent":"explain failure","dependsOn":["g1"]}]}`
	phase2 := `{"selections":[{"toolName":"fetch_logs","reasoning":"need raw log","parameters":{"jobId":"42"}},{"toolName":"summarize","reasoning":"explain to user","parameters":{}}]}`
	client := &scriptedClient{responses: []string{phase1, phase2}}
	gateway := newTestGateway(client)
	p := planner.New(gateway)

	taskCtx, plan := testPlan()
	catalog := []planner.ToolCatalogEntry{
		{Name: "fetch_logs", PlannerDescription: "fetches CI logs"},
		{Name: "summarize", PlannerDescription: "summarizes text"},
	}

	steps, err := p.Plan(context.Background(), taskCtx, plan, "why did ci fail?", "", catalog)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, "fetch_logs", steps[0].ToolName)
	require.Equal(t, "summarize", steps[1].ToolName)
	require.Equal(t, []int{steps[0].Order}, steps[1].DependsOn)
	require.Contains(t, steps[0].StepInstruction, "jobId=42")
	require.Len(t, plan.Steps, 2)
}

func TestPlanDetectsCyclicDependency(t *testing.T) {
	phase1 := `{"nextSteps":[{"description":"a"},{"description":"b"}],
	"goals":[{"goalId":"g1","goalIntent":"a","dependsOn":["g2"]},{"goalId":"g2","goalIntent":"b","dependsOn":["g1"]}]}`
	// The planner is re-prompted once with the validator's message; a
	// second cyclic graph exhausts the retry and surfaces the error.
	client := &scriptedClient{responses: []string{phase1, phase1}}
	gateway := newTestGateway(client)
	p := planner.New(gateway)

	taskCtx, plan := testPlan()
	_, err := p.Plan(context.Background(), taskCtx, plan, "q", "", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "g1")
	require.Contains(t, err.Error(), "g2")
	require.Equal(t, 2, client.calls)
}

func TestPlanDetectsMissingDependency(t *testing.T) {
	phase1 := `{"nextSteps":[{"description":"a"}],
	"goals":[{"goalId":"g1","goalIntent":"a","dependsOn":["ghost"]}]}`
	client := &scriptedClient{responses: []string{phase1, phase1}}
	gateway := newTestGateway(client)
	p := planner.New(gateway)

	taskCtx, plan := testPlan()
	_, err := p.Plan(context.Background(), taskCtx, plan, "q", "", nil)
	require.Error(t, err)
	require.Equal(t, 2, client.calls)
}

func TestPlanRepromptsOnceAfterInvalidGoalGraph(t *testing.T) {
	cyclic := `{"nextSteps":[{"description":"a"},{"description":"b"}],
	"goals":[{"goalId":"g1","goalIntent":"a","dependsOn":["g2"]},{"goalId":"g2","goalIntent":"b","dependsOn":["g1"]}]}`
	corrected := `{"nextSteps":[{"description":"a"},{"description":"b"}],
	"goals":[{"goalId":"g1","goalIntent":"a","dependsOn":[]},{"goalId":"g2","goalIntent":"b","dependsOn":["g1"]}]}`
	phase2 := `{"selections":[{"toolName":"fetch_logs","reasoning":"","parameters":{}},{"toolName":"fetch_logs","reasoning":"","parameters":{}}]}`
	client := &scriptedClient{responses: []string{cyclic, corrected, phase2}}
	gateway := newTestGateway(client)
	p := planner.New(gateway)

	taskCtx, plan := testPlan()
	catalog := []planner.ToolCatalogEntry{{Name: "fetch_logs", PlannerDescription: "fetches CI logs"}}
	steps, err := p.Plan(context.Background(), taskCtx, plan, "q", "", catalog)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, 3, client.calls)
}

func TestResolveToolNameExactAliasThenFallback(t *testing.T) {
	catalog := []planner.ToolCatalogEntry{
		{Name: "fetch_logs", Aliases: []string{"get_logs", "logs"}},
	}
	require.Equal(t, "fetch_logs", planner.ResolveToolName("Fetch_Logs", catalog))
	require.Equal(t, "fetch_logs", planner.ResolveToolName("LOGS", catalog))
	require.Equal(t, planner.FallbackToolName, planner.ResolveToolName("unknown_tool", catalog))
}
