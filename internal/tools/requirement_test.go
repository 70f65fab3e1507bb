package tools_test

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
	"github.com/jervis-ai/jervis/internal/tokencount"
	"github.com/jervis-ai/jervis/internal/tools"
)

type fakeRequirementStore struct {
	saved []*domain.UserRequirement
}

func (f *fakeRequirementStore) Upsert(ctx context.Context, req *domain.UserRequirement) error {
	for i, existing := range f.saved {
		if existing.ContextID == req.ContextID && existing.Title == req.Title {
			f.saved[i] = req
			return nil
		}
	}
	f.saved = append(f.saved, req)
	return nil
}

func (f *fakeRequirementStore) ListByContext(ctx context.Context, contextID ids.ContextID) ([]*domain.UserRequirement, error) {
	var out []*domain.UserRequirement
	for _, req := range f.saved {
		if req.ContextID == contextID {
			out = append(out, req)
		}
	}
	return out, nil
}

type fakeExtractionClient struct{ json string }

func (f *fakeExtractionClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return &model.Response{
		StopReason: "end_turn",
		Content: []model.Message{{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: f.json}},
		}},
	}, nil
}

func (f *fakeExtractionClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func newExtractionGateway(json string) *llm.Gateway {
	catalog := []config.ModelProfile{
		{Name: "fast", Provider: "fake", WireName: "fake-fast", Capabilities: []string{"type:chat", "ctx:100000"}},
	}
	mgr := concurrency.NewManager(func(string) int64 { return 4 }, func(string) concurrency.Mode { return concurrency.ModeInterruptible })
	return llm.New(catalog, tokencount.New(nil), mgr, nil,
		llm.WithTemplate(tools.RequirementExtractionPromptType, llm.PromptTemplate{ModelType: "chat", System: "extract", User: "{{.instruction}}", MaxOutputTokens: 500}),
		llm.WithProvider("fake", &fakeExtractionClient{json: json}, ""),
	)
}

func TestCreateRequirementToolRecordsRequirement(t *testing.T) {
	store := &fakeRequirementStore{}
	gw := newExtractionGateway(`{"title":"Add dark mode","description":"Users want a dark theme","keywords":["ui","theme"],"priority":"high"}`)
	tool := tools.NewCreateRequirementTool(gw, store)

	contextID := ids.NewContextID()
	plan := domain.NewPlan(contextID, "q", "q", time.Now())
	result, err := tool.Execute(context.Background(), plan, "remember that users want dark mode", tools.StepContext{ContextID: contextID})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, store.saved, 1)
	require.Equal(t, "Add dark mode", store.saved[0].Title)
	require.Equal(t, domain.PriorityHigh, store.saved[0].Priority)
	require.Equal(t, []string{"ui", "theme"}, store.saved[0].Keywords)
}

func TestCreateRequirementToolIsIdempotentWithinAPlan(t *testing.T) {
	store := &fakeRequirementStore{}
	gw := newExtractionGateway(`{"title":"Add dark mode","description":"d","keywords":null,"priority":"medium"}`)
	tool := tools.NewCreateRequirementTool(gw, store)

	contextID := ids.NewContextID()
	plan := domain.NewPlan(contextID, "q", "q", time.Now())
	stepCtx := tools.StepContext{ContextID: contextID}

	_, err := tool.Execute(context.Background(), plan, "same instruction", stepCtx)
	require.NoError(t, err)
	_, err = tool.Execute(context.Background(), plan, "same instruction", stepCtx)
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
}

func TestCreateRequirementToolFailsOnBlankTitle(t *testing.T) {
	store := &fakeRequirementStore{}
	gw := newExtractionGateway(`{"title":"  ","description":"d","keywords":null,"priority":"low"}`)
	tool := tools.NewCreateRequirementTool(gw, store)

	contextID := ids.NewContextID()
	plan := domain.NewPlan(contextID, "q", "q", time.Now())
	result, err := tool.Execute(context.Background(), plan, "do something", tools.StepContext{ContextID: contextID})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Empty(t, store.saved)
}
