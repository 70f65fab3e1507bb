package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/ids"
)

// fakePlanCollection is a hand-rolled, in-memory stand-in for
// *mongo.Collection keyed by plan_id, letting these tests exercise the
// document mapping without a live Mongo server.
type fakePlanCollection struct {
	mu   sync.Mutex
	docs map[string]planDocument
}

func newFakePlanCollection() *fakePlanCollection {
	return &fakePlanCollection{docs: make(map[string]planDocument)}
}

func (c *fakePlanCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc := document.(planDocument)
	c.docs[doc.PlanID] = doc
	return &mongodriver.InsertOneResult{}, nil
}

func (c *fakePlanCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := filter.(bson.M)
	doc, ok := c.docs[f["plan_id"].(string)]
	if !ok {
		return fakePlanResult{err: mongodriver.ErrNoDocuments}
	}
	return fakePlanResult{doc: &doc}
}

func (c *fakePlanCollection) FindOneAndUpdate(ctx context.Context, filter, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := filter.(bson.M)
	planID := f["plan_id"].(string)
	up := update.(bson.M)
	set := up["$set"].(planDocument)
	c.docs[planID] = set
	return fakePlanResult{doc: &set}
}

type fakePlanResult struct {
	doc *planDocument
	err error
}

func (r fakePlanResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	target := val.(*planDocument)
	*target = *r.doc
	return nil
}

func newTestPlanStore(coll planCollectionAPI) *PlanStore {
	return &PlanStore{coll: coll, timeout: time.Second}
}

func newSamplePlan() *domain.Plan {
	contextID := ids.NewContextID()
	plan := domain.NewPlan(contextID, "what should we do?", "what should we do?", time.Now())
	step := domain.NewPlanStep(plan.ID, contextID, 0, "reasoning", "think about it", nil)
	plan.Steps = []*domain.PlanStep{step}
	return plan
}

func TestPlanStoreInsertAndLoadRoundTrips(t *testing.T) {
	store := newTestPlanStore(newFakePlanCollection())
	plan := newSamplePlan()

	require.NoError(t, store.Insert(context.Background(), plan))

	loaded, err := store.Load(context.Background(), plan.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, plan.ID, loaded.ID)
	require.Equal(t, plan.OriginalQuestion, loaded.OriginalQuestion)
	require.Len(t, loaded.Steps, 1)
	require.Equal(t, "reasoning", loaded.Steps[0].ToolName)
}

func TestPlanStoreLoadReturnsNilWhenAbsent(t *testing.T) {
	store := newTestPlanStore(newFakePlanCollection())
	loaded, err := store.Load(context.Background(), ids.NewPlanID())
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestPlanStoreSaveUpsertsAndPersistsStepResults(t *testing.T) {
	store := newTestPlanStore(newFakePlanCollection())
	plan := newSamplePlan()
	require.NoError(t, store.Insert(context.Background(), plan))

	require.NoError(t, plan.Steps[0].Start())
	require.NoError(t, plan.Steps[0].Complete(domain.SuccessResult("reasoning", "done", "the answer")))
	plan.Status = domain.PlanStatusCompleted

	require.NoError(t, store.Save(context.Background(), plan))

	loaded, err := store.Load(context.Background(), plan.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PlanStatusCompleted, loaded.Status)
	require.Equal(t, domain.StepStatusDone, loaded.Steps[0].Status)
	require.NotNil(t, loaded.Steps[0].ToolResult)
	require.Equal(t, "the answer", loaded.Steps[0].ToolResult.Content)
}

func newFakeContextCollection() *fakeContextCollection {
	return &fakeContextCollection{docs: make(map[string]contextDocument)}
}

type fakeContextCollection struct {
	mu   sync.Mutex
	docs map[string]contextDocument
}

func (c *fakeContextCollection) FindOneAndUpdate(ctx context.Context, filter, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := filter.(bson.M)
	contextID := f["context_id"].(string)
	up := update.(bson.M)
	set := up["$set"].(contextDocument)
	c.docs[contextID] = set
	return fakeContextResult{doc: &set}
}

func (c *fakeContextCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := filter.(bson.M)
	doc, ok := c.docs[f["context_id"].(string)]
	if !ok {
		return fakeContextResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeContextResult{doc: &doc}
}

type fakeContextResult struct {
	doc *contextDocument
	err error
}

func (r fakeContextResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	target := val.(*contextDocument)
	*target = *r.doc
	return nil
}

func newTestContextStore(coll contextCollectionAPI) *ContextStore {
	return &ContextStore{coll: coll, timeout: time.Second}
}

func TestContextStoreUpsertAndLoadRoundTrips(t *testing.T) {
	store := newTestContextStore(newFakeContextCollection())
	taskCtx := domain.NewTaskContext(ids.NewClientID(), ids.NewProjectID(), true)
	taskCtx.AddPlan(ids.NewPlanID())

	require.NoError(t, store.Upsert(context.Background(), taskCtx))

	loaded, err := store.Load(context.Background(), taskCtx.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, taskCtx.ClientID, loaded.ClientID)
	require.True(t, loaded.Quick)
	require.Len(t, loaded.PlanIDs, 1)
}

func TestContextStoreLoadReturnsNilWhenAbsent(t *testing.T) {
	store := newTestContextStore(newFakeContextCollection())
	loaded, err := store.Load(context.Background(), ids.NewContextID())
	require.NoError(t, err)
	require.Nil(t, loaded)
}
