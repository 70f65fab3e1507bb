// Package store implements Mongo-backed persistence for Plans and their
// TaskContext envelope (the "plans" and "task_contexts" collections),
// following the same collection discipline as
// internal/indexing/mongostore. Plans are stored as a single
// document embedding their steps, since a Plan's steps are always read and
// mutated together by one Executor.Run call and never queried independently.
package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/ids"
)

const defaultOpTimeout = 5 * time.Second

type singleResult interface {
	Decode(val any) error
}

// planCollectionAPI is the subset of *mongo.Collection the plan store uses.
type planCollectionAPI interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	FindOneAndUpdate(ctx context.Context, filter, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult
}

// contextCollectionAPI is the subset of *mongo.Collection the context store
// uses.
type contextCollectionAPI interface {
	FindOneAndUpdate(ctx context.Context, filter, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
}

// PlanStore persists Plans (with their embedded PlanSteps) to the "plans"
// collection.
type PlanStore struct {
	coll    planCollectionAPI
	timeout time.Duration
}

// NewPlanStore wraps an existing *mongo.Collection, ensuring the unique
// index on plan id.
func NewPlanStore(ctx context.Context, coll *mongodriver.Collection, timeout time.Duration) (*PlanStore, error) {
	if coll == nil {
		return nil, errors.New("store: plans collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	_, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "plan_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}
	return &PlanStore{coll: mongoPlanCollection{coll: coll}, timeout: timeout}, nil
}

type stepDocument struct {
	StepID          string   `bson:"step_id"`
	Order           int      `bson:"order"`
	ContextID       string   `bson:"context_id"`
	ToolName        string   `bson:"tool_name"`
	StepInstruction string   `bson:"step_instruction"`
	DependsOn       []int    `bson:"depends_on,omitempty"`
	StepGroup       *string  `bson:"step_group,omitempty"`
	Status          string   `bson:"status"`
	ResultSuccess   *bool    `bson:"result_success,omitempty"`
	ResultSummary   string   `bson:"result_summary,omitempty"`
	ResultContent   string   `bson:"result_content,omitempty"`
	ResultError     string   `bson:"result_error,omitempty"`
}

type planDocument struct {
	PlanID           string         `bson:"plan_id"`
	ContextID        string         `bson:"context_id"`
	OriginalQuestion string         `bson:"original_question"`
	EnglishQuestion  string         `bson:"english_question"`
	Status           string         `bson:"status"`
	ContextSummary   string         `bson:"context_summary,omitempty"`
	FinalAnswer      string         `bson:"final_answer,omitempty"`
	Steps            []stepDocument `bson:"steps"`
	CreatedAt        time.Time      `bson:"created_at"`
	UpdatedAt        time.Time      `bson:"updated_at"`
}

func fromStep(s *domain.PlanStep) stepDocument {
	doc := stepDocument{
		StepID:          s.ID.Hex(),
		Order:           s.Order,
		ContextID:       s.ContextID.Hex(),
		ToolName:        s.ToolName,
		StepInstruction: s.StepInstruction,
		DependsOn:       s.DependsOn,
		StepGroup:       s.StepGroup,
		Status:          string(s.Status),
	}
	if s.ToolResult != nil {
		success := s.ToolResult.Success
		doc.ResultSuccess = &success
		doc.ResultSummary = s.ToolResult.Summary
		doc.ResultContent = s.ToolResult.Content
		doc.ResultError = s.ToolResult.ErrorMessage
	}
	return doc
}

func (doc stepDocument) toStep(planID ids.PlanID) (*domain.PlanStep, error) {
	stepID, err := ids.StepIDFromHex(doc.StepID)
	if err != nil {
		return nil, err
	}
	contextID, err := ids.ContextIDFromHex(doc.ContextID)
	if err != nil {
		return nil, err
	}
	step := &domain.PlanStep{
		ID:              stepID,
		Order:           doc.Order,
		PlanID:          planID,
		ContextID:       contextID,
		ToolName:        doc.ToolName,
		StepInstruction: doc.StepInstruction,
		DependsOn:       doc.DependsOn,
		StepGroup:       doc.StepGroup,
		Status:          domain.StepStatus(doc.Status),
	}
	if doc.ResultSuccess != nil {
		step.ToolResult = &domain.ToolResult{
			ToolName:     doc.ToolName,
			Success:      *doc.ResultSuccess,
			Summary:      doc.ResultSummary,
			Content:      doc.ResultContent,
			ErrorMessage: doc.ResultError,
		}
	}
	return step, nil
}

func fromPlan(p *domain.Plan) planDocument {
	steps := make([]stepDocument, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = fromStep(s)
	}
	return planDocument{
		PlanID:           p.ID.Hex(),
		ContextID:        p.ContextID.Hex(),
		OriginalQuestion: p.OriginalQuestion,
		EnglishQuestion:  p.EnglishQuestion,
		Status:           string(p.Status),
		ContextSummary:   p.ContextSummary,
		FinalAnswer:      p.FinalAnswer,
		Steps:            steps,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func (doc planDocument) toPlan() (*domain.Plan, error) {
	planID, err := ids.PlanIDFromHex(doc.PlanID)
	if err != nil {
		return nil, err
	}
	contextID, err := ids.ContextIDFromHex(doc.ContextID)
	if err != nil {
		return nil, err
	}
	steps := make([]*domain.PlanStep, len(doc.Steps))
	for i, sd := range doc.Steps {
		step, err := sd.toStep(planID)
		if err != nil {
			return nil, err
		}
		steps[i] = step
	}
	return &domain.Plan{
		ID:               planID,
		ContextID:        contextID,
		OriginalQuestion: doc.OriginalQuestion,
		EnglishQuestion:  doc.EnglishQuestion,
		Status:           domain.PlanStatus(doc.Status),
		Steps:            steps,
		ContextSummary:   doc.ContextSummary,
		FinalAnswer:      doc.FinalAnswer,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}, nil
}

// Insert stores plan as a brand-new document.
func (s *PlanStore) Insert(ctx context.Context, plan *domain.Plan) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.InsertOne(ctx, fromPlan(plan))
	return err
}

// Load retrieves the plan identified by planID, returning (nil, nil) if no
// such plan has been persisted.
func (s *PlanStore) Load(ctx context.Context, planID ids.PlanID) (*domain.Plan, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc planDocument
	if err := s.coll.FindOne(ctx, bson.M{"plan_id": planID.Hex()}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.toPlan()
}

// Save replaces the whole plan document, wholesale, with the plan's current
// in-memory state — the executor is the single writer for any given plan
// run, so a blind replace (rather than a compare-and-set on Status) is
// sufficient here, unlike indexing's concurrently-claimed items.
func (s *PlanStore) Save(ctx context.Context, plan *domain.Plan) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"plan_id": plan.ID.Hex()}
	update := bson.M{"$set": fromPlan(plan)}
	unset := bson.M{}
	if plan.ContextSummary == "" {
		unset["context_summary"] = ""
	}
	if plan.FinalAnswer == "" {
		unset["final_answer"] = ""
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After).SetUpsert(true)
	var doc planDocument
	return s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
}

func (s *PlanStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

type mongoPlanCollection struct {
	coll *mongodriver.Collection
}

func (c mongoPlanCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoPlanCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoPlanCollection) FindOneAndUpdate(ctx context.Context, filter, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult {
	return c.coll.FindOneAndUpdate(ctx, filter, update, opts...)
}

// ContextStore persists TaskContexts to the "task_contexts" collection.
type ContextStore struct {
	coll    contextCollectionAPI
	timeout time.Duration
}

// NewContextStore wraps an existing *mongo.Collection.
func NewContextStore(coll *mongodriver.Collection, timeout time.Duration) (*ContextStore, error) {
	if coll == nil {
		return nil, errors.New("store: task_contexts collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &ContextStore{coll: mongoContextCollection{coll: coll}, timeout: timeout}, nil
}

type contextDocument struct {
	ContextID      string   `bson:"context_id"`
	ClientID       string   `bson:"client_id"`
	ProjectID      string   `bson:"project_id"`
	ContextSummary string   `bson:"context_summary,omitempty"`
	Quick          bool     `bson:"quick"`
	PlanIDs        []string `bson:"plan_ids,omitempty"`
}

func fromContext(t *domain.TaskContext) contextDocument {
	planIDs := make([]string, len(t.PlanIDs))
	for i, id := range t.PlanIDs {
		planIDs[i] = id.Hex()
	}
	return contextDocument{
		ContextID:      t.ID.Hex(),
		ClientID:       t.ClientID.Hex(),
		ProjectID:      t.ProjectID.Hex(),
		ContextSummary: t.ContextSummary,
		Quick:          t.Quick,
		PlanIDs:        planIDs,
	}
}

func (doc contextDocument) toContext() (*domain.TaskContext, error) {
	contextID, err := ids.ContextIDFromHex(doc.ContextID)
	if err != nil {
		return nil, err
	}
	clientID, err := ids.ClientIDFromHex(doc.ClientID)
	if err != nil {
		return nil, err
	}
	projectID, err := ids.ProjectIDFromHex(doc.ProjectID)
	if err != nil {
		return nil, err
	}
	planIDs := make([]ids.PlanID, len(doc.PlanIDs))
	for i, hex := range doc.PlanIDs {
		planID, err := ids.PlanIDFromHex(hex)
		if err != nil {
			return nil, err
		}
		planIDs[i] = planID
	}
	return &domain.TaskContext{
		ID:             contextID,
		ClientID:       clientID,
		ProjectID:      projectID,
		ContextSummary: doc.ContextSummary,
		Quick:          doc.Quick,
		PlanIDs:        planIDs,
	}, nil
}

// Upsert replaces the TaskContext document for t.ID wholesale.
func (s *ContextStore) Upsert(ctx context.Context, t *domain.TaskContext) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"context_id": t.ID.Hex()}
	update := bson.M{"$set": fromContext(t)}
	unset := bson.M{}
	if t.ContextSummary == "" {
		unset["context_summary"] = ""
	}
	if len(t.PlanIDs) == 0 {
		unset["plan_ids"] = ""
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After).SetUpsert(true)
	var doc contextDocument
	return s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
}

// Load retrieves the TaskContext identified by contextID, returning (nil,
// nil) if no such context has been persisted.
func (s *ContextStore) Load(ctx context.Context, contextID ids.ContextID) (*domain.TaskContext, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc contextDocument
	if err := s.coll.FindOne(ctx, bson.M{"context_id": contextID.Hex()}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.toContext()
}

func (s *ContextStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

type mongoContextCollection struct {
	coll *mongodriver.Collection
}

func (c mongoContextCollection) FindOneAndUpdate(ctx context.Context, filter, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult {
	return c.coll.FindOneAndUpdate(ctx, filter, update, opts...)
}

func (c mongoContextCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}
