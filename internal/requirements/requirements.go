// Package requirements persists captured user requirements to the
// user_requirements collection, following the same narrow-collection
// discipline as internal/indexing/mongostore. Saves are upserts keyed by
// (context_id, title) so a tool re-invoked with identical parameters
// within a plan records one requirement, not one per attempt.
package requirements

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

// Store is the persistence contract tools use to record requirements.
type Store interface {
	// Upsert writes req, replacing any requirement already recorded under
	// the same (ContextID, Title).
	Upsert(ctx context.Context, req *domain.UserRequirement) error

	// ListByContext returns every requirement recorded under contextID.
	ListByContext(ctx context.Context, contextID ids.ContextID) ([]*domain.UserRequirement, error)
}

type singleResult interface {
	Decode(val any) error
}

// collectionAPI is the subset of *mongo.Collection this store uses.
type collectionAPI interface {
	FindOneAndUpdate(ctx context.Context, filter, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongodriver.Cursor, error)
}

// MongoStore implements Store against the user_requirements collection.
type MongoStore struct {
	coll    collectionAPI
	timeout time.Duration
}

// NewMongoStore wraps an existing *mongo.Collection, ensuring the unique
// (context_id, title) index the upsert semantics rely on.
func NewMongoStore(ctx context.Context, coll *mongodriver.Collection, timeout time.Duration) (*MongoStore, error) {
	if coll == nil {
		return nil, errors.New("requirements: collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	_, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "context_id", Value: 1}, {Key: "title", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}
	return &MongoStore{coll: mongoCollection{coll: coll}, timeout: timeout}, nil
}

type requirementDocument struct {
	RequirementID string   `bson:"requirement_id"`
	ContextID     string   `bson:"context_id"`
	Title         string   `bson:"title"`
	Description   string   `bson:"description,omitempty"`
	Keywords      []string `bson:"keywords,omitempty"`
	Priority      string   `bson:"priority"`
}

func fromRequirement(req *domain.UserRequirement) requirementDocument {
	return requirementDocument{
		RequirementID: req.ID.Hex(),
		ContextID:     req.ContextID.Hex(),
		Title:         req.Title,
		Description:   req.Description,
		Keywords:      req.Keywords,
		Priority:      string(req.Priority),
	}
}

func (doc requirementDocument) toRequirement() (*domain.UserRequirement, error) {
	reqID, err := ids.RequirementIDFromHex(doc.RequirementID)
	if err != nil {
		return nil, err
	}
	contextID, err := ids.ContextIDFromHex(doc.ContextID)
	if err != nil {
		return nil, err
	}
	return &domain.UserRequirement{
		ID:          reqID,
		ContextID:   contextID,
		Title:       doc.Title,
		Description: doc.Description,
		Keywords:    doc.Keywords,
		Priority:    domain.RequirementPriority(doc.Priority),
	}, nil
}

// Upsert writes req keyed by (context_id, title).
func (s *MongoStore) Upsert(ctx context.Context, req *domain.UserRequirement) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	filter := bson.M{"context_id": req.ContextID.Hex(), "title": req.Title}
	update := bson.M{"$set": fromRequirement(req)}
	unset := bson.M{}
	if req.Description == "" {
		unset["description"] = ""
	}
	if len(req.Keywords) == 0 {
		unset["keywords"] = ""
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc requirementDocument
	if err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return err
	}
	return nil
}

// ListByContext returns every requirement recorded under contextID.
func (s *MongoStore) ListByContext(ctx context.Context, contextID ids.ContextID) ([]*domain.UserRequirement, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	cursor, err := s.coll.Find(ctx, bson.M{"context_id": contextID.Hex()})
	if err != nil {
		return nil, err
	}
	defer func() { _ = cursor.Close(ctx) }()

	var out []*domain.UserRequirement
	for cursor.Next(ctx) {
		var doc requirementDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		req, err := doc.toRequirement()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, cursor.Err()
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOneAndUpdate(ctx context.Context, filter, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult {
	return c.coll.FindOneAndUpdate(ctx, filter, update, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongodriver.Cursor, error) {
	return c.coll.Find(ctx, filter, opts...)
}
