// Package mongostore implements the indexing.Repository contract
// against MongoDB. Every transition is a single compare-and-set
// operation keyed by the document's natural key so concurrent indexers
// never double-claim or clobber each other's writes.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/ids"
	"github.com/jervis-ai/jervis/internal/jerrors"
)

const defaultOpTimeout = 5 * time.Second

// singleResult is the narrow result type this package needs from both
// FindOne and FindOneAndUpdate, letting tests substitute a fake.
type singleResult interface {
	Decode(val any) error
}

// collectionAPI is the subset of *mongo.Collection this store uses.
type collectionAPI interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	FindOneAndUpdate(ctx context.Context, filter, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult
	UpdateMany(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateManyOptions]) (*mongodriver.UpdateResult, error)
}

// Store implements indexing.Repository for one source collection (e.g.
// "confluence_pages", "jira_issues"). The same implementation serves
// every source; Kind distinguishes documents within a shared schema when
// a deployment chooses to share a collection.
type Store struct {
	coll    collectionAPI
	timeout time.Duration
}

// New wraps an existing *mongo.Collection, ensuring the compound and
// unique indexes the lookups rely on: a unique (connection_id, natural_key)
// and a (connection_id, state, source_updated_at desc) lookup index.
func New(ctx context.Context, coll *mongodriver.Collection, timeout time.Duration) (*Store, error) {
	if coll == nil {
		return nil, errors.New("mongostore: collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return &Store{coll: mongoCollection{coll: coll}, timeout: timeout}, nil
}

func ensureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "connection_id", Value: 1}, {Key: "natural_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "connection_id", Value: 1}, {Key: "state", Value: 1}, {Key: "source_updated_at", Value: -1}},
		},
	})
	return err
}

type itemDocument struct {
	ConnectionID    string     `bson:"connection_id"`
	NaturalKey      string     `bson:"natural_key"`
	Kind            string     `bson:"kind"`
	State           string     `bson:"state"`
	SourceUpdatedAt time.Time  `bson:"source_updated_at"`
	Title           string     `bson:"title,omitempty"`
	Body            string     `bson:"body,omitempty"`
	Attachments     []string   `bson:"attachments,omitempty"`
	ParentRefs      []string   `bson:"parent_refs,omitempty"`
	FailureReason   string     `bson:"failure_reason,omitempty"`
	ClaimedAt       *time.Time `bson:"claimed_at,omitempty"`
}

func fromItem(item *domain.IndexedItem) itemDocument {
	doc := itemDocument{
		ConnectionID:    item.ConnectionID.Hex(),
		NaturalKey:      item.NaturalKey,
		Kind:            item.Kind,
		State:           string(item.State),
		SourceUpdatedAt: item.SourceUpdatedAt,
		Title:           item.Title,
		Body:            item.Body,
		Attachments:     item.Attachments,
		ParentRefs:      item.ParentRefs,
		FailureReason:   item.FailureReason,
	}
	if item.State == domain.ItemStateIndexing {
		now := time.Now().UTC()
		doc.ClaimedAt = &now
	}
	return doc
}

func (doc itemDocument) toItem() (*domain.IndexedItem, error) {
	connID, err := ids.ConnectionIDFromHex(doc.ConnectionID)
	if err != nil {
		return nil, err
	}
	return &domain.IndexedItem{
		ConnectionID:    connID,
		NaturalKey:      doc.NaturalKey,
		Kind:            doc.Kind,
		State:           domain.ItemState(doc.State),
		SourceUpdatedAt: doc.SourceUpdatedAt,
		Title:           doc.Title,
		Body:            doc.Body,
		Attachments:     doc.Attachments,
		ParentRefs:      doc.ParentRefs,
		FailureReason:   doc.FailureReason,
	}, nil
}

// Insert stores item if no document exists yet for its natural key.
func (s *Store) Insert(ctx context.Context, item *domain.IndexedItem) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.InsertOne(ctx, fromItem(item))
	if err == nil {
		return true, nil
	}
	if mongodriver.IsDuplicateKeyError(err) {
		return false, nil
	}
	return false, err
}

// FindExisting looks up the document for (connectionID, naturalKey).
func (s *Store) FindExisting(ctx context.Context, connectionID ids.ConnectionID, naturalKey string) (*domain.IndexedItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"connection_id": connectionID.Hex(), "natural_key": naturalKey}
	var doc itemDocument
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.toItem()
}

// ClaimNextNewPage atomically claims up to limit NEW items by repeatedly
// issuing FindOneAndUpdate(state=NEW -> state=INDEXING) ordered by
// source_updated_at descending: each call claims exactly one document, so
// concurrent consumers racing on the same filter can never both observe
// the same document as NEW.
func (s *Store) ClaimNextNewPage(ctx context.Context, limit int) ([]*domain.IndexedItem, error) {
	var claimed []*domain.IndexedItem
	for i := 0; i < limit; i++ {
		item, err := s.claimOne(ctx)
		if err != nil {
			return claimed, err
		}
		if item == nil {
			break
		}
		claimed = append(claimed, item)
	}
	return claimed, nil
}

func (s *Store) claimOne(ctx context.Context) (*domain.IndexedItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	now := time.Now().UTC()
	filter := bson.M{"state": string(domain.ItemStateNew)}
	update := bson.M{"$set": bson.M{"state": string(domain.ItemStateIndexing), "claimed_at": now}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "source_updated_at", Value: -1}}).
		SetReturnDocument(options.After)

	var doc itemDocument
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.toItem()
}

// CompareAndSwap replaces the document for item's natural key, but only
// if it is currently in expectedState.
func (s *Store) CompareAndSwap(ctx context.Context, item *domain.IndexedItem, expectedState domain.ItemState) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{
		"connection_id": item.ConnectionID.Hex(),
		"natural_key":   item.NaturalKey,
		"state":         string(expectedState),
	}
	doc := fromItem(item)
	update := bson.M{"$set": doc}
	if item.State == domain.ItemStateIndexed {
		update["$unset"] = bson.M{"title": "", "body": "", "attachments": "", "parent_refs": "", "failure_reason": "", "claimed_at": ""}
	} else if doc.FailureReason == "" {
		update["$unset"] = bson.M{"failure_reason": ""}
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var result itemDocument
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&result)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return jerrors.Newf(jerrors.StateConflict, "mongostore: item %s was not in expected state %s", item.NaturalKey, expectedState)
		}
		return err
	}
	return nil
}

// ReclaimTimedOutIndexing returns every item claimed longer than
// olderThan ago back to NEW.
func (s *Store) ReclaimTimedOutIndexing(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cutoff := time.Now().UTC().Add(-olderThan)
	filter := bson.M{"state": string(domain.ItemStateIndexing), "claimed_at": bson.M{"$lt": cutoff}}
	update := bson.M{"$set": bson.M{"state": string(domain.ItemStateNew)}, "$unset": bson.M{"claimed_at": ""}}
	result, err := s.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return int(result.ModifiedCount), nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) FindOneAndUpdate(ctx context.Context, filter, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult {
	return c.coll.FindOneAndUpdate(ctx, filter, update, opts...)
}

func (c mongoCollection) UpdateMany(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateManyOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateMany(ctx, filter, update, opts...)
}
