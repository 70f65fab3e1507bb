package indexing_test

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/ids"
	"github.com/jervis-ai/jervis/internal/indexing"
)

// TestInsertIfNewAtMostOneDocumentPerNaturalKey verifies the dedup
// invariant a polling source relies on: no matter how many times the
// same natural key is offered to InsertIfNew, at most one IndexedItem
// exists for it afterward, and exactly one of the attempts reports
// itself as the inserting call.
func TestInsertIfNewAtMostOneDocumentPerNaturalKey(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated InsertIfNew calls for one natural key insert exactly once", prop.ForAll(
		func(naturalKey string, attempts int) bool {
			if naturalKey == "" {
				naturalKey = "fallback-key"
			}
			if attempts < 1 {
				attempts = 1
			}
			if attempts > 20 {
				attempts = 20
			}

			repo := newFakeRepo()
			sm := indexing.New(repo, nil)
			connID := ids.NewConnectionID()

			insertedCount := 0
			for i := 0; i < attempts; i++ {
				item := domain.NewIndexedItem(connID, naturalKey, "page", "t", "b", nil, nil, time.Now())
				inserted, err := sm.InsertIfNew(context.Background(), item)
				if err != nil {
					return false
				}
				if inserted {
					insertedCount++
				}
			}
			if insertedCount != 1 {
				return false
			}

			stored, err := repo.FindExisting(context.Background(), connID, naturalKey)
			if err != nil || stored == nil {
				return false
			}
			return stored.State == domain.ItemStateNew
		},
		gen.AlphaString(),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
