// Package indexing implements the indexing state machine: the
// NEW -> INDEXING -> INDEXED/FAILED lifecycle for per-source content
// pulled in by the polling framework, plus the continuous lazy
// consumer that feeds embedding/RAG ingestion.
package indexing

import (
	"context"
	"time"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/ids"
	"github.com/jervis-ai/jervis/internal/jerrors"
	"github.com/jervis-ai/jervis/internal/telemetry"
)

// DefaultPollDelay is the sleep interval ContinuousNewItems waits after an
// exhausted page before re-querying.
const DefaultPollDelay = 30 * time.Second

// Repository is the per-source persistence contract the state machine
// drives with compare-and-set transitions. One Repository instance is
// scoped to a single source collection (Confluence pages, Jira issues,
// git commits, email messages, ...); the source is distinguished by the
// collection it is bound to, not by a type parameter, so a single
// mongostore.Store implementation serves every source.
type Repository interface {
	// Insert stores item if no document exists yet for its
	// (ConnectionID, NaturalKey) tuple, and is a no-op otherwise. Returns
	// whether the item was actually inserted.
	Insert(ctx context.Context, item *domain.IndexedItem) (inserted bool, err error)

	// FindExisting reports whether a document already exists for
	// (connectionID, naturalKey), and its current state if so.
	FindExisting(ctx context.Context, connectionID ids.ConnectionID, naturalKey string) (*domain.IndexedItem, error)

	// ClaimNextNewPage atomically claims up to limit NEW items ordered by
	// SourceUpdatedAt descending, transitioning each to INDEXING in the
	// same compare-and-set operation so concurrent consumers never claim
	// the same item twice.
	ClaimNextNewPage(ctx context.Context, limit int) ([]*domain.IndexedItem, error)

	// CompareAndSwap atomically replaces the document for item's natural
	// key, but only if its currently stored state equals expectedState;
	// it fails with jerrors.StateConflict if another writer already moved
	// it on.
	CompareAndSwap(ctx context.Context, item *domain.IndexedItem, expectedState domain.ItemState) error

	// ReclaimTimedOutIndexing returns every item stuck in INDEXING past
	// olderThan to NEW, and reports how many were reclaimed.
	ReclaimTimedOutIndexing(ctx context.Context, olderThan time.Duration) (int, error)
}

// StateMachine drives IndexedItem transitions through a Repository,
// enforcing that every transition is the final action after its
// corresponding external writes, so visibility is at-least-once: callers perform the vector-store/RAG-metadata
// write themselves and only then call MarkIndexed.
type StateMachine struct {
	repo   Repository
	logger telemetry.Logger
}

// New constructs a StateMachine over repo.
func New(repo Repository, logger telemetry.Logger) *StateMachine {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &StateMachine{repo: repo, logger: logger}
}

// InsertIfNew computes the natural key, checks whether a terminal or
// otherwise existing document already covers it, and inserts a new NEW
// item when it does not. Reports whether the item was newly inserted,
// matching the "discovered vs skipped" bookkeeping the polling framework
// needs for PollingResult.
func (s *StateMachine) InsertIfNew(ctx context.Context, item *domain.IndexedItem) (inserted bool, err error) {
	existing, err := s.repo.FindExisting(ctx, item.ConnectionID, item.NaturalKey)
	if err != nil {
		return false, jerrors.Wrap(jerrors.ProviderTransient, "indexing: checking for existing item", err)
	}
	if existing != nil {
		return false, nil
	}
	return s.repo.Insert(ctx, item)
}

// ClaimForIndexing claims up to limit NEW items, transitioning each to
// INDEXING.
func (s *StateMachine) ClaimForIndexing(ctx context.Context, limit int) ([]*domain.IndexedItem, error) {
	items, err := s.repo.ClaimNextNewPage(ctx, limit)
	if err != nil {
		return nil, jerrors.Wrap(jerrors.ProviderTransient, "indexing: claiming next page", err)
	}
	return items, nil
}

// MarkIndexed completes indexing for item: the document is wholesale
// replaced with the minimal INDEXED shell. Callers must have already
// performed the vector-store insert and RAG metadata write; a crash
// between that write and this call simply re-drives the item the next
// time ClaimForIndexing claims it back from a timed-out INDEXING state.
func (s *StateMachine) MarkIndexed(ctx context.Context, item *domain.IndexedItem) error {
	if item.State == domain.ItemStateIndexed {
		s.logger.Warn(ctx, "indexing: markIndexed on already-indexed item is a no-op anomaly", "naturalKey", item.NaturalKey)
		return nil
	}
	if err := item.MarkIndexed(); err != nil {
		return err
	}
	return s.repo.CompareAndSwap(ctx, item, domain.ItemStateIndexing)
}

// MarkFailed records reason against item. If item is already FAILED,
// reason is appended to the existing failure string with a "; "
// separator rather than overwriting it.
func (s *StateMachine) MarkFailed(ctx context.Context, item *domain.IndexedItem, reason string) error {
	expected := item.State
	if item.State == domain.ItemStateFailed {
		if item.FailureReason != "" {
			reason = item.FailureReason + "; " + reason
		}
		item.FailureReason = reason
		return s.repo.CompareAndSwap(ctx, item, expected)
	}
	if err := item.MarkFailed(reason); err != nil {
		return err
	}
	return s.repo.CompareAndSwap(ctx, item, expected)
}

// ResetFailedToNew clears item's error and requeues it as NEW.
func (s *StateMachine) ResetFailedToNew(ctx context.Context, item *domain.IndexedItem) error {
	expected := item.State
	if err := item.Retry(); err != nil {
		return err
	}
	return s.repo.CompareAndSwap(ctx, item, expected)
}

// ReclaimStaleIndexing returns every item stuck in INDEXING longer than
// claimTimeout back to NEW, so a crashed indexer's claims are eventually
// retried by another consumer.
func (s *StateMachine) ReclaimStaleIndexing(ctx context.Context, claimTimeout time.Duration) (int, error) {
	return s.repo.ReclaimTimedOutIndexing(ctx, claimTimeout)
}

// ContinuousNewItems returns a channel yielding NEW items in an infinite,
// restartable sequence ordered by source-side updatedAt descending: it
// claims a page, yields every item on it, and sleeps pollDelay when a
// page comes back empty before re-querying. The sequence terminates (the
// channel is closed) at the next yield boundary after ctx is cancelled.
func (s *StateMachine) ContinuousNewItems(ctx context.Context, pageSize int, pollDelay time.Duration) <-chan *domain.IndexedItem {
	if pollDelay <= 0 {
		pollDelay = DefaultPollDelay
	}
	out := make(chan *domain.IndexedItem)
	go func() {
		defer close(out)
		for {
			items, err := s.ClaimForIndexing(ctx, pageSize)
			if err != nil {
				s.logger.Warn(ctx, "indexing: continuous page claim failed", "error", err)
				items = nil
			}
			for _, item := range items {
				select {
				case out <- item:
				case <-ctx.Done():
					return
				}
			}
			if len(items) == 0 {
				select {
				case <-time.After(pollDelay):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return out
}
