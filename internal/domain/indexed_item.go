package domain

import (
	"time"

	"github.com/jervis-ai/jervis/internal/ids"
	"github.com/jervis-ai/jervis/internal/jerrors"
)

// ItemState is the indexing lifecycle state of an IndexedItem. Exactly one
// IndexedItem exists per (ConnectionID, NaturalKey) tuple at any time; the
// indexing state machine is the only writer of these transitions.
type ItemState string

const (
	// ItemStateNew means the item is queued for indexing and still carries
	// its full payload.
	ItemStateNew ItemState = "NEW"
	// ItemStateIndexing means an indexer has claimed the item; transient,
	// must time out back to NEW after a bounded window if not completed.
	ItemStateIndexing ItemState = "INDEXING"
	// ItemStateIndexed is terminal except that the shell itself lives
	// forever as a dedup marker; the payload has been discarded.
	ItemStateIndexed ItemState = "INDEXED"
	// ItemStateFailed means indexing errored; retryable via Retry.
	ItemStateFailed ItemState = "FAILED"
)

// IndexedItem is the polymorphic-by-Kind dedup/tracking record for one
// document pulled from a source connection (a Confluence page, a Jira
// issue, a git commit, an email message, ...). NEW and FAILED carry the
// full payload; INDEXED carries only the minimal tracking tuple.
type IndexedItem struct {
	ConnectionID ids.ConnectionID
	NaturalKey   string
	Kind         string
	State        ItemState

	// SourceUpdatedAt is the provider-side last-modified timestamp, used to
	// detect that a NEW/FAILED item has been superseded upstream.
	SourceUpdatedAt time.Time

	// Title, Body, Attachments, and ParentRefs hold the full payload.
	// Present only while State is NEW or FAILED; zeroed once the item
	// transitions to INDEXED.
	Title       string
	Body        string
	Attachments []string
	ParentRefs  []string

	FailureReason string
}

// NewIndexedItem constructs a fresh NEW item carrying its full payload.
func NewIndexedItem(connectionID ids.ConnectionID, naturalKey, kind, title, body string, attachments, parentRefs []string, sourceUpdatedAt time.Time) *IndexedItem {
	return &IndexedItem{
		ConnectionID:    connectionID,
		NaturalKey:      naturalKey,
		Kind:            kind,
		State:           ItemStateNew,
		SourceUpdatedAt: sourceUpdatedAt,
		Title:           title,
		Body:            body,
		Attachments:     attachments,
		ParentRefs:      parentRefs,
	}
}

// MarkIndexing claims the item for indexing. Only NEW or FAILED items may be
// claimed.
func (i *IndexedItem) MarkIndexing() error {
	if i.State != ItemStateNew && i.State != ItemStateFailed {
		return jerrors.Newf(jerrors.StateConflict, "cannot claim item %s in state %s for indexing", i.NaturalKey, i.State)
	}
	i.State = ItemStateIndexing
	return nil
}

// MarkIndexed completes indexing by replacing the document wholesale with
// the minimal shell: the full payload fields are cleared so the INDEXED
// record can live forever as a dedup marker without retaining content that
// has already been pushed to the vector store.
func (i *IndexedItem) MarkIndexed() error {
	if i.State != ItemStateIndexing {
		return jerrors.Newf(jerrors.StateConflict, "cannot mark item %s indexed from state %s", i.NaturalKey, i.State)
	}
	i.State = ItemStateIndexed
	i.Title = ""
	i.Body = ""
	i.Attachments = nil
	i.ParentRefs = nil
	i.FailureReason = ""
	return nil
}

// MarkFailed records an indexing failure, keeping the full payload so Retry
// can requeue it without re-fetching from the source.
func (i *IndexedItem) MarkFailed(reason string) error {
	if i.State != ItemStateIndexing {
		return jerrors.Newf(jerrors.StateConflict, "cannot fail item %s from state %s", i.NaturalKey, i.State)
	}
	i.State = ItemStateFailed
	i.FailureReason = reason
	return nil
}

// TimeoutToNew reclaims an item stuck in INDEXING past the bounded claim
// window, returning it to NEW so another indexer can retry it.
func (i *IndexedItem) TimeoutToNew() error {
	if i.State != ItemStateIndexing {
		return jerrors.Newf(jerrors.StateConflict, "cannot time out item %s from state %s", i.NaturalKey, i.State)
	}
	i.State = ItemStateNew
	return nil
}

// Retry clears the failure reason and requeues a FAILED item as NEW for
// another indexing attempt.
func (i *IndexedItem) Retry() error {
	if i.State != ItemStateFailed {
		return jerrors.Newf(jerrors.StateConflict, "cannot retry item %s from state %s", i.NaturalKey, i.State)
	}
	i.State = ItemStateNew
	i.FailureReason = ""
	return nil
}
