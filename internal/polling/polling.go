// Package polling implements the polling handler framework: a
// capability-keyed dispatcher that walks every capability a Connection
// exposes, fans out to the capability-specific sub-handler (bugtracker,
// wiki, repository, mail, ...), and folds their discovered/created/
// skipped/error counts into a single PollingResult.
package polling

import (
	"context"
	"time"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/ids"
	"github.com/jervis-ai/jervis/internal/indexing"
	"github.com/jervis-ai/jervis/internal/jerrors"
	"github.com/jervis-ai/jervis/internal/telemetry"
)

// DefaultMaxPagesPerRun bounds how many pages a single poll of one
// connection/capability will walk, so one misbehaving source cannot starve
// the rest of the fleet.
const DefaultMaxPagesPerRun = 20

// PollingContext carries the tenancy fan-out a connection resolves to: every
// client that inherits it, and the explicit per-client project attachment
// (nil meaning "inherit on all of the client's projects").
type PollingContext struct {
	ClientIDs       []ids.ClientID
	projectByClient map[ids.ClientID]ids.ProjectID
}

// NewPollingContext constructs a PollingContext over the given clients with
// no explicit project attachments.
func NewPollingContext(clientIDs []ids.ClientID) PollingContext {
	return PollingContext{ClientIDs: clientIDs, projectByClient: map[ids.ClientID]ids.ProjectID{}}
}

// WithProjectAttachment records that clientID has explicitly attached the
// connection to projectID, returning the updated context.
func (c PollingContext) WithProjectAttachment(clientID ids.ClientID, projectID ids.ProjectID) PollingContext {
	next := make(map[ids.ClientID]ids.ProjectID, len(c.projectByClient)+1)
	for k, v := range c.projectByClient {
		next[k] = v
	}
	next[clientID] = projectID
	return PollingContext{ClientIDs: c.ClientIDs, projectByClient: next}
}

// ProjectFor returns the explicit project attachment for clientID, if any.
// A nil return means the connection applies to every project of that
// client.
func (c PollingContext) ProjectFor(clientID ids.ClientID) *ids.ProjectID {
	if p, ok := c.projectByClient[clientID]; ok {
		return &p
	}
	return nil
}

// PollingResult tallies one poll's outcome across every remote item it
// observed.
type PollingResult struct {
	Discovered int
	Created    int
	Skipped    int
	Errors     int
}

func (r *PollingResult) add(other PollingResult) {
	r.Discovered += other.Discovered
	r.Created += other.Created
	r.Skipped += other.Skipped
	r.Errors += other.Errors
}

// RemoteItem is one page entry an ExternalSource yields, already shaped
// into the fields an IndexedItem needs.
type RemoteItem struct {
	RemoteID    string
	Kind        string
	Title       string
	Body        string
	Attachments []string
	ParentRefs  []string
	UpdatedAt   int64 // unix seconds; source-side last-modified
}

// ExternalSource enumerates one connection's remote items for a single
// capability, a page at a time. An empty nextPageToken means no further
// pages remain.
type ExternalSource interface {
	FetchPage(ctx context.Context, conn *domain.Connection, pageToken string) (items []RemoteItem, nextPageToken string, err error)
}

// CapabilitySubHandler polls one capability of one connection.
type CapabilitySubHandler interface {
	Poll(ctx context.Context, conn *domain.Connection, pctx PollingContext) (PollingResult, error)
}

// genericSubHandler is the capability-agnostic sub-handler every provider
// plugs into: it walks ExternalSource pages up to maxPages and inserts each
// remote item idempotently via the indexing state machine. Individual
// item failures increment Errors without
// aborting the page walk.
type genericSubHandler struct {
	source   ExternalSource
	indexer  *indexing.StateMachine
	maxPages int
	kind     string
	logger   telemetry.Logger
}

// NewCapabilityHandler builds a CapabilitySubHandler over source, inserting
// discovered items through indexer. kind labels every inserted IndexedItem
// (e.g. "confluence_page", "jira_issue").
func NewCapabilityHandler(source ExternalSource, indexer *indexing.StateMachine, kind string, logger telemetry.Logger) CapabilitySubHandler {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &genericSubHandler{
		source:   source,
		indexer:  indexer,
		maxPages: DefaultMaxPagesPerRun,
		kind:     kind,
		logger:   logger,
	}
}

func (h *genericSubHandler) Poll(ctx context.Context, conn *domain.Connection, pctx PollingContext) (PollingResult, error) {
	var result PollingResult
	pageToken := ""
	for page := 0; page < h.maxPages; page++ {
		items, next, err := h.source.FetchPage(ctx, conn, pageToken)
		if err != nil {
			return result, jerrors.Wrap(jerrors.ProviderTransient, "polling: fetching page", err)
		}
		for _, remote := range items {
			result.Discovered++
			created, err := h.insertOne(ctx, conn, remote)
			if err != nil {
				result.Errors++
				h.logger.Warn(ctx, "polling: item insert failed", "connectionId", conn.ID.Hex(), "remoteId", remote.RemoteID, "error", err)
				continue
			}
			if created {
				result.Created++
			} else {
				result.Skipped++
			}
		}
		if next == "" {
			break
		}
		pageToken = next
	}
	return result, nil
}

// insertOne computes the (connectionId, remoteId) natural key and inserts a
// NEW IndexedItem if nothing already covers it. The
// bool return reports whether a new item was actually created, so Poll can
// distinguish Created from Skipped.
func (h *genericSubHandler) insertOne(ctx context.Context, conn *domain.Connection, remote RemoteItem) (bool, error) {
	item := domain.NewIndexedItem(conn.ID, remote.RemoteID, h.kind, remote.Title, remote.Body, remote.Attachments, remote.ParentRefs, time.Unix(remote.UpdatedAt, 0).UTC())
	return h.indexer.InsertIfNew(ctx, item)
}

// Dispatcher fans a single poll of a connection out to the capability sub-
// handler registered for each capability the connection exposes.
type Dispatcher struct {
	handlers map[domain.ConnectionCapability]CapabilitySubHandler
	logger   telemetry.Logger
}

// NewDispatcher builds a Dispatcher with no registered handlers.
func NewDispatcher(logger telemetry.Logger) *Dispatcher {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Dispatcher{handlers: map[domain.ConnectionCapability]CapabilitySubHandler{}, logger: logger}
}

// Register binds handler to cap, replacing any previous registration.
func (d *Dispatcher) Register(cap domain.ConnectionCapability, handler CapabilitySubHandler) {
	d.handlers[cap] = handler
}

// Poll dispatches to every capability conn exposes, aggregating each
// sub-handler's PollingResult. A capability with no registered handler is
// skipped silently; an unexpected per-capability error aborts only that
// capability, counted as a single error against the aggregate.
func (d *Dispatcher) Poll(ctx context.Context, conn *domain.Connection, pctx PollingContext) PollingResult {
	var total PollingResult
	for cap := range conn.Capabilities {
		handler, ok := d.handlers[cap]
		if !ok {
			continue
		}
		result, err := handler.Poll(ctx, conn, pctx)
		if err != nil {
			d.logger.Warn(ctx, "polling: capability sub-handler failed", "connectionId", conn.ID.Hex(), "capability", cap, "error", err)
			total.Errors++
			continue
		}
		total.add(result)
	}
	return total
}
