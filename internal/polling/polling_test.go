package polling_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/ids"
	"github.com/jervis-ai/jervis/internal/indexing"
	"github.com/jervis-ai/jervis/internal/polling"
)

// fakeRepo is a minimal in-memory indexing.Repository, scoped to this
// package's tests only (separate from internal/indexing's own fake, since
// that one is unexported to its own test package).
type fakeRepo struct {
	items map[string]*domain.IndexedItem
}

func newFakeRepo() *fakeRepo { return &fakeRepo{items: map[string]*domain.IndexedItem{}} }

func (r *fakeRepo) key(connID ids.ConnectionID, naturalKey string) string {
	return connID.Hex() + "/" + naturalKey
}

func (r *fakeRepo) Insert(ctx context.Context, item *domain.IndexedItem) (bool, error) {
	k := r.key(item.ConnectionID, item.NaturalKey)
	if _, exists := r.items[k]; exists {
		return false, nil
	}
	cp := *item
	r.items[k] = &cp
	return true, nil
}

func (r *fakeRepo) FindExisting(ctx context.Context, connID ids.ConnectionID, naturalKey string) (*domain.IndexedItem, error) {
	item, ok := r.items[r.key(connID, naturalKey)]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (r *fakeRepo) ClaimNextNewPage(ctx context.Context, limit int) ([]*domain.IndexedItem, error) {
	return nil, nil
}

func (r *fakeRepo) CompareAndSwap(ctx context.Context, item *domain.IndexedItem, expectedState domain.ItemState) error {
	return nil
}

func (r *fakeRepo) ReclaimTimedOutIndexing(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

// pagedSource yields two pages of remote items, the second containing a
// duplicate of the first page's item to exercise the skip path.
type pagedSource struct {
	pages [][]polling.RemoteItem
}

func (s *pagedSource) FetchPage(ctx context.Context, conn *domain.Connection, pageToken string) ([]polling.RemoteItem, string, error) {
	idx := 0
	if pageToken != "" {
		idx = 1
	}
	if idx >= len(s.pages) {
		return nil, "", nil
	}
	next := ""
	if idx == 0 && len(s.pages) > 1 {
		next = "page-2"
	}
	return s.pages[idx], next, nil
}

func testConnection() *domain.Connection {
	return domain.NewConnection(ids.NewClientID(), nil, domain.ConnectionProviderAtlassian, "https://example.atlassian.net", domain.CapabilityWiki)
}

func TestCapabilityHandlerDiscoversCreatesAndSkips(t *testing.T) {
	repo := newFakeRepo()
	sm := indexing.New(repo, nil)
	source := &pagedSource{pages: [][]polling.RemoteItem{
		{{RemoteID: "page-1", Title: "First", UpdatedAt: time.Now().Unix()}},
		{{RemoteID: "page-1", Title: "First (resurfaced)", UpdatedAt: time.Now().Unix()}},
	}}
	handler := polling.NewCapabilityHandler(source, sm, "wiki_page", nil)
	conn := testConnection()

	result, err := handler.Poll(context.Background(), conn, polling.NewPollingContext([]ids.ClientID{conn.ClientID}))
	require.NoError(t, err)
	require.Equal(t, 2, result.Discovered)
	require.Equal(t, 1, result.Created)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, 0, result.Errors)
}

func TestDispatcherRoutesByCapability(t *testing.T) {
	repo := newFakeRepo()
	sm := indexing.New(repo, nil)
	source := &pagedSource{pages: [][]polling.RemoteItem{
		{{RemoteID: "w1", Title: "Wiki one", UpdatedAt: time.Now().Unix()}},
	}}
	dispatcher := polling.NewDispatcher(nil)
	dispatcher.Register(domain.CapabilityWiki, polling.NewCapabilityHandler(source, sm, "wiki_page", nil))

	conn := testConnection()
	result := dispatcher.Poll(context.Background(), conn, polling.NewPollingContext([]ids.ClientID{conn.ClientID}))
	require.Equal(t, 1, result.Discovered)
	require.Equal(t, 1, result.Created)
}

func TestDispatcherSkipsCapabilitiesWithNoRegisteredHandler(t *testing.T) {
	dispatcher := polling.NewDispatcher(nil)
	conn := testConnection()
	result := dispatcher.Poll(context.Background(), conn, polling.NewPollingContext([]ids.ClientID{conn.ClientID}))
	require.Equal(t, polling.PollingResult{}, result)
}

func TestPollingContextProjectForReturnsNilWhenNotAttached(t *testing.T) {
	clientID := ids.NewClientID()
	pctx := polling.NewPollingContext([]ids.ClientID{clientID})
	require.Nil(t, pctx.ProjectFor(clientID))

	projectID := ids.NewProjectID()
	pctx = pctx.WithProjectAttachment(clientID, projectID)
	got := pctx.ProjectFor(clientID)
	require.NotNil(t, got)
	require.Equal(t, projectID, *got)
}

func TestPollSkipsItemsAlreadyReducedToIndexedShell(t *testing.T) {
	repo := newFakeRepo()
	sm := indexing.New(repo, nil)
	source := &pagedSource{pages: [][]polling.RemoteItem{
		{{RemoteID: "page-1", Title: "First", UpdatedAt: time.Now().Unix()}},
	}}
	handler := polling.NewCapabilityHandler(source, sm, "wiki_page", nil)
	conn := testConnection()
	pctx := polling.NewPollingContext([]ids.ClientID{conn.ClientID})

	result, err := handler.Poll(context.Background(), conn, pctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Created)

	// The item finishes indexing and is reduced to its minimal INDEXED
	// shell; a second pass over the unchanged source must dedup against it.
	stored := repo.items[repo.key(conn.ID, "page-1")]
	require.NoError(t, stored.MarkIndexing())
	require.NoError(t, stored.MarkIndexed())

	result, err = handler.Poll(context.Background(), conn, pctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Discovered)
	require.Equal(t, 0, result.Created)
	require.Equal(t, 1, result.Skipped)
}
