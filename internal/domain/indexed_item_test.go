package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/ids"
)

func TestIndexedItemLifecycleHappyPath(t *testing.T) {
	item := domain.NewIndexedItem(ids.NewConnectionID(), "PROJ-123", "JiraIssue", "title", "body", nil, nil, time.Now())
	require.Equal(t, domain.ItemStateNew, item.State)

	require.NoError(t, item.MarkIndexing())
	require.Equal(t, domain.ItemStateIndexing, item.State)

	require.NoError(t, item.MarkIndexed())
	require.Equal(t, domain.ItemStateIndexed, item.State)
	require.Empty(t, item.Title)
	require.Empty(t, item.Body)
}

func TestIndexedItemIndexedIsTerminal(t *testing.T) {
	item := domain.NewIndexedItem(ids.NewConnectionID(), "PROJ-123", "JiraIssue", "t", "b", nil, nil, time.Now())
	require.NoError(t, item.MarkIndexing())
	require.NoError(t, item.MarkIndexed())

	require.Error(t, item.MarkIndexing())
	require.Error(t, item.Retry())
}

func TestIndexedItemFailedCanRetry(t *testing.T) {
	item := domain.NewIndexedItem(ids.NewConnectionID(), "PROJ-123", "JiraIssue", "t", "b", nil, nil, time.Now())
	require.NoError(t, item.MarkIndexing())
	require.NoError(t, item.MarkFailed("boom"))
	require.Equal(t, domain.ItemStateFailed, item.State)

	require.NoError(t, item.Retry())
	require.Equal(t, domain.ItemStateNew, item.State)
	require.Empty(t, item.FailureReason)
}

func TestIndexedItemIndexingTimesOutToNew(t *testing.T) {
	item := domain.NewIndexedItem(ids.NewConnectionID(), "PROJ-123", "JiraIssue", "t", "b", nil, nil, time.Now())
	require.NoError(t, item.MarkIndexing())
	require.NoError(t, item.TimeoutToNew())
	require.Equal(t, domain.ItemStateNew, item.State)
}
