package tokencount_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jervis-ai/jervis/internal/tokencount"
)

func TestCountTokensIsPositiveForNonEmptyText(t *testing.T) {
	c := tokencount.New(nil)
	require.Greater(t, c.CountTokens(context.Background(), "hello, world!"), 0)
	require.Equal(t, 0, c.CountTokens(context.Background(), ""))
}

func TestEstimateTotalRequestIncludesResponseBuffer(t *testing.T) {
	c := tokencount.New(nil)
	ctx := context.Background()

	withoutSystem := c.EstimateTotalRequest(ctx, "", "hi")
	withSystem := c.EstimateTotalRequest(ctx, "be terse", "hi")

	require.GreaterOrEqual(t, withoutSystem, tokencount.ResponseBuffer)
	require.Greater(t, withSystem, withoutSystem)
}

func TestProcessWithLimitReturnsFirstChunkOnly(t *testing.T) {
	c := tokencount.New(nil)
	text := "First sentence here. Second sentence follows. Third one too."

	chunk := c.ProcessWithLimit(context.Background(), text, 1000)
	require.Equal(t, text, chunk)
}

func TestProcessWithLimitTruncatesOversizedSentenceWithEllipsis(t *testing.T) {
	c := tokencount.New(nil)
	longSentence := strings.Repeat("verylongword ", 500) + "."

	chunk := c.ProcessWithLimit(context.Background(), longSentence, 20)
	require.True(t, strings.HasSuffix(chunk, "…"))
	require.Less(t, len(chunk), len(longSentence))
}

func TestProcessWithLimitStopsBeforeExceedingBudget(t *testing.T) {
	c := tokencount.New(nil)
	text := "Short one. Also short. Another short sentence here that adds up over time."

	chunk := c.ProcessWithLimit(context.Background(), text, 5)
	require.LessOrEqual(t, c.CountTokens(context.Background(), chunk), 5)
}
