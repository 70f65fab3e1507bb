package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jervis-ai/jervis/internal/config"
	"github.com/jervis-ai/jervis/internal/ratelimit"
)

func TestAcquireSkipsPrivateAddresses(t *testing.T) {
	l := ratelimit.New(ratelimit.DefaultThresholds(), nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Acquire(ctx, "http://127.0.0.1:8080/api"))
	require.NoError(t, l.Acquire(ctx, "http://localhost/api"))
	require.NoError(t, l.Acquire(ctx, "http://10.0.0.5/api"))
	require.NoError(t, l.Acquire(ctx, "http://192.168.1.1/api"))
}

func TestAcquireSkipsUnparseableURLs(t *testing.T) {
	l := ratelimit.New(ratelimit.DefaultThresholds(), nil, nil, nil)
	require.NoError(t, l.Acquire(context.Background(), "://not-a-url"))
}

func TestAcquireEscalatesPhasesAsItemCountGrows(t *testing.T) {
	thresholds := ratelimit.DefaultThresholds()
	thresholds.T1 = 2
	thresholds.T2 = 4
	thresholds.Phase1Capacity = 1000
	thresholds.Phase2Capacity = 1000
	thresholds.Phase3Capacity = 1000

	rec := &phaseRecorder{}
	l := ratelimit.New(thresholds, nil, nil, rec)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, l.Acquire(ctx, "https://example.atlassian.net/rest/api"))
	}
	require.Equal(t, []string{"burst", "normal"}, rec.phases)
}

func TestResetDropsState(t *testing.T) {
	rec := &phaseRecorder{}
	l := ratelimit.New(ratelimit.DefaultThresholds(), nil, nil, rec)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "https://example.atlassian.net/rest/api"))
	l.Reset("example.atlassian.net")
	// A fresh domain state has no phase yet, so the next Acquire records
	// entering the burst phase again.
	require.NoError(t, l.Acquire(ctx, "https://example.atlassian.net/rest/api"))
	require.Equal(t, []string{"burst", "burst"}, rec.phases)
}

func TestAcquireHonorsInternalPrefixAllowlist(t *testing.T) {
	thresholds := ratelimit.DefaultThresholds()
	thresholds.InternalPrefixes = []string{"internal-"}
	l := ratelimit.New(thresholds, nil, nil, nil)

	require.NoError(t, l.Acquire(context.Background(), "https://internal-jira.corp.example/api"))
}

func TestThresholdsFromConfigFallsBackToDefaults(t *testing.T) {
	got := ratelimit.ThresholdsFromConfig(config.RateLimitConfig{
		T1:              10,
		Phase3PerSecond: 2,
		Phase3Delay:     time.Second,
	})

	defaults := ratelimit.DefaultThresholds()
	require.Equal(t, 10, got.T1)
	require.Equal(t, defaults.T2, got.T2)
	require.Equal(t, defaults.Phase1Capacity, got.Phase1Capacity)
	require.Equal(t, defaults.Phase2Capacity, got.Phase2Capacity)
	require.EqualValues(t, 2, got.Phase3Capacity)
	require.Equal(t, time.Second, got.Phase3Delay)
}

func TestAcquireAppliesEscalatingPhaseDelays(t *testing.T) {
	// Five acquires against T1=2, T2=2 with delays 0/100ms/500ms: the
	// first two return promptly, the next two sit out the normal-phase
	// delay, and the fifth the sustained-phase delay.
	thresholds := ratelimit.Thresholds{
		T1:             2,
		T2:             2,
		Phase1Capacity: 1000,
		Phase1Delay:    0,
		Phase2Capacity: 1000,
		Phase2Delay:    100 * time.Millisecond,
		Phase3Capacity: 1000,
		Phase3Delay:    500 * time.Millisecond,
	}
	l := ratelimit.New(thresholds, nil, nil, nil)
	ctx := context.Background()

	elapsed := func() time.Duration {
		start := time.Now()
		require.NoError(t, l.Acquire(ctx, "https://api.example.com/x"))
		return time.Since(start)
	}

	require.Less(t, elapsed(), 50*time.Millisecond)
	require.Less(t, elapsed(), 50*time.Millisecond)
	require.GreaterOrEqual(t, elapsed(), 100*time.Millisecond)
	require.GreaterOrEqual(t, elapsed(), 100*time.Millisecond)
	require.GreaterOrEqual(t, elapsed(), 500*time.Millisecond)
}

func TestAcquirePrivateAddressBypassesBucketState(t *testing.T) {
	// Private addresses return promptly no matter how punishing the
	// configured phase delays are.
	thresholds := ratelimit.DefaultThresholds()
	thresholds.T1 = 0
	thresholds.T2 = 0
	thresholds.Phase3Delay = time.Minute
	l := ratelimit.New(thresholds, nil, nil, nil)

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), "http://192.168.1.10/api"))
	require.Less(t, time.Since(start), 5*time.Millisecond)
}
