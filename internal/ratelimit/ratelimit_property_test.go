package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jervis-ai/jervis/internal/ratelimit"
)

// TestPhaseCapacityInvariantProperty verifies that for any sequence of
// Acquire calls against the same domain, the limiter never regresses to an
// earlier (less restrictive) phase: item counts are monotonically
// increasing, and so is the phase derived from them.
func TestPhaseCapacityInvariantProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("phase never regresses as item count grows", prop.ForAll(
		func(calls int) bool {
			thresholds := ratelimit.DefaultThresholds()
			thresholds.T1 = 10
			thresholds.T2 = 20
			thresholds.Phase1Capacity = 10000
			thresholds.Phase2Capacity = 10000
			thresholds.Phase3Capacity = 10000

			rec := &phaseRecorder{}
			l := ratelimit.New(thresholds, nil, nil, rec)
			ctx := context.Background()

			lastPhaseRank := -1
			for i := 0; i < calls; i++ {
				if err := l.Acquire(ctx, "https://example.atlassian.net/rest/api"); err != nil {
					return false
				}
				rank := phaseRank(i+1, thresholds.T1, thresholds.T2)
				if rec.currentRank() != rank {
					return false // the limiter's phase must match its item count
				}
				if rank < lastPhaseRank {
					return false
				}
				lastPhaseRank = rank
			}
			return true
		},
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t)
}

// phaseRecorder is a Metrics recorder that keeps the phase named by every
// ratelimit_phase_transition counter, i.e. every phase the limiter enters.
type phaseRecorder struct {
	phases []string
}

func (r *phaseRecorder) IncCounter(name string, _ float64, tags ...string) {
	if name != "ratelimit_phase_transition" {
		return
	}
	for i := 0; i+1 < len(tags); i += 2 {
		if tags[i] == "phase" {
			r.phases = append(r.phases, tags[i+1])
		}
	}
}

func (r *phaseRecorder) RecordTimer(string, time.Duration, ...string) {}
func (r *phaseRecorder) RecordGauge(string, float64, ...string)       {}

// currentRank returns the rank (1 burst, 2 normal, 3 sustained) of the
// phase the limiter last entered, or 0 if it has entered none.
func (r *phaseRecorder) currentRank() int {
	if len(r.phases) == 0 {
		return 0
	}
	return map[string]int{"burst": 1, "normal": 2, "sustained": 3}[r.phases[len(r.phases)-1]]
}

func phaseRank(itemCount, t1, t2 int) int {
	switch {
	case itemCount <= t1:
		return 1
	case itemCount <= t1+t2:
		return 2
	default:
		return 3
	}
}
