package jerrors

import "time"

// Backoff produces the exponential retry schedule used when a candidate
// model call fails with ProviderTransient: 100ms, 200ms, 400ms, ... doubling
// up to Max, capped at MaxAttempts total tries.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Factor      float64
	MaxAttempts int
}

// DefaultBackoff matches the schedule the LLM gateway's candidate loop uses
// for ProviderTransient retries: 100ms initial, doubling, capped at 30s,
// five attempts total.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 100 * time.Millisecond, Max: 30 * time.Second, Factor: 2, MaxAttempts: 5}
}

// Delay returns the delay to wait before retry attempt n (1-indexed: the
// delay before the second attempt is Delay(1)). Callers should not sleep
// before attempt 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(b.Initial)
	for i := 0; i < attempt-1; i++ {
		d *= b.Factor
		if time.Duration(d) >= b.Max {
			return b.Max
		}
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt has consumed the full retry budget.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.MaxAttempts
}
