// Package ratelimit implements the per-domain adaptive outbound rate
// limiter: every external HTTP call Jervis makes (to Jira, Confluence,
// GitLab, ...) is gated by Acquire, which escalates through three
// burst/normal/sustained phases as a domain's call volume grows.
package ratelimit

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jervis-ai/jervis/internal/config"
	"github.com/jervis-ai/jervis/internal/telemetry"
)

// Phase identifies one of the three escalating rate-limit tiers a domain
// can be in, keyed off its cumulative item count.
type Phase int

const (
	PhaseBurst Phase = iota + 1
	PhaseNormal
	PhaseSustained
)

func (p Phase) String() string {
	switch p {
	case PhaseBurst:
		return "burst"
	case PhaseNormal:
		return "normal"
	case PhaseSustained:
		return "sustained"
	default:
		return "unknown"
	}
}

// Thresholds configures the item-count boundaries and per-phase bucket
// parameters. A domain's first T1 items are served in the burst phase and
// the following T2 in the normal phase; everything after that is
// sustained. Defaults: T1=100, T2=500.
type Thresholds struct {
	T1, T2 int

	Phase1Capacity rate.Limit
	Phase1Delay    time.Duration
	Phase2Capacity rate.Limit
	Phase2Delay    time.Duration
	Phase3Capacity rate.Limit
	Phase3Delay    time.Duration

	// InternalPrefixes names hostname prefixes treated as private in
	// addition to loopback/RFC1918 detection.
	InternalPrefixes []string
}

// DefaultThresholds returns the stock burst/normal/sustained settings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		T1:             100,
		T2:             500,
		Phase1Capacity: 100,
		Phase1Delay:    0,
		Phase2Capacity: 10,
		Phase2Delay:    50 * time.Millisecond,
		Phase3Capacity: 1,
		Phase3Delay:    500 * time.Millisecond,
	}
}

// ThresholdsFromConfig maps the loaded rate-limit configuration onto
// Thresholds, falling back to the defaults for any unset field.
func ThresholdsFromConfig(cfg config.RateLimitConfig) Thresholds {
	t := DefaultThresholds()
	if cfg.T1 > 0 {
		t.T1 = cfg.T1
	}
	if cfg.T2 > 0 {
		t.T2 = cfg.T2
	}
	if cfg.Phase1PerSecond > 0 {
		t.Phase1Capacity = rate.Limit(cfg.Phase1PerSecond)
	}
	if cfg.Phase1Delay > 0 {
		t.Phase1Delay = cfg.Phase1Delay
	}
	if cfg.Phase2PerSecond > 0 {
		t.Phase2Capacity = rate.Limit(cfg.Phase2PerSecond)
	}
	if cfg.Phase2Delay > 0 {
		t.Phase2Delay = cfg.Phase2Delay
	}
	if cfg.Phase3PerSecond > 0 {
		t.Phase3Capacity = rate.Limit(cfg.Phase3PerSecond)
	}
	if cfg.Phase3Delay > 0 {
		t.Phase3Delay = cfg.Phase3Delay
	}
	t.InternalPrefixes = cfg.InternalPrefixes
	return t
}

// Counter tracks the shared, cross-replica item count for a domain. The
// in-process Limiter always keeps a local count; when a Counter is
// supplied, it is consulted instead so every gateway replica escalates
// through the same phases together.
type Counter interface {
	Increment(ctx context.Context, domain string) (int64, error)
}

type domainState struct {
	itemCount int64
	mu        sync.Mutex
	buckets   [3]*rate.Limiter
	phase     Phase
}

// Limiter is the per-domain adaptive rate limiter.
type Limiter struct {
	thresholds Thresholds
	counter    Counter
	logger     telemetry.Logger
	metrics    telemetry.Metrics

	states sync.Map // domain -> *domainState
}

// New constructs a Limiter. counter may be nil, in which case item counts
// are tracked purely in-process.
func New(thresholds Thresholds, counter Counter, logger telemetry.Logger, metrics telemetry.Metrics) *Limiter {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Limiter{thresholds: thresholds, counter: counter, logger: logger, metrics: metrics}
}

// Acquire blocks the caller until a permit for rawURL's domain is
// available. Unparseable URLs and private addresses are never rate
// limited and return immediately.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) error {
	domain, ok := l.parseDomain(rawURL)
	if !ok {
		return nil
	}
	if isPrivateAddress(domain, l.thresholds.InternalPrefixes) {
		return nil
	}

	count, err := l.incrementCount(ctx, domain)
	if err != nil {
		l.logger.Warn(ctx, "ratelimit: shared counter increment failed, using local count", "domain", domain, "error", err)
	}

	st := l.stateFor(domain)

	st.mu.Lock()
	phase := l.phaseFor(count)
	prevPhase := st.phase
	st.phase = phase
	limiter := st.bucket(phase, l.thresholds)
	st.mu.Unlock()

	if prevPhase != phase {
		l.logger.Info(ctx, "ratelimit: phase transition", "domain", domain, "phase", phase.String(), "itemCount", count)
		l.metrics.IncCounter("ratelimit_phase_transition", 1, "domain", domain, "phase", phase.String())
	}

	delay := l.delayFor(phase)
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return limiter.Wait(ctx)
}

// Reset drops all tracked state for domain, the admin "reset(domain)"
// operation.
func (l *Limiter) Reset(domain string) {
	l.states.Delete(domain)
}

func (l *Limiter) incrementCount(ctx context.Context, domain string) (int64, error) {
	st := l.stateFor(domain)
	var counterErr error
	if l.counter != nil {
		count, err := l.counter.Increment(ctx, domain)
		if err == nil {
			st.mu.Lock()
			st.itemCount = count
			st.mu.Unlock()
			return count, nil
		}
		counterErr = err
		// fall through to local counting
	}

	st.mu.Lock()
	st.itemCount++
	count := st.itemCount
	st.mu.Unlock()
	return count, counterErr
}

func (l *Limiter) stateFor(domain string) *domainState {
	v, _ := l.states.LoadOrStore(domain, &domainState{})
	return v.(*domainState)
}

// phaseFor maps a domain's cumulative item count onto its phase: the
// first T1 items are the burst phase, the next T2 the normal phase, and
// everything beyond that the sustained phase.
func (l *Limiter) phaseFor(itemCount int64) Phase {
	switch {
	case itemCount <= int64(l.thresholds.T1):
		return PhaseBurst
	case itemCount <= int64(l.thresholds.T1)+int64(l.thresholds.T2):
		return PhaseNormal
	default:
		return PhaseSustained
	}
}

func (l *Limiter) delayFor(phase Phase) time.Duration {
	switch phase {
	case PhaseBurst:
		return l.thresholds.Phase1Delay
	case PhaseNormal:
		return l.thresholds.Phase2Delay
	default:
		return l.thresholds.Phase3Delay
	}
}

// bucket lazily creates (and thereafter reuses) the rate.Limiter for the
// given phase. Callers must hold st.mu.
func (st *domainState) bucket(phase Phase, t Thresholds) *rate.Limiter {
	idx := int(phase) - 1
	if st.buckets[idx] == nil {
		switch phase {
		case PhaseBurst:
			st.buckets[idx] = rate.NewLimiter(t.Phase1Capacity, int(t.Phase1Capacity))
		case PhaseNormal:
			st.buckets[idx] = rate.NewLimiter(t.Phase2Capacity, int(t.Phase2Capacity))
		default:
			st.buckets[idx] = rate.NewLimiter(t.Phase3Capacity, int(t.Phase3Capacity))
		}
	}
	return st.buckets[idx]
}

func (l *Limiter) parseDomain(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		l.logger.Warn(context.Background(), "ratelimit: could not parse domain from URL, skipping rate limit", "url", rawURL, "error", err)
		return "", false
	}
	return strings.ToLower(u.Hostname()), true
}

// isPrivateAddress reports whether host is a loopback address, an RFC1918
// private address, "localhost", or begins with one of the configured
// internal prefixes.
func isPrivateAddress(host string, internalPrefixes []string) bool {
	if host == "localhost" {
		return true
	}
	for _, prefix := range internalPrefixes {
		if prefix != "" && strings.HasPrefix(host, prefix) {
			return true
		}
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
