// Package concurrency bounds the number of in-flight requests Jervis makes
// to a given LLM provider, so a slow or saturated provider cannot starve
// the others of goroutines or exhaust the process.
package concurrency

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Mode classifies how a provider's calls should be bounded. NONBLOCKING
// providers (CPU-bound local models) bypass the semaphore entirely since
// they do not hold an external connection slot open; INTERRUPTIBLE
// providers (GPU-bound or remote) are gated.
type Mode int

const (
	ModeInterruptible Mode = iota
	ModeNonblocking
)

// Manager lazily creates one semaphore.Weighted per provider, sized from
// configuration the first time that provider is used.
type Manager struct {
	mu         sync.Mutex
	semaphores map[string]*semaphore.Weighted
	capacities func(provider string) int64
	modes      func(provider string) Mode
}

// NewManager constructs a Manager. capacities and modes are called lazily,
// once per provider, the first time WithPermit sees that provider name.
func NewManager(capacities func(provider string) int64, modes func(provider string) Mode) *Manager {
	return &Manager{
		semaphores: make(map[string]*semaphore.Weighted),
		capacities: capacities,
		modes:      modes,
	}
}

// WithPermit runs fn while holding one permit for provider, blocking until
// one is available or ctx is cancelled. A NONBLOCKING provider bypasses the
// semaphore entirely and fn runs immediately. The permit is always
// released on every exit path, including a panic inside fn, which is
// re-panicked after release.
func (m *Manager) WithPermit(ctx context.Context, provider string, fn func(ctx context.Context) error) error {
	if m.modes != nil && m.modes(provider) == ModeNonblocking {
		return fn(ctx)
	}

	sem := m.semaphoreFor(provider)
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)

	return fn(ctx)
}

func (m *Manager) semaphoreFor(provider string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sem, ok := m.semaphores[provider]; ok {
		return sem
	}

	capacity := int64(1)
	if m.capacities != nil {
		if c := m.capacities(provider); c > 0 {
			capacity = c
		}
	}
	sem := semaphore.NewWeighted(capacity)
	m.semaphores[provider] = sem
	return sem
}
