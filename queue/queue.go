package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-endpoint behaviour such as rate limiting and
// concurrency.
type Config struct {
	// EndpointID is the endpoint identifier (matches job.EndpointID).
	EndpointID string

	// MaxConcurrency limits how many jobs may be in flight on this
	// endpoint simultaneously. Zero means no endpoint-specific limit
	// (the global dispatch window still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained dispatches per second to this
	// endpoint. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// endpointState tracks runtime state for a single endpoint.
type endpointState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-endpoint rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	endpoints map[string]*endpointState
}

// NewManager creates a Manager with the given endpoint configurations.
// Endpoints not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		endpoints: make(map[string]*endpointState, len(configs)),
	}
	for _, cfg := range configs {
		m.endpoints[cfg.EndpointID] = newEndpointState(cfg)
	}
	return m
}

func newEndpointState(cfg Config) *endpointState {
	es := &endpointState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		es.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return es
}

// Acquire checks rate limits and concurrency for the given endpoint.
// If the dispatch is allowed to proceed it increments the active
// counter and returns true. The caller MUST call Release when the job
// reaches a terminal state.
func (m *Manager) Acquire(endpointID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	es := m.endpoints[endpointID]
	if es == nil {
		return true
	}
	// Concurrency first: a dispatch rejected on the concurrency cap
	// must not consume a rate token.
	if es.config.MaxConcurrency > 0 && es.active >= es.config.MaxConcurrency {
		return false
	}
	if es.limiter != nil && !es.limiter.Allow() {
		return false
	}
	es.active++
	return true
}

// Release decrements the active job count for the endpoint.
func (m *Manager) Release(endpointID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if es := m.endpoints[endpointID]; es != nil && es.active > 0 {
		es.active--
	}
}

// SetConfig dynamically updates (or creates) an endpoint configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.endpoints[cfg.EndpointID]
	es := newEndpointState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		es.active = existing.active
	}
	m.endpoints[cfg.EndpointID] = es
}

// ActiveCount returns the current number of active jobs for an endpoint.
func (m *Manager) ActiveCount(endpointID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if es := m.endpoints[endpointID]; es != nil {
		return es.active
	}
	return 0
}
