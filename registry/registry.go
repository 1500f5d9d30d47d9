// Package registry implements the Worker Registry (§4.5): a process-
// local, in-memory map of worker identity to capabilities, load, and
// last heartbeat, mirroring the mutex-guarded map pattern of the
// teacher's core.MemoryStore. The registry is advisory only — actual
// assignment delivery runs over the session.assign stream
// (streambus.Bus); workers pull from there within their own
// concurrency budget.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/opsloop/orchestrator-core/core"
	"github.com/opsloop/orchestrator-core/domain"
)

// DefaultHeartbeatTTL is the eviction window when none is configured
// (§4.5: "Heartbeat TTL default 60s").
const DefaultHeartbeatTTL = 60 * time.Second

// Filter narrows list() results (§4.5: "filter capabilities⊆,
// environment=?, segment=?").
type Filter struct {
	Capabilities []string // worker must have ALL of these
	Environment  string
	Segment      string
}

// Registry is the Worker Registry's mutex-guarded in-memory store.
type Registry struct {
	mu     sync.RWMutex
	ttl    time.Duration
	logger core.Logger
	now    func() time.Time
	rows   map[string]*domain.WorkerState
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithHeartbeatTTL overrides DefaultHeartbeatTTL.
func WithHeartbeatTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithLogger attaches a component-scoped logger, following the
// teacher's SetLogger convention of wrapping with a component tag when
// the logger supports it.
func WithLogger(logger core.Logger) Option {
	return func(r *Registry) {
		if logger == nil {
			return
		}
		if cal, ok := logger.(core.ComponentAwareLogger); ok {
			r.logger = cal.WithComponent("registry")
			return
		}
		r.logger = logger
	}
}

// withClock overrides the time source; used by tests.
func withClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		ttl:    DefaultHeartbeatTTL,
		logger: &core.NoOpLogger{},
		now:    time.Now,
		rows:   make(map[string]*domain.WorkerState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register upserts a worker's declared capacity and capabilities
// (§4.5 register(worker, capabilities, segment, env, max_concurrency,
// metadata)). Re-registering an existing worker id replaces its prior
// row entirely, including current_load, which resets to zero: a fresh
// registration call means the worker process restarted.
func (r *Registry) Register(worker string, capabilities []string, segment, environment string, maxConcurrency int, metadata map[string]interface{}) *domain.WorkerState {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	state := &domain.WorkerState{
		ID:             worker,
		Capabilities:   append([]string(nil), capabilities...),
		NetworkSegment: segment,
		Environment:    environment,
		MaxConcurrency: maxConcurrency,
		CurrentLoad:    0,
		Metadata:       metadata,
		LastHeartbeat:  now,
		RegisteredAt:   now,
	}
	r.rows[worker] = state

	r.logger.Info("worker registered", map[string]interface{}{
		"worker_id":       worker,
		"capabilities":    capabilities,
		"max_concurrency": maxConcurrency,
		"segment":         segment,
		"environment":     environment,
	})
	return state
}

// Heartbeat refreshes a worker's LastHeartbeat and, when currentLoad is
// non-nil, its CurrentLoad (§4.5 heartbeat(worker, current_load?)). It
// reports core.ErrNotFound when the worker has never registered or was
// already evicted.
func (r *Registry) Heartbeat(worker string, currentLoad *int) error {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.rows[worker]
	if !ok {
		return fmt.Errorf("worker %s: %w", worker, core.ErrNotFound)
	}
	state.LastHeartbeat = now
	if currentLoad != nil {
		state.CurrentLoad = *currentLoad
	}
	return nil
}

// CleanupStale evicts every row whose heartbeat is older than the
// configured TTL and returns the evicted worker ids (§4.5
// cleanup_stale()).
func (r *Registry) CleanupStale() []string {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictLocked(now)
}

func (r *Registry) evictLocked(now time.Time) []string {
	var evicted []string
	for id, state := range r.rows {
		if state.Expired(now, r.ttl) {
			delete(r.rows, id)
			evicted = append(evicted, id)
		}
	}
	if len(evicted) > 0 {
		r.logger.Info("evicted stale workers", map[string]interface{}{
			"worker_ids": evicted,
			"ttl":        r.ttl.String(),
		})
	}
	return evicted
}

// List evicts stale rows, then returns every remaining worker matching
// filter (§4.5: "list first evicts stale rows"). Filter.Capabilities
// requires the worker to hold every listed capability (subset match);
// an empty Filter returns every live worker.
func (r *Registry) List(filter Filter) []domain.WorkerState {
	now := r.now()
	r.mu.Lock()
	r.evictLocked(now)
	snapshot := make([]*domain.WorkerState, 0, len(r.rows))
	for _, state := range r.rows {
		snapshot = append(snapshot, state)
	}
	r.mu.Unlock()

	out := make([]domain.WorkerState, 0, len(snapshot))
	for _, state := range snapshot {
		if !matches(state, filter) {
			continue
		}
		out = append(out, *state)
	}
	return out
}

func matches(state *domain.WorkerState, filter Filter) bool {
	if filter.Environment != "" && state.Environment != filter.Environment {
		return false
	}
	if filter.Segment != "" && state.NetworkSegment != filter.Segment {
		return false
	}
	for _, cap := range filter.Capabilities {
		if !state.HasCapability(cap) {
			return false
		}
	}
	return true
}

// Get returns a live (non-expired) worker's current state.
func (r *Registry) Get(worker string) (domain.WorkerState, bool) {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.rows[worker]
	if !ok || state.Expired(now, r.ttl) {
		return domain.WorkerState{}, false
	}
	return *state, true
}
