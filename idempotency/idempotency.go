// Package idempotency implements the Idempotency Store (§4.2): reserve a
// (scope, key) pair, commit its canonical value, or release the
// reservation after a failure, with an at-most-one-logical-effect
// contract inside a TTL window. The production Store is Redis-backed
// (SETNX + TTL, the same go-redis client used elsewhere in this module
// for stream publishing), generalized here to a three-operation
// reserve/commit/release protocol rather than a plain counter.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/opsloop/orchestrator-core/core"
)

// Store is the contract (§4.2 API).
type Store interface {
	// Reserve atomically marks (scope, key) as pending if absent, or
	// returns the previously committed value with found=true. While the
	// key is reserved but not yet committed it returns (nil, false, nil),
	// the same result as a fresh reservation.
	Reserve(ctx context.Context, scope, key string, ttl time.Duration) (existing []byte, found bool, err error)
	Commit(ctx context.Context, scope, key string, value []byte, ttl time.Duration) error
	Release(ctx context.Context, scope, key string) error
}

const pendingMarker = "\x00pending"

func storeKey(scope, key string) string { return fmt.Sprintf("idempotency:%s:%s", scope, key) }

// RedisStore is the production Store.
type RedisStore struct {
	client *redis.Client
	logger core.Logger
}

// NewRedisStore constructs a RedisStore over an already-configured client.
func NewRedisStore(client *redis.Client, logger core.Logger) *RedisStore {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &RedisStore{client: client, logger: logger}
}

func (s *RedisStore) Reserve(ctx context.Context, scope, key string, ttl time.Duration) ([]byte, bool, error) {
	k := storeKey(scope, key)
	ok, err := s.client.SetNX(ctx, k, pendingMarker, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("reserve %s: %w", k, core.ErrTransport)
	}
	if ok {
		// We won the reservation race; nothing committed yet.
		return nil, false, nil
	}
	val, err := s.client.Get(ctx, k).Result()
	if err == redis.Nil {
		// Raced with a Release between SetNX and Get; treat as won.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reserve get %s: %w", k, core.ErrTransport)
	}
	if val == pendingMarker {
		return nil, false, nil
	}
	return []byte(val), true, nil
}

func (s *RedisStore) Commit(ctx context.Context, scope, key string, value []byte, ttl time.Duration) error {
	k := storeKey(scope, key)
	if err := s.client.Set(ctx, k, value, ttl).Err(); err != nil {
		return fmt.Errorf("commit %s: %w", k, core.ErrTransport)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, scope, key string) error {
	k := storeKey(scope, key)
	if err := s.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("release %s: %w", k, core.ErrTransport)
	}
	return nil
}

// MemoryStore is an in-process Store used by unit tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	value    []byte
	pending  bool
	deadline time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry)}
}

func (s *MemoryStore) Reserve(_ context.Context, scope, key string, ttl time.Duration) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey(scope, key)
	now := time.Now()
	if e, ok := s.entries[k]; ok && (e.deadline.IsZero() || e.deadline.After(now)) {
		if e.pending {
			return nil, false, nil
		}
		return e.value, true, nil
	}
	deadline := time.Time{}
	if ttl > 0 {
		deadline = now.Add(ttl)
	}
	s.entries[k] = memEntry{pending: true, deadline: deadline}
	return nil, false, nil
}

func (s *MemoryStore) Commit(_ context.Context, scope, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey(scope, key)
	deadline := time.Time{}
	if ttl > 0 {
		deadline = time.Now().Add(ttl)
	}
	s.entries[k] = memEntry{value: value, pending: false, deadline: deadline}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, storeKey(scope, key))
	return nil
}

// Scopes named in §4.2.
const (
	ScopeSessionCreate  = "session.create"
	ScopeSessionCommand = "session.command"
	ScopeSessionAssign  = "session.assign"
)

// MarshalValue and UnmarshalValue let callers fold arbitrary committed
// results (e.g. a session id, a stream id) through the []byte contract
// without hand-rolling encoding at every call site.
func MarshalValue(v interface{}) ([]byte, error) { return json.Marshal(v) }

func UnmarshalValue(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
