package statestore

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/spoke-sso/pkg/sso"
)

// DefaultMemorySize bounds the number of pending attempts held in memory
const DefaultMemorySize = 10000

type memoryEntry struct {
	state     sso.AttemptState
	expiresAt time.Time
}

// MemoryStore keeps attempt state in process. It suits single-instance
// deployments and tests; state is lost on restart and not shared between
// replicas.
type MemoryStore struct {
	cache  *lru.LRU[string, memoryEntry]
	maxTTL time.Duration
	now    func() time.Time
}

// NewMemoryStore creates an in-memory store holding at most size entries.
// Entries never outlive maxTTL, whatever TTL they are put with.
func NewMemoryStore(size int, maxTTL time.Duration) *MemoryStore {
	if size <= 0 {
		size = DefaultMemorySize
	}
	maxTTL = sso.EffectiveStateTTL(maxTTL)

	return &MemoryStore{
		cache:  lru.NewLRU[string, memoryEntry](size, nil, maxTTL),
		maxTTL: maxTTL,
		now:    time.Now,
	}
}

// Put stores state under token. An existing entry is never overwritten.
func (s *MemoryStore) Put(ctx context.Context, token string, state *sso.AttemptState, ttl time.Duration) error {
	if token == "" {
		return errors.New("state token is required")
	}
	if state == nil {
		return errors.New("state is required")
	}

	ttl = sso.EffectiveStateTTL(ttl)
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	if _, ok := s.cache.Peek(token); ok {
		return errors.New("state token already in use")
	}
	s.cache.Add(token, memoryEntry{state: *state, expiresAt: s.now().Add(ttl)})
	return nil
}

// Consume reads and deletes the state for token. Only the caller whose
// Remove actually removed the entry gets the state.
func (s *MemoryStore) Consume(ctx context.Context, token string) (*sso.AttemptState, error) {
	entry, ok := s.cache.Peek(token)
	if !ok {
		return nil, sso.ErrStateNotFound
	}
	if !s.cache.Remove(token) {
		return nil, sso.ErrStateNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		return nil, sso.ErrStateNotFound
	}

	state := entry.state
	return &state, nil
}

// Len returns the number of entries held, including expired ones not yet evicted
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry
func (s *MemoryStore) Close() error {
	s.cache.Purge()
	return nil
}
