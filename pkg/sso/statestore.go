package sso

import (
	"context"
	"time"
)

const (
	// MinStateTTL is the floor applied to every state entry's lifetime
	MinStateTTL = 30 * time.Second

	// DefaultStateTTL is used when no TTL is configured
	DefaultStateTTL = 10 * time.Minute
)

// StateStore holds attempt state between Start and Complete. Consume must be
// an atomic read-and-delete: of any number of concurrent callers for the same
// token exactly one gets the state, the rest get ErrStateNotFound.
type StateStore interface {
	Put(ctx context.Context, token string, state *AttemptState, ttl time.Duration) error
	Consume(ctx context.Context, token string) (*AttemptState, error)
}

// EffectiveStateTTL applies the default and the floor to a configured TTL
func EffectiveStateTTL(ttl time.Duration) time.Duration {
	if ttl == 0 {
		ttl = DefaultStateTTL
	}
	if ttl < MinStateTTL {
		return MinStateTTL
	}
	return ttl
}
