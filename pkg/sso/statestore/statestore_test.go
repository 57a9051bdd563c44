package statestore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/spoke-sso/pkg/sso"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// setupRedisStoreTest creates a miniredis instance and returns the store and server
func setupRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisConfig{
		URL:      "redis://" + mr.Addr(),
		PoolSize: 10,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func sampleState() *sso.AttemptState {
	return &sso.AttemptState{
		AttemptID:    "a-1",
		TenantID:     7,
		ProviderKey:  "okta",
		Nonce:        "n-1",
		PKCEVerifier: "v-1",
		RedirectURI:  "https://app.example/auth/sso/okta/callback",
		Scopes:       []string{"openid", "email"},
	}
}

func TestNewRedisStore_InvalidURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{URL: "://bad"})
	assert.Error(t, err)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), RedisConfig{URL: "redis://" + addr})
	assert.Error(t, err)
}

func TestRedisStore_PutConsume(t *testing.T) {
	store, mr := setupRedisStoreTest(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "tok", sampleState(), time.Minute))
	assert.True(t, mr.Exists(DefaultKeyPrefix+"tok"))
	assert.Equal(t, time.Minute, mr.TTL(DefaultKeyPrefix+"tok"))

	got, err := store.Consume(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, sampleState(), got)
	assert.False(t, mr.Exists(DefaultKeyPrefix+"tok"))

	_, err = store.Consume(ctx, "tok")
	assert.ErrorIs(t, err, sso.ErrStateNotFound)
}

func TestRedisStore_TTLFloor(t *testing.T) {
	store, mr := setupRedisStoreTest(t)

	require.NoError(t, store.Put(context.Background(), "tok", sampleState(), time.Second))
	assert.Equal(t, sso.MinStateTTL, mr.TTL(DefaultKeyPrefix+"tok"))
}

func TestRedisStore_Expired(t *testing.T) {
	store, mr := setupRedisStoreTest(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "tok", sampleState(), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := store.Consume(ctx, "tok")
	assert.ErrorIs(t, err, sso.ErrStateNotFound)
}

func TestRedisStore_PutDoesNotOverwrite(t *testing.T) {
	store, _ := setupRedisStoreTest(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "tok", sampleState(), time.Minute))
	assert.Error(t, store.Put(ctx, "tok", sampleState(), time.Minute))
	assert.Error(t, store.Put(ctx, "", sampleState(), time.Minute))
}

func TestRedisStore_CorruptEntry(t *testing.T) {
	store, mr := setupRedisStoreTest(t)
	require.NoError(t, mr.Set(DefaultKeyPrefix+"tok", "not json"))

	_, err := store.Consume(context.Background(), "tok")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, sso.ErrStateNotFound))
	assert.False(t, mr.Exists(DefaultKeyPrefix+"tok"))
}

func TestRedisStore_CustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "tenant-a:")
	defer store.Close()

	require.NoError(t, store.Put(context.Background(), "tok", sampleState(), time.Minute))
	assert.True(t, mr.Exists("tenant-a:tok"))
	assert.NoError(t, store.Ping(context.Background()))
}

func TestMemoryStore_PutConsume(t *testing.T) {
	store := NewMemoryStore(10, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "tok", sampleState(), time.Minute))
	assert.Error(t, store.Put(ctx, "tok", sampleState(), time.Minute))
	assert.Equal(t, 1, store.Len())

	got, err := store.Consume(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, sampleState(), got)

	_, err = store.Consume(ctx, "tok")
	assert.ErrorIs(t, err, sso.ErrStateNotFound)
	assert.NoError(t, store.Ping(ctx))
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore(10, time.Hour)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "short", sampleState(), time.Second))
	require.NoError(t, store.Put(ctx, "long", sampleState(), 5*time.Minute))

	// The 1s TTL is raised to the floor
	now = now.Add(20 * time.Second)
	_, err := store.Consume(ctx, "short")
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	_, err = store.Consume(ctx, "long")
	assert.ErrorIs(t, err, sso.ErrStateNotFound)
}

func TestMemoryStore_Close(t *testing.T) {
	store := NewMemoryStore(0, 0)
	require.NoError(t, store.Put(context.Background(), "tok", sampleState(), 0))
	require.NoError(t, store.Close())
	assert.Equal(t, 0, store.Len())
}

func TestStores_ConcurrentConsumeSucceedsOnce(t *testing.T) {
	redisStore, _ := setupRedisStoreTest(t)

	stores := map[string]sso.StateStore{
		"redis":  redisStore,
		"memory": NewMemoryStore(100, time.Hour),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Put(ctx, "race", sampleState(), time.Minute))

			var wins, misses int32
			var g errgroup.Group
			for i := 0; i < 32; i++ {
				g.Go(func() error {
					_, err := store.Consume(ctx, "race")
					switch {
					case err == nil:
						atomic.AddInt32(&wins, 1)
					case errors.Is(err, sso.ErrStateNotFound):
						atomic.AddInt32(&misses, 1)
					default:
						return err
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			assert.Equal(t, int32(1), wins)
			assert.Equal(t, int32(31), misses)
		})
	}
}
