package ttlstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/obot-platform/mcp-entra-proxy/pkg/db"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// fakeClock is a manually advanced time source shared by a store under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory func(t *testing.T, ttl time.Duration, clock *fakeClock) Store[record]

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T, ttl time.Duration, clock *fakeClock) Store[record] {
		return NewMemory[record](ttl, WithClock(clock.Now))
	}, true)
}

func TestDurableStore(t *testing.T) {
	entries, err := db.New(filepath.Join(t.TempDir(), "ttl.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := entries.Close(); err != nil {
			t.Logf("Error closing database: %v", err)
		}
	})

	var n atomic.Int32
	testStoreContract(t, func(t *testing.T, ttl time.Duration, clock *fakeClock) Store[record] {
		return NewDurable[record](entries, fmt.Sprintf("ns%d", n.Add(1)), ttl, WithClock(clock.Now))
	}, true)
}

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping redis tests in short mode")
	}
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("Skipping redis tests: TEST_REDIS_URL is not set")
	}
	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Skipping redis tests: %v", err)
	}

	prefix := fmt.Sprintf("ttlstore-test-%d", time.Now().UnixNano())
	var n atomic.Int32
	// Redis expiry runs on the server clock, so TTL boundaries are not driven by the fake clock.
	testStoreContract(t, func(t *testing.T, ttl time.Duration, _ *fakeClock) Store[record] {
		return NewRedis[record](client, fmt.Sprintf("%s-%d", prefix, n.Add(1)), ttl)
	}, false)
}

func testStoreContract(t *testing.T, newStore storeFactory, clockDriven bool) {
	ctx := context.Background()

	t.Run("SetGetDelete", func(t *testing.T) {
		store := newStore(t, 0, newFakeClock())

		require.NoError(t, store.Set(ctx, "k", record{Name: "a", Count: 1}))
		got, ok, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, record{Name: "a", Count: 1}, got)

		existed, err := store.Delete(ctx, "k")
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = store.Delete(ctx, "k")
		require.NoError(t, err)
		assert.False(t, existed)

		_, ok, err = store.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SetReplaces", func(t *testing.T) {
		store := newStore(t, 0, newFakeClock())

		require.NoError(t, store.Set(ctx, "k", record{Name: "old"}))
		require.NoError(t, store.Set(ctx, "k", record{Name: "new"}))

		got, ok, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "new", got.Name)
	})

	t.Run("TakeIsSingleUse", func(t *testing.T) {
		store := newStore(t, time.Minute, newFakeClock())

		require.NoError(t, store.Set(ctx, "k", record{Name: "once"}))

		got, ok, err := store.Take(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "once", got.Name)

		_, ok, err = store.Take(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = store.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ConcurrentTakeHasOneWinner", func(t *testing.T) {
		store := newStore(t, time.Minute, newFakeClock())
		require.NoError(t, store.Set(ctx, "k", record{Name: "race"}))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := store.Take(ctx, "k")
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	if !clockDriven {
		return
	}

	t.Run("ExpiresAfterTTL", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, 10*time.Minute, clock)
		require.NoError(t, store.Set(ctx, "k", record{Name: "ttl"}))

		clock.Advance(9*time.Minute + 59*time.Second)
		_, ok, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok, "entry must be readable just before its TTL")

		clock.Advance(2 * time.Second)
		_, ok, err = store.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok, "entry must be unreadable just after its TTL")

		_, ok, err = store.Take(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SetRestartsTTL", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, 10*time.Minute, clock)
		require.NoError(t, store.Set(ctx, "k", record{Name: "v1"}))

		clock.Advance(8 * time.Minute)
		require.NoError(t, store.Set(ctx, "k", record{Name: "v2"}))

		clock.Advance(8 * time.Minute)
		got, ok, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v2", got.Name)
	})

	t.Run("ZeroTTLNeverExpires", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, 0, clock)
		require.NoError(t, store.Set(ctx, "k", record{Name: "forever"}))

		clock.Advance(365 * 24 * time.Hour)
		_, ok, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("SweepRemovesOnlyExpired", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, time.Minute, clock)
		sweeper, ok := store.(Sweeper)
		require.True(t, ok)

		require.NoError(t, store.Set(ctx, "old", record{Name: "old"}))
		clock.Advance(30 * time.Second)
		require.NoError(t, store.Set(ctx, "young", record{Name: "young"}))
		clock.Advance(45 * time.Second)

		removed, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, removed, int64(1))

		_, ok, err = store.Get(ctx, "young")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestMemoryStoreSweepReclaimsSpace(t *testing.T) {
	clock := newFakeClock()
	store := NewMemory[record](time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, store.Set(ctx, fmt.Sprint(i), record{Count: i}))
	}
	assert.Equal(t, 5, store.Len())

	clock.Advance(time.Minute)
	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), removed)
	assert.Equal(t, 0, store.Len())
}
