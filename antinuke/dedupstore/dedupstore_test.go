package dedupstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMemCooldown(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemStore()
	key := IncidentKey("guild1", "user1", "Auto-Kicked for Unauthorized Channel Creation")

	ok, err := s.Allow(ctx, key, t0, time.Minute)
	assert.NoError(err)
	assert.True(ok)

	ok, _ = s.Allow(ctx, key, t0.Add(59*time.Second), time.Minute)
	assert.False(ok)

	// a suppressed attempt does not extend the cooldown
	ok, _ = s.Allow(ctx, key, t0.Add(60*time.Second), time.Minute)
	assert.True(ok)

	other := IncidentKey("guild1", "user2", "Auto-Kicked for Unauthorized Channel Creation")
	ok, _ = s.Allow(ctx, other, t0.Add(61*time.Second), time.Minute)
	assert.True(ok)
}

func TestCooldownPerTenant(t *testing.T) {
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + mr.Addr())
	require.NoError(t, err)

	for name, s := range map[string]Store{"mem": NewMemStore(), "redis": rs} {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()
			label := "Unauthorized Role Deletion"

			ok, _ := s.Allow(ctx, IncidentKey("guild1", "user1", label), t0, time.Minute)
			assert.True(ok)
			ok, _ = s.Allow(ctx, IncidentKey("guild2", "user1", label), t0, time.Minute)
			assert.True(ok)
			ok, _ = s.Allow(ctx, IncidentKey("guild1", "user1", label), t0, time.Minute)
			assert.False(ok)
		})
	}
}

func TestMemConcurrentAllow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemStore()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.Allow(ctx, "k", t0, time.Minute); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(int32(1), wins.Load())
}

func TestMemPrune(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemStore()

	s.Allow(ctx, "old", t0, time.Minute)
	s.Allow(ctx, "fresh", t0.Add(time.Minute), time.Minute)
	s.prune(t0.Add(90 * time.Second))
	assert.Equal(1, s.Size())
}

func TestRedisCooldown(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore("redis://" + mr.Addr())
	require.NoError(t, err)

	ok, err := s.Allow(ctx, "k", t0, time.Minute)
	assert.NoError(err)
	assert.True(ok)
	ok, _ = s.Allow(ctx, "k", t0, time.Minute)
	assert.False(ok)

	mr.FastForward(61 * time.Second)
	ok, _ = s.Allow(ctx, "k", t0, time.Minute)
	assert.True(ok)
}
