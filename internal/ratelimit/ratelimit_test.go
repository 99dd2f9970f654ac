package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestKeyStringKeepsScopesApart(t *testing.T) {
	keys := []Key{
		Guild(ScopeSpamGuild, "1"),
		Channel(ScopeSpamGuild, "1"),
		Member(ScopeSpamSoft, "1", "2"),
		Member(ScopeSpamSoft, "2", "1"),
		Member(ScopeSpamHard, "1", "2"),
		{Scope: ScopeReactKeyword, GuildID: "1", Name: "a|u=2"},
		{Scope: ScopeReactKeyword, GuildID: "1", UserID: "2", Name: "a"},
		{Scope: ScopeResponderTriggerChannel, ChannelID: "1", Name: "hi"},
		{Scope: ScopeResponderTriggerGuild, GuildID: "1", Name: "hi"},
	}

	seen := make(map[string]Key, len(keys))
	for _, key := range keys {
		rendered := key.String()
		if prev, ok := seen[rendered]; ok {
			t.Fatalf("keys %+v and %+v both render as %q", prev, key, rendered)
		}
		seen[rendered] = key
	}
	require.Equal(t, "filter.spam.soft|g=1|u=2", Member(ScopeSpamSoft, "1", "2").String())
	require.Equal(t, `autoreact.keyword|g=1|n=a\|u\=2`, keys[5].String())
}

func TestMemoryFixedWindow(t *testing.T) {
	testCases := []struct {
		name     string
		limit    int
		window   time.Duration
		steps    []time.Duration // advance before each hit
		expected []bool          // true when the hit is limited
	}{
		{
			name:     "first hit always passes",
			limit:    1,
			window:   10 * time.Second,
			steps:    []time.Duration{0, 0, 0},
			expected: []bool{false, true, true},
		},
		{
			name:     "window reset",
			limit:    2,
			window:   5 * time.Second,
			steps:    []time.Duration{0, time.Second, time.Second, 3 * time.Second, 0},
			expected: []bool{false, false, true, false, false},
		},
		{
			name:     "reset exactly at boundary",
			limit:    1,
			window:   4 * time.Second,
			steps:    []time.Duration{0, 4 * time.Second},
			expected: []bool{false, false},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Unix(1000, 0)}
			limiter := NewMemory(16, time.Hour)
			limiter.WithClock(clock)
			key := Member(ScopeSpamSoft, "g1", "u1")

			for i, step := range tc.steps {
				clock.Advance(step)
				remaining, err := limiter.Ratelimited(context.Background(), key, tc.limit, tc.window)
				require.NoError(t, err)
				require.Equal(t, tc.expected[i], remaining > 0, "hit %d", i)
				if remaining > 0 {
					require.LessOrEqual(t, remaining, tc.window)
				}
			}
		})
	}
}

func TestMemoryZeroLimit(t *testing.T) {
	limiter := NewMemory(16, time.Hour)
	remaining, err := limiter.Ratelimited(context.Background(), Guild(ScopeSpamGuild, "g"), 0, time.Second)
	require.NoError(t, err)
	require.Positive(t, remaining)
}

func TestMemoryRemaining(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	limiter := NewMemory(16, time.Hour)
	limiter.WithClock(clock)
	key := Guild(ScopeTimeoutGuild, "g1")

	_, _ = limiter.Ratelimited(context.Background(), key, 1, 10*time.Second)
	clock.Advance(3 * time.Second)
	remaining, err := limiter.Ratelimited(context.Background(), key, 1, 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, 7*time.Second, remaining)
}

func TestMemoryConcurrentHits(t *testing.T) {
	limiter := NewMemory(16, time.Hour)
	key := Guild(ScopeSpamGuild, "g1")

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := Allowed(context.Background(), limiter, key, 20, time.Minute)
			if err == nil && ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 20, allowed.Load())
}

func TestRedisLimiter(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	limiter := NewRedis(client)
	ctx := context.Background()
	key := Member(ScopeSpamSoft, "g1", "u1")

	for i := 0; i < 3; i++ {
		remaining, err := limiter.Ratelimited(ctx, key, 3, 5*time.Second)
		require.NoError(t, err)
		require.Zero(t, remaining, "hit %d", i)
	}
	remaining, err := limiter.Ratelimited(ctx, key, 3, 5*time.Second)
	require.NoError(t, err)
	require.Positive(t, remaining)
	require.LessOrEqual(t, remaining, 5*time.Second)

	other, err := limiter.Ratelimited(ctx, Member(ScopeSpamSoft, "g1", "u2"), 3, 5*time.Second)
	require.NoError(t, err)
	require.Zero(t, other)

	server.FastForward(5 * time.Second)
	remaining, err = limiter.Ratelimited(ctx, key, 3, 5*time.Second)
	require.NoError(t, err)
	require.Zero(t, remaining)
}

func TestRedisLimiterError(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	addr := server.Addr()
	server.Close()

	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	defer client.Close()

	_, err = NewRedis(client).Ratelimited(context.Background(), Guild(ScopeSpamGuild, "g"), 1, time.Second)
	require.Error(t, err)
}

func TestBadgerLimiter(t *testing.T) {
	limiter, err := OpenBadger("", zap.NewNop())
	require.NoError(t, err)
	defer limiter.Close()

	clock := &fakeClock{now: time.Now()}
	limiter.WithClock(clock)
	ctx := context.Background()
	key := Guild(ScopeSpamSlowmode, "c1")

	remaining, err := limiter.Ratelimited(ctx, key, 1, 300*time.Second)
	require.NoError(t, err)
	require.Zero(t, remaining)

	clock.Advance(100 * time.Second)
	remaining, err = limiter.Ratelimited(ctx, key, 1, 300*time.Second)
	require.NoError(t, err)
	require.Equal(t, 200*time.Second, remaining)

	clock.Advance(200 * time.Second)
	remaining, err = limiter.Ratelimited(ctx, key, 1, 300*time.Second)
	require.NoError(t, err)
	require.Zero(t, remaining)
}

func TestBadgerConcurrentHits(t *testing.T) {
	limiter, err := OpenBadger("", zap.NewNop())
	require.NoError(t, err)
	defer limiter.Close()

	key := Member(ScopeTimeoutMember, "g1", "u1")
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := Allowed(context.Background(), limiter, key, 5, time.Minute)
			if err == nil && ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 5, allowed.Load())
}
