package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestMemoryLimiterRefillsPerWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	lim := NewMemoryLimiter(MemoryConfig{Limit: 2, Window: time.Second, Now: clock.now})
	ctx := context.Background()

	d, err := lim.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	d, _ = lim.Allow(ctx, "alice")
	assert.True(t, d.Allowed)
	d, _ = lim.Allow(ctx, "alice")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.True(t, d.ResetAt.After(clock.t))

	other, _ := lim.Allow(ctx, "bob")
	assert.True(t, other.Allowed, "keys are independent")

	clock.t = clock.t.Add(500 * time.Millisecond)
	d, _ = lim.Allow(ctx, "alice")
	assert.True(t, d.Allowed, "one token refilled after half a window")
}

func TestMemoryLimiterDisabledAndCapacity(t *testing.T) {
	ctx := context.Background()
	off := NewMemoryLimiter(MemoryConfig{})
	for i := 0; i < 100; i++ {
		d, err := off.Allow(ctx, "k")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	clock := &fakeClock{t: time.Unix(0, 0)}
	lim := NewMemoryLimiter(MemoryConfig{Limit: 1, Window: time.Second, MaxKeys: 1, Now: clock.now})
	_, err := lim.Allow(ctx, "a")
	require.NoError(t, err)
	_, err = lim.Allow(ctx, "b")
	assert.ErrorIs(t, err, ErrCapacity)
	clock.t = clock.t.Add(2 * time.Second)
	_, err = lim.Allow(ctx, "b")
	assert.NoError(t, err, "idle visitors are collected")
}

// fakeScripter evaluates the fixed-window script against an in-memory counter.
type fakeScripter struct {
	counts map[string]int64
	err    error
}

func (f *fakeScripter) run(ctx context.Context, keys []string, args []any) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.counts[keys[0]]++
	ttl, _ := args[0].(int64)
	cmd.SetVal([]any{f.counts[keys[0]], ttl})
	return cmd
}

func (f *fakeScripter) Eval(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.run(ctx, keys, args)
}

func (f *fakeScripter) EvalSha(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.run(ctx, keys, args)
}

func (f *fakeScripter) EvalRO(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.run(ctx, keys, args)
}

func (f *fakeScripter) EvalShaRO(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.run(ctx, keys, args)
}

func (f *fakeScripter) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	cmd := redis.NewBoolSliceCmd(ctx)
	cmd.SetVal(make([]bool, len(hashes)))
	return cmd
}

func (f *fakeScripter) ScriptLoad(ctx context.Context, _ string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal("sha")
	return cmd
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeScripter{counts: map[string]int64{}}
	lim, err := NewRedisLimiter(fake, RedisConfig{Limit: 2, Window: time.Minute, Now: func() time.Time { return now }})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := lim.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := lim.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, now.Add(time.Minute), d.ResetAt)
	assert.Contains(t, fake.counts, "tracecore:ratelimit:alice")
}

func TestRedisLimiterErrors(t *testing.T) {
	_, err := NewRedisLimiter(nil, RedisConfig{Limit: 1})
	require.Error(t, err)

	lim, err := NewRedisLimiter(&fakeScripter{err: errors.New("connection refused")}, RedisConfig{Limit: 1})
	require.NoError(t, err)
	_, err = lim.Allow(context.Background(), "k")
	require.Error(t, err)

	off, err := NewRedisLimiter(&fakeScripter{err: errors.New("unused")}, RedisConfig{})
	require.NoError(t, err)
	d, err := off.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
