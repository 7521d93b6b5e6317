package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHashRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.HSet(ctx, "session:abc", map[string]string{
		"codebase_id":   "cb-1",
		"message_count": "0",
	}))
	require.NoError(t, s.HSet(ctx, "session:abc", map[string]string{
		"message_count": "2",
	}))

	got, err := s.HGetAll(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, "cb-1", got["codebase_id"])
	assert.Equal(t, "2", got["message_count"], "fields are upserted")

	missing, err := s.HGetAll(ctx, "session:nope")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LPush(ctx, "msgs", "first"))
	require.NoError(t, s.LPush(ctx, "msgs", "second"))
	require.NoError(t, s.LPush(ctx, "msgs", "third"))

	all, err := s.LRange(ctx, "msgs", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second", "first"}, all)

	head, err := s.LRange(ctx, "msgs", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second"}, head)

	n, err := s.LLen(ctx, "msgs")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSetOperations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SAdd(ctx, "cb:sessions", "s1", "s2", "s1"))

	members, err := s.SMembers(ctx, "cb:sessions")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, members)

	require.NoError(t, s.SRem(ctx, "cb:sessions", "s1"))
	members, err = s.SMembers(ctx, "cb:sessions")
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, members)
}

func TestTTLExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	clock := time.Now()
	s.now = func() time.Time { return clock }

	require.NoError(t, s.HSet(ctx, "session:x", map[string]string{"a": "1"}))
	require.NoError(t, s.Expire(ctx, "session:x", time.Hour))

	ok, err := s.Exists(ctx, "session:x")
	require.NoError(t, err)
	assert.True(t, ok)

	clock = clock.Add(2 * time.Hour)

	ok, err = s.Exists(ctx, "session:x")
	require.NoError(t, err)
	assert.False(t, ok, "expired keys are purged on read")

	got, err := s.HGetAll(ctx, "session:x")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPurgeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	clock := time.Now()
	s.now = func() time.Time { return clock }

	require.NoError(t, s.HSet(ctx, "a", map[string]string{"x": "1"}))
	require.NoError(t, s.Expire(ctx, "a", time.Minute))
	require.NoError(t, s.HSet(ctx, "b", map[string]string{"x": "1"}))
	require.NoError(t, s.Expire(ctx, "b", time.Hour))

	clock = clock.Add(30 * time.Minute)

	purged, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	// Idempotent with no new expirations.
	purged, err = s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)

	ok, err := s.Exists(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPipelineAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Pipeline(ctx, func(p *Pipe) error {
		if err := p.HSet("session:y", map[string]string{"codebase_id": "cb"}); err != nil {
			return err
		}
		if err := p.LPush("session:y:messages", `{"role":"user"}`); err != nil {
			return err
		}
		if err := p.SAdd("codebase:cb:sessions", "y"); err != nil {
			return err
		}
		return p.Expire("session:y", time.Hour)
	})
	require.NoError(t, err)

	members, err := s.SMembers(ctx, "codebase:cb:sessions")
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, members)

	// A failing pipeline rolls everything back.
	err = s.Pipeline(ctx, func(p *Pipe) error {
		if err := p.HSet("session:z", map[string]string{"a": "1"}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	ok, err := s.Exists(ctx, "session:z")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLTrim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.LPush(ctx, "l", v))
	}

	require.NoError(t, s.Pipeline(ctx, func(p *Pipe) error {
		return p.LTrim("l", 0, 2)
	}))

	all, err := s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d", "c"}, all)
}

func TestKeysByPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SAdd(ctx, "codebase:1:sessions", "a"))
	require.NoError(t, s.SAdd(ctx, "codebase:2:sessions", "b"))
	require.NoError(t, s.HSet(ctx, "session:a", map[string]string{"x": "1"}))

	keys, err := s.KeysByPrefix(ctx, "codebase:")
	require.NoError(t, err)
	assert.Equal(t, []string{"codebase:1:sessions", "codebase:2:sessions"}, keys)
}

func TestTokenBucket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	clock := time.Now()
	s.now = func() time.Time { return clock }

	// Capacity 3 per hour: three requests pass, the fourth is limited.
	for i := 0; i < 3; i++ {
		allowed, _, err := s.TakeToken(ctx, "limit:ip:1.2.3.4", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i)
	}

	allowed, retryAfter, err := s.TakeToken(ctx, "limit:ip:1.2.3.4", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))

	// After a third of the window one token has refilled.
	clock = clock.Add(21 * time.Minute)
	allowed, _, err = s.TakeToken(ctx, "limit:ip:1.2.3.4", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, allowed)

	// A different key has its own bucket.
	allowed, _, err = s.TakeToken(ctx, "limit:ip:5.6.7.8", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, allowed)
}
