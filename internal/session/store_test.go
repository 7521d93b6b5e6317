package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askrepo/askrepo/internal/errors"
	"github.com/askrepo/askrepo/internal/kvstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kv, err := kvstore.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return NewStore(kv, time.Hour, nil)
}

func TestCreateGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "cb-1")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, "cb-1", sess.CodebaseID)
	assert.Equal(t, 0, sess.MessageCount)

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "cb-1", got.CodebaseID)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "no-such-session")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(err))
}

func TestGetOrCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// No id: a new session is created.
	a, err := s.GetOrCreate(ctx, "cb-1", "")
	require.NoError(t, err)

	// Same id: the existing session comes back.
	b, err := s.GetOrCreate(ctx, "cb-1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	// Unknown or expired id: rejected, not silently replaced.
	_, err = s.GetOrCreate(ctx, "cb-1", "expired-id")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(err))

	// Session bound to another codebase is rejected.
	_, err = s.GetOrCreate(ctx, "cb-2", a.ID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(err))
}

func TestSaveTurnAndMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "cb-1")
	require.NoError(t, err)

	require.NoError(t, s.SaveTurn(ctx, sess.ID,
		Message{Content: "how does auth work?"},
		Message{
			Content:   "it uses tokens",
			Citations: []Citation{{FilePath: "auth.py", LineStart: 1, LineEnd: 10}},
		}))
	require.NoError(t, s.SaveTurn(ctx, sess.ID,
		Message{Content: "where is it validated?"},
		Message{Content: "in middleware.py"}))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.MessageCount)

	msgs, err := s.Messages(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "how does auth work?", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[3].Role)
	assert.Equal(t, "in middleware.py", msgs[3].Content)

	// Message count matches stored list length at every observation.
	assert.Equal(t, got.MessageCount, len(msgs))

	// Limit returns the most recent messages, still oldest-first.
	recent, err := s.Messages(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "where is it validated?", recent[0].Content)
	assert.Equal(t, "in middleware.py", recent[1].Content)
}

func TestAddMessageMissingSession(t *testing.T) {
	s := newTestStore(t)

	err := s.AddMessage(context.Background(), "ghost", Message{Role: RoleUser, Content: "hi"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(err))
}

func TestListByCodebase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "cb-1")
	require.NoError(t, err)
	b, err := s.Create(ctx, "cb-1")
	require.NoError(t, err)
	_, err = s.Create(ctx, "cb-2")
	require.NoError(t, err)

	ids, err := s.ListByCodebase(ctx, "cb-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "cb-1")
	require.NoError(t, err)
	require.NoError(t, s.SaveTurn(ctx, sess.ID, Message{Content: "q"}, Message{Content: "a"}))

	require.NoError(t, s.Delete(ctx, sess.ID))

	_, err = s.Get(ctx, sess.ID)
	require.Error(t, err)

	ids, err := s.ListByCodebase(ctx, "cb-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDeleteByCodebase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, "cb-1")
		require.NoError(t, err)
	}
	other, err := s.Create(ctx, "cb-2")
	require.NoError(t, err)

	n, err := s.DeleteByCodebase(ctx, "cb-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ids, err := s.ListByCodebase(ctx, "cb-1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	// Other codebases are untouched.
	_, err = s.Get(ctx, other.ID)
	require.NoError(t, err)
}

func TestCleanupSweepsStaleIndexEntries(t *testing.T) {
	kv, err := kvstore.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	s := NewStore(kv, time.Hour, nil)
	ctx := context.Background()

	alive, err := s.Create(ctx, "cb-1")
	require.NoError(t, err)
	dead, err := s.Create(ctx, "cb-1")
	require.NoError(t, err)

	// Simulate TTL expiry of the session body, leaving the index entry.
	require.NoError(t, kv.Delete(ctx, "session:"+dead.ID, "session:"+dead.ID+":messages"))

	removed, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ids, err := s.ListByCodebase(ctx, "cb-1")
	require.NoError(t, err)
	assert.Equal(t, []string{alive.ID}, ids)

	// Idempotent with no new expirations.
	removed, err = s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
