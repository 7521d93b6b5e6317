package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/askrepo/askrepo/internal/errors"
	"github.com/askrepo/askrepo/internal/kvstore"
)

// Store persists sessions and their messages. All multi-key updates run
// through the key-value store's transactional pipeline, so a session hash,
// its message list, and the codebase index never drift apart.
type Store struct {
	kv        *kvstore.Store
	retention time.Duration
	logger    *slog.Logger
}

// NewStore creates a session store. Zero retention selects the default.
func NewStore(kv *kvstore.Store, retention time.Duration, logger *slog.Logger) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, retention: retention, logger: logger}
}

// Create starts a new session for the codebase and registers it in the
// codebase index.
func (s *Store) Create(ctx context.Context, codebaseID string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:         uuid.NewString(),
		CodebaseID: codebaseID,
		CreatedAt:  now,
		LastActive: now,
	}

	err := s.kv.Pipeline(ctx, func(p *kvstore.Pipe) error {
		if err := p.HSet(sessionKey(sess.ID), s.hashFields(sess)); err != nil {
			return err
		}
		if err := p.SAdd(codebaseKey(codebaseID), sess.ID); err != nil {
			return err
		}
		return s.refreshTTL(p, sess.ID, codebaseID)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns the session, or ErrCodeNotFound if missing or expired.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	fields, err := s.kv.HGetAll(ctx, sessionKey(id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errors.NotFoundError(fmt.Sprintf("session %s not found", id))
	}
	return sessionFromHash(id, fields)
}

// GetOrCreate creates a fresh session when id is empty. A non-empty id
// must resolve to a live session on the same codebase; an unknown or
// expired id is ErrCodeNotFound, never silently replaced.
func (s *Store) GetOrCreate(ctx context.Context, codebaseID, id string) (*Session, error) {
	if id == "" {
		return s.Create(ctx, codebaseID)
	}

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.CodebaseID != codebaseID {
		return nil, errors.NotFoundError(
			fmt.Sprintf("session %s does not belong to codebase %s", id, codebaseID))
	}
	return sess, nil
}

// AddMessage appends one message and refreshes TTLs.
func (s *Store) AddMessage(ctx context.Context, id string, msg Message) error {
	return s.appendMessages(ctx, id, msg)
}

// SaveTurn appends a user/assistant pair atomically.
func (s *Store) SaveTurn(ctx context.Context, id string, user, assistant Message) error {
	user.Role = RoleUser
	assistant.Role = RoleAssistant
	return s.appendMessages(ctx, id, user, assistant)
}

func (s *Store) appendMessages(ctx context.Context, id string, msgs ...Message) error {
	return s.kv.Pipeline(ctx, func(p *kvstore.Pipe) error {
		fields, err := p.HGetAll(sessionKey(id))
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return errors.NotFoundError(fmt.Sprintf("session %s not found", id))
		}
		sess, err := sessionFromHash(id, fields)
		if err != nil {
			return err
		}

		for _, msg := range msgs {
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = time.Now().UTC()
			}
			encoded, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := p.LPush(messagesKey(id), string(encoded)); err != nil {
				return err
			}
			sess.MessageCount++
		}
		sess.LastActive = time.Now().UTC()

		if err := p.HSet(sessionKey(id), s.hashFields(sess)); err != nil {
			return err
		}
		return s.refreshTTL(p, id, sess.CodebaseID)
	})
}

// Messages returns up to limit most-recent messages in chronological order
// (oldest first). limit <= 0 returns everything.
func (s *Store) Messages(ctx context.Context, id string, limit int) ([]Message, error) {
	stop := -1
	if limit > 0 {
		stop = limit - 1
	}
	raw, err := s.kv.LRange(ctx, messagesKey(id), 0, stop)
	if err != nil {
		return nil, err
	}

	// The list is newest-first; reverse for chronological order.
	msgs := make([]Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg Message
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			s.logger.Warn("session_message_decode_failed",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// ListByCodebase returns the ids of live sessions for a codebase. Stale
// index entries for expired sessions are dropped in passing.
func (s *Store) ListByCodebase(ctx context.Context, codebaseID string) ([]string, error) {
	ids, err := s.kv.SMembers(ctx, codebaseKey(codebaseID))
	if err != nil {
		return nil, err
	}

	var live []string
	var stale []string
	for _, id := range ids {
		ok, err := s.kv.Exists(ctx, sessionKey(id))
		if err != nil {
			return nil, err
		}
		if ok {
			live = append(live, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := s.kv.SRem(ctx, codebaseKey(codebaseID), stale...); err != nil {
			return nil, err
		}
	}
	return live, nil
}

// Delete removes a session and its index entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.kv.Pipeline(ctx, func(p *kvstore.Pipe) error {
		if err := p.Delete(sessionKey(id), messagesKey(id)); err != nil {
			return err
		}
		return p.SRem(codebaseKey(sess.CodebaseID), id)
	})
}

// DeleteByCodebase removes every session of a codebase plus the index set.
// Returns the number of sessions removed.
func (s *Store) DeleteByCodebase(ctx context.Context, codebaseID string) (int, error) {
	ids, err := s.kv.SMembers(ctx, codebaseKey(codebaseID))
	if err != nil {
		return 0, err
	}

	err = s.kv.Pipeline(ctx, func(p *kvstore.Pipe) error {
		for _, id := range ids {
			if err := p.Delete(sessionKey(id), messagesKey(id)); err != nil {
				return err
			}
		}
		return p.Delete(codebaseKey(codebaseID))
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Cleanup sweeps stale session ids out of every codebase index, after
// purging TTL-expired keys. Idempotent; returns the number of index entries
// removed.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	if _, err := s.kv.PurgeExpired(ctx); err != nil {
		return 0, err
	}

	keys, err := s.kv.KeysByPrefix(ctx, CodebaseIndexPrefix)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		if !strings.HasSuffix(key, ":sessions") {
			continue
		}
		ids, err := s.kv.SMembers(ctx, key)
		if err != nil {
			return removed, err
		}
		for _, id := range ids {
			ok, err := s.kv.Exists(ctx, sessionKey(id))
			if err != nil {
				return removed, err
			}
			if ok {
				continue
			}
			if err := s.kv.SRem(ctx, key, id); err != nil {
				return removed, err
			}
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("session_cleanup",
			slog.Int("removed", removed))
	}
	return removed, nil
}

// refreshTTL re-arms the retention TTL on every key touched by a write.
func (s *Store) refreshTTL(p *kvstore.Pipe, id, codebaseID string) error {
	if err := p.Expire(sessionKey(id), s.retention); err != nil {
		return err
	}
	if err := p.Expire(messagesKey(id), s.retention); err != nil {
		return err
	}
	return p.Expire(codebaseKey(codebaseID), s.retention)
}

func (s *Store) hashFields(sess *Session) map[string]string {
	return map[string]string{
		"id":            sess.ID,
		"codebase_id":   sess.CodebaseID,
		"created_at":    sess.CreatedAt.Format(time.RFC3339Nano),
		"last_active":   sess.LastActive.Format(time.RFC3339Nano),
		"message_count": strconv.Itoa(sess.MessageCount),
	}
}

func sessionFromHash(id string, fields map[string]string) (*Session, error) {
	sess := &Session{
		ID:         id,
		CodebaseID: fields["codebase_id"],
	}
	var err error
	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreFailure, err)
	}
	if sess.LastActive, err = time.Parse(time.RFC3339Nano, fields["last_active"]); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreFailure, err)
	}
	sess.MessageCount, _ = strconv.Atoi(fields["message_count"])
	return sess, nil
}
