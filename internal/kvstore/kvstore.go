// Package kvstore is a SQLite-backed key-value store with hash, list, and
// set structures, per-key TTLs, and transactional multi-key pipelines. It
// backs session state and rate-limit buckets.
package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/askrepo/askrepo/internal/errors"
	"github.com/askrepo/askrepo/internal/store"
)

// Store is safe for concurrent use. Expired keys are purged lazily on read
// and in bulk by PurgeExpired.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// New opens the store at path and creates the schema. An empty path opens
// an in-memory store for testing.
func New(path string) (*Store, error) {
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_expiry (
		key TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS kv_hash (
		key TEXT NOT NULL,
		field TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (key, field)
	);

	CREATE TABLE IF NOT EXISTS kv_list (
		key TEXT NOT NULL,
		seq INTEGER NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (key, seq)
	);

	CREATE TABLE IF NOT EXISTS kv_set (
		key TEXT NOT NULL,
		member TEXT NOT NULL,
		PRIMARY KEY (key, member)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx so structure operations run either
// standalone or inside a pipeline transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Pipe executes structure operations atomically inside one transaction.
type Pipe struct {
	ctx context.Context
	tx  *sql.Tx
	s   *Store
}

// Pipeline runs fn inside a single transaction. All operations commit
// together or roll back together.
func (s *Store) Pipeline(ctx context.Context, fn func(p *Pipe) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Pipe{ctx: ctx, tx: tx, s: s}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, err)
	}
	return nil
}

// expired reports whether key has a TTL in the past.
func (s *Store) expired(ctx context.Context, q dbtx, key string) (bool, error) {
	var expiresAt int64
	err := q.QueryRowContext(ctx, "SELECT expires_at FROM kv_expiry WHERE key = ?", key).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return expiresAt <= s.now().Unix(), nil
}

// dropKey removes key from every structure table.
func dropKey(ctx context.Context, q dbtx, key string) error {
	for _, table := range []string{"kv_expiry", "kv_hash", "kv_list", "kv_set"} {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE key = ?", key); err != nil {
			return err
		}
	}
	return nil
}

// checkAlive purges key if expired. Returns false if the key is gone.
func (s *Store) checkAlive(ctx context.Context, q dbtx, key string) (bool, error) {
	dead, err := s.expired(ctx, q, key)
	if err != nil {
		return false, err
	}
	if dead {
		if err := dropKey(ctx, q, key); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// --- hash operations ---

func (s *Store) hset(ctx context.Context, q dbtx, key string, fields map[string]string) error {
	if _, err := s.checkAlive(ctx, q, key); err != nil {
		return err
	}
	for field, value := range fields {
		_, err := q.ExecContext(ctx, `
			INSERT INTO kv_hash (key, field, value) VALUES (?, ?, ?)
			ON CONFLICT (key, field) DO UPDATE SET value = excluded.value`,
			key, field, value)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) hgetall(ctx context.Context, q dbtx, key string) (map[string]string, error) {
	alive, err := s.checkAlive(ctx, q, key)
	if err != nil {
		return nil, err
	}
	if !alive {
		return map[string]string{}, nil
	}

	rows, err := q.QueryContext(ctx, "SELECT field, value FROM kv_hash WHERE key = ?", key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		out[field] = value
	}
	return out, rows.Err()
}

// --- list operations ---

func (s *Store) lpush(ctx context.Context, q dbtx, key string, values ...string) error {
	if _, err := s.checkAlive(ctx, q, key); err != nil {
		return err
	}
	for _, value := range values {
		var head sql.NullInt64
		if err := q.QueryRowContext(ctx, "SELECT MIN(seq) FROM kv_list WHERE key = ?", key).Scan(&head); err != nil {
			return err
		}
		seq := int64(0)
		if head.Valid {
			seq = head.Int64 - 1
		}
		if _, err := q.ExecContext(ctx,
			"INSERT INTO kv_list (key, seq, value) VALUES (?, ?, ?)", key, seq, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) llen(ctx context.Context, q dbtx, key string) (int, error) {
	alive, err := s.checkAlive(ctx, q, key)
	if err != nil || !alive {
		return 0, err
	}
	var n int
	err = q.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv_list WHERE key = ?", key).Scan(&n)
	return n, err
}

// lrange returns elements by index with head-first ordering, so index 0 is
// the most recently pushed element. stop = -1 means through the end.
func (s *Store) lrange(ctx context.Context, q dbtx, key string, start, stop int) ([]string, error) {
	alive, err := s.checkAlive(ctx, q, key)
	if err != nil {
		return nil, err
	}
	if !alive {
		return nil, nil
	}

	length, err := s.llen(ctx, q, key)
	if err != nil || length == 0 {
		return nil, err
	}

	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop {
		return nil, nil
	}

	rows, err := q.QueryContext(ctx,
		"SELECT value FROM kv_list WHERE key = ? ORDER BY seq ASC LIMIT ? OFFSET ?",
		key, stop-start+1, start)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, rows.Err()
}

// ltrim keeps only elements in [start, stop] by index.
func (s *Store) ltrim(ctx context.Context, q dbtx, key string, start, stop int) error {
	keep, err := s.lrange(ctx, q, key, start, stop)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM kv_list WHERE key = ?", key); err != nil {
		return err
	}
	for i := len(keep) - 1; i >= 0; i-- {
		if err := s.lpush(ctx, q, key, keep[i]); err != nil {
			return err
		}
	}
	return nil
}

// --- set operations ---

func (s *Store) sadd(ctx context.Context, q dbtx, key string, members ...string) error {
	if _, err := s.checkAlive(ctx, q, key); err != nil {
		return err
	}
	for _, member := range members {
		if _, err := q.ExecContext(ctx,
			"INSERT OR IGNORE INTO kv_set (key, member) VALUES (?, ?)", key, member); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) smembers(ctx context.Context, q dbtx, key string) ([]string, error) {
	alive, err := s.checkAlive(ctx, q, key)
	if err != nil {
		return nil, err
	}
	if !alive {
		return nil, nil
	}

	rows, err := q.QueryContext(ctx, "SELECT member FROM kv_set WHERE key = ? ORDER BY member", key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, err
		}
		out = append(out, member)
	}
	return out, rows.Err()
}

func (s *Store) srem(ctx context.Context, q dbtx, key string, members ...string) error {
	for _, member := range members {
		if _, err := q.ExecContext(ctx,
			"DELETE FROM kv_set WHERE key = ? AND member = ?", key, member); err != nil {
			return err
		}
	}
	return nil
}

// --- key operations ---

func (s *Store) exists(ctx context.Context, q dbtx, key string) (bool, error) {
	alive, err := s.checkAlive(ctx, q, key)
	if err != nil || !alive {
		return false, err
	}
	for _, table := range []string{"kv_hash", "kv_list", "kv_set"} {
		var n int
		if err := q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+table+" WHERE key = ?", key).Scan(&n); err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) expire(ctx context.Context, q dbtx, key string, ttl time.Duration) error {
	expiresAt := s.now().Add(ttl).Unix()
	_, err := q.ExecContext(ctx, `
		INSERT INTO kv_expiry (key, expires_at) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET expires_at = excluded.expires_at`,
		key, expiresAt)
	return err
}

func (s *Store) keysByPrefix(ctx context.Context, q dbtx, prefix string) ([]string, error) {
	pattern := prefix + "%"
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT key FROM (
			SELECT key FROM kv_hash WHERE key LIKE ?
			UNION SELECT key FROM kv_list WHERE key LIKE ?
			UNION SELECT key FROM kv_set WHERE key LIKE ?
		) ORDER BY key`, pattern, pattern, pattern)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// --- exported Store methods (implicit single-op transactions) ---

func (s *Store) locked(fn func(q dbtx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.db); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, err)
	}
	return nil
}

// HSet writes hash fields under key.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	return s.locked(func(q dbtx) error { return s.hset(ctx, q, key, fields) })
}

// HGetAll returns all hash fields under key. Missing or expired keys yield
// an empty map.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := s.locked(func(q dbtx) error {
		var err error
		out, err = s.hgetall(ctx, q, key)
		return err
	})
	return out, err
}

// LPush prepends values to the list at key, leftmost last.
func (s *Store) LPush(ctx context.Context, key string, values ...string) error {
	return s.locked(func(q dbtx) error { return s.lpush(ctx, q, key, values...) })
}

// LRange returns list elements by index, newest-pushed first.
func (s *Store) LRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	var out []string
	err := s.locked(func(q dbtx) error {
		var err error
		out, err = s.lrange(ctx, q, key, start, stop)
		return err
	})
	return out, err
}

// LLen returns the list length at key.
func (s *Store) LLen(ctx context.Context, key string) (int, error) {
	var n int
	err := s.locked(func(q dbtx) error {
		var err error
		n, err = s.llen(ctx, q, key)
		return err
	})
	return n, err
}

// SAdd adds members to the set at key.
func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	return s.locked(func(q dbtx) error { return s.sadd(ctx, q, key, members...) })
}

// SMembers returns all members of the set at key in sorted order.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := s.locked(func(q dbtx) error {
		var err error
		out, err = s.smembers(ctx, q, key)
		return err
	})
	return out, err
}

// SRem removes members from the set at key.
func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	return s.locked(func(q dbtx) error { return s.srem(ctx, q, key, members...) })
}

// Exists reports whether key holds any live data.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.locked(func(q dbtx) error {
		var err error
		ok, err = s.exists(ctx, q, key)
		return err
	})
	return ok, err
}

// Delete removes keys and their data.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return s.locked(func(q dbtx) error {
		for _, key := range keys {
			if err := dropKey(ctx, q, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Expire sets or refreshes the TTL on key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.locked(func(q dbtx) error { return s.expire(ctx, q, key, ttl) })
}

// KeysByPrefix lists live keys starting with prefix.
func (s *Store) KeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := s.locked(func(q dbtx) error {
		var err error
		out, err = s.keysByPrefix(ctx, q, prefix)
		return err
	})
	return out, err
}

// PurgeExpired removes every key whose TTL has passed. Returns the count of
// purged keys.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	var purged int
	err := s.locked(func(q dbtx) error {
		rows, err := q.QueryContext(ctx,
			"SELECT key FROM kv_expiry WHERE expires_at <= ?", s.now().Unix())
		if err != nil {
			return err
		}
		var keys []string
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				_ = rows.Close()
				return err
			}
			keys = append(keys, key)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, key := range keys {
			if err := dropKey(ctx, q, key); err != nil {
				return err
			}
		}
		purged = len(keys)
		return nil
	})
	return purged, err
}

// Health verifies the database connection.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// --- Pipe methods ---

// HSet writes hash fields under key.
func (p *Pipe) HSet(key string, fields map[string]string) error {
	return p.s.hset(p.ctx, p.tx, key, fields)
}

// HGetAll returns all hash fields under key.
func (p *Pipe) HGetAll(key string) (map[string]string, error) {
	return p.s.hgetall(p.ctx, p.tx, key)
}

// LPush prepends values to the list at key.
func (p *Pipe) LPush(key string, values ...string) error {
	return p.s.lpush(p.ctx, p.tx, key, values...)
}

// LRange returns list elements by index, newest-pushed first.
func (p *Pipe) LRange(key string, start, stop int) ([]string, error) {
	return p.s.lrange(p.ctx, p.tx, key, start, stop)
}

// LTrim keeps only list elements in [start, stop] by index.
func (p *Pipe) LTrim(key string, start, stop int) error {
	return p.s.ltrim(p.ctx, p.tx, key, start, stop)
}

// LLen returns the list length at key.
func (p *Pipe) LLen(key string) (int, error) {
	return p.s.llen(p.ctx, p.tx, key)
}

// SAdd adds members to the set at key.
func (p *Pipe) SAdd(key string, members ...string) error {
	return p.s.sadd(p.ctx, p.tx, key, members...)
}

// SMembers returns all members of the set at key.
func (p *Pipe) SMembers(key string) ([]string, error) {
	return p.s.smembers(p.ctx, p.tx, key)
}

// SRem removes members from the set at key.
func (p *Pipe) SRem(key string, members ...string) error {
	return p.s.srem(p.ctx, p.tx, key, members...)
}

// Exists reports whether key holds any live data.
func (p *Pipe) Exists(key string) (bool, error) {
	return p.s.exists(p.ctx, p.tx, key)
}

// Delete removes key and its data.
func (p *Pipe) Delete(keys ...string) error {
	for _, key := range keys {
		if err := dropKey(p.ctx, p.tx, key); err != nil {
			return err
		}
	}
	return nil
}

// Expire sets or refreshes the TTL on key.
func (p *Pipe) Expire(key string, ttl time.Duration) error {
	return p.s.expire(p.ctx, p.tx, key, ttl)
}
