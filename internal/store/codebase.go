package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/askrepo/askrepo/internal/errors"
)

// Status is the lifecycle state of a codebase.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// statusRank orders statuses for the forward-only transition rule.
var statusRank = map[Status]int{
	StatusQueued:     0,
	StatusProcessing: 1,
	StatusCompleted:  2,
	StatusFailed:     2,
}

// CanTransition reports whether moving from one status to another is allowed.
// Transitions only move forward through queued -> processing -> terminal.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Codebase is the canonical record for an uploaded artifact.
type Codebase struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	SourceType      string    `json:"source_type"` // "archive" or "remote_url"
	SourceURL       string    `json:"source_url,omitempty"`
	Status          Status    `json:"status"`
	TotalFiles      int       `json:"total_files"`
	ProcessedFiles  int       `json:"processed_files"`
	ChunksCreated   int       `json:"chunks_created"`
	PrimaryLanguage string    `json:"primary_language,omitempty"`
	Languages       []string  `json:"languages,omitempty"`
	SizeBytes       int64     `json:"size_bytes"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	WorkflowID      string    `json:"workflow_id,omitempty"`
	SecretsDetected int       `json:"secrets_detected"`
	StoragePath     string    `json:"storage_path,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// StatusUpdate carries the mutable fields the ingestion pipeline mirrors
// into the codebase row. Nil pointers leave the column untouched.
type StatusUpdate struct {
	Status          *Status
	TotalFiles      *int
	ProcessedFiles  *int
	ChunksCreated   *int
	PrimaryLanguage *string
	Languages       []string
	SecretsDetected *int
	ErrorMessage    *string
	WorkflowID      *string
}

// CodebaseStore persists codebase rows in SQLite.
type CodebaseStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewCodebaseStore opens the store at path and creates the schema. An empty
// path opens an in-memory store for testing.
func NewCodebaseStore(path string) (*CodebaseStore, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	s := &CodebaseStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *CodebaseStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS codebases (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		source_type TEXT NOT NULL,
		source_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'queued',
		total_files INTEGER NOT NULL DEFAULT 0,
		processed_files INTEGER NOT NULL DEFAULT 0,
		chunks_created INTEGER NOT NULL DEFAULT 0,
		primary_language TEXT NOT NULL DEFAULT '',
		languages TEXT NOT NULL DEFAULT '[]',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		workflow_id TEXT NOT NULL DEFAULT '',
		secrets_detected INTEGER NOT NULL DEFAULT 0,
		storage_path TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_codebases_created ON codebases(created_at DESC);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a new codebase row.
func (s *CodebaseStore) Create(ctx context.Context, cb *Codebase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if cb.CreatedAt.IsZero() {
		cb.CreatedAt = now
	}
	cb.UpdatedAt = now
	if cb.Status == "" {
		cb.Status = StatusQueued
	}

	languages, err := json.Marshal(cb.Languages)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO codebases (
			id, name, description, source_type, source_url, status,
			total_files, processed_files, chunks_created, primary_language,
			languages, size_bytes, error_message, workflow_id,
			secrets_detected, storage_path, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cb.ID, cb.Name, cb.Description, cb.SourceType, cb.SourceURL, cb.Status,
		cb.TotalFiles, cb.ProcessedFiles, cb.ChunksCreated, cb.PrimaryLanguage,
		string(languages), cb.SizeBytes, cb.ErrorMessage, cb.WorkflowID,
		cb.SecretsDetected, cb.StoragePath, cb.CreatedAt, cb.UpdatedAt)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, err)
	}
	return nil
}

const codebaseColumns = `
	id, name, description, source_type, source_url, status,
	total_files, processed_files, chunks_created, primary_language,
	languages, size_bytes, error_message, workflow_id,
	secrets_detected, storage_path, created_at, updated_at`

func scanCodebase(row interface{ Scan(...any) error }) (*Codebase, error) {
	var cb Codebase
	var languages string
	err := row.Scan(
		&cb.ID, &cb.Name, &cb.Description, &cb.SourceType, &cb.SourceURL, &cb.Status,
		&cb.TotalFiles, &cb.ProcessedFiles, &cb.ChunksCreated, &cb.PrimaryLanguage,
		&languages, &cb.SizeBytes, &cb.ErrorMessage, &cb.WorkflowID,
		&cb.SecretsDetected, &cb.StoragePath, &cb.CreatedAt, &cb.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(languages), &cb.Languages); err != nil {
		return nil, err
	}
	return &cb, nil
}

// Get returns the codebase with the given id, or ErrCodeNotFound.
func (s *CodebaseStore) Get(ctx context.Context, id string) (*Codebase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT"+codebaseColumns+" FROM codebases WHERE id = ?", id)
	cb, err := scanCodebase(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError(fmt.Sprintf("codebase %s not found", id))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreFailure, err)
	}
	return cb, nil
}

// List returns one page of codebases ordered newest first, plus the total
// row count. Page is 1-indexed.
func (s *CodebaseStore) List(ctx context.Context, page, limit int) ([]*Codebase, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM codebases").Scan(&total); err != nil {
		return nil, 0, errors.Wrap(errors.ErrCodeStoreFailure, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT"+codebaseColumns+" FROM codebases ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		limit, (page-1)*limit)
	if err != nil {
		return nil, 0, errors.Wrap(errors.ErrCodeStoreFailure, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Codebase
	for rows.Next() {
		cb, err := scanCodebase(rows)
		if err != nil {
			return nil, 0, errors.Wrap(errors.ErrCodeStoreFailure, err)
		}
		out = append(out, cb)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(errors.ErrCodeStoreFailure, err)
	}
	return out, total, nil
}

// UpdateStatus applies a partial update to the codebase row. Status changes
// that would move backward are rejected.
func (s *CodebaseStore) UpdateStatus(ctx context.Context, id string, update StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	var current Status
	err = tx.QueryRowContext(ctx, "SELECT status FROM codebases WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return errors.NotFoundError(fmt.Sprintf("codebase %s not found", id))
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, err)
	}

	set := "updated_at = ?"
	args := []any{time.Now().UTC()}

	if update.Status != nil {
		if !CanTransition(current, *update.Status) {
			return errors.ValidationError(
				fmt.Sprintf("invalid status transition %s -> %s", current, *update.Status), nil)
		}
		set += ", status = ?"
		args = append(args, *update.Status)
	}
	if update.TotalFiles != nil {
		set += ", total_files = ?"
		args = append(args, *update.TotalFiles)
	}
	if update.ProcessedFiles != nil {
		set += ", processed_files = ?"
		args = append(args, *update.ProcessedFiles)
	}
	if update.ChunksCreated != nil {
		set += ", chunks_created = ?"
		args = append(args, *update.ChunksCreated)
	}
	if update.PrimaryLanguage != nil {
		set += ", primary_language = ?"
		args = append(args, *update.PrimaryLanguage)
	}
	if update.Languages != nil {
		languages, err := json.Marshal(update.Languages)
		if err != nil {
			return errors.Wrap(errors.ErrCodeStoreFailure, err)
		}
		set += ", languages = ?"
		args = append(args, string(languages))
	}
	if update.SecretsDetected != nil {
		set += ", secrets_detected = ?"
		args = append(args, *update.SecretsDetected)
	}
	if update.ErrorMessage != nil {
		set += ", error_message = ?"
		args = append(args, *update.ErrorMessage)
	}
	if update.WorkflowID != nil {
		set += ", workflow_id = ?"
		args = append(args, *update.WorkflowID)
	}

	args = append(args, id)
	if _, err := tx.ExecContext(ctx, "UPDATE codebases SET "+set+" WHERE id = ?", args...); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, err)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, err)
	}
	return nil
}

// Delete removes the codebase row. Returns ErrCodeNotFound if absent.
func (s *CodebaseStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM codebases WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, err)
	}
	if affected == 0 {
		return errors.NotFoundError(fmt.Sprintf("codebase %s not found", id))
	}
	return nil
}

// Health verifies the database connection.
func (s *CodebaseStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *CodebaseStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
