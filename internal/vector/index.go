package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/askrepo/askrepo/internal/chunk"
	"github.com/askrepo/askrepo/internal/errors"
	"github.com/askrepo/askrepo/internal/store"
)

// DefaultMaxTopK caps how many neighbors one query may request.
const DefaultMaxTopK = 20

// overfetchFactor widens graph searches so metadata filtering still fills
// the requested top-k.
const overfetchFactor = 10

// Config configures an Index.
type Config struct {
	// Path is the directory where the graph and chunk database persist.
	// Empty means in-memory only (tests).
	Path       string
	Dimensions int
	MaxTopK    int
	Logger     *slog.Logger
}

// Result is one retrieved chunk with its similarity score.
type Result struct {
	Chunk *chunk.Chunk
	Score float32
}

// filterColumns maps caller-facing filter keys to chunk table columns.
var filterColumns = map[string]string{
	"language":     "language",
	"chunk_type":   "chunk_type",
	"file_path":    "file_path",
	"name":         "name",
	"parent_class": "parent_class",
}

// Index stores chunk embeddings in an HNSW graph and chunk content plus
// metadata in SQLite. Every query is scoped to one codebase. Safe for
// concurrent use.
type Index struct {
	mu      sync.RWMutex
	db      *sql.DB
	graph   *graphStore
	dims    int
	maxTopK int
	dirty   bool

	graphPath string
	fileLock  *flock.Flock
	logger    *slog.Logger
}

// New opens the index, loading any persisted graph from cfg.Path.
func New(cfg Config) (*Index, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector index requires positive dimensions")
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = DefaultMaxTopK
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var dbPath, graphPath string
	var fileLock *flock.Flock
	if cfg.Path != "" {
		dbPath = filepath.Join(cfg.Path, "chunks.db")
		graphPath = filepath.Join(cfg.Path, "vectors.hnsw")
		fileLock = flock.New(filepath.Join(cfg.Path, "vectors.lock"))
	}

	db, err := store.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		db:        db,
		graph:     newGraphStore(cfg.Dimensions),
		dims:      cfg.Dimensions,
		maxTopK:   cfg.MaxTopK,
		graphPath: graphPath,
		fileLock:  fileLock,
		logger:    cfg.Logger,
	}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if graphPath != "" {
		if err := idx.withFileLock(func() error { return idx.graph.load(graphPath) }); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return idx, nil
}

func (idx *Index) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		codebase_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		line_start INTEGER NOT NULL,
		line_end INTEGER NOT NULL,
		content TEXT NOT NULL,
		language TEXT NOT NULL,
		chunk_type TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		docstring TEXT NOT NULL DEFAULT '',
		dependencies TEXT NOT NULL DEFAULT '[]',
		parent_class TEXT NOT NULL DEFAULT '',
		complexity INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_codebase ON chunks(codebase_id);
	`
	_, err := idx.db.Exec(schema)
	return err
}

// Add inserts chunks. Every chunk must carry an embedding of the index's
// dimensionality; anything else is a programming error and rejects the
// whole batch.
func (idx *Index) Add(ctx context.Context, chunks []*chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("chunk %s has no embedding", c.ID), nil)
		}
		if len(c.Embedding) != idx.dims {
			return errors.New(errors.ErrCodeDimensionMismatch,
				fmt.Sprintf("chunk %s embedding has %d dimensions, expected %d",
					c.ID, len(c.Embedding), idx.dims), nil)
		}
		if c.CodebaseID == "" {
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("chunk %s has no codebase id", c.ID), nil)
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeIndexFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range chunks {
		deps, err := json.Marshal(c.Dependencies)
		if err != nil {
			return errors.Wrap(errors.ErrCodeIndexFailed, err)
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return errors.Wrap(errors.ErrCodeIndexFailed, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (
				id, codebase_id, file_path, line_start, line_end, content,
				language, chunk_type, name, docstring, dependencies,
				parent_class, complexity, metadata
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				codebase_id = excluded.codebase_id,
				file_path = excluded.file_path,
				line_start = excluded.line_start,
				line_end = excluded.line_end,
				content = excluded.content,
				language = excluded.language,
				chunk_type = excluded.chunk_type,
				name = excluded.name,
				docstring = excluded.docstring,
				dependencies = excluded.dependencies,
				parent_class = excluded.parent_class,
				complexity = excluded.complexity,
				metadata = excluded.metadata`,
			c.ID, c.CodebaseID, c.FilePath, c.LineStart, c.LineEnd, c.Content,
			c.Language, string(c.Type), c.Name, c.Docstring, string(deps),
			c.ParentClass, c.Complexity, string(meta))
		if err != nil {
			return errors.Wrap(errors.ErrCodeIndexFailed, err)
		}
	}

	ids := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		vectors[i] = c.Embedding
	}
	if err := idx.graph.add(ids, vectors); err != nil {
		return errors.Wrap(errors.ErrCodeIndexFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeIndexFailed, err)
	}
	idx.dirty = true
	return nil
}

// Query returns the nearest chunks for the embedding within one codebase.
// topK is clamped to [1, MaxTopK]. Extra filters AND-compose over language,
// chunk_type, file_path, name, and parent_class.
func (idx *Index) Query(ctx context.Context, embedding []float32, codebaseID string, topK int, filters map[string]string) ([]Result, error) {
	if codebaseID == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "codebase id is required", nil)
	}
	for key := range filters {
		if _, ok := filterColumns[key]; !ok {
			return nil, errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("unknown filter %q", key), nil)
		}
	}

	if topK < 1 {
		topK = 1
	}
	if topK > idx.maxTopK {
		topK = idx.maxTopK
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	total := idx.graph.count()
	if total == 0 {
		return nil, nil
	}
	fetch := topK * overfetchFactor
	if fetch < 50 {
		fetch = 50
	}
	if fetch > total {
		fetch = total
	}

	hits, err := idx.graph.search(embedding, fetch)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRetrievalFailed, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	matched, err := idx.matchChunks(ctx, hits, codebaseID, filters)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, topK)
	for _, h := range hits {
		c, ok := matched[h.id]
		if !ok {
			continue
		}
		results = append(results, Result{Chunk: c, Score: h.score})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// matchChunks loads the candidate ids that survive the codebase scope and
// metadata filters, keyed by chunk id.
func (idx *Index) matchChunks(ctx context.Context, hits []hit, codebaseID string, filters map[string]string) (map[string]*chunk.Chunk, error) {
	placeholders := make([]string, len(hits))
	args := make([]any, 0, len(hits)+len(filters)+1)
	for i, h := range hits {
		placeholders[i] = "?"
		args = append(args, h.id)
	}
	args = append(args, codebaseID)

	query := `
		SELECT id, codebase_id, file_path, line_start, line_end, content,
		       language, chunk_type, name, docstring, dependencies,
		       parent_class, complexity, metadata
		FROM chunks
		WHERE id IN (` + strings.Join(placeholders, ",") + `) AND codebase_id = ?`
	for key, value := range filters {
		query += " AND " + filterColumns[key] + " = ?"
		args = append(args, value)
	}

	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRetrievalFailed, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*chunk.Chunk)
	for rows.Next() {
		var c chunk.Chunk
		var chunkType, deps, meta string
		err := rows.Scan(&c.ID, &c.CodebaseID, &c.FilePath, &c.LineStart, &c.LineEnd,
			&c.Content, &c.Language, &chunkType, &c.Name, &c.Docstring, &deps,
			&c.ParentClass, &c.Complexity, &meta)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeRetrievalFailed, err)
		}
		c.Type = chunk.Type(chunkType)
		if err := json.Unmarshal([]byte(deps), &c.Dependencies); err != nil {
			return nil, errors.Wrap(errors.ErrCodeRetrievalFailed, err)
		}
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, errors.Wrap(errors.ErrCodeRetrievalFailed, err)
		}
		out[c.ID] = &c
	}
	return out, rows.Err()
}

// DeleteByCodebase removes every chunk of a codebase from both stores.
// Returns the number of chunks removed. Partial residue from a crashed
// earlier delete is swept here too.
func (idx *Index) DeleteByCodebase(ctx context.Context, codebaseID string) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rows, err := idx.db.QueryContext(ctx, "SELECT id FROM chunks WHERE codebase_id = ?", codebaseID)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeIndexFailed, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, errors.Wrap(errors.ErrCodeIndexFailed, err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(errors.ErrCodeIndexFailed, err)
	}

	if _, err := idx.db.ExecContext(ctx, "DELETE FROM chunks WHERE codebase_id = ?", codebaseID); err != nil {
		return 0, errors.Wrap(errors.ErrCodeIndexFailed, err)
	}
	idx.graph.delete(ids)
	if len(ids) > 0 {
		idx.dirty = true
	}
	return len(ids), nil
}

// CountByCodebase returns the number of indexed chunks for a codebase.
func (idx *Index) CountByCodebase(ctx context.Context, codebaseID string) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var n int
	err := idx.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE codebase_id = ?", codebaseID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeRetrievalFailed, err)
	}
	return n, nil
}

// Dimensions returns the embedding dimensionality.
func (idx *Index) Dimensions() int { return idx.dims }

// Health verifies the backing database.
func (idx *Index) Health(ctx context.Context) error {
	return idx.db.PingContext(ctx)
}

// Save persists the graph to disk under a file lock, so the server and the
// worker never interleave writes. Only a process that has written since the
// last save persists; a read-only process never overwrites a newer graph
// file another process produced. No-op for in-memory indexes.
func (idx *Index) Save() error {
	if idx.graphPath == "" {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.dirty {
		return nil
	}
	if err := idx.withFileLock(func() error { return idx.graph.save(idx.graphPath) }); err != nil {
		return err
	}
	idx.dirty = false
	return nil
}

func (idx *Index) withFileLock(fn func() error) error {
	if idx.fileLock == nil {
		return fn()
	}
	if err := idx.fileLock.Lock(); err != nil {
		return fmt.Errorf("acquire index lock: %w", err)
	}
	defer func() {
		if err := idx.fileLock.Unlock(); err != nil {
			idx.logger.Warn("index_lock_release_failed", slog.String("error", err.Error()))
		}
	}()
	return fn()
}

// Close saves (when persistent) and releases resources.
func (idx *Index) Close() error {
	if err := idx.Save(); err != nil {
		idx.logger.Warn("index_save_on_close_failed", slog.String("error", err.Error()))
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.graph.close()
	return idx.db.Close()
}
