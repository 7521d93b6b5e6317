package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/askrepo/askrepo/internal/acquire"
	"github.com/askrepo/askrepo/internal/chunk"
	"github.com/askrepo/askrepo/internal/embed"
	"github.com/askrepo/askrepo/internal/metrics"
	"github.com/askrepo/askrepo/internal/secrets"
	"github.com/askrepo/askrepo/internal/session"
	"github.com/askrepo/askrepo/internal/store"
	"github.com/askrepo/askrepo/internal/vector"
)

// Defaults for the embed stage's rate shaping.
const (
	DefaultEmbedBatchSize  = 100
	DefaultEmbedBatchDelay = 100 * time.Millisecond
)

// Activity payloads. Large artifacts (file maps, chunk lists) stage on
// disk between activities; only summaries travel through the journal.
type (
	ValidateResult struct {
		SizeBytes int64 `json:"size_bytes"`
	}

	AcquireResult struct {
		StagingPath string `json:"staging_path"`
		FileCount   int    `json:"file_count"`
		SizeBytes   int64  `json:"size_bytes"`
	}

	StageInput struct {
		CodebaseID  string `json:"codebase_id"`
		StagingPath string `json:"staging_path"`
	}

	ParseResult struct {
		FilesProcessed  int      `json:"files_processed"`
		FilesFailed     int      `json:"files_failed"`
		ChunksCreated   int      `json:"chunks_created"`
		PrimaryLanguage string   `json:"primary_language,omitempty"`
		Languages       []string `json:"languages,omitempty"`
	}

	ScanResult struct {
		SecretsFound int    `json:"secrets_found"`
		Summary      string `json:"summary,omitempty"`
	}

	IndexResult struct {
		ChunksIndexed int `json:"chunks_indexed"`
	}

	StatusUpdateInput struct {
		CodebaseID      string   `json:"codebase_id"`
		Status          string   `json:"status,omitempty"`
		TotalFiles      *int     `json:"total_files,omitempty"`
		ProcessedFiles  *int     `json:"processed_files,omitempty"`
		ChunksCreated   *int     `json:"chunks_created,omitempty"`
		SecretsDetected *int     `json:"secrets_detected,omitempty"`
		PrimaryLanguage string   `json:"primary_language,omitempty"`
		Languages       []string `json:"languages,omitempty"`
		ErrorMessage    string   `json:"error_message,omitempty"`
	}

	SweepResult struct {
		Removed int `json:"removed"`
	}
)

// Activities holds the dependencies the ingestion activities run against.
type Activities struct {
	Acquirer  *acquire.Acquirer
	Chunker   *chunk.Chunker
	Embedder  embed.Embedder
	Index     *vector.Index
	Codebases *store.CodebaseStore
	Sessions  *session.Store

	// StagingRoot is where acquired files and chunks stage between
	// activities, one subdirectory per codebase.
	StagingRoot string

	// Workers bounds the parse pool. Zero selects min(NumCPU, 8).
	Workers int

	EmbedBatchSize  int
	EmbedBatchDelay time.Duration
	SecretDetection bool

	// Metrics is optional; a worker without an exposition endpoint may
	// leave it nil.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (a *Activities) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func (a *Activities) stagingDir(codebaseID string) string {
	return filepath.Join(a.StagingRoot, codebaseID)
}

func (a *Activities) filesPath(codebaseID string) string {
	return filepath.Join(a.stagingDir(codebaseID), "files.json")
}

func (a *Activities) chunksPath(codebaseID string) string {
	return filepath.Join(a.stagingDir(codebaseID), "chunks.json")
}

// ValidateSource sanity-checks the source before any heavy work.
func (a *Activities) ValidateSource(ctx context.Context, raw json.RawMessage) (any, error) {
	var input Input
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}

	switch acquire.SourceKind(input.SourceType) {
	case acquire.SourceArchive:
		data, err := os.ReadFile(input.ArchivePath)
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		if err := a.Acquirer.ValidateArchive(data); err != nil {
			return nil, err
		}
		return ValidateResult{SizeBytes: int64(len(data))}, nil
	case acquire.SourceRemoteURL:
		if err := a.Acquirer.ValidateRemoteURL(input.RepoURL); err != nil {
			return nil, err
		}
		return ValidateResult{}, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", input.SourceType)
	}
}

// AcquireSource materializes the file mapping and stages it on disk.
func (a *Activities) AcquireSource(ctx context.Context, raw json.RawMessage) (any, error) {
	var input Input
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}

	var files map[string]string
	var err error
	switch acquire.SourceKind(input.SourceType) {
	case acquire.SourceArchive:
		var data []byte
		if data, err = os.ReadFile(input.ArchivePath); err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		files, err = a.Acquirer.FromArchive(data)
	case acquire.SourceRemoteURL:
		files, err = a.Acquirer.FromRemoteURL(ctx, input.RepoURL)
	default:
		err = fmt.Errorf("unknown source type %q", input.SourceType)
	}
	if err != nil {
		return nil, err
	}

	staging := a.stagingDir(input.CodebaseID)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	if err := writeJSON(a.filesPath(input.CodebaseID), files); err != nil {
		return nil, err
	}

	var size int64
	for _, content := range files {
		size += int64(len(content))
	}
	a.logger().Info("source_acquired",
		slog.String("codebase_id", input.CodebaseID),
		slog.Int("files", len(files)),
		slog.Int64("bytes", size))

	return AcquireResult{StagingPath: staging, FileCount: len(files), SizeBytes: size}, nil
}

// ParseAndChunk redacts every file inline, parses it, and emits sorted
// chunks to the staging area. Per-file failures are counted, not fatal.
// The worker pool is bounded and the output is deterministic: chunks sort
// by (file_path, line_start) before staging.
func (a *Activities) ParseAndChunk(ctx context.Context, raw json.RawMessage) (any, error) {
	var input StageInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}

	var files map[string]string
	if err := readJSON(a.filesPath(input.CodebaseID), &files); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	workers := a.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > 8 {
		workers = 8
	}

	perFile := make([][]*chunk.Chunk, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			content := files[path]
			if a.SecretDetection {
				content = secrets.Redact(content)
			}
			perFile[i] = a.Chunker.ChunkFile(gctx, path, content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []*chunk.Chunk
	langCount := make(map[string]int)
	for _, chunks := range perFile {
		for _, c := range chunks {
			c.ID = uuid.NewString()
			c.CodebaseID = input.CodebaseID
			langCount[c.Language]++
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].FilePath != all[j].FilePath {
			return all[i].FilePath < all[j].FilePath
		}
		return all[i].LineStart < all[j].LineStart
	})

	if err := writeJSON(a.chunksPath(input.CodebaseID), all); err != nil {
		return nil, err
	}

	primary := ""
	best := 0
	var languages []string
	for lang, n := range langCount {
		languages = append(languages, lang)
		if n > best || (n == best && lang < primary) {
			primary, best = lang, n
		}
	}
	sort.Strings(languages)

	return ParseResult{
		FilesProcessed:  len(paths),
		ChunksCreated:   len(all),
		PrimaryLanguage: primary,
		Languages:       languages,
	}, nil
}

// ScanSecrets re-scans the pre-redaction corpus to build the detection
// report that lands in status and the codebase row.
func (a *Activities) ScanSecrets(ctx context.Context, raw json.RawMessage) (any, error) {
	var input StageInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}
	if !a.SecretDetection {
		return ScanResult{}, nil
	}

	var files map[string]string
	if err := readJSON(a.filesPath(input.CodebaseID), &files); err != nil {
		return nil, err
	}

	var results []secrets.ScanResult
	found := 0
	for path, content := range files {
		result := secrets.Scan(content, path)
		found += len(result.Detections)
		if result.HasSecrets {
			results = append(results, result)
		}
	}

	summary := ""
	if found > 0 {
		encoded, err := json.Marshal(secrets.Summary(results))
		if err != nil {
			return nil, err
		}
		summary = string(encoded)
		a.logger().Warn("secrets_detected",
			slog.String("codebase_id", input.CodebaseID),
			slog.Int("count", found))
	}
	a.Metrics.AddSecretsFound(found)
	return ScanResult{SecretsFound: found, Summary: summary}, nil
}

// EmbedAndIndex embeds staged chunks in fixed batches with an inter-batch
// delay for rate shaping, then inserts them into the vector index.
func (a *Activities) EmbedAndIndex(ctx context.Context, raw json.RawMessage) (any, error) {
	var input StageInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}

	var all []*chunk.Chunk
	if err := readJSON(a.chunksPath(input.CodebaseID), &all); err != nil {
		return nil, err
	}

	batchSize := a.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	delay := a.EmbedBatchDelay
	if delay <= 0 {
		delay = DefaultEmbedBatchDelay
	}

	indexed := 0
	for start := 0; start < len(all); start += batchSize {
		end := start + batchSize
		if end > len(all) {
			end = len(all)
		}
		batch := all[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := a.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			a.Metrics.CountEmbedding("error")
			return nil, err
		}
		a.Metrics.CountEmbedding("success")
		for i, c := range batch {
			c.Embedding = vectors[i]
		}

		if err := a.Index.Add(ctx, batch); err != nil {
			return nil, err
		}
		indexed += len(batch)

		if end < len(all) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	if err := a.Index.Save(); err != nil {
		return nil, err
	}
	a.logger().Info("chunks_indexed",
		slog.String("codebase_id", input.CodebaseID),
		slog.Int("chunks", indexed))
	a.Metrics.AddChunksIndexed(indexed)
	return IndexResult{ChunksIndexed: indexed}, nil
}

// UpdateCodebaseStatus mirrors a stage transition into the codebase row.
func (a *Activities) UpdateCodebaseStatus(ctx context.Context, raw json.RawMessage) (any, error) {
	var input StatusUpdateInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}

	update := store.StatusUpdate{
		TotalFiles:      input.TotalFiles,
		ProcessedFiles:  input.ProcessedFiles,
		ChunksCreated:   input.ChunksCreated,
		SecretsDetected: input.SecretsDetected,
		Languages:       input.Languages,
	}
	if input.Status != "" {
		status := store.Status(input.Status)
		update.Status = &status
	}
	if input.PrimaryLanguage != "" {
		update.PrimaryLanguage = &input.PrimaryLanguage
	}
	if input.ErrorMessage != "" {
		update.ErrorMessage = &input.ErrorMessage
	}
	if err := a.Codebases.UpdateStatus(ctx, input.CodebaseID, update); err != nil {
		return nil, err
	}
	// Journal replay skips completed activities, so each terminal
	// transition counts at most once per run.
	switch store.Status(input.Status) {
	case store.StatusCompleted, store.StatusFailed:
		a.Metrics.CountIngestRun(input.Status)
	}
	return nil, nil
}

// SweepSessions runs the idempotent session-index cleanup.
func (a *Activities) SweepSessions(ctx context.Context, _ json.RawMessage) (any, error) {
	removed, err := a.Sessions.Cleanup(ctx)
	if err != nil {
		return nil, err
	}
	a.Metrics.AddSessionsSwept(removed)
	return SweepResult{Removed: removed}, nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
