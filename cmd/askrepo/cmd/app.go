package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/askrepo/askrepo/internal/acquire"
	"github.com/askrepo/askrepo/internal/agent"
	"github.com/askrepo/askrepo/internal/chunk"
	"github.com/askrepo/askrepo/internal/config"
	"github.com/askrepo/askrepo/internal/embed"
	"github.com/askrepo/askrepo/internal/ingest"
	"github.com/askrepo/askrepo/internal/kvstore"
	"github.com/askrepo/askrepo/internal/llm"
	"github.com/askrepo/askrepo/internal/logging"
	"github.com/askrepo/askrepo/internal/metrics"
	"github.com/askrepo/askrepo/internal/session"
	"github.com/askrepo/askrepo/internal/store"
	"github.com/askrepo/askrepo/internal/vector"
	"github.com/askrepo/askrepo/internal/workflow"
)

// app holds the wired service graph shared by the serve, worker, and mcp
// commands. Close releases resources in reverse construction order.
type app struct {
	cfg *config.Config
	log *slog.Logger

	codebases *store.CodebaseStore
	kv        *kvstore.Store
	sessions  *session.Store
	index     *vector.Index
	engine    *workflow.Engine

	embedder embed.Embedder
	provider llm.Provider
	pipeline *agent.Pipeline
	metrics  *metrics.Metrics

	closers []func() error
}

// loadConfig loads configuration honoring --config and --debug.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// setupLogging initializes file logging for a named process. The API
// server, ingestion worker, and MCP server each write their own file.
func setupLogging(cfg *config.Config, process string, stderr bool) (*slog.Logger, func(), error) {
	logPath := cfg.Logging.FilePath
	if logPath == "" {
		logPath = logging.ProcessLogPath(process)
	}
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      logPath,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: stderr && cfg.Logging.Stderr,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

// buildApp opens every store and constructs the query pipeline.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger, metrics: metrics.New()}

	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.BlobDir, cfg.Vector.Dir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	codebases, err := store.NewCodebaseStore(cfg.Database.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open codebase store: %w", err)
	}
	a.codebases = codebases
	a.closers = append(a.closers, codebases.Close)

	kv, err := kvstore.New(cfg.KV.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open kv store: %w", err)
	}
	a.kv = kv
	a.closers = append(a.closers, kv.Close)

	a.sessions = session.NewStore(kv, sessionRetention(cfg), logger)

	index, err := vector.New(vector.Config{
		Path:       cfg.Vector.Dir,
		Dimensions: cfg.Vector.Dimensions,
		MaxTopK:    cfg.Agent.MaxTopK,
		Logger:     logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	a.index = index
	a.closers = append(a.closers, index.Close)

	engine, err := workflow.NewEngine(cfg.WorkflowDBPath(), logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open workflow engine: %w", err)
	}
	a.engine = engine
	a.closers = append(a.closers, engine.Close)

	embedder, err := embed.New(embed.Config{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		Endpoint:   cfg.Embedding.Endpoint,
		Dimensions: cfg.Vector.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
		Timeout:    parseDurationOr(cfg.Embedding.Timeout, embed.DefaultTimeout),
		CacheSize:  cfg.Embedding.CacheSize,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build embedder: %w", err)
	}
	a.embedder = embedder
	a.closers = append(a.closers, embedder.Close)

	provider, err := llm.New(llm.Config{
		Provider:    cfg.LLM.Provider,
		BaseURL:     cfg.LLM.Endpoint,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     parseDurationOr(cfg.LLM.Timeout, llm.DefaultTimeout),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build llm provider: %w", err)
	}
	a.provider = provider

	a.pipeline = agent.New(embedder, index, provider, a.sessions, agent.Config{
		TopK:            cfg.Agent.DefaultTopK,
		HistoryLimit:    cfg.Agent.HistoryLimit,
		MaxContextChars: cfg.LLM.MaxContextChars,
		Metrics:         a.metrics,
		Logger:          logger,
	})

	return a, nil
}

// registerIngest wires the ingestion activities into the workflow engine
// so this process can execute ingest and session-sweep runs.
func (a *app) registerIngest() {
	chunker := chunk.NewChunker(a.cfg.Ingest.ChunkMaxTokens)
	a.closers = append(a.closers, func() error { chunker.Close(); return nil })

	acts := &ingest.Activities{
		Acquirer:        acquire.New(a.cfg.Storage.MaxUploadBytes, a.log),
		Chunker:         chunker,
		Embedder:        a.embedder,
		Index:           a.index,
		Codebases:       a.codebases,
		Sessions:        a.sessions,
		StagingRoot:     filepath.Join(a.cfg.Storage.DataDir, "staging"),
		Workers:         a.cfg.Ingest.Workers,
		EmbedBatchSize:  a.cfg.Ingest.EmbedBatchSize,
		EmbedBatchDelay: parseDurationOr(a.cfg.Ingest.EmbedBatchDelay, ingest.DefaultEmbedBatchDelay),
		SecretDetection: a.cfg.Ingest.SecretDetection,
		Metrics:         a.metrics,
		Logger:          a.log,
	}
	ingest.Register(a.engine, acts, parseDurationOr(a.cfg.Sessions.CleanupInterval, 24*time.Hour))
}

// Close releases resources in reverse construction order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close_failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

func sessionRetention(cfg *config.Config) time.Duration {
	if cfg.Sessions.RetentionDays < 1 {
		return session.DefaultRetention
	}
	return time.Duration(cfg.Sessions.RetentionDays) * 24 * time.Hour
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
