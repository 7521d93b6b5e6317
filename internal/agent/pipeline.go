package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/askrepo/askrepo/internal/embed"
	"github.com/askrepo/askrepo/internal/errors"
	"github.com/askrepo/askrepo/internal/llm"
	"github.com/askrepo/askrepo/internal/metrics"
	"github.com/askrepo/askrepo/internal/session"
	"github.com/askrepo/askrepo/internal/vector"
)

// Defaults for pipeline tuning knobs.
const (
	DefaultTopK            = 5
	DefaultHistoryLimit    = 20
	DefaultMaxContextChars = 50000
	promptHistoryLimit     = 5
	snippetMaxChars        = 200
)

// Config tunes the pipeline.
type Config struct {
	// TopK is how many chunks retrieval asks for.
	TopK int
	// HistoryLimit caps how many prior messages analyze loads.
	HistoryLimit int
	// MaxContextChars caps the context embedded in the system prompt.
	MaxContextChars int

	// Metrics is optional; provider call counters are skipped when nil.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Request is one question against one codebase.
type Request struct {
	CodebaseID string
	Query      string
	SessionID  string
}

// Pipeline wires the five nodes over shared services. Safe for concurrent
// use; each Run gets its own state.
type Pipeline struct {
	embedder embed.Embedder
	index    *vector.Index
	provider llm.Provider
	sessions *session.Store

	topK            int
	historyLimit    int
	maxContextChars int
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

// New creates a pipeline over the given services.
func New(embedder embed.Embedder, index *vector.Index, provider llm.Provider, sessions *session.Store, cfg Config) *Pipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = DefaultMaxContextChars
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		embedder:        embedder,
		index:           index,
		provider:        provider,
		sessions:        sessions,
		topK:            cfg.TopK,
		historyLimit:    cfg.HistoryLimit,
		maxContextChars: cfg.MaxContextChars,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
	}
}

// Run executes the pipeline. onDelta, when non-nil, receives each response
// fragment as the LLM streams it. On failure the returned error is always a
// *PipelineError carrying a sanitized user-facing message; the partially
// filled state comes back either way.
func (p *Pipeline) Run(ctx context.Context, req Request, onDelta func(string)) (*State, error) {
	state := &State{
		CodebaseID: req.CodebaseID,
		Query:      req.Query,
		SessionID:  req.SessionID,
		Step:       StepStart,
	}

	if strings.TrimSpace(req.Query) == "" {
		return state, p.fail(state, errors.ValidationError("query is empty", nil))
	}
	if req.CodebaseID == "" {
		return state, p.fail(state, errors.ValidationError("codebase id is required", nil))
	}

	if err := p.analyze(ctx, state); err != nil {
		return state, p.fail(state, err)
	}
	if err := p.retrieve(ctx, state); err != nil {
		return state, p.fail(state, err)
	}
	p.buildContext(state)
	if err := p.generate(ctx, state, onDelta); err != nil {
		return state, p.fail(state, err)
	}
	p.validate(state)

	return state, nil
}

func (p *Pipeline) fail(state *State, err error) *PipelineError {
	perr := Categorize(err, state.Step)
	p.logger.Error("pipeline_failed",
		slog.String("step", state.Step),
		slog.String("category", perr.Category),
		slog.String("error", err.Error()))
	state.Step = StepError
	return perr
}
