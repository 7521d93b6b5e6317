package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/askrepo/askrepo/internal/agent"
	"github.com/askrepo/askrepo/internal/session"
)

type chatRequest struct {
	CodebaseID string `json:"codebase_id"`
	Query      string `json:"query"`
	SessionID  string `json:"session_id,omitempty"`
	Stream     *bool  `json:"stream,omitempty"`
}

// handleChat runs the query pipeline. The default response is an SSE
// stream; stream=false returns one JSON document instead.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CodebaseID == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "codebase_id and query are required")
		return
	}

	allowed, retryAfter, err := s.limiter.allow(ctx, clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rate limiter unavailable")
		return
	}
	if !allowed {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RateLimited.Inc()
		}
		seconds := int(retryAfter/time.Second) + 1
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       "rate limit exceeded",
			"retry_after": seconds,
		})
		return
	}

	if _, err := s.deps.Codebases.Get(ctx, req.CodebaseID); err != nil {
		writeStoreError(w, err)
		return
	}
	sess, err := s.deps.Sessions.GetOrCreate(ctx, req.CodebaseID, req.SessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// The concurrency gate blocks until a pipeline slot frees.
	if err := s.querySem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.querySem.Release(1)

	if s.deps.Metrics != nil {
		s.deps.Metrics.QueriesInFlight.Inc()
		defer s.deps.Metrics.QueriesInFlight.Dec()
	}
	start := time.Now()

	pipelineReq := agent.Request{
		CodebaseID: req.CodebaseID,
		Query:      req.Query,
		SessionID:  sess.ID,
	}

	if req.Stream != nil && !*req.Stream {
		s.chatJSON(w, r, pipelineReq, start)
		return
	}
	s.chatSSE(w, r, pipelineReq, start)
}

func (s *Server) chatSSE(w http.ResponseWriter, r *http.Request, req agent.Request, start time.Time) {
	stream, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	stream.send(sseEvent{Type: "session_id", SessionID: req.SessionID})

	state, runErr := s.deps.Pipeline.Run(r.Context(), req, func(delta string) {
		stream.send(sseEvent{Type: "chunk", Content: delta})
	})
	s.observeQuery(start, runErr)

	if runErr != nil {
		stream.send(errorEvent(runErr))
		return
	}

	stream.send(sseEvent{Type: "sources", Sources: state.Sources})
	stream.send(sseEvent{Type: "validation", Validation: state.Validation})
	s.persistTurn(r, req, state)
	stream.send(sseEvent{Type: "done"})
}

func (s *Server) chatJSON(w http.ResponseWriter, r *http.Request, req agent.Request, start time.Time) {
	state, runErr := s.deps.Pipeline.Run(r.Context(), req, nil)
	s.observeQuery(start, runErr)

	if runErr != nil {
		perr := asPipelineError(runErr)
		status := http.StatusInternalServerError
		switch perr.Category {
		case agent.CategoryUserInput:
			status = http.StatusBadRequest
		case agent.CategoryRateLimit:
			status = http.StatusTooManyRequests
		case agent.CategoryRetrieval, agent.CategoryLLMService, agent.CategoryNetwork:
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"error":               perr.Message,
			"error_type":          perr.Category,
			"recovery_suggestion": perr.Suggestion,
		})
		return
	}

	s.persistTurn(r, req, state)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": req.SessionID,
		"response":   state.Response,
		"sources":    state.Sources,
		"validation": state.Validation,
	})
}

func (s *Server) observeQuery(start time.Time, runErr error) {
	if s.deps.Metrics == nil {
		return
	}
	s.deps.Metrics.QueryDuration.Observe(time.Since(start).Seconds())
	if runErr != nil {
		s.deps.Metrics.QueryErrors.WithLabelValues(asPipelineError(runErr).Category).Inc()
	}
}

// persistTurn appends the user/assistant exchange to the session after a
// successful pipeline run.
func (s *Server) persistTurn(r *http.Request, req agent.Request, state *agent.State) {
	chunkIDs := make([]string, 0, len(state.Chunks))
	for _, c := range state.Chunks {
		chunkIDs = append(chunkIDs, c.ID)
	}
	err := s.deps.Sessions.SaveTurn(r.Context(), req.SessionID,
		session.Message{Role: session.RoleUser, Content: req.Query},
		session.Message{
			Role:      session.RoleAssistant,
			Content:   state.Response,
			Citations: state.Sources,
			ChunkIDs:  chunkIDs,
		})
	if err != nil {
		s.logger.Warn("turn_persist_failed",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()))
	}
	if s.deps.Metrics != nil && state.Validation != nil {
		s.deps.Metrics.QualityScore.Observe(state.Validation.OverallQualityScore)
	}
}

func asPipelineError(err error) *agent.PipelineError {
	if perr, ok := err.(*agent.PipelineError); ok {
		return perr
	}
	return &agent.PipelineError{
		Category: agent.CategoryUnknown,
		Message:  "An unexpected error occurred. Please try again.",
		Err:      err,
	}
}
