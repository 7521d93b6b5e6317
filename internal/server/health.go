package server

import (
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady reports whether the backing stores answer.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	if err := s.deps.Codebases.Health(ctx); err != nil {
		checks["database"] = err.Error()
		ready = false
	} else {
		checks["database"] = "ok"
	}
	if err := s.deps.Index.Health(ctx); err != nil {
		checks["vector_index"] = err.Error()
		ready = false
	} else {
		checks["vector_index"] = "ok"
	}
	if _, err := s.deps.KV.Exists(ctx, "ready-probe"); err != nil {
		checks["kv_store"] = err.Error()
		ready = false
	} else {
		checks["kv_store"] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}
