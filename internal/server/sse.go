package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/askrepo/askrepo/internal/agent"
	"github.com/askrepo/askrepo/internal/session"
)

// sseEvent is the wire shape of one server-sent event. Type is always set;
// the payload fields depend on it.
type sseEvent struct {
	Type               string             `json:"type"`
	SessionID          string             `json:"session_id,omitempty"`
	Content            string             `json:"content,omitempty"`
	Sources            []session.Citation `json:"sources,omitempty"`
	Validation         *agent.Validation  `json:"validation,omitempty"`
	Error              string             `json:"error,omitempty"`
	ErrorType          string             `json:"error_type,omitempty"`
	RecoverySuggestion string             `json:"recovery_suggestion,omitempty"`
}

func errorEvent(err error) sseEvent {
	perr := asPipelineError(err)
	return sseEvent{
		Type:               "error",
		Error:              perr.Message,
		ErrorType:          perr.Category,
		RecoverySuggestion: perr.Suggestion,
	}
}

// sseWriter emits events as data-only SSE frames, flushing after each.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) send(event sseEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flusher.Flush()
}
