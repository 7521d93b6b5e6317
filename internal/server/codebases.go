package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/askrepo/askrepo/internal/ingest"
	"github.com/askrepo/askrepo/internal/store"
	"github.com/askrepo/askrepo/internal/workflow"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100

	// uploadFormSlack is headroom over the file-size limit for multipart
	// boundaries and the other form fields, so a file exactly at the
	// limit still fits in the request body.
	uploadFormSlack = 1 << 20
)

var errUploadTooLarge = errors.New("upload exceeds size limit")

// handleUpload starts ingestion from an uploaded archive or a repository
// URL. Exactly one source must be given.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	maxBytes := s.cfg.Storage.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 100 * 1024 * 1024
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+uploadFormSlack)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	repoURL := strings.TrimSpace(r.FormValue("repository_url"))
	file, header, fileErr := r.FormFile("file")
	hasFile := fileErr == nil
	if hasFile {
		defer file.Close()
	}

	if hasFile == (repoURL != "") {
		writeError(w, http.StatusBadRequest, "provide exactly one of file or repository_url")
		return
	}

	cb := &store.Codebase{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(r.FormValue("description")),
		Status:      store.StatusQueued,
	}
	input := ingest.Input{CodebaseID: cb.ID}

	if hasFile {
		if !strings.EqualFold(filepath.Ext(header.Filename), ".zip") {
			writeError(w, http.StatusBadRequest, "only .zip archives are supported")
			return
		}
		blobPath, size, err := s.saveBlob(cb.ID, file, maxBytes)
		if err != nil {
			if errors.Is(err, errUploadTooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
				return
			}
			s.logger.Error("blob_write_failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to store upload")
			return
		}
		cb.SourceType = "archive"
		cb.SizeBytes = size
		cb.StoragePath = blobPath
		input.SourceType = "archive"
		input.ArchivePath = blobPath
	} else {
		cb.SourceType = "remote_url"
		cb.SourceURL = repoURL
		input.SourceType = "remote_url"
		input.RepoURL = repoURL
	}

	runID := ingest.RunID(cb.ID)
	cb.WorkflowID = runID
	if err := s.deps.Codebases.Create(ctx, cb); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.deps.Engine.Start(ctx, ingest.WorkflowIngest, runID, input); err != nil {
		s.logger.Error("workflow_start_failed",
			slog.String("codebase_id", cb.ID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to start ingestion")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"codebase_id": cb.ID,
		"status":      string(store.StatusQueued),
		"workflow_id": runID,
	})
}

// saveBlob streams the upload to the blob directory. The size limit binds
// the file part alone, inclusive, so multipart framing never eats into it.
func (s *Server) saveBlob(codebaseID string, src io.Reader, limit int64) (string, int64, error) {
	if err := os.MkdirAll(s.cfg.Storage.BlobDir, 0o755); err != nil {
		return "", 0, err
	}
	path := filepath.Join(s.cfg.Storage.BlobDir, codebaseID+".zip")
	dst, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	size, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && size > limit {
		err = errUploadTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, err
	}
	return path, size, nil
}

func (s *Server) handleListCodebases(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	codebases, total, err := s.deps.Codebases.List(r.Context(), page, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"codebases": codebases,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

func (s *Server) handleGetCodebase(w http.ResponseWriter, r *http.Request) {
	cb, err := s.deps.Codebases.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cb)
}

// handleCodebaseStatus merges the codebase row with the live workflow
// status record.
func (s *Server) handleCodebaseStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	cb, err := s.deps.Codebases.Get(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	body := map[string]any{
		"codebase_id":     cb.ID,
		"status":          cb.Status,
		"step":            "queued",
		"progress":        0.0,
		"files_processed": cb.ProcessedFiles,
		"files_total":     cb.TotalFiles,
		"chunks_created":  cb.ChunksCreated,
		"secrets_found":   cb.SecretsDetected,
	}
	if cb.ErrorMessage != "" {
		body["error"] = cb.ErrorMessage
	}

	var status ingest.Status
	ok, err := s.deps.Engine.GetState(ctx, ingest.RunID(id), &status)
	if err != nil && !errors.Is(err, workflow.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to read workflow status")
		return
	}
	if ok {
		body["step"] = status.Step
		body["progress"] = status.Progress
		body["files_processed"] = status.FilesProcessed
		body["files_total"] = status.FilesTotal
		body["chunks_created"] = status.ChunksCreated
		body["secrets_found"] = status.SecretsFound
		if status.Message != "" {
			body["message"] = status.Message
		}
		if status.Error != "" {
			body["error"] = status.Error
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleDeleteCodebase removes the codebase plus every derived artifact:
// indexed chunks, sessions, the stored blob, and any running workflow.
func (s *Server) handleDeleteCodebase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	cb, err := s.deps.Codebases.Get(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if err := s.deps.Engine.Cancel(ctx, ingest.RunID(id)); err != nil && !errors.Is(err, workflow.ErrNotFound) {
		s.logger.Warn("workflow_cancel_failed",
			slog.String("codebase_id", id),
			slog.String("error", err.Error()))
	}

	chunks, err := s.deps.Index.DeleteByCodebase(ctx, id)
	if err != nil {
		s.logger.Error("chunk_delete_failed",
			slog.String("codebase_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to delete indexed chunks")
		return
	}
	sessions, err := s.deps.Sessions.DeleteByCodebase(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete sessions")
		return
	}
	if cb.StoragePath != "" {
		if err := os.Remove(cb.StoragePath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("blob_delete_failed",
				slog.String("path", cb.StoragePath),
				slog.String("error", err.Error()))
		}
	}
	if err := s.deps.Codebases.Delete(ctx, id); err != nil {
		writeStoreError(w, err)
		return
	}

	s.logger.Info("codebase_deleted",
		slog.String("codebase_id", id),
		slog.Int("chunks_removed", chunks),
		slog.Int("sessions_removed", sessions))
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
