package server

import (
	"encoding/json"
	"net/http"

	"github.com/askrepo/askrepo/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps service-layer error codes onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch errors.GetCode(err) {
	case errors.ErrCodeNotFound:
		writeError(w, http.StatusNotFound, "not found")
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidURL, errors.ErrCodeArchiveInvalid:
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.ErrCodeFileTooLarge:
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
