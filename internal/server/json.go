package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/storypath/engine/internal/session"
	"github.com/storypath/engine/internal/storypath"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeFailure maps err to its status and logs unexpected failures.
func writeFailure(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, retryable := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Retryable: retryable})
}

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) (status int, retryable bool) {
	switch {
	case errors.Is(err, storypath.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable, true
	case errors.Is(err, storypath.ErrMalformedPayload),
		errors.Is(err, storypath.ErrInvalidCoordinate),
		errors.Is(err, session.ErrEmptyUsername):
		return http.StatusBadRequest, false
	case errors.Is(err, storypath.ErrWrongProject),
		errors.Is(err, storypath.ErrUnknownLocation),
		errors.Is(err, storypath.ErrNotScannable):
		return http.StatusUnprocessableEntity, false
	case errors.Is(err, storypath.ErrAlreadyVisited),
		errors.Is(err, storypath.ErrCaptureDisarmed),
		errors.Is(err, storypath.ErrNotTracking),
		errors.Is(err, storypath.ErrDuplicateEvent):
		return http.StatusConflict, false
	case errors.Is(err, storypath.ErrPermissionDenied):
		return http.StatusForbidden, false
	case errors.Is(err, storypath.ErrSessionEnded),
		errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized, false
	case errors.Is(err, storypath.ErrNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, storypath.ErrRejected):
		return http.StatusBadGateway, false
	}
	return http.StatusInternalServerError, false
}
