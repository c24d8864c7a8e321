package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/storypath/engine/internal/progress"
	"github.com/storypath/engine/internal/storypath"
	"github.com/storypath/engine/internal/unlock"
)

type ProgressResponse struct {
	Status   unlock.Status      `json:"status"`
	Overview *progress.Overview `json:"overview"`
}

func handleProgress(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		resp := ProgressResponse{Status: sess.Controller.Status()}

		ov, err := sess.Overview(r.Context())
		switch {
		case errors.Is(err, storypath.ErrNotTracking):
		case err != nil:
			writeFailure(w, logger, err)
			return
		default:
			resp.Overview = &ov
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleRefresh re-pulls the tracking log through the session's progress
// store.
func handleRefresh(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		if err := sess.Store.Refresh(r.Context()); err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.Store.Snapshot())
	}
}
