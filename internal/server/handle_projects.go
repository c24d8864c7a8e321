package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/storypath/engine/internal/storypath"
	"github.com/storypath/engine/internal/unlock"
)

// EnterRequest carries the device grants. Omitted fields default to
// granted.
type EnterRequest struct {
	Location *bool `json:"location,omitempty"`
	Camera   *bool `json:"camera,omitempty"`
}

func (req EnterRequest) permissions() unlock.Permissions {
	perms := unlock.Permissions{Location: true, Camera: true}
	if req.Location != nil {
		perms.Location = *req.Location
	}
	if req.Camera != nil {
		perms.Camera = *req.Camera
	}
	return perms
}

func handleListProjects(logger *slog.Logger, catalog storypath.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := catalog.PublishedProjects(r.Context())
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		if projects == nil {
			projects = []storypath.Project{}
		}
		writeJSON(w, http.StatusOK, projects)
	}
}

func handleEnter(logger *slog.Logger, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid project id")
			return
		}

		var req EnterRequest
		if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sess := sessionFrom(r)
		if err := sess.Enter(r.Context(), id, req.permissions()); err != nil {
			writeFailure(w, logger, err)
			return
		}

		st := sess.Controller.Status()
		broker.Publish(sess.Token, statusEvent(st))
		writeJSON(w, http.StatusOK, st)
	}
}

func handleLeave() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		sess.Controller.Leave()
		writeJSON(w, http.StatusOK, sess.Controller.Status())
	}
}
