package server

import (
	"errors"
	"net/http"

	"github.com/storypath/engine/internal/session"
)

type LoginRequest struct {
	Username string `json:"username"`
}

type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

func handleLogin(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sess, err := sessions.Login(req.Username)
		if errors.Is(err, session.ErrEmptyUsername) {
			writeError(w, http.StatusBadRequest, "username is required")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusCreated, LoginResponse{Token: sess.Token, Username: sess.Username})
	}
}

func handleLogout(sessions *session.Manager, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		if err := sessions.Logout(sess.Token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid session token")
			return
		}
		broker.Publish(sess.Token, Event{Type: EventClosed})
		w.WriteHeader(http.StatusNoContent)
	}
}
