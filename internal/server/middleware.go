package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/storypath/engine/internal/session"
)

type ctxKey int

const ctxKeySession ctxKey = iota

// sessionMiddleware resolves the bearer token to an open session.
func sessionMiddleware(sessions *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found || token == "" {
				writeError(w, http.StatusUnauthorized, "bearer token required")
				return
			}

			sess, err := sessions.Get(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid session token")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeySession, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionFrom(r *http.Request) *session.Session {
	return r.Context().Value(ctxKeySession).(*session.Session)
}

// sessionFromQuery resolves the token query parameter used by streaming
// endpoints, where browsers cannot set headers.
func sessionFromQuery(sessions *session.Manager, r *http.Request) (*session.Session, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return nil, false
	}
	sess, err := sessions.Get(token)
	if err != nil {
		return nil, false
	}
	return sess, true
}
