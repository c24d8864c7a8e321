package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/storypath/engine/internal/session"
)

func handleEvents(sessions *session.Manager, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := sessionFromQuery(sessions, r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "valid token query parameter required")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		ch := broker.Subscribe(sess.Token)
		defer broker.Unsubscribe(sess.Token, ch)

		// Current state first, so a late subscriber does not wait for the
		// next change.
		initial, _ := json.Marshal(progressEvent(sess.Store.Snapshot()))
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", EventProgress, initial)
		flusher.Flush()

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case data := <-ch:
				var ev struct {
					Type string `json:"type"`
				}
				_ = json.Unmarshal(data, &ev)
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
				flusher.Flush()
				if ev.Type == EventClosed {
					return
				}
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
