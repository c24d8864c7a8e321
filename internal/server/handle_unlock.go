package server

import (
	"log/slog"
	"net/http"

	"github.com/storypath/engine/internal/geofence"
	"github.com/storypath/engine/internal/session"
	"github.com/storypath/engine/internal/unlock"
)

type PositionRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type ScanRequest struct {
	Payload string `json:"payload"`
}

type OutcomeResponse struct {
	Outcome unlock.Outcome `json:"outcome"`
	Points  int            `json:"points"`
}

func respondOutcome(w http.ResponseWriter, broker *Broker, sess *session.Session, out unlock.Outcome) {
	if out.Kind != unlock.Ignored && out.Kind != unlock.NoMatch {
		broker.Publish(sess.Token, outcomeEvent(out))
	}
	writeJSON(w, http.StatusOK, OutcomeResponse{Outcome: out, Points: sess.Store.Points()})
}

func handlePosition(logger *slog.Logger, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PositionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sess := sessionFrom(r)
		out, err := sess.Controller.HandlePosition(r.Context(), geofence.Coord{Lat: req.Latitude, Lng: req.Longitude})
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		respondOutcome(w, broker, sess, out)
	}
}

func handleScan(logger *slog.Logger, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScanRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sess := sessionFrom(r)
		out, err := sess.Controller.HandleScan(r.Context(), req.Payload)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		respondOutcome(w, broker, sess, out)
	}
}

// handleAcknowledge dismisses the last scan result and re-arms capture.
func handleAcknowledge() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		if err := sess.Controller.Acknowledge(); err != nil {
			status, _ := statusFor(err)
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sess.Controller.Status())
	}
}
