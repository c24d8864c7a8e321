package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/storypath/engine/internal/geofence"
	"github.com/storypath/engine/internal/session"
)

// StreamMessage is an inbound websocket message.
type StreamMessage struct {
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Payload   string  `json:"payload,omitempty"`
}

const streamIdle = 30 * time.Minute

// handleStream upgrades to a websocket that accepts position, scan, ack
// and refresh messages and pushes the session's events back.
func handleStream(logger *slog.Logger, sessions *session.Manager, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := sessionFromQuery(sessions, r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "valid token query parameter required")
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithTimeout(r.Context(), streamIdle)
		defer cancel()

		sub := broker.Subscribe(sess.Token)
		defer broker.Unsubscribe(sess.Token, sub)

		replies := make(chan Event, 4)
		readDone := make(chan error, 1)
		go func() {
			readDone <- readStream(ctx, conn, sess, replies)
		}()

		if err := wsjson.Write(ctx, conn, progressEvent(sess.Store.Snapshot())); err != nil {
			logger.Debug("websocket write failed", "error", err)
			return
		}

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusGoingAway, "idle")
				return
			case err := <-readDone:
				if err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
					logger.Debug("websocket read ended", "error", err)
				}
				return
			case ev := <-replies:
				if err := wsjson.Write(ctx, conn, ev); err != nil {
					logger.Debug("websocket write failed", "error", err)
					return
				}
			case data := <-sub:
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					logger.Debug("websocket write failed", "error", err)
					return
				}
				var ev Event
				if json.Unmarshal(data, &ev) == nil && ev.Type == EventClosed {
					conn.Close(websocket.StatusNormalClosure, "session closed")
					return
				}
			}
		}
	}
}

// readStream applies inbound messages to the session until the
// connection fails. Each message gets one reply on this connection;
// progress changes arrive separately through the broker.
func readStream(ctx context.Context, conn *websocket.Conn, sess *session.Session, replies chan<- Event) error {
	for {
		var msg StreamMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}

		reply := applyStreamMessage(ctx, sess, msg)
		select {
		case replies <- reply:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func applyStreamMessage(ctx context.Context, sess *session.Session, msg StreamMessage) Event {
	switch msg.Type {
	case "position":
		out, err := sess.Controller.HandlePosition(ctx, geofence.Coord{Lat: msg.Latitude, Lng: msg.Longitude})
		if err != nil {
			return errorEvent(err)
		}
		return outcomeEvent(out)
	case "scan":
		out, err := sess.Controller.HandleScan(ctx, msg.Payload)
		if err != nil {
			return errorEvent(err)
		}
		return outcomeEvent(out)
	case "ack":
		if err := sess.Controller.Acknowledge(); err != nil {
			return errorEvent(err)
		}
		return statusEvent(sess.Controller.Status())
	case "refresh":
		if err := sess.Store.Refresh(ctx); err != nil {
			return errorEvent(err)
		}
		return statusEvent(sess.Controller.Status())
	}
	return Event{Type: EventError, Error: "unknown message type " + msg.Type}
}
