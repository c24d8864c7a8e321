package server

import (
	"encoding/json"
	"sync"

	"github.com/storypath/engine/internal/progress"
	"github.com/storypath/engine/internal/unlock"
)

// Event is the payload pushed to a session's subscribers.
type Event struct {
	Type      string             `json:"type"`
	Progress  *progress.Snapshot `json:"progress,omitempty"`
	Outcome   *unlock.Outcome    `json:"outcome,omitempty"`
	Status    *unlock.Status     `json:"status,omitempty"`
	Error     string             `json:"error,omitempty"`
	Retryable bool               `json:"retryable,omitempty"`
}

const (
	EventProgress = "progress"
	EventOutcome  = "outcome"
	EventStatus   = "status"
	EventError    = "error"
	EventClosed   = "closed"
)

func progressEvent(snap progress.Snapshot) Event {
	return Event{Type: EventProgress, Progress: &snap}
}

func outcomeEvent(out unlock.Outcome) Event {
	return Event{Type: EventOutcome, Outcome: &out}
}

func statusEvent(st unlock.Status) Event {
	return Event{Type: EventStatus, Status: &st}
}

func errorEvent(err error) Event {
	_, retryable := statusFor(err)
	return Event{Type: EventError, Error: err.Error(), Retryable: retryable}
}

// Broker is an in-process pub/sub for session events, keyed by session
// token.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel that receives JSON-encoded events for the
// session.
func (b *Broker) Subscribe(token string) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[token] == nil {
		b.subs[token] = make(map[chan []byte]struct{})
	}
	b.subs[token][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(token string, ch chan []byte) {
	b.mu.Lock()
	delete(b.subs[token], ch)
	if len(b.subs[token]) == 0 {
		delete(b.subs, token)
	}
	b.mu.Unlock()
}

// Publish sends an event to every subscriber of the session.
func (b *Broker) Publish(token string, event Event) {
	data, _ := json.Marshal(event)
	b.mu.RLock()
	for ch := range b.subs[token] {
		select {
		case ch <- data:
		default:
			// Drop if subscriber is slow.
		}
	}
	b.mu.RUnlock()
}

// Subscribers reports how many streams are open for the session.
func (b *Broker) Subscribers(token string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[token])
}
