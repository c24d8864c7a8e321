// Package session binds an authenticated participant to their progress
// store and unlock controller.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storypath/engine/internal/progress"
	"github.com/storypath/engine/internal/storypath"
	"github.com/storypath/engine/internal/unlock"
)

var (
	ErrNoSession     = errors.New("no valid session")
	ErrEmptyUsername = errors.New("username is required")
)

// Remote is everything a session reads from and writes to the store.
type Remote interface {
	storypath.Catalog
	storypath.TrackingLog
	storypath.ParticipantCounter
}

type Session struct {
	Token      string
	Username   string
	CreatedAt  time.Time
	Store      *progress.Store
	Controller *unlock.Controller

	logger  *slog.Logger
	counter storypath.ParticipantCounter
}

// Enter switches the session to projectID. Progress from a previous
// project is discarded once the new project has loaded; a failed switch
// keeps it.
func (s *Session) Enter(ctx context.Context, projectID int64, perms unlock.Permissions) error {
	return s.Controller.Enter(ctx, projectID, perms)
}

// Overview builds the home view of the active project.
func (s *Session) Overview(ctx context.Context) (progress.Overview, error) {
	project, locations, err := s.Controller.Project()
	if err != nil {
		return progress.Overview{}, err
	}
	return progress.BuildOverview(ctx, s.logger, s.counter, project, locations, s.Store.Snapshot()), nil
}

type Manager struct {
	logger *slog.Logger
	remote Remote
	opts   unlock.Options

	mu       sync.RWMutex
	sessions map[string]*Session
	onChange func(token string, snap progress.Snapshot)
}

func NewManager(logger *slog.Logger, remote Remote, opts unlock.Options) *Manager {
	return &Manager{
		logger:   logger,
		remote:   remote,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// OnChange registers a listener for progress changes of every session
// created afterwards.
func (m *Manager) OnChange(fn func(token string, snap progress.Snapshot)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Login opens a session for username. Any number of sessions may share
// a username.
func (m *Manager) Login(username string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}

	token := uuid.NewString()
	store := progress.NewStore()
	logger := m.logger.With("participant", username)
	sess := &Session{
		Token:      token,
		Username:   username,
		CreatedAt:  time.Now(),
		Store:      store,
		Controller: unlock.New(logger, m.remote, m.remote, store, username, m.opts),
		logger:     logger,
		counter:    m.remote,
	}

	m.mu.Lock()
	if fn := m.onChange; fn != nil {
		store.OnChange(func(snap progress.Snapshot) { fn(token, snap) })
	}
	m.sessions[token] = sess
	m.mu.Unlock()

	m.logger.Info("session opened", "participant", username)
	return sess, nil
}

func (m *Manager) Get(token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[token]
	if !ok {
		return nil, ErrNoSession
	}
	return sess, nil
}

// Logout ends the session: observation stops, progress is cleared and
// later calls on the controller fail with storypath.ErrSessionEnded.
func (m *Manager) Logout(token string) error {
	m.mu.Lock()
	sess, ok := m.sessions[token]
	delete(m.sessions, token)
	m.mu.Unlock()

	if !ok {
		return ErrNoSession
	}
	sess.Controller.End()
	m.logger.Info("session closed", "participant", sess.Username)
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close ends every open session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Controller.End()
	}
	if n := len(sessions); n > 0 {
		m.logger.Info("closed sessions", "count", n)
	}
}
