package progress

import (
	"context"
	"sync"

	"github.com/storypath/engine/internal/storypath"
)

// Store is the session-scoped progress state shared with presentation
// layers. Only the unlock controller writes to it.
type Store struct {
	mu       sync.RWMutex
	snap     Snapshot
	refresh  func(context.Context) error
	onChange func(Snapshot)
}

func NewStore() *Store {
	return &Store{snap: emptySnapshot()}
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Summary:   Summarize(nil),
		Locations: []storypath.Location{},
	}
}

// Snapshot returns a copy that callers may keep.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

func (s *Store) HasVisited(locationID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.HasVisited(locationID)
}

func (s *Store) Points() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Points
}

// Replace installs a freshly aggregated snapshot.
func (s *Store) Replace(snap Snapshot) {
	s.mu.Lock()
	s.snap = snap.Clone()
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(snap.Clone())
	}
}

// Reset clears all progress and the refresh hook. Used when the participant
// switches project or logs out.
func (s *Store) Reset() {
	s.mu.Lock()
	s.snap = emptySnapshot()
	s.refresh = nil
	fn := s.onChange
	empty := s.snap.Clone()
	s.mu.Unlock()

	if fn != nil {
		fn(empty)
	}
}

// SetRefresh registers the function that re-pulls project data.
func (s *Store) SetRefresh(fn func(context.Context) error) {
	s.mu.Lock()
	s.refresh = fn
	s.mu.Unlock()
}

// Refresh asks the active controller to re-pull the tracking log.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.RLock()
	fn := s.refresh
	s.mu.RUnlock()

	if fn == nil {
		return storypath.ErrNotTracking
	}
	return fn(ctx)
}

// OnChange sets a listener called after every Replace and Reset.
func (s *Store) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}
