// Package remotetest provides an in-memory record store for tests.
package remotetest

import (
	"context"
	"sort"
	"sync"

	"github.com/storypath/engine/internal/storypath"
)

// Memory implements storypath.Catalog, storypath.TrackingLog and
// storypath.ParticipantCounter. Tracking events are unique per project,
// location and participant, matching the record store's constraint.
type Memory struct {
	mu        sync.Mutex
	projects  map[int64]storypath.Project
	locations map[int64]storypath.Location
	events    []storypath.TrackingEvent
	nextID    int64

	// ReadErr, when set, fails every read.
	ReadErr error
}

func NewMemory() *Memory {
	return &Memory{
		projects:  make(map[int64]storypath.Project),
		locations: make(map[int64]storypath.Location),
		nextID:    1,
	}
}

func (m *Memory) AddProject(p storypath.Project) {
	m.mu.Lock()
	m.projects[p.ID] = p
	m.mu.Unlock()
}

func (m *Memory) AddLocation(l storypath.Location) {
	m.mu.Lock()
	m.locations[l.ID] = l
	m.mu.Unlock()
}

func (m *Memory) SetReadErr(err error) {
	m.mu.Lock()
	m.ReadErr = err
	m.mu.Unlock()
}

// Events returns a copy of every stored event in insertion order.
func (m *Memory) Events() []storypath.TrackingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storypath.TrackingEvent(nil), m.events...)
}

func (m *Memory) Project(_ context.Context, id int64) (storypath.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return storypath.Project{}, m.ReadErr
	}
	p, ok := m.projects[id]
	if !ok {
		return storypath.Project{}, storypath.ErrNotFound
	}
	return p, nil
}

func (m *Memory) PublishedProjects(context.Context) ([]storypath.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	out := []storypath.Project{}
	for _, p := range m.projects {
		if p.IsPublished {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ProjectLocations(_ context.Context, projectID int64) ([]storypath.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	out := []storypath.Location{}
	for _, l := range m.locations {
		if l.ProjectID == projectID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) LocationsByIDs(_ context.Context, projectID int64, ids []int64) ([]storypath.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	var out []storypath.Location
	for _, id := range ids {
		if l, ok := m.locations[id]; ok && l.ProjectID == projectID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Memory) Append(_ context.Context, e storypath.TrackingEvent) (storypath.TrackingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.events {
		if ex.ProjectID == e.ProjectID && ex.LocationID == e.LocationID &&
			participant(ex) == participant(e) {
			return storypath.TrackingEvent{}, storypath.ErrDuplicateEvent
		}
	}
	e.ID = m.nextID
	m.nextID++
	m.events = append(m.events, e)
	return e, nil
}

func (m *Memory) ParticipantEvents(_ context.Context, projectID int64, who string) ([]storypath.TrackingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	out := []storypath.TrackingEvent{}
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if e.ProjectID == projectID && participant(e) == who {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) LocationParticipants(_ context.Context, locationID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, e := range m.events {
		if e.LocationID == locationID {
			seen[participant(e)] = true
		}
	}
	return len(seen), nil
}

func (m *Memory) ProjectParticipants(_ context.Context, projectID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, e := range m.events {
		if e.ProjectID == projectID {
			seen[participant(e)] = true
		}
	}
	return len(seen), nil
}

func participant(e storypath.TrackingEvent) string {
	if e.ParticipantUsername == nil {
		return ""
	}
	return *e.ParticipantUsername
}
