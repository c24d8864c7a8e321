package unlock

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/storypath/engine/internal/geofence"
	"github.com/storypath/engine/internal/progress"
	"github.com/storypath/engine/internal/storypath"
)

// fakeRemote is an in-memory Catalog and TrackingLog.
type fakeRemote struct {
	mu        sync.Mutex
	projects  map[int64]storypath.Project
	locations []storypath.Location
	events    []storypath.TrackingEvent
	nextID    int64
	unique    bool

	appendErr   error
	readErr     error
	appendDelay time.Duration
	appends     int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{projects: map[int64]storypath.Project{}, nextID: 1}
}

func (f *fakeRemote) Project(_ context.Context, id int64) (storypath.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return storypath.Project{}, f.readErr
	}
	p, ok := f.projects[id]
	if !ok {
		return storypath.Project{}, storypath.ErrNotFound
	}
	return p, nil
}

func (f *fakeRemote) PublishedProjects(context.Context) ([]storypath.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storypath.Project
	for _, p := range f.projects {
		if p.IsPublished {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRemote) ProjectLocations(_ context.Context, projectID int64) ([]storypath.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	var out []storypath.Location
	for _, l := range f.locations {
		if l.ProjectID == projectID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeRemote) LocationsByIDs(_ context.Context, projectID int64, ids []int64) ([]storypath.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []storypath.Location
	for _, l := range f.locations {
		if l.ProjectID == projectID && want[l.ID] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeRemote) Append(_ context.Context, e storypath.TrackingEvent) (storypath.TrackingEvent, error) {
	if f.appendDelay > 0 {
		time.Sleep(f.appendDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	if f.appendErr != nil {
		return storypath.TrackingEvent{}, f.appendErr
	}
	if f.unique {
		for _, ex := range f.events {
			if ex.ProjectID == e.ProjectID && ex.LocationID == e.LocationID &&
				*ex.ParticipantUsername == *e.ParticipantUsername {
				return storypath.TrackingEvent{}, storypath.ErrDuplicateEvent
			}
		}
	}
	e.ID = f.nextID
	f.nextID++
	f.events = append(f.events, e)
	return e, nil
}

func (f *fakeRemote) ParticipantEvents(_ context.Context, projectID int64, participant string) ([]storypath.TrackingEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	var out []storypath.TrackingEvent
	for _, e := range f.events {
		if e.ProjectID == projectID && e.ParticipantUsername != nil && *e.ParticipantUsername == participant {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRemote) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeRemote) setReadErr(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
}

func (f *fakeRemote) setAppendErr(err error) {
	f.mu.Lock()
	f.appendErr = err
	f.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }

// north returns the coordinate meters due north of c.
func north(c geofence.Coord, meters float64) geofence.Coord {
	return geofence.Coord{Lat: c.Lat + meters/6371008.8*180/math.Pi, Lng: c.Lng}
}

var home = geofence.Coord{Lat: 10, Lng: 10}

// scenario builds project 9 with a GPS location (1), a QR location (2),
// a location usable both ways without a position (3) and a GPS location
// with a broken position (4).
func scenario() *fakeRemote {
	f := newFakeRemote()
	f.projects[9] = storypath.Project{ID: 9, Title: "Campus", IsPublished: true}
	f.locations = []storypath.Location{
		{ID: 1, ProjectID: 9, Name: "Great Court", Trigger: storypath.TriggerLocationEntry, Position: strp("(10.0,10.0)"), ScorePoint: intp(5), Order: 1},
		{ID: 2, ProjectID: 9, Name: "Library", Trigger: storypath.TriggerQRCode, ScorePoint: intp(10), Order: 2},
		{ID: 3, ProjectID: 9, Name: "Museum", Trigger: storypath.TriggerBoth, Position: nil, ScorePoint: intp(3), Order: 3},
		{ID: 4, ProjectID: 9, Name: "Lake", Trigger: storypath.TriggerLocationEntry, Position: strp("lake side"), ScorePoint: intp(1), Order: 4},
	}
	return f
}

func newController(f *fakeRemote, opts Options) (*Controller, *progress.Store) {
	store := progress.NewStore()
	return New(discardLogger(), f, f, store, "alice", opts), store
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// chanFeed is a PositionFeed backed by a channel.
type chanFeed struct {
	ch  chan geofence.Coord
	err error
}

func (f *chanFeed) Watch(context.Context) (<-chan geofence.Coord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ch, nil
}
