// Package progress derives a participant's progress from the tracking log
// and holds the current session's copy of it.
package progress

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/storypath/engine/internal/storypath"
)

// Summary is the pure part of a snapshot: everything that can be derived
// from the events alone.
type Summary struct {
	// Tracking is the event list ordered by id, newest first.
	Tracking []storypath.TrackingEvent `json:"tracking"`
	Visited  map[int64]struct{}        `json:"-"`
	// VisitedIDs is Visited in ascending order.
	VisitedIDs []int64 `json:"visited_ids"`
	// Order lists visited location ids, most recently unlocked first.
	Order  []int64 `json:"order"`
	Points int     `json:"points"`
	// DuplicateEvents counts events beyond the first for a location.
	// Their points are still part of Points.
	DuplicateEvents int `json:"duplicate_events"`
}

// Snapshot is the derived, in-memory view of a participant's progress in
// one project. It is never a source of truth.
type Snapshot struct {
	Summary
	ProjectID   int64  `json:"project_id"`
	Participant string `json:"participant"`
	// Locations holds the resolved records for Order that still exist.
	Locations []storypath.Location `json:"locations"`
	Current   *storypath.Location  `json:"current"`
}

// HasVisited reports whether a tracking event exists for locationID.
func (s Snapshot) HasVisited(locationID int64) bool {
	_, ok := s.Visited[locationID]
	return ok
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Tracking = slices.Clone(s.Tracking)
	c.Visited = maps.Clone(s.Visited)
	c.VisitedIDs = slices.Clone(s.VisitedIDs)
	c.Order = slices.Clone(s.Order)
	c.Locations = slices.Clone(s.Locations)
	if s.Current != nil {
		cur := *s.Current
		c.Current = &cur
	}
	return c
}

// Summarize derives the visited set, the visit order and the point total
// from events. It does not modify events.
func Summarize(events []storypath.TrackingEvent) Summary {
	sorted := slices.Clone(events)
	if sorted == nil {
		sorted = []storypath.TrackingEvent{}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID > sorted[j].ID })

	sum := Summary{
		Tracking:   sorted,
		Visited:    make(map[int64]struct{}),
		VisitedIDs: []int64{},
		Order:      []int64{},
	}
	for _, e := range sorted {
		sum.Points += e.PointsOrZero()
		if _, seen := sum.Visited[e.LocationID]; seen {
			sum.DuplicateEvents++
			continue
		}
		sum.Visited[e.LocationID] = struct{}{}
		sum.Order = append(sum.Order, e.LocationID)
	}

	sum.VisitedIDs = append(sum.VisitedIDs, sum.Order...)
	slices.Sort(sum.VisitedIDs)
	return sum
}

// LocationResolver turns visited ids back into location records.
type LocationResolver interface {
	LocationsByIDs(ctx context.Context, projectID int64, ids []int64) ([]storypath.Location, error)
}

// Aggregate rebuilds the full snapshot for participant in projectID.
// Calling it twice with the same events yields identical snapshots.
func Aggregate(ctx context.Context, resolver LocationResolver, projectID int64, participant string, events []storypath.TrackingEvent) (Snapshot, error) {
	snap := Snapshot{
		Summary:     Summarize(events),
		ProjectID:   projectID,
		Participant: participant,
		Locations:   []storypath.Location{},
	}
	if len(snap.Order) == 0 {
		return snap, nil
	}

	records, err := resolver.LocationsByIDs(ctx, projectID, snap.VisitedIDs)
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolving visited locations: %w", err)
	}
	byID := make(map[int64]storypath.Location, len(records))
	for _, l := range records {
		byID[l.ID] = l
	}

	for _, id := range snap.Order {
		if l, ok := byID[id]; ok {
			snap.Locations = append(snap.Locations, l)
		}
	}
	if len(snap.Locations) > 0 {
		cur := snap.Locations[0]
		snap.Current = &cur
	}
	return snap, nil
}
