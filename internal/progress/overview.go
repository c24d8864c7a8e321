package progress

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/storypath/engine/internal/storypath"
)

// MapHint replaces the initial clue when a project lists all locations.
const MapHint = `Open "Map" tab to view all available locations.`

// countConcurrency bounds parallel participant-count lookups.
const countConcurrency = 4

type HistoryEntry struct {
	Location         storypath.Location `json:"location"`
	ParticipantCount int                `json:"participant_count"`
	Expanded         bool               `json:"expanded"`
}

// Overview is the project home view: header, score and visit history.
type Overview struct {
	ProjectID           int64               `json:"project_id"`
	Title               string              `json:"title"`
	Instructions        string              `json:"instructions"`
	InitialClue         string              `json:"initial_clue"`
	Points              int                 `json:"points"`
	MaxPoints           int                 `json:"max_points"`
	VisitedCount        int                 `json:"visited_count"`
	TotalLocations      int                 `json:"total_locations"`
	ProjectParticipants int                 `json:"project_participants"`
	DuplicateEvents     int                 `json:"duplicate_events"`
	Current             *storypath.Location `json:"current"`
	History             []HistoryEntry      `json:"history"`
}

// BuildOverview combines project metadata with snap. Visitor counts that
// cannot be fetched are reported as 0.
func BuildOverview(ctx context.Context, logger *slog.Logger, counter storypath.ParticipantCounter, project storypath.Project, locations []storypath.Location, snap Snapshot) Overview {
	ov := Overview{
		ProjectID:       project.ID,
		Title:           project.Title,
		Instructions:    deref(project.Instructions),
		InitialClue:     deref(project.InitialClue),
		Points:          snap.Points,
		VisitedCount:    len(snap.Visited),
		TotalLocations:  len(locations),
		DuplicateEvents: snap.DuplicateEvents,
		History:         make([]HistoryEntry, len(snap.Locations)),
	}
	if project.HomescreenDisplay.ShowsAllLocations() {
		ov.InitialClue = MapHint
	}
	for _, l := range locations {
		ov.MaxPoints += l.Points()
	}
	if snap.Current != nil {
		cur := *snap.Current
		ov.Current = &cur
	}

	var g errgroup.Group
	g.SetLimit(countConcurrency)

	g.Go(func() error {
		n, err := counter.ProjectParticipants(ctx, project.ID)
		if err != nil {
			logger.Warn("fetching project participant count", "project_id", project.ID, "error", err)
			n = 0
		}
		ov.ProjectParticipants = n
		return nil
	})
	for i, l := range snap.Locations {
		ov.History[i] = HistoryEntry{Location: l, Expanded: i == 0}
		g.Go(func() error {
			n, err := counter.LocationParticipants(ctx, l.ID)
			if err != nil {
				logger.Warn("fetching location participant count", "location_id", l.ID, "error", err)
				n = 0
			}
			ov.History[i].ParticipantCount = n
			return nil
		})
	}
	_ = g.Wait()

	return ov
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
