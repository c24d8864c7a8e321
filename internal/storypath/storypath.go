// Package storypath defines the core domain types and collaborator
// interfaces of the location-unlock engine.
package storypath

import (
	"context"
	"strings"
)

type Project struct {
	ID                int64             `json:"id"`
	Title             string            `json:"title"`
	Description       *string           `json:"description"`
	IsPublished       bool              `json:"is_published"`
	ParticipantScore  ScoringMode       `json:"participant_scoring"`
	Username          string            `json:"username"`
	Instructions      *string           `json:"instructions"`
	InitialClue       *string           `json:"initial_clue"`
	HomescreenDisplay HomescreenDisplay `json:"homescreen_display"`
}

type Location struct {
	ID         int64   `json:"id"`
	ProjectID  int64   `json:"project_id"`
	Name       string  `json:"location_name"`
	Trigger    Trigger `json:"location_trigger"`
	Position   *string `json:"location_position"`
	Order      int     `json:"location_order"`
	Username   string  `json:"username"`
	Content    *string `json:"location_content"`
	Extra      *string `json:"extra"`
	Clue       *string `json:"clue"`
	ScorePoint *int    `json:"score_points"`
}

// Points returns the location's point value, 0 when unset.
func (l Location) Points() int {
	if l.ScorePoint == nil {
		return 0
	}
	return *l.ScorePoint
}

type TrackingEvent struct {
	ID                  int64   `json:"id,omitempty"`
	ProjectID           int64   `json:"project_id"`
	LocationID          int64   `json:"location_id"`
	Username            string  `json:"username"`
	Points              *int    `json:"points"`
	ParticipantUsername *string `json:"participant_username"`
}

// PointsOrZero returns the awarded points, treating null as 0.
func (e TrackingEvent) PointsOrZero() int {
	if e.Points == nil {
		return 0
	}
	return *e.Points
}

type ScoringMode string

const ScoringSumOfPoints ScoringMode = "Number of Scored Points"

type HomescreenDisplay string

const (
	DisplayAllLocations HomescreenDisplay = "Display all locations"
	DisplayInitialClue  HomescreenDisplay = "Display initial clue"
)

// ShowsAllLocations reports whether the home screen lists every location
// instead of the initial clue.
func (d HomescreenDisplay) ShowsAllLocations() bool {
	return strings.EqualFold(string(d), string(DisplayAllLocations))
}

// Trigger is the tagged variant describing how a location unlocks.
type Trigger string

const (
	TriggerLocationEntry Trigger = "Location Entry"
	TriggerQRCode        Trigger = "QR Code Scan"
	TriggerBoth          Trigger = "Both Location Entry and QR Code Scan"
)

// ParseTrigger normalises a stored trigger tag. Unknown tags fall back to
// TriggerLocationEntry.
func ParseTrigger(tag string) Trigger {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "qr code scan", "qr", "qrcode", "qr_code":
		return TriggerQRCode
	case "both location entry and qr code scan", "both":
		return TriggerBoth
	default:
		return TriggerLocationEntry
	}
}

func (t Trigger) AllowsGPS() bool {
	switch ParseTrigger(string(t)) {
	case TriggerLocationEntry, TriggerBoth:
		return true
	}
	return false
}

func (t Trigger) AllowsQR() bool {
	switch ParseTrigger(string(t)) {
	case TriggerQRCode, TriggerBoth:
		return true
	}
	return false
}

// Catalog resolves read-only project and location records.
type Catalog interface {
	Project(ctx context.Context, id int64) (Project, error)
	PublishedProjects(ctx context.Context) ([]Project, error)
	ProjectLocations(ctx context.Context, projectID int64) ([]Location, error)
	LocationsByIDs(ctx context.Context, projectID int64, ids []int64) ([]Location, error)
}

// TrackingLog is the append-only record of unlocks. Append gives no
// idempotency guarantee unless the store enforces one.
type TrackingLog interface {
	Append(ctx context.Context, event TrackingEvent) (TrackingEvent, error)
	ParticipantEvents(ctx context.Context, projectID int64, participant string) ([]TrackingEvent, error)
}

// ParticipantCounter reads the aggregate visitor views. Implementations
// return 0 for a missing row.
type ParticipantCounter interface {
	LocationParticipants(ctx context.Context, locationID int64) (int, error)
	ProjectParticipants(ctx context.Context, projectID int64) (int, error)
}
