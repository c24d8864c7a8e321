package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/storypath/engine/internal/storypath"
)

var (
	_ storypath.Catalog            = (*Client)(nil)
	_ storypath.TrackingLog        = (*Client)(nil)
	_ storypath.ParticipantCounter = (*Client)(nil)
)

func eq(v any) string { return fmt.Sprintf("eq.%v", v) }

func in(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "in.(" + strings.Join(parts, ",") + ")"
}

func (c *Client) Project(ctx context.Context, id int64) (storypath.Project, error) {
	var rows []storypath.Project
	if err := c.get(ctx, "project", url.Values{"id": {eq(id)}}, &rows); err != nil {
		return storypath.Project{}, fmt.Errorf("fetching project %d: %w", id, err)
	}
	if len(rows) == 0 {
		return storypath.Project{}, fmt.Errorf("project %d: %w", id, storypath.ErrNotFound)
	}
	return rows[0], nil
}

func (c *Client) PublishedProjects(ctx context.Context) ([]storypath.Project, error) {
	var rows []storypath.Project
	q := url.Values{"is_published": {eq(true)}, "order": {"id.asc"}}
	if err := c.get(ctx, "project", q, &rows); err != nil {
		return nil, fmt.Errorf("fetching published projects: %w", err)
	}
	return rows, nil
}

func (c *Client) ProjectLocations(ctx context.Context, projectID int64) ([]storypath.Location, error) {
	var rows []storypath.Location
	q := url.Values{"project_id": {eq(projectID)}, "order": {"location_order.asc"}}
	if err := c.get(ctx, "location", q, &rows); err != nil {
		return nil, fmt.Errorf("fetching locations of project %d: %w", projectID, err)
	}
	return rows, nil
}

func (c *Client) LocationsByIDs(ctx context.Context, projectID int64, ids []int64) ([]storypath.Location, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []storypath.Location
	q := url.Values{"project_id": {eq(projectID)}, "id": {in(ids)}}
	if err := c.get(ctx, "location", q, &rows); err != nil {
		return nil, fmt.Errorf("fetching locations %v: %w", ids, err)
	}
	return rows, nil
}

// ParticipantEvents returns the participant's events newest first.
func (c *Client) ParticipantEvents(ctx context.Context, projectID int64, participant string) ([]storypath.TrackingEvent, error) {
	var rows []storypath.TrackingEvent
	q := url.Values{
		"project_id":           {eq(projectID)},
		"participant_username": {eq(participant)},
		"order":                {"id.desc"},
	}
	if err := c.get(ctx, "tracking", q, &rows); err != nil {
		return nil, fmt.Errorf("fetching tracking events: %w", err)
	}
	return rows, nil
}

// Append creates a tracking event. It is attempted exactly once.
func (c *Client) Append(ctx context.Context, event storypath.TrackingEvent) (storypath.TrackingEvent, error) {
	event.ID = 0
	if c.user != "" {
		event.Username = c.user
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "tracking", nil, event, &raw); err != nil {
		return storypath.TrackingEvent{}, fmt.Errorf("appending tracking event: %w", err)
	}

	var created storypath.TrackingEvent
	if err := single(raw, &created); err != nil {
		return storypath.TrackingEvent{}, fmt.Errorf("decoding created event: %w: %v", storypath.ErrRemoteUnavailable, err)
	}
	return created, nil
}

type participantCount struct {
	Count int `json:"number_participants"`
}

func (c *Client) count(ctx context.Context, view, column string, id int64) (int, error) {
	var rows []participantCount
	if err := c.get(ctx, view, url.Values{column: {eq(id)}}, &rows); err != nil {
		return 0, fmt.Errorf("fetching %s for %d: %w", view, id, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Count, nil
}

func (c *Client) LocationParticipants(ctx context.Context, locationID int64) (int, error) {
	return c.count(ctx, "location_participant_counts", "location_id", locationID)
}

func (c *Client) ProjectParticipants(ctx context.Context, projectID int64) (int, error) {
	return c.count(ctx, "project_participant_counts", "project_id", projectID)
}
