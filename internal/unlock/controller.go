// Package unlock reconciles live positions and scanned codes against a
// project's locations and records new unlocks in the tracking log.
package unlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/storypath/engine/internal/geofence"
	"github.com/storypath/engine/internal/progress"
	"github.com/storypath/engine/internal/qrcode"
	"github.com/storypath/engine/internal/storypath"
)

type State int

const (
	Idle State = iota
	Tracking
	Evaluating
	LockedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Tracking:
		return "tracking"
	case Evaluating:
		return "evaluating"
	case LockedOut:
		return "locked_out"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type OutcomeKind string

const (
	// Ignored means the update was not evaluated (throttled or gated).
	Ignored        OutcomeKind = "ignored"
	NoMatch        OutcomeKind = "no_match"
	Unlocked       OutcomeKind = "unlocked"
	AlreadyVisited OutcomeKind = "already_visited"
	// Discarded means the final re-check found the location visited, so
	// no event was written.
	Discarded OutcomeKind = "discarded"
)

type Outcome struct {
	Kind     OutcomeKind         `json:"kind"`
	Location *storypath.Location `json:"location,omitempty"`
	Points   int                 `json:"points,omitempty"`
}

// Permissions are the device grants the host obtained before entering.
type Permissions struct {
	Location bool `json:"location"`
	Camera   bool `json:"camera"`
}

type Availability string

const (
	Active Availability = "active"
	Denied Availability = "denied"
	Unused Availability = "unused"
)

type Status struct {
	State     string       `json:"state"`
	ProjectID int64        `json:"project_id,omitempty"`
	GPS       Availability `json:"gps"`
	QR        Availability `json:"qr"`
	Armed     bool         `json:"armed"`
}

type Options struct {
	// Radius is the unlock distance in meters.
	Radius float64
	// MinInterval and MinDistance bound how often positions are evaluated.
	// Zero disables the respective limit.
	MinInterval time.Duration
	MinDistance float64
	Now         func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Radius:      geofence.UnlockRadius,
		MinInterval: 5 * time.Second,
		MinDistance: 5,
	}
}

// Controller is the unlock state machine for one participant. All
// state-changing calls are serialized, so the visited check and the event
// append form a single critical section.
type Controller struct {
	logger      *slog.Logger
	catalog     storypath.Catalog
	log         storypath.TrackingLog
	store       *progress.Store
	participant string
	opts        Options

	mu        sync.Mutex
	state     State
	ended     bool
	project   storypath.Project
	locations []storypath.Location
	byID      map[int64]storypath.Location
	fences    []geofence.Fence
	gps       Availability
	qr        Availability
	armed     bool
	throttle  *throttle
	stopWatch context.CancelFunc
}

func New(logger *slog.Logger, catalog storypath.Catalog, log storypath.TrackingLog, store *progress.Store, participant string, opts Options) *Controller {
	if opts.Radius <= 0 {
		opts.Radius = geofence.UnlockRadius
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		logger:      logger,
		catalog:     catalog,
		log:         log,
		store:       store,
		participant: participant,
		opts:        opts,
		gps:         Unused,
		qr:          Unused,
	}
}

// Enter loads projectID and starts tracking, leaving any active project
// once the new one has loaded. On failure the controller and its store
// keep their prior state.
func (c *Controller) Enter(ctx context.Context, projectID int64, perms Permissions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended {
		return storypath.ErrSessionEnded
	}

	project, locations, snap, err := c.load(ctx, projectID)
	if err != nil {
		return err
	}
	if c.state != Idle {
		c.leaveLocked()
	}
	c.install(project, locations)
	c.store.Replace(snap)

	c.gps, c.qr = Unused, Unused
	for _, l := range locations {
		if l.Trigger.AllowsGPS() {
			c.gps = availability(perms.Location)
		}
		if l.Trigger.AllowsQR() {
			c.qr = availability(perms.Camera)
		}
	}
	c.armed = c.qr == Active
	c.throttle = newThrottle(c.opts.MinInterval, c.opts.MinDistance, c.opts.Now)
	c.state = Tracking
	c.store.SetRefresh(c.Refresh)

	c.logger.Info("entered project",
		"project_id", projectID,
		"participant", c.participant,
		"locations", len(locations),
		"fences", len(c.fences),
		"gps", c.gps,
		"qr", c.qr,
	)
	if c.gps == Denied {
		c.logger.Warn("location permission denied, continuing without gps", "project_id", projectID)
	}
	if c.qr == Denied {
		c.logger.Warn("camera permission denied, continuing without qr capture", "project_id", projectID)
	}
	return nil
}

func availability(granted bool) Availability {
	if granted {
		return Active
	}
	return Denied
}

// load reads everything a session needs. It does not touch controller state.
func (c *Controller) load(ctx context.Context, projectID int64) (storypath.Project, []storypath.Location, progress.Snapshot, error) {
	project, err := c.catalog.Project(ctx, projectID)
	if err != nil {
		return storypath.Project{}, nil, progress.Snapshot{}, fmt.Errorf("loading project %d: %w", projectID, err)
	}
	locations, err := c.catalog.ProjectLocations(ctx, projectID)
	if err != nil {
		return storypath.Project{}, nil, progress.Snapshot{}, fmt.Errorf("loading locations for project %d: %w", projectID, err)
	}
	snap, err := c.pull(ctx, projectID)
	if err != nil {
		return storypath.Project{}, nil, progress.Snapshot{}, err
	}
	return project, locations, snap, nil
}

func (c *Controller) install(project storypath.Project, locations []storypath.Location) {
	c.project = project
	c.locations = locations
	c.byID = make(map[int64]storypath.Location, len(locations))
	for _, l := range locations {
		c.byID[l.ID] = l
	}
	c.fences = geofence.Compile(c.logger, locations)
}

// pull re-reads the participant's tracking log and re-aggregates it.
func (c *Controller) pull(ctx context.Context, projectID int64) (progress.Snapshot, error) {
	events, err := c.log.ParticipantEvents(ctx, projectID, c.participant)
	if err != nil {
		return progress.Snapshot{}, fmt.Errorf("loading tracking log: %w", err)
	}
	snap, err := progress.Aggregate(ctx, c.catalog, projectID, c.participant, events)
	if err != nil {
		return progress.Snapshot{}, err
	}
	return snap, nil
}

// Refresh re-pulls project data and the tracking log. Prior state is kept
// if any read fails.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.activeLocked(); err != nil {
		return err
	}
	project, locations, snap, err := c.load(ctx, c.project.ID)
	if err != nil {
		return err
	}
	c.install(project, locations)
	c.store.Replace(snap)
	return nil
}

// HandlePosition evaluates a position update against the unvisited
// geofences and unlocks the first one the user is inside.
func (c *Controller) HandlePosition(ctx context.Context, pos geofence.Coord) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.activeLocked(); err != nil {
		return Outcome{}, err
	}
	if !pos.Valid() {
		return Outcome{}, fmt.Errorf("position %s: %w", pos, storypath.ErrInvalidCoordinate)
	}
	switch c.gps {
	case Denied:
		return Outcome{}, fmt.Errorf("location access: %w", storypath.ErrPermissionDenied)
	case Unused:
		return Outcome{Kind: Ignored}, nil
	}
	if c.state != Tracking || !c.throttle.allow(pos) {
		return Outcome{Kind: Ignored}, nil
	}

	fence, ok := geofence.Nearest(pos, c.fences, c.store.HasVisited, c.opts.Radius)
	if !ok {
		return Outcome{Kind: NoMatch}, nil
	}
	return c.evaluate(ctx, fence.Location)
}

// HandleScan decodes a scanned code and unlocks its location. Capture is
// disarmed until Acknowledge once a well-formed code has been received.
func (c *Controller) HandleScan(ctx context.Context, raw string) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.activeLocked(); err != nil {
		return Outcome{}, err
	}
	switch c.qr {
	case Denied:
		return Outcome{}, fmt.Errorf("camera access: %w", storypath.ErrPermissionDenied)
	case Unused:
		return Outcome{}, fmt.Errorf("project %d: %w", c.project.ID, storypath.ErrNotScannable)
	}
	if !c.armed || c.state != Tracking {
		return Outcome{}, storypath.ErrCaptureDisarmed
	}

	payload, err := qrcode.Decode(raw)
	if err != nil {
		// Nothing to acknowledge; capture stays armed.
		return Outcome{}, err
	}
	c.armed = false

	if err := qrcode.Validate(payload, c.project.ID); err != nil {
		return Outcome{}, err
	}
	loc, ok := c.byID[payload.LocationID]
	if !ok {
		return Outcome{}, fmt.Errorf("location %d: %w", payload.LocationID, storypath.ErrUnknownLocation)
	}
	if !loc.Trigger.AllowsQR() {
		return Outcome{}, fmt.Errorf("location %d: %w", loc.ID, storypath.ErrNotScannable)
	}
	if c.store.HasVisited(loc.ID) {
		c.state = LockedOut
		return Outcome{Kind: AlreadyVisited, Location: &loc}, nil
	}
	return c.evaluate(ctx, loc)
}

// Acknowledge dismisses the last scan result, leaving the locked-out state
// and re-arming capture.
func (c *Controller) Acknowledge() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.activeLocked(); err != nil {
		return err
	}
	if c.state == LockedOut {
		c.state = Tracking
	}
	c.armed = c.qr == Active
	return nil
}

// evaluate re-checks the visited set, appends an event for loc if it is
// still unvisited, then re-pulls the log. Callers hold c.mu.
func (c *Controller) evaluate(ctx context.Context, loc storypath.Location) (Outcome, error) {
	c.state = Evaluating
	defer func() {
		if c.state == Evaluating {
			c.state = Tracking
		}
	}()

	if c.store.HasVisited(loc.ID) {
		return Outcome{Kind: Discarded, Location: &loc}, nil
	}

	participant := c.participant
	points := loc.Points()
	_, appendErr := c.log.Append(ctx, storypath.TrackingEvent{
		ProjectID:           c.project.ID,
		LocationID:          loc.ID,
		Username:            participant,
		Points:              &points,
		ParticipantUsername: &participant,
	})

	out := Outcome{Kind: Unlocked, Location: &loc, Points: points}
	switch {
	case errors.Is(appendErr, storypath.ErrDuplicateEvent):
		c.logger.Info("tracking event already recorded by store",
			"project_id", c.project.ID, "location_id", loc.ID, "participant", participant)
		out = Outcome{Kind: Discarded, Location: &loc}
		appendErr = nil
	case appendErr != nil:
		c.logger.Error("recording unlock failed",
			"project_id", c.project.ID, "location_id", loc.ID, "participant", participant, "error", appendErr)
		appendErr = fmt.Errorf("recording unlock of location %d: %w", loc.ID, appendErr)
	default:
		c.logger.Info("location unlocked",
			"project_id", c.project.ID, "location_id", loc.ID, "participant", participant, "points", points)
	}

	// Pull the log whatever the write result: a failed write may still
	// have landed.
	snap, err := c.pull(ctx, c.project.ID)
	if err != nil {
		c.logger.Warn("reloading progress after unlock", "project_id", c.project.ID, "error", err)
		if appendErr != nil {
			return Outcome{}, appendErr
		}
		return out, err
	}
	c.store.Replace(snap)

	if appendErr != nil {
		return Outcome{}, appendErr
	}
	return out, nil
}

// PositionFeed delivers position updates until ctx is done. Watch returns
// storypath.ErrPermissionDenied when location access is refused.
type PositionFeed interface {
	Watch(ctx context.Context) (<-chan geofence.Coord, error)
}

// Observe consumes feed until ctx is done, the controller leaves the
// project, or the feed closes. Evaluation errors are logged, not returned.
func (c *Controller) Observe(ctx context.Context, feed PositionFeed) error {
	c.mu.Lock()
	if err := c.activeLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.stopWatch != nil {
		c.stopWatch()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.stopWatch = cancel
	c.mu.Unlock()
	defer cancel()

	positions, err := feed.Watch(ctx)
	if err != nil {
		if errors.Is(err, storypath.ErrPermissionDenied) {
			c.mu.Lock()
			if c.gps == Active {
				c.gps = Denied
			}
			c.mu.Unlock()
			c.logger.Warn("position feed refused, continuing without gps", "error", err)
		}
		return fmt.Errorf("watching position: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case pos, ok := <-positions:
			if !ok {
				return nil
			}
			out, err := c.HandlePosition(ctx, pos)
			switch {
			case errors.Is(err, storypath.ErrNotTracking), errors.Is(err, storypath.ErrSessionEnded):
				return nil
			case err != nil:
				c.logger.Warn("evaluating position", "position", pos.String(), "error", err)
			case out.Kind == Unlocked:
				c.logger.Debug("position unlocked location", "location_id", out.Location.ID)
			}
		}
	}
}

// Leave stops position observation and discards the session's progress.
func (c *Controller) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaveLocked()
}

// End leaves the project and refuses every later call. Used on logout.
func (c *Controller) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaveLocked()
	c.ended = true
}

func (c *Controller) leaveLocked() {
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
	if c.state != Idle {
		c.logger.Info("left project", "project_id", c.project.ID, "participant", c.participant)
	}
	c.state = Idle
	c.project = storypath.Project{}
	c.locations = nil
	c.byID = nil
	c.fences = nil
	c.gps, c.qr = Unused, Unused
	c.armed = false
	c.store.Reset()
}

func (c *Controller) activeLocked() error {
	if c.ended {
		return storypath.ErrSessionEnded
	}
	if c.state == Idle {
		return storypath.ErrNotTracking
	}
	return nil
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:     c.state.String(),
		ProjectID: c.project.ID,
		GPS:       c.gps,
		QR:        c.qr,
		Armed:     c.armed,
	}
}

// Project returns the active project and its locations.
func (c *Controller) Project() (storypath.Project, []storypath.Location, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.activeLocked(); err != nil {
		return storypath.Project{}, nil, err
	}
	return c.project, append([]storypath.Location(nil), c.locations...), nil
}
