package unlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storypath/engine/internal/geofence"
	"github.com/storypath/engine/internal/storypath"
)

var allowAll = Permissions{Location: true, Camera: true}

func noThrottle() Options {
	return Options{Radius: geofence.UnlockRadius}
}

func TestEnter(t *testing.T) {
	f := scenario()
	c, store := newController(f, noThrottle())

	require.NoError(t, c.Enter(context.Background(), 9, allowAll))

	st := c.Status()
	assert.Equal(t, "tracking", st.State)
	assert.Equal(t, int64(9), st.ProjectID)
	assert.Equal(t, Active, st.GPS)
	assert.Equal(t, Active, st.QR)
	assert.True(t, st.Armed)
	assert.Equal(t, 0, store.Points())
}

func TestEnterRestoresProgressFromLog(t *testing.T) {
	f := scenario()
	f.events = []storypath.TrackingEvent{
		{ID: 5, ProjectID: 9, LocationID: 2, Points: intp(10), ParticipantUsername: strp("alice")},
		{ID: 6, ProjectID: 9, LocationID: 1, Points: intp(5), ParticipantUsername: strp("bob")},
	}
	c, store := newController(f, noThrottle())

	require.NoError(t, c.Enter(context.Background(), 9, allowAll))

	snap := store.Snapshot()
	assert.Equal(t, 10, snap.Points)
	assert.Equal(t, []int64{2}, snap.VisitedIDs)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "Library", snap.Current.Name)
}

func TestEnterReadFailureStaysIdle(t *testing.T) {
	f := scenario()
	f.readErr = storypath.ErrRemoteUnavailable
	c, _ := newController(f, noThrottle())

	err := c.Enter(context.Background(), 9, allowAll)
	require.Error(t, err)
	assert.True(t, storypath.Retryable(err))
	assert.Equal(t, "idle", c.Status().State)

	_, err = c.HandlePosition(context.Background(), home)
	assert.ErrorIs(t, err, storypath.ErrNotTracking)
}

func TestSwitchProjectReadFailureKeepsActiveProject(t *testing.T) {
	f := scenario()
	f.projects[10] = storypath.Project{ID: 10, Title: "Riverside", IsPublished: true}
	c, store := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	out, err := c.HandlePosition(ctx, home)
	require.NoError(t, err)
	require.Equal(t, Unlocked, out.Kind)

	f.setReadErr(storypath.ErrRemoteUnavailable)
	err = c.Enter(ctx, 10, allowAll)
	require.Error(t, err)
	assert.True(t, storypath.Retryable(err))

	st := c.Status()
	assert.Equal(t, "tracking", st.State)
	assert.Equal(t, int64(9), st.ProjectID)
	assert.Equal(t, Active, st.GPS)
	assert.Equal(t, 5, store.Points())
	assert.Equal(t, []int64{1}, store.Snapshot().VisitedIDs)

	project, _, err := c.Project()
	require.NoError(t, err)
	assert.Equal(t, "Campus", project.Title)

	// The old project still accepts input.
	f.setReadErr(nil)
	out, err = c.HandleScan(ctx, `{"project_id":9,"location_id":2}`)
	require.NoError(t, err)
	assert.Equal(t, Unlocked, out.Kind)
	assert.Equal(t, 15, store.Points())
}

// Scenario A: a user 350m from a 5-point GPS location unlocks it once.
func TestPositionUnlocksLocation(t *testing.T) {
	f := scenario()
	c, store := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	out, err := c.HandlePosition(ctx, north(home, 350))
	require.NoError(t, err)

	assert.Equal(t, Unlocked, out.Kind)
	require.NotNil(t, out.Location)
	assert.Equal(t, int64(1), out.Location.ID)
	assert.Equal(t, 5, out.Points)
	assert.Equal(t, 1, f.eventCount())
	assert.Equal(t, 5, store.Points())
	assert.Equal(t, []int64{1}, store.Snapshot().VisitedIDs)

	ev := f.events[0]
	assert.Equal(t, int64(9), ev.ProjectID)
	assert.Equal(t, "alice", ev.Username)
	assert.Equal(t, "alice", *ev.ParticipantUsername)
	assert.Equal(t, 5, *ev.Points)
}

// Scenario B: re-entering the radius of a visited location writes nothing.
func TestPositionInsideVisitedLocation(t *testing.T) {
	f := scenario()
	c, store := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	_, err := c.HandlePosition(ctx, north(home, 350))
	require.NoError(t, err)

	for _, d := range []float64{2000, 100, 0} {
		out, err := c.HandlePosition(ctx, north(home, d))
		require.NoError(t, err)
		assert.Equal(t, NoMatch, out.Kind)
	}
	assert.Equal(t, 1, f.eventCount())
	assert.Equal(t, 5, store.Points())
}

func TestPositionOutsideRadius(t *testing.T) {
	f := scenario()
	c, _ := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	out, err := c.HandlePosition(ctx, north(home, 400.5))
	require.NoError(t, err)
	assert.Equal(t, NoMatch, out.Kind)
	assert.Equal(t, 0, f.eventCount())
}

func TestPositionInvalid(t *testing.T) {
	f := scenario()
	c, _ := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	_, err := c.HandlePosition(ctx, geofence.Coord{Lat: 123, Lng: 0})
	assert.ErrorIs(t, err, storypath.ErrInvalidCoordinate)
}

// Scenario E: a location without a position is never unlocked by GPS but
// can still be scanned.
func TestNullPositionOnlyUnlocksByScan(t *testing.T) {
	f := scenario()
	f.locations[0].Position = nil
	c, store := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	for _, pos := range []geofence.Coord{home, {Lat: 0, Lng: 0}, north(home, 50)} {
		out, err := c.HandlePosition(ctx, pos)
		require.NoError(t, err)
		assert.Equal(t, NoMatch, out.Kind)
	}
	assert.Equal(t, 0, f.eventCount())

	out, err := c.HandleScan(ctx, `{"project_id":9,"location_id":3}`)
	require.NoError(t, err)
	assert.Equal(t, Unlocked, out.Kind)
	assert.True(t, store.HasVisited(3))
}

func TestScanUnlocksLocation(t *testing.T) {
	f := scenario()
	c, store := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	out, err := c.HandleScan(ctx, "project_id=9&location_id=2")
	require.NoError(t, err)

	assert.Equal(t, Unlocked, out.Kind)
	assert.Equal(t, 10, out.Points)
	assert.Equal(t, 10, store.Points())
	assert.False(t, c.Status().Armed, "capture stays disarmed until acknowledged")

	_, err = c.HandleScan(ctx, "project_id=9&location_id=2")
	assert.ErrorIs(t, err, storypath.ErrCaptureDisarmed)

	require.NoError(t, c.Acknowledge())
	assert.True(t, c.Status().Armed)
	assert.Equal(t, 1, f.eventCount())
}

// Scenario C: a code from another project is rejected without a write.
func TestScanWrongProject(t *testing.T) {
	f := scenario()
	c, store := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	_, err := c.HandleScan(ctx, `{"project_id":7,"location_id":3}`)
	assert.ErrorIs(t, err, storypath.ErrWrongProject)
	assert.Equal(t, 0, f.appends)
	assert.Equal(t, 0, store.Points())

	// A well-formed code from another project still needs acknowledging.
	st := c.Status()
	assert.Equal(t, "tracking", st.State)
	assert.False(t, st.Armed)
	_, err = c.HandleScan(ctx, `{"project_id":9,"location_id":3}`)
	assert.ErrorIs(t, err, storypath.ErrCaptureDisarmed)

	require.NoError(t, c.Acknowledge())
	assert.True(t, c.Status().Armed)
}

// Scenario D: a malformed code is rejected without a write and capture
// stays armed.
func TestScanMalformed(t *testing.T) {
	f := scenario()
	c, _ := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	for _, raw := range []string{`{"project_id":9,`, "not a code", ""} {
		_, err := c.HandleScan(ctx, raw)
		assert.ErrorIs(t, err, storypath.ErrMalformedPayload)
	}
	assert.Equal(t, 0, f.appends)
	assert.True(t, c.Status().Armed)
}

func TestScanAlreadyVisitedLocksOut(t *testing.T) {
	f := scenario()
	c, store := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	_, err := c.HandleScan(ctx, "project_id=9&location_id=2")
	require.NoError(t, err)
	require.NoError(t, c.Acknowledge())

	out, err := c.HandleScan(ctx, "project_id=9&location_id=2")
	require.NoError(t, err)
	assert.Equal(t, AlreadyVisited, out.Kind)
	assert.Equal(t, "locked_out", c.Status().State)
	assert.Equal(t, 1, f.eventCount())
	assert.Equal(t, 10, store.Points())

	// Position updates wait for the acknowledgment.
	out, err = c.HandlePosition(ctx, home)
	require.NoError(t, err)
	assert.Equal(t, Ignored, out.Kind)

	require.NoError(t, c.Acknowledge())
	assert.Equal(t, "tracking", c.Status().State)

	out, err = c.HandlePosition(ctx, home)
	require.NoError(t, err)
	assert.Equal(t, Unlocked, out.Kind)
}

func TestScanRejectsUnknownAndGPSOnlyLocations(t *testing.T) {
	f := scenario()
	c, _ := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	_, err := c.HandleScan(ctx, `{"project_id":9,"location_id":404}`)
	assert.ErrorIs(t, err, storypath.ErrUnknownLocation)
	require.NoError(t, c.Acknowledge())

	_, err = c.HandleScan(ctx, `{"project_id":9,"location_id":1}`)
	assert.ErrorIs(t, err, storypath.ErrNotScannable)
	assert.Equal(t, 0, f.appends)
}

func TestPermissionsDegradeSession(t *testing.T) {
	f := scenario()
	c, _ := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, Permissions{Location: false, Camera: true}))

	st := c.Status()
	assert.Equal(t, Denied, st.GPS)
	assert.Equal(t, Active, st.QR)

	_, err := c.HandlePosition(ctx, home)
	assert.ErrorIs(t, err, storypath.ErrPermissionDenied)

	out, err := c.HandleScan(ctx, "project_id=9&location_id=2")
	require.NoError(t, err)
	assert.Equal(t, Unlocked, out.Kind)

	c.Leave()
	require.NoError(t, c.Enter(ctx, 9, Permissions{Location: true, Camera: false}))
	_, err = c.HandleScan(ctx, "project_id=9&location_id=2")
	assert.ErrorIs(t, err, storypath.ErrPermissionDenied)
}

func TestGPSOnlyProjectIgnoresScans(t *testing.T) {
	f := scenario()
	f.locations = f.locations[:1]
	c, _ := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	assert.Equal(t, Unused, c.Status().QR)
	_, err := c.HandleScan(ctx, "project_id=9&location_id=1")
	assert.ErrorIs(t, err, storypath.ErrNotScannable)
}

func TestAppendFailureKeepsStateAndAllowsRetrigger(t *testing.T) {
	f := scenario()
	c, store := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	f.setAppendErr(storypath.ErrRemoteUnavailable)
	_, err := c.HandlePosition(ctx, home)
	require.Error(t, err)
	assert.True(t, storypath.Retryable(err))
	assert.Equal(t, 0, store.Points())
	assert.Equal(t, "tracking", c.Status().State)

	f.setAppendErr(nil)
	out, err := c.HandlePosition(ctx, home)
	require.NoError(t, err)
	assert.Equal(t, Unlocked, out.Kind)
	assert.Equal(t, 5, store.Points())
}

func TestRejectedWriteIsSurfaced(t *testing.T) {
	f := scenario()
	c, store := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	f.setAppendErr(fmt.Errorf("POST tracking: %w", storypath.ErrRejected))
	out, err := c.HandlePosition(ctx, home)
	require.ErrorIs(t, err, storypath.ErrRejected)
	assert.False(t, storypath.Retryable(err))
	assert.NotEqual(t, Discarded, out.Kind)
	assert.Equal(t, 0, store.Points())
	assert.Equal(t, "tracking", c.Status().State)
}

func TestRefreshFailureAfterWriteKeepsPriorSnapshot(t *testing.T) {
	f := scenario()
	c, store := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	f.setReadErr(storypath.ErrRemoteUnavailable)
	_, err := c.HandlePosition(ctx, home)
	require.Error(t, err)
	assert.True(t, storypath.Retryable(err))
	assert.Equal(t, 1, f.eventCount(), "the write itself succeeded")
	assert.Equal(t, 0, store.Points(), "prior snapshot is preserved")

	f.setReadErr(nil)
	require.NoError(t, store.Refresh(ctx))
	assert.Equal(t, 5, store.Points())
}

func TestStoreDuplicateIsTreatedAsVisited(t *testing.T) {
	f := scenario()
	f.unique = true
	c, store := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	// Another device recorded the unlock after this session loaded.
	f.events = append(f.events, storypath.TrackingEvent{
		ID: 100, ProjectID: 9, LocationID: 1, Points: intp(5), ParticipantUsername: strp("alice"),
	})

	out, err := c.HandlePosition(ctx, home)
	require.NoError(t, err)
	assert.Equal(t, Discarded, out.Kind)
	assert.Equal(t, 1, f.eventCount())
	assert.Equal(t, 5, store.Points())
	assert.True(t, store.HasVisited(1))
}

func TestConcurrentTriggersWriteOnce(t *testing.T) {
	f := scenario()
	f.appendDelay = 20 * time.Millisecond
	c, store := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	var wg sync.WaitGroup
	kinds := make([]OutcomeKind, 8)
	for i := range kinds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := c.HandlePosition(ctx, north(home, float64(i*10)))
			if err == nil {
				kinds[i] = out.Kind
			}
		}()
	}
	wg.Wait()

	unlocked := 0
	for _, k := range kinds {
		if k == Unlocked {
			unlocked++
		}
	}
	assert.Equal(t, 1, unlocked)
	assert.Equal(t, 1, f.eventCount())
	assert.Equal(t, 5, store.Points())
}

func TestThrottle(t *testing.T) {
	f := scenario()
	f.locations[0].Position = strp("(50,50)") // far away, nothing unlocks
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c, _ := newController(f, Options{MinInterval: 5 * time.Second, MinDistance: 5, Now: clock.Now})
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	step := func(pos geofence.Coord) OutcomeKind {
		out, err := c.HandlePosition(ctx, pos)
		require.NoError(t, err)
		return out.Kind
	}

	assert.Equal(t, NoMatch, step(home), "first update is always evaluated")
	assert.Equal(t, Ignored, step(north(home, 1)), "too soon and too close")

	clock.Advance(2 * time.Second)
	assert.Equal(t, NoMatch, step(north(home, 6)), "moved far enough")
	assert.Equal(t, Ignored, step(north(home, 7)))

	clock.Advance(5 * time.Second)
	assert.Equal(t, NoMatch, step(north(home, 7)), "interval elapsed")
}

func TestObserve(t *testing.T) {
	f := scenario()
	c, store := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	feed := &chanFeed{ch: make(chan geofence.Coord)}
	done := make(chan error, 1)
	go func() { done <- c.Observe(ctx, feed) }()

	feed.ch <- north(home, 5000)
	feed.ch <- north(home, 100)

	require.Eventually(t, func() bool { return store.Points() == 5 }, time.Second, 5*time.Millisecond)

	// Leaving stops observation.
	c.Leave()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("observe did not stop after leave")
	}
	assert.Equal(t, 0, store.Points(), "leaving discards the snapshot")
}

func TestObservePermissionDenied(t *testing.T) {
	f := scenario()
	c, _ := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))

	err := c.Observe(ctx, &chanFeed{err: storypath.ErrPermissionDenied})
	assert.ErrorIs(t, err, storypath.ErrPermissionDenied)
	assert.Equal(t, Denied, c.Status().GPS)

	out, err := c.HandleScan(ctx, "project_id=9&location_id=2")
	require.NoError(t, err)
	assert.Equal(t, Unlocked, out.Kind, "qr keeps working without gps")
}

func TestEndRefusesFurtherWrites(t *testing.T) {
	f := scenario()
	c, store := newController(f, noThrottle())
	ctx := context.Background()
	require.NoError(t, c.Enter(ctx, 9, allowAll))
	_, err := c.HandleScan(ctx, "project_id=9&location_id=2")
	require.NoError(t, err)

	c.End()

	_, err = c.HandlePosition(ctx, home)
	assert.ErrorIs(t, err, storypath.ErrSessionEnded)
	_, err = c.HandleScan(ctx, "project_id=9&location_id=2")
	assert.ErrorIs(t, err, storypath.ErrSessionEnded)
	assert.ErrorIs(t, c.Enter(ctx, 9, allowAll), storypath.ErrSessionEnded)
	assert.True(t, errors.Is(store.Refresh(ctx), storypath.ErrNotTracking))
	assert.Equal(t, 0, store.Points())
	assert.Equal(t, 1, f.eventCount())
}
