package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storypath/engine/internal/geofence"
	"github.com/storypath/engine/internal/progress"
	"github.com/storypath/engine/internal/remote/remotetest"
	"github.com/storypath/engine/internal/storypath"
	"github.com/storypath/engine/internal/unlock"
)

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }

func newManager(t *testing.T) (*Manager, *remotetest.Memory) {
	t.Helper()
	mem := remotetest.NewMemory()
	mem.AddProject(storypath.Project{ID: 1, Title: "Campus", IsPublished: true, InitialClue: strp("Find the gate")})
	mem.AddProject(storypath.Project{ID: 2, Title: "Harbour", IsPublished: true})
	mem.AddLocation(storypath.Location{ID: 10, ProjectID: 1, Name: "Gate", Trigger: storypath.TriggerLocationEntry, Position: strp("(1,1)"), ScorePoint: intp(5)})
	mem.AddLocation(storypath.Location{ID: 11, ProjectID: 1, Name: "Hall", Trigger: storypath.TriggerQRCode, ScorePoint: intp(7), Order: 1})
	mem.AddLocation(storypath.Location{ID: 20, ProjectID: 2, Name: "Pier", Trigger: storypath.TriggerQRCode, ScorePoint: intp(2)})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := unlock.DefaultOptions()
	opts.MinInterval = 0
	return NewManager(logger, mem, opts), mem
}

var allowAll = unlock.Permissions{Location: true, Camera: true}

func TestLoginRequiresUsername(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.Login("   ")
	assert.ErrorIs(t, err, ErrEmptyUsername)

	sess, err := m.Login("  alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.Username)
	assert.NotEmpty(t, sess.Token)

	got, err := m.Get(sess.Token)
	require.NoError(t, err)
	assert.Same(t, sess, got)
}

func TestSessionsAreIsolated(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	alice, err := m.Login("alice")
	require.NoError(t, err)
	bob, err := m.Login("bob")
	require.NoError(t, err)
	assert.NotEqual(t, alice.Token, bob.Token)

	require.NoError(t, alice.Enter(ctx, 1, allowAll))
	out, err := alice.Controller.HandlePosition(ctx, geofence.Coord{Lat: 1, Lng: 1})
	require.NoError(t, err)
	assert.Equal(t, unlock.Unlocked, out.Kind)

	assert.Equal(t, 5, alice.Store.Points())
	assert.Equal(t, 0, bob.Store.Points())
}

func TestEnterSwitchesProject(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	sess, err := m.Login("alice")
	require.NoError(t, err)
	require.NoError(t, sess.Enter(ctx, 1, allowAll))
	_, err = sess.Controller.HandleScan(ctx, `{"project_id":1,"location_id":11}`)
	require.NoError(t, err)
	assert.Equal(t, 7, sess.Store.Points())

	require.NoError(t, sess.Enter(ctx, 2, allowAll))
	assert.Equal(t, 0, sess.Store.Points())
	assert.EqualValues(t, 2, sess.Controller.Status().ProjectID)

	require.NoError(t, sess.Enter(ctx, 1, allowAll))
	assert.Equal(t, 7, sess.Store.Points(), "progress restored from the log")
}

func TestLogoutEndsSession(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	sess, err := m.Login("alice")
	require.NoError(t, err)
	require.NoError(t, sess.Enter(ctx, 1, allowAll))

	require.NoError(t, m.Logout(sess.Token))
	assert.ErrorIs(t, m.Logout(sess.Token), ErrNoSession)

	_, err = m.Get(sess.Token)
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = sess.Controller.HandlePosition(ctx, geofence.Coord{Lat: 1, Lng: 1})
	assert.ErrorIs(t, err, storypath.ErrSessionEnded)
	assert.Equal(t, 0, sess.Store.Points())
	assert.Equal(t, 0, m.Len())
}

func TestOnChangeReceivesToken(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []int
	var tokens []string
	m.OnChange(func(token string, snap progress.Snapshot) {
		mu.Lock()
		tokens = append(tokens, token)
		got = append(got, snap.Points)
		mu.Unlock()
	})

	sess, err := m.Login("alice")
	require.NoError(t, err)
	require.NoError(t, sess.Enter(ctx, 1, allowAll))
	_, err = sess.Controller.HandleScan(ctx, `{"project_id":1,"location_id":11}`)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, 7, got[len(got)-1])
	for _, tok := range tokens {
		assert.Equal(t, sess.Token, tok)
	}
}

func TestOverview(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	sess, err := m.Login("alice")
	require.NoError(t, err)

	_, err = sess.Overview(ctx)
	assert.ErrorIs(t, err, storypath.ErrNotTracking)

	require.NoError(t, sess.Enter(ctx, 1, allowAll))
	_, err = sess.Controller.HandleScan(ctx, `{"project_id":1,"location_id":11}`)
	require.NoError(t, err)

	ov, err := sess.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Campus", ov.Title)
	assert.Equal(t, "Find the gate", ov.InitialClue)
	assert.Equal(t, 7, ov.Points)
	assert.Equal(t, 12, ov.MaxPoints)
	assert.Equal(t, 1, ov.VisitedCount)
	assert.Equal(t, 2, ov.TotalLocations)
	assert.Equal(t, 1, ov.ProjectParticipants)
	require.Len(t, ov.History, 1)
	assert.True(t, ov.History[0].Expanded)
	assert.Equal(t, 1, ov.History[0].ParticipantCount)
}

func TestCloseEndsAll(t *testing.T) {
	m, _ := newManager(t)
	a, _ := m.Login("alice")
	b, _ := m.Login("bob")

	m.Close()
	assert.Equal(t, 0, m.Len())
	assert.ErrorIs(t, a.Enter(context.Background(), 1, allowAll), storypath.ErrSessionEnded)
	assert.ErrorIs(t, b.Enter(context.Background(), 1, allowAll), storypath.ErrSessionEnded)
}
