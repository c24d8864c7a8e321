package unlock

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/storypath/engine/internal/geofence"
)

// throttle limits how often position updates are evaluated: at most once
// per interval, unless the user moved at least minDistance meters since
// the last evaluated update.
type throttle struct {
	limiter     *rate.Limiter
	minDistance float64
	last        *geofence.Coord
	now         func() time.Time
}

func newThrottle(interval time.Duration, minDistance float64, now func() time.Time) *throttle {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &throttle{
		limiter:     rate.NewLimiter(limit, 1),
		minDistance: minDistance,
		now:         now,
	}
}

func (t *throttle) allow(pos geofence.Coord) bool {
	now := t.now()
	moved := t.last == nil ||
		(t.minDistance > 0 && geofence.Distance(*t.last, pos) >= t.minDistance)

	if t.limiter.AllowN(now, 1) || moved {
		t.last = &pos
		return true
	}
	return false
}
