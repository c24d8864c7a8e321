// Package geofence decides whether a user is close enough to a location
// to unlock it.
package geofence

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/storypath/engine/internal/storypath"
)

// UnlockRadius is the proximity threshold used for every GPS unlock.
const UnlockRadius = 400.0

// earthRadius is the mean Earth radius in meters.
const earthRadius = 6371008.8

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coord) String() string {
	return fmt.Sprintf("(%g,%g)", c.Lat, c.Lng)
}

// Valid reports whether c is a finite coordinate on the globe.
func (c Coord) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// ParseCoordinate parses "(lat,lng)" or "lat,lng".
func ParseCoordinate(s string) (Coord, error) {
	cleaned := strings.NewReplacer("(", "", ")", "").Replace(s)
	parts := strings.Split(cleaned, ",")
	if len(parts) != 2 {
		return Coord{}, fmt.Errorf("%w: %q", storypath.ErrInvalidCoordinate, s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Coord{}, fmt.Errorf("%w: latitude %q", storypath.ErrInvalidCoordinate, parts[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Coord{}, fmt.Errorf("%w: longitude %q", storypath.ErrInvalidCoordinate, parts[1])
	}

	c := Coord{Lat: lat, Lng: lng}
	if !c.Valid() {
		return Coord{}, fmt.Errorf("%w: out of range %q", storypath.ErrInvalidCoordinate, s)
	}
	return c, nil
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coord) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

// IsWithinRadius reports whether user is strictly closer than radius meters
// to location.
func IsWithinRadius(user, location Coord, radius float64) bool {
	return Distance(user, location) < radius
}

// Fence is a GPS-unlockable location with its parsed coordinate.
type Fence struct {
	Location storypath.Location
	Center   Coord
}

// Compile builds fences for every GPS-capable location. Locations without
// a usable position are skipped and logged; they never block the rest.
func Compile(logger *slog.Logger, locations []storypath.Location) []Fence {
	fences := make([]Fence, 0, len(locations))
	for _, loc := range locations {
		if !loc.Trigger.AllowsGPS() {
			continue
		}
		if loc.Position == nil {
			logger.Warn("location has no position, skipping geofence",
				"location_id", loc.ID, "project_id", loc.ProjectID)
			continue
		}
		c, err := ParseCoordinate(*loc.Position)
		if err != nil {
			logger.Warn("location position unparsable, skipping geofence",
				"location_id", loc.ID, "project_id", loc.ProjectID, "error", err)
			continue
		}
		fences = append(fences, Fence{Location: loc, Center: c})
	}

	sort.SliceStable(fences, func(i, j int) bool {
		a, b := fences[i].Location, fences[j].Location
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.ID < b.ID
	})
	return fences
}

// Nearest returns the first fence, in display order, that is not in
// visited and contains user.
func Nearest(user Coord, fences []Fence, visited func(id int64) bool, radius float64) (Fence, bool) {
	for _, f := range fences {
		if visited(f.Location.ID) {
			continue
		}
		if IsWithinRadius(user, f.Center, radius) {
			return f, true
		}
	}
	return Fence{}, false
}
