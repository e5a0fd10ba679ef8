// Package route turns raw, unordered location reports into a time-ordered
// route whose points carry a display role.
package route

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/example/safety-tracking/internal/geo"
	"github.com/example/safety-tracking/internal/models"
)

// Source yields the raw reports of one device. Implementations should return
// promptly once ctx is done; callers do not wait for one that does not.
type Source interface {
	History(ctx context.Context, deviceID string) ([]models.LocationPoint, error)
}

// Reconstruct validates, orders and classifies points. Malformed points are
// dropped and counted; they never abort the reconstruction.
func Reconstruct(points []models.LocationPoint) models.Route {
	out := models.Route{Points: make([]models.RoutePoint, 0, len(points))}
	for _, p := range points {
		if !Valid(p) {
			out.Dropped++
			continue
		}
		out.Points = append(out.Points, models.RoutePoint{LocationPoint: p})
	}
	// burst updates share timestamps; ties keep store order
	sort.SliceStable(out.Points, func(i, j int) bool {
		return out.Points[i].RecordedAt.Before(out.Points[j].RecordedAt)
	})
	assignRoles(out.Points)
	return out
}

// Load fetches a device's history and reconstructs it. A failing source is
// the only error; individual bad points are not.
func Load(ctx context.Context, src Source, deviceID string) (models.Route, error) {
	points, err := src.History(ctx, deviceID)
	if err != nil {
		return models.Route{}, fmt.Errorf("load history for %s: %w", deviceID, err)
	}
	return Reconstruct(points), nil
}

// Valid reports whether a point has a timestamp and a usable coordinate.
func Valid(p models.LocationPoint) bool {
	if p.RecordedAt.IsZero() {
		return false
	}
	return ValidCoord(p.Loc)
}

// ValidCoord rejects non-finite and out of range coordinates.
func ValidCoord(c models.Coord) bool {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// start and current take priority over the SOS flag so the latest point
// always shows where the device is now.
func assignRoles(pts []models.RoutePoint) {
	switch len(pts) {
	case 0:
		return
	case 1:
		pts[0].Role = models.RoleSingle
		return
	}
	last := len(pts) - 1
	for i := range pts {
		switch {
		case i == 0:
			pts[i].Role = models.RoleStart
		case i == last:
			pts[i].Role = models.RoleCurrent
		case pts[i].IsSOS:
			pts[i].Role = models.RoleSOS
		default:
			pts[i].Role = models.RoleWaypoint
		}
	}
}

// Distance is the haversine length of the route in meters.
func Distance(r models.Route) float64 {
	return geo.PathLength(r.Coords())
}

// SOSPoints returns the interior points flagged as SOS.
func SOSPoints(r models.Route) []models.RoutePoint {
	var out []models.RoutePoint
	for _, p := range r.Points {
		if p.Role == models.RoleSOS {
			out = append(out, p)
		}
	}
	return out
}
