package models

type RouteRole string

const (
	RoleStart    RouteRole = "start"
	RoleWaypoint RouteRole = "waypoint"
	RoleSOS      RouteRole = "sos"
	RoleCurrent  RouteRole = "current"
	RoleSingle   RouteRole = "single"
)

type RoutePoint struct {
	LocationPoint
	Role RouteRole `json:"role"`
}

// Route is the time-ordered, role-annotated view of a device's reports.
// It is derived on every fetch and never persisted.
type Route struct {
	Points  []RoutePoint `json:"points"`
	Dropped int          `json:"dropped"`
}

func (r Route) Len() int { return len(r.Points) }

func (r Route) Coords() []Coord {
	out := make([]Coord, 0, len(r.Points))
	for _, p := range r.Points {
		out = append(out, p.Loc)
	}
	return out
}

// Current returns the latest point, if any.
func (r Route) Current() (RoutePoint, bool) {
	if len(r.Points) == 0 {
		return RoutePoint{}, false
	}
	return r.Points[len(r.Points)-1], true
}
