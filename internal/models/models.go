package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Device struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerID   string `json:"owner_id,omitempty"`
	Online    bool   `json:"online"`
	LastKnown *Coord `json:"last_known,omitempty"`
}

// LocationPoint is one position report of a device. Points of the same
// device are only orderable by RecordedAt, never by arrival order.
type LocationPoint struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Loc        Coord     `json:"loc"`
	Place      string    `json:"place,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`   // m/s
	Heading    *float64  `json:"heading,omitempty"` // degrees
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Source     string    `json:"source,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	IsSOS      bool      `json:"is_sos"`
}

// NewLocationPoint is the body of a location creation request.
type NewLocationPoint struct {
	DeviceID string   `json:"device_id"`
	Loc      Coord    `json:"loc"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	Source   string   `json:"source"`
	IsSOS    bool     `json:"is_sos"`
}

// Position is a captured fix of the device running the client.
type Position struct {
	Loc      Coord
	Accuracy float64 // meters, 0 when unknown
	At       time.Time
}

type ActorRole string

const (
	ActorPolice   ActorRole = "police"
	ActorHospital ActorRole = "hospital"
	ActorAdmin    ActorRole = "admin"
	ActorUser     ActorRole = "user"
)

// IsResponder reports whether the role answers alerts in the field.
func (r ActorRole) IsResponder() bool { return r == ActorPolice || r == ActorHospital }

type Responder struct {
	ID      string    `json:"id"`
	Role    ActorRole `json:"role"`
	Loc     Coord     `json:"loc"`
	Contact string    `json:"contact,omitempty"`
	Online  bool      `json:"online"`
	Updated time.Time `json:"updated"`
}
