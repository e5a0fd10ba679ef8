package models

import "time"

type AlertStatus string

const (
	StatusPending  AlertStatus = "pending"
	StatusAssigned AlertStatus = "assigned"
	StatusResolved AlertStatus = "resolved"
)

// Rank orders statuses along the only allowed direction of travel.
// Unknown statuses rank below pending.
func (s AlertStatus) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusAssigned:
		return 2
	case StatusResolved:
		return 3
	default:
		return 0
	}
}

type AlertSource string

const (
	SourceSOS   AlertSource = "sos"
	SourceAlert AlertSource = "alert"
)

type Victim struct {
	DeviceID string `json:"device_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Loc      Coord  `json:"loc"`
}

type Acknowledgement struct {
	Role        ActorRole `json:"role"`
	ResponderID string    `json:"responder_id"`
	Contact     string    `json:"contact,omitempty"`
	RespondedAt time.Time `json:"responded_at"`
}

type AlertEvent struct {
	ID               string            `json:"id"`
	Type             string            `json:"type"`
	Source           AlertSource       `json:"source"`
	Status           AlertStatus       `json:"status"`
	Severity         string            `json:"severity,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
	SearchRadius     *float64          `json:"search_radius,omitempty"` // meters
	Victim           Victim            `json:"victim"`
	Acknowledgements []Acknowledgement `json:"acknowledgements"`
}

// ResponderSummary is the advisory responder count returned on SOS creation.
type ResponderSummary struct {
	TotalFound int     `json:"totalFound"`
	Radius     float64 `json:"radius,omitempty"`
}

type SOSCreated struct {
	AlertID    string            `json:"alertId"`
	Responders *ResponderSummary `json:"responders,omitempty"`
}

// AlertNotice is pushed to connected responders when an alert changes.
type AlertNotice struct {
	Kind  string     `json:"kind"` // created, status
	Alert AlertEvent `json:"alert"`
}
