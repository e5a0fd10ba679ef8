package lifecycle

import (
	"errors"
	"fmt"

	"github.com/example/safety-tracking/internal/models"
)

var (
	ErrAlertResolved      = errors.New("alert already resolved")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrActorNotPermitted  = errors.New("actor not permitted")
	ErrUnknownAlertStatus = errors.New("unknown alert status")
)

// State machine for alert status. Resolved is terminal.
var validTransitions = map[models.AlertStatus][]models.AlertStatus{
	models.StatusPending: {
		models.StatusAssigned,
		models.StatusResolved,
	},
	models.StatusAssigned: {
		models.StatusResolved,
	},
	models.StatusResolved: {
		// Terminal state - no transitions
	},
}

// ValidateTransition checks a status change against the state machine. The
// gateway backend and the client both enforce it.
func ValidateTransition(from, to models.AlertStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAlertStatus, from)
	}
	if from == models.StatusResolved {
		return ErrAlertResolved
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// AllowedTransitions returns the statuses reachable from the given one.
func AllowedTransitions(from models.AlertStatus) []models.AlertStatus {
	return validTransitions[from]
}

// CanAcknowledge reports whether a responder acknowledgement may still be
// recorded against an alert in the given status.
func CanAcknowledge(status models.AlertStatus) bool {
	return status != models.StatusResolved
}

// Authorize checks whether an actor may move an alert to the given status.
// Only field responders assign; administrators may additionally resolve.
func Authorize(actor models.ActorRole, to models.AlertStatus) error {
	switch to {
	case models.StatusAssigned:
		if !actor.IsResponder() {
			return fmt.Errorf("%w: %s cannot respond", ErrActorNotPermitted, actor)
		}
	case models.StatusResolved:
		if !actor.IsResponder() && actor != models.ActorAdmin {
			return fmt.Errorf("%w: %s cannot resolve", ErrActorNotPermitted, actor)
		}
	default:
		return fmt.Errorf("%w: %s cannot set %s", ErrActorNotPermitted, actor, to)
	}
	return nil
}
