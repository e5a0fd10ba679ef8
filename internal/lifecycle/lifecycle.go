// Package lifecycle drives an alert from pending through assigned to
// resolved on behalf of responders and administrators, and derives the
// responder slots and search radius a view shows.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/example/safety-tracking/internal/models"
	"github.com/example/safety-tracking/internal/observability"
)

// StatusUpdater persists a transition and returns the authoritative record.
type StatusUpdater interface {
	UpdateAlertStatus(ctx context.Context, alertID string, status models.AlertStatus) (models.AlertEvent, error)
}

type SlotState string

const (
	SlotWaiting   SlotState = "waiting"
	SlotResponded SlotState = "responded"
)

// ResponderSlot is one of the two fixed responder rows of an alert view.
type ResponderSlot struct {
	Role  models.ActorRole
	State SlotState
	Ack   *models.Acknowledgement
}

type QuickActions struct {
	CanRespond bool
	CanResolve bool
}

// Lifecycle holds the client's copy of one alert. The backend serializes
// transitions; this type never moves the status past what it last reported.
type Lifecycle struct {
	gateway StatusUpdater
	logger  *zap.Logger

	mu    sync.RWMutex
	alert models.AlertEvent
}

func New(gateway StatusUpdater, alert models.AlertEvent, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{gateway: gateway, alert: alert, logger: logger}
}

// Alert returns a copy of the current record.
func (l *Lifecycle) Alert() models.AlertEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyAlert(l.alert)
}

func (l *Lifecycle) Status() models.AlertStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.alert.Status
}

// Respond marks a pending alert as assigned. Acknowledgement records are
// written separately by the backend once a responder identity is known, so
// an assigned alert with no acknowledgements is a normal transient state.
func (l *Lifecycle) Respond(ctx context.Context, actor models.ActorRole) error {
	if err := Authorize(actor, models.StatusAssigned); err != nil {
		return err
	}
	return l.transition(ctx, models.StatusAssigned)
}

// Resolve closes the alert. Field responders and administrators may resolve.
func (l *Lifecycle) Resolve(ctx context.Context, actor models.ActorRole) error {
	if err := Authorize(actor, models.StatusResolved); err != nil {
		return err
	}
	return l.transition(ctx, models.StatusResolved)
}

func (l *Lifecycle) transition(ctx context.Context, to models.AlertStatus) error {
	l.mu.RLock()
	id, from := l.alert.ID, l.alert.Status
	l.mu.RUnlock()

	if err := ValidateTransition(from, to); err != nil {
		return err
	}
	updated, err := l.gateway.UpdateAlertStatus(ctx, id, to)
	if err != nil {
		return fmt.Errorf("update alert %s to %s: %w", id, to, err)
	}
	if !l.Apply(updated) {
		l.logger.Warn("backend returned a record that was not applied",
			zap.String("alert_id", id),
			zap.String("got_id", updated.ID),
			zap.String("got", string(updated.Status)),
		)
		return nil
	}
	observability.AlertTransitions.WithLabelValues(string(to)).Inc()
	l.logger.Info("alert transitioned",
		zap.String("alert_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(updated.Status)),
	)
	return nil
}

// Apply adopts a record fetched from the backend. A record reporting an
// earlier status than the one held is stale and ignored.
func (l *Lifecycle) Apply(ev models.AlertEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ev.ID != "" && l.alert.ID != "" && ev.ID != l.alert.ID {
		return false
	}
	if ev.Status.Rank() < l.alert.Status.Rank() {
		l.logger.Debug("ignoring stale alert record",
			zap.String("alert_id", l.alert.ID),
			zap.String("held", string(l.alert.Status)),
			zap.String("got", string(ev.Status)),
		)
		return false
	}
	if l.alert.Status == models.StatusResolved {
		// late acknowledgements are not shown as actionable
		ev.Acknowledgements = l.alert.Acknowledgements
	}
	l.alert = copyAlert(ev)
	return true
}

// Slots returns the police and hospital slots in that order. When the
// backend reports several acknowledgements for a role the first one wins.
func (l *Lifecycle) Slots() []ResponderSlot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return SlotsFor(l.alert)
}

func SlotsFor(ev models.AlertEvent) []ResponderSlot {
	slots := []ResponderSlot{{Role: models.ActorPolice, State: SlotWaiting}, {Role: models.ActorHospital, State: SlotWaiting}}
	for i := range slots {
		for _, ack := range ev.Acknowledgements {
			if ack.Role == slots[i].Role {
				a := ack
				slots[i].State = SlotResponded
				slots[i].Ack = &a
				break
			}
		}
	}
	return slots
}

// SearchRadius is only meaningful while the alert is unresolved.
func (l *Lifecycle) SearchRadius() (float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.alert.Status == models.StatusResolved || l.alert.SearchRadius == nil {
		return 0, false
	}
	return *l.alert.SearchRadius, true
}

// QuickActions reports which one-tap actions the actor gets.
func (l *Lifecycle) QuickActions(actor models.ActorRole) QuickActions {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !actor.IsResponder() || l.alert.Status == models.StatusResolved {
		return QuickActions{}
	}
	return QuickActions{
		CanRespond: l.alert.Status == models.StatusPending,
		CanResolve: true,
	}
}

func copyAlert(ev models.AlertEvent) models.AlertEvent {
	if ev.Acknowledgements != nil {
		acks := make([]models.Acknowledgement, len(ev.Acknowledgements))
		copy(acks, ev.Acknowledgements)
		ev.Acknowledgements = acks
	}
	return ev
}
