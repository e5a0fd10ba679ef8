// Package sos raises an emergency for a device: it obtains location
// permission, captures the current position, creates the alert and drops an
// SOS marker on the device's route.
package sos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/safety-tracking/internal/models"
	"github.com/example/safety-tracking/internal/observability"
	"github.com/example/safety-tracking/internal/route"
)

const (
	DefaultLocationTimeout = 15 * time.Second
	markerSource           = "app"
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrLocationUnavailable = errors.New("current location unavailable")
	ErrAlertCreationFailed = errors.New("alert creation failed")
)

type PermissionRequester interface {
	RequestLocationPermission(ctx context.Context) (bool, error)
}

type Locator interface {
	CurrentPosition(ctx context.Context) (models.Position, error)
}

// Gateway is the slice of the responder action gateway the workflow needs.
type Gateway interface {
	CreateSOS(ctx context.Context, loc models.Coord) (models.SOSCreated, error)
	CreateLocationPoint(ctx context.Context, p models.NewLocationPoint) error
}

type Outcome string

const (
	OutcomePermissionDenied       Outcome = "permission_denied"
	OutcomeLocationUnavailable    Outcome = "location_unavailable"
	OutcomeAlertCreationFailed    Outcome = "alert_creation_failed"
	OutcomeRespondersFound        Outcome = "responders_found"
	OutcomeSearchingForResponders Outcome = "searching_for_responders"
)

type Result struct {
	Outcome         Outcome
	AlertID         string
	RespondersFound int
	SearchRadius    float64
	Position        models.Position
	// MarkerWritten is false when the best-effort SOS location write failed.
	MarkerWritten bool
}

// Succeeded reports whether an alert exists.
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeRespondersFound || r.Outcome == OutcomeSearchingForResponders
}

type Workflow struct {
	Permissions     PermissionRequester
	Locator         Locator
	Gateway         Gateway
	LocationTimeout time.Duration
	Logger          *zap.Logger
}

// Trigger runs the workflow once. Concurrent calls are independent and each
// creates its own alert.
func (w *Workflow) Trigger(ctx context.Context, deviceID string) (Result, error) {
	log := w.logger().With(zap.String("device_id", deviceID))

	granted, err := w.Permissions.RequestLocationPermission(ctx)
	if err != nil || !granted {
		observability.SOSTriggers.WithLabelValues(string(OutcomePermissionDenied)).Inc()
		if err != nil {
			return Result{Outcome: OutcomePermissionDenied}, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		return Result{Outcome: OutcomePermissionDenied}, ErrPermissionDenied
	}

	pos, err := w.capture(ctx)
	if err != nil {
		observability.SOSTriggers.WithLabelValues(string(OutcomeLocationUnavailable)).Inc()
		log.Warn("sos position capture failed", zap.Error(err))
		return Result{Outcome: OutcomeLocationUnavailable}, fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}

	created, err := w.Gateway.CreateSOS(ctx, pos.Loc)
	if err != nil {
		observability.SOSTriggers.WithLabelValues(string(OutcomeAlertCreationFailed)).Inc()
		log.Error("sos creation failed", zap.Error(err))
		return Result{Outcome: OutcomeAlertCreationFailed, Position: pos}, fmt.Errorf("%w: %w", ErrAlertCreationFailed, err)
	}

	res := Result{AlertID: created.AlertID, Position: pos, Outcome: OutcomeSearchingForResponders}
	if created.Responders != nil {
		res.SearchRadius = created.Responders.Radius
		if created.Responders.TotalFound > 0 {
			res.Outcome = OutcomeRespondersFound
			res.RespondersFound = created.Responders.TotalFound
		}
	}

	// the alert already exists; the map marker is best-effort
	marker := models.NewLocationPoint{DeviceID: deviceID, Loc: pos.Loc, Source: markerSource, IsSOS: true}
	if pos.Accuracy > 0 {
		acc := pos.Accuracy
		marker.Accuracy = &acc
	}
	if err := w.Gateway.CreateLocationPoint(ctx, marker); err != nil {
		observability.SupplementaryFails.Inc()
		log.Warn("sos marker write failed", zap.String("alert_id", created.AlertID), zap.Error(err))
	} else {
		res.MarkerWritten = true
	}

	observability.SOSTriggers.WithLabelValues(string(res.Outcome)).Inc()
	log.Info("sos raised",
		zap.String("alert_id", res.AlertID),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("responders", res.RespondersFound),
	)
	return res, nil
}

// capture bounds the position request even when the locator ignores its
// context.
func (w *Workflow) capture(ctx context.Context) (models.Position, error) {
	timeout := w.LocationTimeout
	if timeout <= 0 {
		timeout = DefaultLocationTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type fix struct {
		pos models.Position
		err error
	}
	done := make(chan fix, 1)
	go func() {
		p, err := w.Locator.CurrentPosition(ctx)
		done <- fix{p, err}
	}()

	select {
	case <-ctx.Done():
		return models.Position{}, ctx.Err()
	case f := <-done:
		if f.err != nil {
			return models.Position{}, f.err
		}
		if !route.ValidCoord(f.pos.Loc) {
			return models.Position{}, fmt.Errorf("invalid fix %.6f,%.6f", f.pos.Loc.Lat, f.pos.Loc.Lon)
		}
		return f.pos, nil
	}
}

func (w *Workflow) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}
