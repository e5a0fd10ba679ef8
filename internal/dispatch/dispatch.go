// Package dispatch pushes alert notices to connected responders.
package dispatch

import (
	"errors"

	"github.com/example/safety-tracking/internal/models"
)

type Notifier interface {
	Notify(responderID string, n models.AlertNotice) error
	Broadcast(n models.AlertNotice) int
}

// NotifyAll sends n to each responder and returns how many were reached.
// Responders without a live session are skipped.
func NotifyAll(nf Notifier, responderIDs []string, n models.AlertNotice) (int, error) {
	sent := 0
	var errs []error
	for _, id := range responderIDs {
		err := nf.Notify(id, n)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrNoSession):
		default:
			errs = append(errs, err)
		}
	}
	return sent, errors.Join(errs...)
}

// Nop discards notices.
type Nop struct{}

func (Nop) Notify(string, models.AlertNotice) error { return ErrNoSession }
func (Nop) Broadcast(models.AlertNotice) int        { return 0 }
