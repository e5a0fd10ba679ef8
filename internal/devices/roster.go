// Package devices holds the user's device list, the selected device and the
// new-device draft as one owned aggregate.
package devices

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/safety-tracking/internal/models"
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrEmptyDraft    = errors.New("device draft needs a serial number")
)

type Backend interface {
	Devices(ctx context.Context) ([]models.Device, error)
	RegisterDevice(ctx context.Context, d models.Device) (models.Device, error)
	SetDeviceOnline(ctx context.Context, deviceID string, online bool) (models.Device, error)
	DeleteDevice(ctx context.Context, deviceID string) error
}

// Draft is a device being registered but not yet submitted.
type Draft struct {
	Name     string
	SerialNo string
}

type Roster struct {
	backend Backend

	mu       sync.RWMutex
	devices  []models.Device
	selected string
	draft    Draft
}

func NewRoster(b Backend) *Roster {
	return &Roster{backend: b}
}

// Load replaces the list with the backend's. A selection that no longer
// exists is cleared.
func (r *Roster) Load(ctx context.Context) error {
	list, err := r.backend.Devices(ctx)
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = list
	if _, ok := r.indexLocked(r.selected); !ok {
		r.selected = ""
	}
	return nil
}

func (r *Roster) Devices() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Device, len(r.devices))
	copy(out, r.devices)
	return out
}

func (r *Roster) Select(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.indexLocked(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	r.selected = id
	return nil
}

// Selected returns the current device, if any.
func (r *Roster) Selected() (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.indexLocked(r.selected)
	if !ok {
		return models.Device{}, false
	}
	return r.devices[i], true
}

func (r *Roster) SetOnline(ctx context.Context, id string, online bool) (models.Device, error) {
	r.mu.RLock()
	_, ok := r.indexLocked(id)
	r.mu.RUnlock()
	if !ok {
		return models.Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	d, err := r.backend.SetDeviceOnline(ctx, id, online)
	if err != nil {
		return models.Device{}, fmt.Errorf("set device %s online=%t: %w", id, online, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.indexLocked(id); ok {
		r.devices[i] = d
	}
	return d, nil
}

func (r *Roster) Delete(ctx context.Context, id string) error {
	if err := r.backend.DeleteDevice(ctx, id); err != nil {
		return fmt.Errorf("delete device %s: %w", id, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.indexLocked(id); ok {
		r.devices = append(r.devices[:i], r.devices[i+1:]...)
	}
	if r.selected == id {
		r.selected = ""
	}
	return nil
}

func (r *Roster) Draft() Draft {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.draft
}

func (r *Roster) SetDraft(d Draft) {
	r.mu.Lock()
	r.draft = d
	r.mu.Unlock()
}

// SubmitDraft registers the draft under its serial number, appends the
// result to the list and clears the draft. A failed submit keeps the draft.
func (r *Roster) SubmitDraft(ctx context.Context) (models.Device, error) {
	draft := r.Draft()
	if draft.SerialNo == "" {
		return models.Device{}, ErrEmptyDraft
	}
	d, err := r.backend.RegisterDevice(ctx, models.Device{ID: draft.SerialNo, Name: draft.Name})
	if err != nil {
		return models.Device{}, fmt.Errorf("register device %s: %w", draft.SerialNo, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.indexLocked(d.ID); ok {
		r.devices[i] = d
	} else {
		r.devices = append(r.devices, d)
	}
	r.draft = Draft{}
	return d, nil
}

func (r *Roster) indexLocked(id string) (int, bool) {
	if id == "" {
		return 0, false
	}
	for i, d := range r.devices {
		if d.ID == id {
			return i, true
		}
	}
	return 0, false
}
