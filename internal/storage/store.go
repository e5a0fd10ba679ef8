package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/safety-tracking/internal/lifecycle"
	"github.com/example/safety-tracking/internal/models"
)

var ErrNotFound = errors.New("not found")

// AlertStore persists alerts. It is the serialization point for status
// changes: transitions are validated and applied atomically.
type AlertStore interface {
	CreateAlert(ctx context.Context, a *models.AlertEvent) error
	GetAlert(ctx context.Context, id string) (models.AlertEvent, error)
	UpdateAlertStatus(ctx context.Context, id string, to models.AlertStatus, at time.Time) (models.AlertEvent, error)
	AddAcknowledgement(ctx context.Context, id string, ack models.Acknowledgement) (models.AlertEvent, error)
}

type LocationStore interface {
	SaveLocation(ctx context.Context, p *models.LocationPoint) error
	History(ctx context.Context, deviceID string) ([]models.LocationPoint, error)
}

type DeviceStore interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	UpsertDevice(ctx context.Context, d models.Device) error
	SetDeviceOnline(ctx context.Context, id string, online bool) (models.Device, error)
	DeleteDevice(ctx context.Context, id string) error
}

type Store interface {
	AlertStore
	LocationStore
	DeviceStore
}

type MemoryStore struct {
	mu        sync.RWMutex
	alerts    map[string]*models.AlertEvent
	locations map[string][]models.LocationPoint
	devices   map[string]models.Device
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:    make(map[string]*models.AlertEvent),
		locations: make(map[string][]models.LocationPoint),
		devices:   make(map[string]models.Device),
	}
}

func (m *MemoryStore) CreateAlert(_ context.Context, a *models.AlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; ok {
		return fmt.Errorf("alert %s already exists", a.ID)
	}
	cp := cloneAlert(*a)
	m.alerts[a.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAlert(_ context.Context, id string) (models.AlertEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return models.AlertEvent{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return cloneAlert(*a), nil
}

func (m *MemoryStore) UpdateAlertStatus(_ context.Context, id string, to models.AlertStatus, at time.Time) (models.AlertEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return models.AlertEvent{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err := lifecycle.ValidateTransition(a.Status, to); err != nil {
		return models.AlertEvent{}, err
	}
	a.Status = to
	if to == models.StatusResolved {
		ts := at
		a.ResolvedAt = &ts
	}
	return cloneAlert(*a), nil
}

func (m *MemoryStore) AddAcknowledgement(_ context.Context, id string, ack models.Acknowledgement) (models.AlertEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return models.AlertEvent{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if !lifecycle.CanAcknowledge(a.Status) {
		return models.AlertEvent{}, lifecycle.ErrAlertResolved
	}
	a.Acknowledgements = append(a.Acknowledgements, ack)
	return cloneAlert(*a), nil
}

func (m *MemoryStore) SaveLocation(_ context.Context, p *models.LocationPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[p.DeviceID] = append(m.locations[p.DeviceID], *p)
	if d, ok := m.devices[p.DeviceID]; ok {
		loc := p.Loc
		d.LastKnown = &loc
		m.devices[p.DeviceID] = d
	}
	return nil
}

// History returns reports in arrival order; ordering by time is the
// reader's job.
func (m *MemoryStore) History(_ context.Context, deviceID string) ([]models.LocationPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.LocationPoint, len(m.locations[deviceID]))
	copy(out, m.locations[deviceID])
	return out, nil
}

func (m *MemoryStore) ListDevices(_ context.Context) ([]models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpsertDevice(_ context.Context, d models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.ID] = d
	return nil
}

func (m *MemoryStore) SetDeviceOnline(_ context.Context, id string, online bool) (models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return models.Device{}, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	d.Online = online
	m.devices[id] = d
	return d, nil
}

func (m *MemoryStore) DeleteDevice(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[id]; !ok {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	delete(m.devices, id)
	delete(m.locations, id)
	return nil
}

func cloneAlert(a models.AlertEvent) models.AlertEvent {
	if a.Acknowledgements != nil {
		acks := make([]models.Acknowledgement, len(a.Acknowledgements))
		copy(acks, a.Acknowledgements)
		a.Acknowledgements = acks
	}
	return a
}
