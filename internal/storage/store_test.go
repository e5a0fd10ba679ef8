package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/safety-tracking/internal/lifecycle"
	"github.com/example/safety-tracking/internal/models"
)

func newAlert(id string) *models.AlertEvent {
	return &models.AlertEvent{
		ID:        id,
		Type:      "sos",
		Source:    models.SourceSOS,
		Status:    models.StatusPending,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Victim:    models.Victim{DeviceID: "dev-1", Loc: models.Coord{Lat: 27.7, Lon: 85.3}},
	}
}

func TestMemoryStoreAlertLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateAlert(ctx, newAlert("a1")))
	assert.Error(t, s.CreateAlert(ctx, newAlert("a1")))

	ack := models.Acknowledgement{Role: models.ActorPolice, ResponderID: "p1", RespondedAt: time.Now()}
	a, err := s.AddAcknowledgement(ctx, "a1", ack)
	require.NoError(t, err)
	assert.Len(t, a.Acknowledgements, 1)

	a, err = s.UpdateAlertStatus(ctx, "a1", models.StatusAssigned, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, a.Status)
	assert.Nil(t, a.ResolvedAt)

	at := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	a, err = s.UpdateAlertStatus(ctx, "a1", models.StatusResolved, at)
	require.NoError(t, err)
	require.NotNil(t, a.ResolvedAt)
	assert.Equal(t, at, *a.ResolvedAt)

	_, err = s.UpdateAlertStatus(ctx, "a1", models.StatusPending, time.Now())
	assert.ErrorIs(t, err, lifecycle.ErrAlertResolved)
	_, err = s.AddAcknowledgement(ctx, "a1", ack)
	assert.ErrorIs(t, err, lifecycle.ErrAlertResolved)

	got, err := s.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, got.Acknowledgements, 1)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateAlert(ctx, newAlert("a1")))
	a, err := s.AddAcknowledgement(ctx, "a1", models.Acknowledgement{Role: models.ActorHospital, ResponderID: "h1"})
	require.NoError(t, err)
	a.Acknowledgements[0].ResponderID = "mutated"

	got, err := s.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "h1", got.Acknowledgements[0].ResponderID)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.GetAlert(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UpdateAlertStatus(ctx, "missing", models.StatusAssigned, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.SetDeviceOnline(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteDevice(ctx, "missing"), ErrNotFound)
}

func TestMemoryStoreLocationsAndDevices(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UpsertDevice(ctx, models.Device{ID: "d2", Name: "tag"}))
	require.NoError(t, s.UpsertDevice(ctx, models.Device{ID: "d1", Name: "watch"}))

	require.NoError(t, s.SaveLocation(ctx, &models.LocationPoint{ID: "p2", DeviceID: "d1", Loc: models.Coord{Lat: 2, Lon: 2}}))
	require.NoError(t, s.SaveLocation(ctx, &models.LocationPoint{ID: "p1", DeviceID: "d1", Loc: models.Coord{Lat: 1, Lon: 1}}))

	hist, err := s.History(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "p2", hist[0].ID)

	ds, err := s.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, "d1", ds[0].ID)
	require.NotNil(t, ds[0].LastKnown)
	assert.Equal(t, models.Coord{Lat: 1, Lon: 1}, *ds[0].LastKnown)

	d, err := s.SetDeviceOnline(ctx, "d2", true)
	require.NoError(t, err)
	assert.True(t, d.Online)

	require.NoError(t, s.DeleteDevice(ctx, "d1"))
	hist, err = s.History(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}
