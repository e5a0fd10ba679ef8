package devices

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/safety-tracking/internal/models"
)

type fakeBackend struct {
	list        []models.Device
	deleteErr   error
	registerErr error
	deleted     []string
}

func (f *fakeBackend) Devices(context.Context) ([]models.Device, error) { return f.list, nil }

func (f *fakeBackend) RegisterDevice(_ context.Context, d models.Device) (models.Device, error) {
	if f.registerErr != nil {
		return models.Device{}, f.registerErr
	}
	d.OwnerID = "u1"
	return d, nil
}

func (f *fakeBackend) SetDeviceOnline(_ context.Context, id string, online bool) (models.Device, error) {
	return models.Device{ID: id, Name: "renamed-by-backend", Online: online}, nil
}

func (f *fakeBackend) DeleteDevice(_ context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func TestRosterLifecycle(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{list: []models.Device{{ID: "d1", Name: "watch"}, {ID: "d2", Name: "tag"}}}
	r := NewRoster(be)
	require.NoError(t, r.Load(ctx))
	assert.Len(t, r.Devices(), 2)

	_, ok := r.Selected()
	assert.False(t, ok)
	assert.ErrorIs(t, r.Select("nope"), ErrUnknownDevice)
	require.NoError(t, r.Select("d2"))

	d, err := r.SetOnline(ctx, "d2", true)
	require.NoError(t, err)
	assert.True(t, d.Online)
	sel, ok := r.Selected()
	require.True(t, ok)
	assert.True(t, sel.Online)

	require.NoError(t, r.Delete(ctx, "d2"))
	assert.Equal(t, []string{"d2"}, be.deleted)
	assert.Len(t, r.Devices(), 1)
	_, ok = r.Selected()
	assert.False(t, ok)
}

func TestRosterDeleteFailureKeepsDevice(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{list: []models.Device{{ID: "d1"}}, deleteErr: errors.New("forbidden")}
	r := NewRoster(be)
	require.NoError(t, r.Load(ctx))

	assert.Error(t, r.Delete(ctx, "d1"))
	assert.Len(t, r.Devices(), 1)
}

func TestRosterReloadClearsVanishedSelection(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{list: []models.Device{{ID: "d1"}}}
	r := NewRoster(be)
	require.NoError(t, r.Load(ctx))
	require.NoError(t, r.Select("d1"))

	be.list = []models.Device{{ID: "d3"}}
	require.NoError(t, r.Load(ctx))
	_, ok := r.Selected()
	assert.False(t, ok)

	_, err := r.SetOnline(ctx, "d1", false)
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestRosterDraft(t *testing.T) {
	r := NewRoster(&fakeBackend{})
	r.SetDraft(Draft{Name: "new tag", SerialNo: "SN-1"})
	assert.Equal(t, "SN-1", r.Draft().SerialNo)
}

func TestRosterSubmitDraft(t *testing.T) {
	ctx := context.Background()
	r := NewRoster(&fakeBackend{})
	_, err := r.SubmitDraft(ctx)
	assert.ErrorIs(t, err, ErrEmptyDraft)

	r.SetDraft(Draft{Name: "bag tag", SerialNo: "SN-9"})
	d, err := r.SubmitDraft(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SN-9", d.ID)
	assert.Equal(t, "u1", d.OwnerID)
	assert.Len(t, r.Devices(), 1)
	assert.Equal(t, Draft{}, r.Draft())
}

func TestRosterSubmitFailureKeepsDraft(t *testing.T) {
	r := NewRoster(&fakeBackend{registerErr: errors.New("duplicate serial")})
	r.SetDraft(Draft{Name: "bag tag", SerialNo: "SN-9"})
	_, err := r.SubmitDraft(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "SN-9", r.Draft().SerialNo)
	assert.Empty(t, r.Devices())
}
