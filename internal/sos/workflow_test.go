package sos

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/safety-tracking/internal/models"
)

type fakePermissions struct {
	granted bool
	err     error
}

func (f fakePermissions) RequestLocationPermission(context.Context) (bool, error) {
	return f.granted, f.err
}

type fakeLocator struct {
	pos   models.Position
	err   error
	hang  bool
	calls int
}

func (f *fakeLocator) CurrentPosition(ctx context.Context) (models.Position, error) {
	f.calls++
	if f.hang {
		// ignores ctx on purpose
		time.Sleep(time.Hour)
	}
	return f.pos, f.err
}

type fakeGateway struct {
	mu        sync.Mutex
	created   models.SOSCreated
	createErr error
	markerErr error
	sosCalls  []models.Coord
	markers   []models.NewLocationPoint
}

func (f *fakeGateway) CreateSOS(_ context.Context, loc models.Coord) (models.SOSCreated, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sosCalls = append(f.sosCalls, loc)
	return f.created, f.createErr
}

func (f *fakeGateway) CreateLocationPoint(_ context.Context, p models.NewLocationPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markers = append(f.markers, p)
	return f.markerErr
}

var here = models.Position{Loc: models.Coord{Lat: 27.7, Lon: 85.3}, Accuracy: 8}

func TestTriggerPermissionDenied(t *testing.T) {
	gw := &fakeGateway{}
	loc := &fakeLocator{pos: here}
	w := &Workflow{Permissions: fakePermissions{granted: false}, Locator: loc, Gateway: gw}

	res, err := w.Trigger(context.Background(), "dev-1")
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, OutcomePermissionDenied, res.Outcome)
	assert.Zero(t, loc.calls)
	assert.Empty(t, gw.sosCalls)
	assert.Empty(t, gw.markers)
}

func TestTriggerPermissionErrorCountsAsDenied(t *testing.T) {
	w := &Workflow{Permissions: fakePermissions{err: errors.New("prompt dismissed")}, Locator: &fakeLocator{}, Gateway: &fakeGateway{}}
	res, err := w.Trigger(context.Background(), "dev-1")
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.False(t, res.Succeeded())
}

func TestTriggerLocationFailure(t *testing.T) {
	gw := &fakeGateway{}
	w := &Workflow{Permissions: fakePermissions{granted: true}, Locator: &fakeLocator{err: errors.New("gps off")}, Gateway: gw}

	res, err := w.Trigger(context.Background(), "dev-1")
	require.ErrorIs(t, err, ErrLocationUnavailable)
	assert.Equal(t, OutcomeLocationUnavailable, res.Outcome)
	assert.Empty(t, gw.sosCalls)
	assert.Empty(t, gw.markers)
}

func TestTriggerLocationTimeoutIsBounded(t *testing.T) {
	gw := &fakeGateway{}
	w := &Workflow{Permissions: fakePermissions{granted: true}, Locator: &fakeLocator{hang: true}, Gateway: gw, LocationTimeout: 20 * time.Millisecond}

	start := time.Now()
	res, err := w.Trigger(context.Background(), "dev-1")
	require.ErrorIs(t, err, ErrLocationUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, OutcomeLocationUnavailable, res.Outcome)
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, gw.sosCalls)
}

func TestTriggerCreationFailureWritesNoMarker(t *testing.T) {
	gw := &fakeGateway{createErr: errors.New("502")}
	w := &Workflow{Permissions: fakePermissions{granted: true}, Locator: &fakeLocator{pos: here}, Gateway: gw}

	res, err := w.Trigger(context.Background(), "dev-1")
	require.ErrorIs(t, err, ErrAlertCreationFailed)
	assert.Equal(t, OutcomeAlertCreationFailed, res.Outcome)
	assert.Len(t, gw.sosCalls, 1)
	assert.Empty(t, gw.markers)
}

func TestTriggerRespondersFound(t *testing.T) {
	gw := &fakeGateway{created: models.SOSCreated{AlertID: "a-1", Responders: &models.ResponderSummary{TotalFound: 3, Radius: 2500}}}
	w := &Workflow{Permissions: fakePermissions{granted: true}, Locator: &fakeLocator{pos: here}, Gateway: gw}

	res, err := w.Trigger(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRespondersFound, res.Outcome)
	assert.Equal(t, 3, res.RespondersFound)
	assert.Equal(t, "a-1", res.AlertID)
	assert.True(t, res.MarkerWritten)

	require.Len(t, gw.markers, 1)
	m := gw.markers[0]
	assert.Equal(t, "dev-1", m.DeviceID)
	assert.Equal(t, here.Loc, m.Loc)
	assert.Equal(t, "app", m.Source)
	assert.True(t, m.IsSOS)
	require.NotNil(t, m.Accuracy)
	assert.Equal(t, 8.0, *m.Accuracy)
}

func TestTriggerSearchingWhenNoCount(t *testing.T) {
	for name, created := range map[string]models.SOSCreated{
		"absent": {AlertID: "a-1"},
		"zero":   {AlertID: "a-1", Responders: &models.ResponderSummary{TotalFound: 0}},
	} {
		t.Run(name, func(t *testing.T) {
			w := &Workflow{Permissions: fakePermissions{granted: true}, Locator: &fakeLocator{pos: here}, Gateway: &fakeGateway{created: created}}
			res, err := w.Trigger(context.Background(), "dev-1")
			require.NoError(t, err)
			assert.Equal(t, OutcomeSearchingForResponders, res.Outcome)
		})
	}
}

func TestTriggerMarkerFailureStillSucceeds(t *testing.T) {
	gw := &fakeGateway{created: models.SOSCreated{AlertID: "a-1"}, markerErr: errors.New("write failed")}
	w := &Workflow{Permissions: fakePermissions{granted: true}, Locator: &fakeLocator{pos: here}, Gateway: gw}

	res, err := w.Trigger(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.False(t, res.MarkerWritten)
	assert.Equal(t, "a-1", res.AlertID)
}

func TestConcurrentTriggersAreIndependent(t *testing.T) {
	gw := &fakeGateway{created: models.SOSCreated{AlertID: "a"}}
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := &Workflow{Permissions: fakePermissions{granted: true}, Locator: &fakeLocator{pos: here}, Gateway: gw}
			_, err := w.Trigger(context.Background(), "dev-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, gw.sosCalls, 2)
	assert.Len(t, gw.markers, 2)
}
