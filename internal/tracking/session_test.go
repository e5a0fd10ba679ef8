package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/safety-tracking/internal/models"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func points(n int) []models.LocationPoint {
	out := make([]models.LocationPoint, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.LocationPoint{
			ID:         string(rune('a' + i)),
			Loc:        models.Coord{Lat: float64(i), Lon: float64(i)},
			RecordedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	return out
}

// scriptedSource answers each call from a queue; a call with an empty queue
// blocks until release is closed or the context ends.
type scriptedSource struct {
	mu      sync.Mutex
	replies []reply
	calls   atomic.Int32
	release chan struct{}
}

type reply struct {
	points []models.LocationPoint
	err    error
	gate   chan struct{} // optional: wait before answering
}

func (s *scriptedSource) History(ctx context.Context, _ string) ([]models.LocationPoint, error) {
	s.calls.Add(1)
	s.mu.Lock()
	if len(s.replies) == 0 {
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.release:
			return points(1), nil
		}
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	s.mu.Unlock()
	if r.gate != nil {
		<-r.gate
	}
	return r.points, r.err
}

func TestInitialLoadAppliesRouteAndFits(t *testing.T) {
	src := &scriptedSource{replies: []reply{{points: points(3)}}}
	var fits []FitEvent
	var mu sync.Mutex
	s := Open(src, "dev-1", false, OnFit(func(e FitEvent) {
		mu.Lock()
		fits = append(fits, e)
		mu.Unlock()
	}))
	defer s.Close()

	require.Eventually(t, func() bool { return !s.State().Loading }, time.Second, 5*time.Millisecond)
	st := s.State()
	assert.Equal(t, 3, st.Route.Len())
	assert.False(t, st.Refreshing)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fits, 1)
	assert.Len(t, fits[0].Coords, 3)
	assert.Equal(t, "dev-1", fits[0].DeviceID)
}

func TestNoFitForSinglePoint(t *testing.T) {
	src := &scriptedSource{replies: []reply{{points: points(1)}}}
	var fitted atomic.Bool
	s := Open(src, "dev-1", false, OnFit(func(FitEvent) { fitted.Store(true) }))
	defer s.Close()

	require.Eventually(t, func() bool { return !s.State().Loading }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.RoleSingle, s.State().Route.Points[0].Role)
	assert.False(t, fitted.Load())
}

func TestInitialFailureYieldsEmptyRoute(t *testing.T) {
	src := &scriptedSource{replies: []reply{{err: errors.New("store down")}}}
	s := Open(src, "dev-1", false)
	defer s.Close()

	require.Eventually(t, func() bool { return !s.State().Loading }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.State().Route.Len())
	assert.NotNil(t, s.State().Route.Points)
}

func TestRefreshFailureKeepsLastRoute(t *testing.T) {
	src := &scriptedSource{replies: []reply{{points: points(2)}, {err: errors.New("timeout")}}}
	s := Open(src, "dev-1", false)
	defer s.Close()
	require.Eventually(t, func() bool { return !s.State().Loading }, time.Second, 5*time.Millisecond)

	s.Refresh(true)
	require.Eventually(t, func() bool { return src.calls.Load() == 2 && !s.State().Refreshing }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, s.State().Route.Len())
}

func TestScheduledRefreshOnlyWhenOnline(t *testing.T) {
	src := &scriptedSource{replies: []reply{{points: points(1)}, {points: points(2)}, {points: points(3)}}}
	s := Open(src, "dev-1", true, WithInterval(20*time.Millisecond))
	require.Eventually(t, func() bool { return s.State().Route.Len() == 3 }, time.Second, 5*time.Millisecond)
	s.Close()

	offline := &scriptedSource{replies: []reply{{points: points(1)}, {points: points(2)}}}
	s2 := Open(offline, "dev-2", false, WithInterval(10*time.Millisecond))
	defer s2.Close()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), offline.calls.Load())
}

func TestLastArrivalWins(t *testing.T) {
	slow := make(chan struct{})
	src := &scriptedSource{replies: []reply{
		{points: points(1)},
		{points: points(4), gate: slow}, // requested first, lands last
		{points: points(2)},
	}}
	s := Open(src, "dev-1", false)
	defer s.Close()
	require.Eventually(t, func() bool { return !s.State().Loading }, time.Second, 5*time.Millisecond)

	s.Refresh(true)
	require.Eventually(t, func() bool { return src.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	s.Refresh(true)
	require.Eventually(t, func() bool { return s.State().Route.Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.State().Refreshing)

	close(slow)
	require.Eventually(t, func() bool { return !s.State().Refreshing }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, s.State().Route.Len())
}

func TestCloseDiscardsInFlightResult(t *testing.T) {
	gate := make(chan struct{})
	src := &scriptedSource{replies: []reply{{points: points(3), gate: gate}}}
	var notified atomic.Int32
	s := Open(src, "dev-1", true,
		WithInterval(time.Hour),
		OnRoute(func(State) { notified.Add(1) }),
		OnFit(func(FitEvent) { notified.Add(1) }),
	)
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.Close()
	close(gate)
	time.Sleep(30 * time.Millisecond)

	st := s.State()
	assert.True(t, st.Closed)
	assert.True(t, st.Loading)
	assert.Equal(t, 0, st.Route.Len())
	assert.Zero(t, notified.Load())
}

func TestNoFetchAfterClose(t *testing.T) {
	src := &scriptedSource{replies: []reply{{points: points(1)}}, release: make(chan struct{})}
	s := Open(src, "dev-1", true, WithInterval(5*time.Millisecond))
	require.Eventually(t, func() bool { return src.calls.Load() >= 2 }, time.Second, time.Millisecond)
	s.Close()
	s.Close()

	calls := src.calls.Load()
	s.Refresh(true)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, src.calls.Load())
}

func TestCloseDoesNotWaitOnStuckScheduledFetch(t *testing.T) {
	stuck := make(chan struct{})
	src := &scriptedSource{replies: []reply{
		{points: points(1)},
		{points: points(3), gate: stuck}, // ignores ctx
	}}
	var routes atomic.Int32
	s := Open(src, "dev-1", true,
		WithInterval(10*time.Millisecond),
		OnRoute(func(State) { routes.Add(1) }),
	)
	require.Eventually(t, func() bool { return src.calls.Load() == 2 }, time.Second, time.Millisecond)

	// later ticks wait for the stuck fetch instead of stacking up behind it
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), src.calls.Load())
	assert.True(t, s.State().Refreshing)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on the source")
	}
	delivered := routes.Load()

	close(stuck)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, s.State().Route.Len())
	assert.Equal(t, delivered, routes.Load())
}
