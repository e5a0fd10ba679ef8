// Package tracking owns the polling lifecycle of a live route view for one
// device: the initial load, timed refreshes, manual refreshes and teardown.
package tracking

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/safety-tracking/internal/models"
	"github.com/example/safety-tracking/internal/observability"
	"github.com/example/safety-tracking/internal/route"
)

const DefaultPollInterval = 20 * time.Second

type fetchKind string

const (
	kindInitial   fetchKind = "initial"
	kindScheduled fetchKind = "scheduled"
	kindManual    fetchKind = "manual"
)

// FitEvent asks the map to frame every coordinate of the route.
type FitEvent struct {
	DeviceID string
	Coords   []models.Coord
}

// State is what a view renders.
type State struct {
	Route      models.Route
	Loading    bool // initial load in flight
	Refreshing bool // any later fetch in flight
	Closed     bool
	UpdatedAt  time.Time
}

type Option func(*Session)

func WithInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// OnFit registers the fit-to-route handler. Handlers run on the fetching
// goroutine and must not call Close.
func OnFit(fn func(FitEvent)) Option {
	return func(s *Session) { s.onFit = fn }
}

// OnRoute registers a handler receiving every applied state.
func OnRoute(fn func(State)) Option {
	return func(s *Session) { s.onRoute = fn }
}

type Session struct {
	deviceID string
	source   route.Source
	interval time.Duration
	logger   *zap.Logger
	onFit    func(FitEvent)
	onRoute  func(State)

	ctx    context.Context
	cancel context.CancelFunc
	loop   sync.WaitGroup

	// deliver serializes apply+notify against Close so nothing reaches a
	// handler once Close has returned.
	deliver sync.Mutex

	mu         sync.Mutex
	state      State
	applied    bool
	refreshing int
	scheduled  bool // a timed fetch is in flight
	closed     bool
}

// Open starts a session and dispatches the initial load. When online is
// true a refresh runs every interval.
//
// The online flag is read once, here. A device that goes offline keeps
// being polled until the session is closed and reopened; that staleness is
// accepted in exchange for a fixed, predictable schedule.
func Open(src route.Source, deviceID string, online bool, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		deviceID: deviceID,
		source:   src,
		interval: DefaultPollInterval,
		logger:   zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Loading = true
	observability.TrackingSessions.Inc()

	go s.fetch(kindInitial)
	if online {
		s.loop.Add(1)
		go s.poll()
	}
	return s
}

func (s *Session) DeviceID() string { return s.deviceID }

// State returns a snapshot of the current view state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Refresh dispatches an out-of-band fetch. It never touches the schedule
// and may overlap a scheduled fetch; whichever lands last wins.
func (s *Session) Refresh(manual bool) {
	kind := kindScheduled
	if manual {
		kind = kindManual
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.refreshing++
	s.state.Refreshing = true
	s.mu.Unlock()
	go s.fetch(kind)
}

// Close stops the schedule and waits for the timer goroutine to exit. It
// does not wait on the source: fetches already in flight are cancelled and
// whatever they return afterwards is discarded.
func (s *Session) Close() {
	s.deliver.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.deliver.Unlock()
		return
	}
	s.closed = true
	s.state.Closed = true
	s.mu.Unlock()
	s.deliver.Unlock()

	s.cancel()
	s.loop.Wait()
	observability.TrackingSessions.Dec()
}

func (s *Session) poll() {
	defer s.loop.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			if s.scheduled {
				// previous tick still waiting on the source
				s.mu.Unlock()
				continue
			}
			s.scheduled = true
			s.refreshing++
			s.state.Refreshing = true
			s.mu.Unlock()
			go s.fetch(kindScheduled)
		}
	}
}

func (s *Session) fetch(kind fetchKind) {
	points, err := s.source.History(s.ctx, s.deviceID)

	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	if kind == kindScheduled {
		s.scheduled = false
	}
	if s.closed {
		s.mu.Unlock()
		observability.TrackingFetches.WithLabelValues(string(kind), "discarded").Inc()
		return
	}
	if kind != kindInitial {
		s.refreshing--
		s.state.Refreshing = s.refreshing > 0
	}
	if err != nil {
		observability.TrackingFetches.WithLabelValues(string(kind), "error").Inc()
		if kind == kindInitial {
			s.state.Loading = false
			if !s.applied {
				// no history rather than an error screen
				s.state.Route = models.Route{Points: []models.RoutePoint{}}
			}
		}
		snap := s.state
		s.mu.Unlock()
		s.logger.Debug("route fetch failed",
			zap.String("device_id", s.deviceID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		if kind == kindInitial && s.onRoute != nil {
			s.onRoute(snap)
		}
		return
	}

	r := route.Reconstruct(points)
	s.applied = true
	s.state.Route = r
	s.state.UpdatedAt = time.Now()
	if kind == kindInitial {
		s.state.Loading = false
	}
	snap := s.state
	s.mu.Unlock()

	observability.TrackingFetches.WithLabelValues(string(kind), "ok").Inc()
	if r.Dropped > 0 {
		observability.DroppedPoints.Add(float64(r.Dropped))
		s.logger.Debug("dropped malformed points", zap.String("device_id", s.deviceID), zap.Int("dropped", r.Dropped))
	}
	if s.onRoute != nil {
		s.onRoute(snap)
	}
	if r.Len() >= 2 && s.onFit != nil {
		s.onFit(FitEvent{DeviceID: s.deviceID, Coords: r.Coords()})
	}
}
