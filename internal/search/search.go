package search

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/example/safety-tracking/internal/eta"
	"github.com/example/safety-tracking/internal/geo"
	"github.com/example/safety-tracking/internal/models"
	"github.com/example/safety-tracking/internal/observability"
)

var DefaultRadii = []float64{1000, 2500, 5000, 10000}

type Candidate struct {
	Responder  models.Responder `json:"responder"`
	DistanceM  float64          `json:"distance_m"`
	ETASeconds float64          `json:"eta_seconds"`
}

type Result struct {
	Radius     float64     `json:"radius"`
	TotalFound int         `json:"total_found"`
	Candidates []Candidate `json:"candidates"`
}

// Nearest returns the best ranked candidate for a role.
func (r Result) Nearest(role models.ActorRole) (Candidate, bool) {
	for _, c := range r.Candidates {
		if c.Responder.Role == role {
			return c, true
		}
	}
	return Candidate{}, false
}

// Service widens the search radius step by step until at least one online
// responder is inside it. The radius reached is what the alert reports as
// its current search radius.
type Service struct {
	Geo             geo.Geo
	Radii           []float64 // ascending, meters
	Limit           int
	DefaultSpeedMps float64
	ETAClient       eta.Client // optional OSRM client
	ETACache        *eta.Cache // optional ETA cache
	Logger          *zap.Logger
}

func (s *Service) Find(ctx context.Context, origin models.Coord) (Result, error) {
	radii := s.Radii
	if len(radii) == 0 {
		radii = DefaultRadii
	}
	limit := s.Limit
	if limit <= 0 {
		limit = 10
	}
	var (
		hits   []geo.Hit
		radius float64
	)
	for _, r := range radii {
		radius = r
		found, err := s.Geo.Within(ctx, origin, r, limit)
		if err != nil {
			return Result{}, fmt.Errorf("responder search at %.0fm: %w", r, err)
		}
		if len(found) > 0 {
			hits = found
			break
		}
	}
	observability.SearchRadius.Observe(radius)

	cands := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		cands = append(cands, Candidate{Responder: h.Responder, DistanceM: h.DistanceM, ETASeconds: s.estimate(ctx, h.Responder.Loc, origin)})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].ETASeconds < cands[j].ETASeconds })

	s.logger().Debug("responder search finished",
		zap.Float64("radius_m", radius),
		zap.Int("found", len(cands)),
	)
	return Result{Radius: radius, TotalFound: len(cands), Candidates: cands}, nil
}

func (s *Service) estimate(ctx context.Context, from, to models.Coord) float64 {
	if s.ETACache != nil {
		if v, ok := s.ETACache.Get(from, to); ok {
			return v
		}
	}
	if s.ETAClient != nil {
		v, err := s.ETAClient.EstimateSeconds(ctx, from, to)
		if err == nil {
			if s.ETACache != nil {
				s.ETACache.Set(from, to, v)
			}
			return v
		}
		// fallback to naive estimator
		s.logger().Debug("eta lookup failed", zap.Error(err))
	}
	return eta.EstimateSeconds(from, to, s.DefaultSpeedMps)
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
