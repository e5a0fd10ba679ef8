package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/safety-tracking/internal/models"
)

// Geo is the responder position index used by the responder search.
type Geo interface {
	Within(ctx context.Context, origin models.Coord, radiusM float64, limit int) ([]Hit, error)
	Upsert(ctx context.Context, r models.Responder) error
}

// Hit is a responder found inside a search radius.
type Hit struct {
	Responder models.Responder
	DistanceM float64
}

type Index struct {
	mu         sync.RWMutex
	responders map[string]models.Responder
}

func NewIndex() *Index {
	return &Index{responders: make(map[string]models.Responder)}
}

func (g *Index) Upsert(_ context.Context, r models.Responder) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r.Updated.IsZero() {
		r.Updated = time.Now()
	}
	g.responders[r.ID] = r
	return nil
}

// naive scan; fine for the responder counts a single city produces
func (g *Index) Within(_ context.Context, origin models.Coord, radiusM float64, limit int) ([]Hit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	hits := make([]Hit, 0, len(g.responders))
	for _, r := range g.responders {
		if !r.Online {
			continue
		}
		dist := Haversine(origin.Lat, origin.Lon, r.Loc.Lat, r.Loc.Lon)
		if dist > radiusM {
			continue
		}
		hits = append(hits, Hit{Responder: r, DistanceM: dist})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].DistanceM < hits[j].DistanceM })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// PathLength sums the haversine legs of an ordered coordinate list.
func PathLength(coords []models.Coord) float64 {
	var total float64
	for i := 1; i < len(coords); i++ {
		total += Haversine(coords[i-1].Lat, coords[i-1].Lon, coords[i].Lat, coords[i].Lon)
	}
	return total
}
