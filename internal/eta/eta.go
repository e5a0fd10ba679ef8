package eta

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/example/safety-tracking/internal/geo"
	"github.com/example/safety-tracking/internal/models"
)

// Client is the interface used by the responder search to get ETAs.
type Client interface {
	EstimateSeconds(ctx context.Context, from, to models.Coord) (float64, error)
}

// Cache holds ETA lookups keyed by coordinate pair.
type Cache struct {
	c *gocache.Cache
}

// NewCache creates a cache with the provided TTL. A zero TTL never expires.
func NewCache(ttl time.Duration) *Cache {
	cleanup := 2 * ttl
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &Cache{c: gocache.New(ttl, cleanup)}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

// ~1m resolution is plenty for arrival estimates
func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lon)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (float64, bool) {
	v, ok := c.c.Get(keyFor(a, b))
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, v float64) {
	c.c.SetDefault(keyFor(a, b), v)
}

// EstimateSeconds is the straight-line fallback: distance / speed_mps.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 12.0 // ~43 km/h, urban emergency driving
	}
	return geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon) / speedMps
}
