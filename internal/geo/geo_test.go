package geo

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/safety-tracking/internal/models"
)

func TestHaversineZero(t *testing.T) {
	assert.Equal(t, 0.0, Haversine(0, 0, 0, 0))
}

func TestHaversineOneDegreeLatitude(t *testing.T) {
	d := Haversine(0, 0, 1, 0)
	assert.InDelta(t, 111195, d, 5)
}

func TestPathLength(t *testing.T) {
	coords := []models.Coord{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 0}, {Lat: 2, Lon: 0}}
	assert.InDelta(t, 2*111195, PathLength(coords), 10)
	assert.Equal(t, 0.0, PathLength(coords[:1]))
}

func TestIndexWithinFiltersRadiusAndOffline(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	require.NoError(t, idx.Upsert(ctx, models.Responder{ID: "near", Role: models.ActorPolice, Loc: models.Coord{Lat: 0.001, Lon: 0}, Online: true}))
	require.NoError(t, idx.Upsert(ctx, models.Responder{ID: "far", Role: models.ActorHospital, Loc: models.Coord{Lat: 0.1, Lon: 0}, Online: true}))
	require.NoError(t, idx.Upsert(ctx, models.Responder{ID: "off", Role: models.ActorPolice, Loc: models.Coord{Lat: 0.0005, Lon: 0}, Online: false}))

	hits, err := idx.Within(ctx, models.Coord{}, 1000, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "near", hits[0].Responder.ID)

	hits, err = idx.Within(ctx, models.Coord{}, 20000, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].Responder.ID)
	assert.Equal(t, "far", hits[1].Responder.ID)
}

func TestRedisGeoRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	g := NewRedisGeo(client, "responders_geo")
	require.NoError(t, g.Upsert(ctx, models.Responder{ID: "p1", Role: models.ActorPolice, Contact: "+100", Loc: models.Coord{Lat: 10.001, Lon: 20}, Online: true}))
	require.NoError(t, g.Upsert(ctx, models.Responder{ID: "p2", Role: models.ActorPolice, Loc: models.Coord{Lat: 10.002, Lon: 20}, Online: false}))

	hits, err := g.Within(ctx, models.Coord{Lat: 10, Lon: 20}, 1000, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p1", hits[0].Responder.ID)
	assert.Equal(t, models.ActorPolice, hits[0].Responder.Role)
	assert.Equal(t, "+100", hits[0].Responder.Contact)
	assert.InDelta(t, 111, hits[0].DistanceM, 5)
}
