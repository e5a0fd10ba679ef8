package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/safety-tracking/internal/models"
)

// RedisGeo implements Geo using Redis GEO commands.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, resp models.Responder) error {
	// position in the GEO set, metadata in a hash
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: resp.Loc.Lon, Latitude: resp.Loc.Lat, Name: resp.ID}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", resp.ID, err)
	}
	updated := resp.Updated
	if updated.IsZero() {
		updated = time.Now()
	}
	return r.client.HSet(ctx, MetaKey(resp.ID), map[string]interface{}{
		"role":    string(resp.Role),
		"contact": resp.Contact,
		"online":  strconv.FormatBool(resp.Online),
		"updated": updated.UTC().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Within(ctx context.Context, origin models.Coord, radiusM float64, limit int) ([]Hit, error) {
	q := &redis.GeoRadiusQuery{Radius: radiusM, Unit: "m", WithCoord: true, WithDist: true, Sort: "ASC"}
	if limit > 0 {
		// offline members are filtered after the query, so over-fetch
		q.Count = limit * 2
	}
	res, err := r.client.GeoRadius(ctx, r.key, origin.Lon, origin.Lat, q).Result()
	if err != nil {
		return nil, fmt.Errorf("georadius: %w", err)
	}
	out := make([]Hit, 0, len(res))
	for _, g := range res {
		resp := models.Responder{ID: g.Name, Loc: models.Coord{Lat: g.Latitude, Lon: g.Longitude}}
		m, err := r.client.HGetAll(ctx, MetaKey(g.Name)).Result()
		if err != nil {
			return nil, fmt.Errorf("responder meta %s: %w", g.Name, err)
		}
		resp.Role = models.ActorRole(m["role"])
		resp.Contact = m["contact"]
		resp.Online = m["online"] == "true"
		if ts, err := time.Parse(time.RFC3339, m["updated"]); err == nil {
			resp.Updated = ts
		}
		if !resp.Online {
			continue
		}
		out = append(out, Hit{Responder: resp, DistanceM: g.Dist})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func MetaKey(id string) string { return "responder:meta:" + id }
