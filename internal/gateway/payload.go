package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/example/safety-tracking/internal/models"
)

// The backend returns collections either bare or wrapped in an object
// ({"devices": [...]}, {"locations": [...]}, {"data": [...]}). Everything
// is normalized here so callers only ever see a slice.
func unwrapList(raw json.RawMessage, keys ...string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("[]"), nil
	}
	switch trimmed[0] {
	case '[':
		return trimmed, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		for _, k := range append(append([]string{}, keys...), "data") {
			if v, ok := obj[k]; ok {
				// {"data": {"devices": [...]}}
				return unwrapList(v, keys...)
			}
		}
		return nil, fmt.Errorf("envelope has none of %v", keys)
	default:
		return nil, fmt.Errorf("unexpected payload starting with %q", trimmed[0])
	}
}

func decodeDevices(raw json.RawMessage) ([]models.Device, error) {
	list, err := unwrapList(raw, "devices")
	if err != nil {
		return nil, err
	}
	var out []models.Device
	if err := json.Unmarshal(list, &out); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	return out, nil
}

// wirePoint tolerates the loose shapes devices report; anything missing or
// unparsable becomes a value the route reconstruction will reject.
type wirePoint struct {
	ID         string          `json:"id"`
	DeviceID   string          `json:"device_id"`
	Loc        *wireCoord      `json:"loc"`
	Lat        json.RawMessage `json:"latitude"`
	Lon        json.RawMessage `json:"longitude"`
	Place      string          `json:"place"`
	Speed      *float64        `json:"speed"`
	Heading    *float64        `json:"heading"`
	Accuracy   *float64        `json:"accuracy"`
	Source     string          `json:"source"`
	RecordedAt string          `json:"recorded_at"`
	Timestamp  string          `json:"timestamp"`
	IsSOS      bool            `json:"is_sos"`
}

type wireCoord struct {
	Lat json.RawMessage `json:"lat"`
	Lon json.RawMessage `json:"lon"`
}

func decodeLocations(raw json.RawMessage) ([]models.LocationPoint, error) {
	list, err := unwrapList(raw, "locations", "points")
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(list, &items); err != nil {
		return nil, fmt.Errorf("decode locations: %w", err)
	}
	out := make([]models.LocationPoint, 0, len(items))
	for _, item := range items {
		out = append(out, decodePoint(item))
	}
	return out, nil
}

// decodePoint never fails: an entry that does not fit wirePoint comes back
// with NaN coordinates and a zero time so the route drops it.
func decodePoint(item json.RawMessage) models.LocationPoint {
	var w wirePoint
	if err := json.Unmarshal(item, &w); err != nil {
		var ident struct {
			ID       string `json:"id"`
			DeviceID string `json:"device_id"`
		}
		_ = json.Unmarshal(item, &ident)
		return models.LocationPoint{
			ID:       ident.ID,
			DeviceID: ident.DeviceID,
			Loc:      models.Coord{Lat: math.NaN(), Lon: math.NaN()},
		}
	}
	lat, lon := w.Lat, w.Lon
	if w.Loc != nil {
		lat, lon = w.Loc.Lat, w.Loc.Lon
	}
	ts := w.RecordedAt
	if ts == "" {
		ts = w.Timestamp
	}
	return models.LocationPoint{
		ID:         w.ID,
		DeviceID:   w.DeviceID,
		Loc:        models.Coord{Lat: number(lat), Lon: number(lon)},
		Place:      w.Place,
		Speed:      w.Speed,
		Heading:    w.Heading,
		Accuracy:   w.Accuracy,
		Source:     w.Source,
		RecordedAt: parseTime(ts),
		IsSOS:      w.IsSOS,
	}
}

// number accepts JSON numbers and numeric strings; anything else, null
// included, is NaN.
func number(raw json.RawMessage) float64 {
	if t := bytes.TrimSpace(raw); len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return math.NaN()
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v
		}
	}
	return math.NaN()
}

// parseTime returns the zero time for anything that is not RFC 3339.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}
