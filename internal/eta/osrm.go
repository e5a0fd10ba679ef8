package eta

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/example/safety-tracking/internal/models"
)

// OSRMClient performs route/eta lookups against an OSRM HTTP server.
type OSRMClient struct {
	client *resty.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{client: resty.New().SetBaseURL(endpoint).SetTimeout(2 * time.Second)}
}

type osrmRoute struct {
	Routes []struct {
		Duration float64 `json:"duration"`
	} `json:"routes"`
	Code string `json:"code"`
}

// EstimateSeconds queries OSRM /route between points and returns duration in seconds.
func (o *OSRMClient) EstimateSeconds(ctx context.Context, from, to models.Coord) (float64, error) {
	// OSRM route query: /route/v1/driving/{lon1},{lat1};{lon2},{lat2}?overview=false
	path := fmt.Sprintf("/route/v1/driving/%.6f,%.6f;%.6f,%.6f", from.Lon, from.Lat, to.Lon, to.Lat)
	resp, err := o.client.R().
		SetContext(ctx).
		SetQueryParam("overview", "false").
		Get(path)
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, fmt.Errorf("osrm status %d", resp.StatusCode())
	}
	var out osrmRoute
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return 0, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return 0, fmt.Errorf("osrm no route: %v", out.Code)
	}
	return out.Routes[0].Duration, nil
}
