// Package gateway is the HTTP client for the responder action gateway and
// the location point store.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/example/safety-tracking/internal/models"
)

// StatusError is returned for any non-2xx answer.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RetryCount int
}

type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	// only idempotent reads are retried; a retried POST /sos would raise a
	// second alert
	c.AddRetryCondition(func(r *resty.Response, err error) bool {
		if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
			return false
		}
		return err != nil || r.StatusCode() >= 500
	})
	if opts.Token != "" {
		c.SetAuthToken(opts.Token)
	}
	return &Client{http: c, logger: logger}
}

// History implements route.Source.
func (c *Client) History(ctx context.Context, deviceID string) ([]models.LocationPoint, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/v1/devices/{id}/locations", deviceID, nil)
	if err != nil {
		return nil, err
	}
	return decodeLocations(raw)
}

func (c *Client) CreateSOS(ctx context.Context, loc models.Coord) (models.SOSCreated, error) {
	var out models.SOSCreated
	raw, err := c.do(ctx, http.MethodPost, "/api/v1/sos", "", map[string]float64{"lat": loc.Lat, "lon": loc.Lon})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode sos response: %w", err)
	}
	if out.AlertID == "" {
		return out, fmt.Errorf("sos response carries no alert id")
	}
	return out, nil
}

func (c *Client) CreateLocationPoint(ctx context.Context, p models.NewLocationPoint) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/devices/{id}/locations", p.DeviceID, p)
	return err
}

func (c *Client) UpdateAlertStatus(ctx context.Context, alertID string, status models.AlertStatus) (models.AlertEvent, error) {
	raw, err := c.do(ctx, http.MethodPatch, "/api/v1/alerts/{id}/status", alertID, map[string]string{"status": string(status)})
	if err != nil {
		return models.AlertEvent{}, err
	}
	return decodeAlert(raw)
}

func (c *Client) Alert(ctx context.Context, alertID string) (models.AlertEvent, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/v1/alerts/{id}", alertID, nil)
	if err != nil {
		return models.AlertEvent{}, err
	}
	return decodeAlert(raw)
}

func (c *Client) Acknowledge(ctx context.Context, alertID string, ack models.Acknowledgement) (models.AlertEvent, error) {
	raw, err := c.do(ctx, http.MethodPost, "/api/v1/alerts/{id}/acknowledgements", alertID, ack)
	if err != nil {
		return models.AlertEvent{}, err
	}
	return decodeAlert(raw)
}

func (c *Client) Devices(ctx context.Context) ([]models.Device, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/v1/devices", "", nil)
	if err != nil {
		return nil, err
	}
	return decodeDevices(raw)
}

func (c *Client) RegisterDevice(ctx context.Context, d models.Device) (models.Device, error) {
	var out models.Device
	raw, err := c.do(ctx, http.MethodPost, "/api/v1/devices", "", d)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode device: %w", err)
	}
	return out, nil
}

func (c *Client) SetDeviceOnline(ctx context.Context, deviceID string, online bool) (models.Device, error) {
	var d models.Device
	raw, err := c.do(ctx, http.MethodPatch, "/api/v1/devices/{id}/status", deviceID, map[string]bool{"online": online})
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("decode device: %w", err)
	}
	return d, nil
}

func (c *Client) DeleteDevice(ctx context.Context, deviceID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/devices/{id}", deviceID, nil)
	return err
}

func (c *Client) ReportResponderPosition(ctx context.Context, r models.Responder) error {
	_, err := c.do(ctx, http.MethodPost, "/internal/responders/locations", "", r)
	return err
}

func (c *Client) do(ctx context.Context, method, path, id string, body any) (json.RawMessage, error) {
	req := c.http.R().SetContext(ctx)
	if id != "" {
		req.SetPathParam("id", id)
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Debug("gateway call failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode(), Body: string(resp.Body())}
	}
	return json.RawMessage(resp.Body()), nil
}

func decodeAlert(raw json.RawMessage) (models.AlertEvent, error) {
	var ev models.AlertEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("decode alert: %w", err)
	}
	return ev, nil
}
