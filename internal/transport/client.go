package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"valve_dashboard/internal/logger"
	"valve_dashboard/internal/models"
)

// Client is the backend contract consumed by the engine.
type Client interface {
	// ListDevices returns the raw device list body; its shape is decided
	// by the registry, not here.
	ListDevices(ctx context.Context) (json.RawMessage, error)
	GetDevice(ctx context.Context, id string) (models.Device, error)
	GetDeviceStatus(ctx context.Context, id string) (models.DeviceStatus, error)
	OpenValve(ctx context.Context, id string) error
	CloseValve(ctx context.Context, id string) error
	// LatestReading returns the raw latest reading body, or ErrNotFound
	// when the device has not reported yet.
	LatestReading(ctx context.Context, deviceID string) (json.RawMessage, error)
	ReadingStats(ctx context.Context, deviceID string, f StatsFilter) (models.SensorStats, error)
	ValveHistory(ctx context.Context, deviceID string) ([]models.ValveControl, error)
}

// StatsFilter bounds /sensor-readings/stats/. Empty values are omitted.
type StatsFilter struct {
	StartDate string
	EndDate   string
}

const maxBodyBytes = 1 << 20 // 1 MB

// HTTPClient implements Client over the backend REST API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

// NewHTTPClient returns a client for the API rooted at baseURL
// (e.g. http://localhost:8000/api).
func NewHTTPClient(baseURL string, timeout time.Duration, log *logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logger.OrNop(log),
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) ListDevices(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, "/devices/", nil)
}

// deviceDoc shadows Device.ID: the backend sends it as a number.
type deviceDoc struct {
	models.Device
	ID json.RawMessage `json:"id"`
}

func (c *HTTPClient) GetDevice(ctx context.Context, id string) (models.Device, error) {
	var doc deviceDoc
	if err := c.getJSON(ctx, "/devices/"+url.PathEscape(id)+"/", nil, &doc); err != nil {
		return models.Device{}, err
	}
	d := doc.Device
	d.ID = rawID(doc.ID)
	if d.ID == "" {
		d.ID = id
	}
	return d, nil
}

// rawID renders a JSON number or string id as a string.
func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (c *HTTPClient) GetDeviceStatus(ctx context.Context, id string) (models.DeviceStatus, error) {
	var st models.DeviceStatus
	err := c.getJSON(ctx, "/devices/"+url.PathEscape(id)+"/status/", nil, &st)
	return st, err
}

func (c *HTTPClient) OpenValve(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/devices/"+url.PathEscape(id)+"/open_valve/", nil)
	return err
}

func (c *HTTPClient) CloseValve(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/devices/"+url.PathEscape(id)+"/close_valve/", nil)
	return err
}

func (c *HTTPClient) LatestReading(ctx context.Context, deviceID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/sensor-readings/latest/", url.Values{"device_id": {deviceID}})
}

func (c *HTTPClient) ReadingStats(ctx context.Context, deviceID string, f StatsFilter) (models.SensorStats, error) {
	q := url.Values{"device_id": {deviceID}}
	if f.StartDate != "" {
		q.Set("start_date", f.StartDate)
	}
	if f.EndDate != "" {
		q.Set("end_date", f.EndDate)
	}
	var st models.SensorStats
	err := c.getJSON(ctx, "/sensor-readings/stats/", q, &st)
	return st, err
}

func (c *HTTPClient) ValveHistory(ctx context.Context, deviceID string) ([]models.ValveControl, error) {
	var out []models.ValveControl
	err := c.getJSON(ctx, "/valve-controls/by_device/", url.Values{"device_id": {deviceID}}, &out)
	return out, err
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, q url.Values, dst any) error {
	body, err := c.getRaw(ctx, path, q)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %w: %v", path, ErrMalformedPayload, err)
	}
	return nil
}

func (c *HTTPClient) getRaw(ctx context.Context, path string, q url.Values) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, q)
}

// do performs one request and classifies the outcome into the transport
// error taxonomy. A 2xx body is returned as-is (possibly empty).
func (c *HTTPClient) do(ctx context.Context, method, path string, q url.Values) (json.RawMessage, error) {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var reqBody io.Reader
	if method == http.MethodPost {
		reqBody = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debugw("backend_request_failed", "method", method, "path", path, "err", err)
		return nil, fmt.Errorf("%s %s: %w: %v", method, path, ErrNetworkUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w: %v", method, path, ErrNetworkUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return json.RawMessage(body), nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, path,
			&RejectedError{StatusCode: resp.StatusCode, Message: rejectionMessage(body)})
	default:
		return nil, &RejectedError{StatusCode: resp.StatusCode, Message: rejectionMessage(body)}
	}
}

// rejectionMessage extracts {"error": "..."} or {"detail": "..."} from a
// failure body.
func rejectionMessage(body []byte) string {
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Detail
}

// IsNotFound reports whether err is the backend's 404.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
