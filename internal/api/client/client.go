package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/netmon/internal/alert"
	"github.com/netmon/internal/models"
	"github.com/netmon/internal/report"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

type Client struct {
	baseURL    string
	apiKey     string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

// WithToken authenticates with a bearer token instead of an API key.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Sample is one value pushed to the server. A zero Timestamp means "now".
type Sample struct {
	HostID    uint       `json:"host_id"`
	Key       string     `json:"key"`
	Value     float64    `json:"value"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type BatchResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Results  []struct {
		Index  int    `json:"index"`
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	} `json:"results"`
}

type TestResult struct {
	Transitions []alert.Transition `json:"transitions"`
	Summary     struct {
		Samples  int `json:"samples"`
		Opened   int `json:"opened"`
		Resolved int `json:"resolved"`
	} `json:"summary"`
}

func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", nil, body, &out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/me", nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) RotateAPIKey(ctx context.Context) (string, error) {
	var out struct {
		APIKey string `json:"api_key"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/api-key", nil, nil, &out); err != nil {
		return "", err
	}
	return out.APIKey, nil
}

func (c *Client) ListHosts(ctx context.Context) ([]models.Host, error) {
	var hosts []models.Host
	if err := c.do(ctx, http.MethodGet, "/api/v1/hosts", nil, nil, &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

func (c *Client) CreateHost(ctx context.Context, name, ip string, tags []string) (*models.Host, error) {
	var h models.Host
	body := map[string]any{"name": name, "ip_address": ip, "tags": tags}
	if err := c.do(ctx, http.MethodPost, "/api/v1/hosts", nil, body, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) DeleteHost(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/hosts/"+itoa(id), nil, nil, nil)
}

func (c *Client) Heartbeat(ctx context.Context, hostID uint) error {
	return c.do(ctx, http.MethodPost, "/api/v1/hosts/"+itoa(hostID)+"/heartbeat", nil, nil, nil)
}

func (c *Client) PushSample(ctx context.Context, s Sample) error {
	return c.do(ctx, http.MethodPost, "/api/v1/metrics", nil, s, nil)
}

func (c *Client) PushBatch(ctx context.Context, samples []Sample) (*BatchResult, error) {
	var out BatchResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/metrics/batch", nil, map[string]any{"samples": samples}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMetrics(ctx context.Context, hostID uint, key string, limit int) ([]models.Metric, error) {
	query := url.Values{}
	if hostID != 0 {
		query.Set("host_id", itoa(hostID))
	}
	if key != "" {
		query.Set("key", key)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out []models.Metric
	if err := c.do(ctx, http.MethodGet, "/api/v1/metrics", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LatestMetrics(ctx context.Context, hostID uint) ([]models.Metric, error) {
	var out []models.Metric
	if err := c.do(ctx, http.MethodGet, "/api/v1/metrics/latest/"+itoa(hostID), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListAlerts(ctx context.Context, hostID uint, status, level string) ([]models.Alert, error) {
	query := url.Values{}
	if hostID != 0 {
		query.Set("host_id", itoa(hostID))
	}
	if status != "" {
		query.Set("status", status)
	}
	if level != "" {
		query.Set("level", level)
	}

	var alerts []models.Alert
	if err := c.do(ctx, http.MethodGet, "/api/v1/alerts", query, nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Client) CreateAlert(ctx context.Context, hostID uint, title, message, level string) (*models.Alert, error) {
	var a models.Alert
	body := map[string]any{"host_id": hostID, "title": title, "message": message, "level": level}
	if err := c.do(ctx, http.MethodPost, "/api/v1/alerts", nil, body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) ResolveAlert(ctx context.Context, id uint) (*models.Alert, error) {
	var a models.Alert
	if err := c.do(ctx, http.MethodPut, "/api/v1/alerts/"+itoa(id)+"/resolve", nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) ListTriggers(ctx context.Context, hostID uint) ([]models.Trigger, error) {
	query := url.Values{}
	if hostID != 0 {
		query.Set("host_id", itoa(hostID))
	}
	var out []models.Trigger
	if err := c.do(ctx, http.MethodGet, "/api/v1/triggers", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateTrigger posts t. Duration is always sent, so callers must set it.
func (c *Client) CreateTrigger(ctx context.Context, t models.Trigger) (*models.Trigger, error) {
	body := map[string]any{
		"host_id":     t.HostID,
		"name":        t.Name,
		"description": t.Description,
		"key":         t.Key,
		"condition":   t.Condition,
		"threshold":   t.Threshold,
		"duration":    t.Duration,
		"alert_level": t.AlertLevel,
		"enabled":     t.Enabled,
	}
	var out models.Trigger
	if err := c.do(ctx, http.MethodPost, "/api/v1/triggers", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateTrigger(ctx context.Context, id uint, patch models.TriggerPatch) (*models.Trigger, error) {
	var out models.Trigger
	if err := c.do(ctx, http.MethodPatch, "/api/v1/triggers/"+itoa(id), nil, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteTrigger(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/triggers/"+itoa(id), nil, nil, nil)
}

func (c *Client) SetTriggerEnabled(ctx context.Context, id uint, enabled bool) (*models.Trigger, error) {
	action := "/disable"
	if enabled {
		action = "/enable"
	}
	var out models.Trigger
	if err := c.do(ctx, http.MethodPut, "/api/v1/triggers/"+itoa(id)+action, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TestTrigger simulates t against the stored history between from and to.
func (c *Client) TestTrigger(ctx context.Context, t models.Trigger, from, to time.Time) (*TestResult, error) {
	body := map[string]any{
		"trigger": map[string]any{
			"host_id":     t.HostID,
			"key":         t.Key,
			"condition":   t.Condition,
			"threshold":   t.Threshold,
			"duration":    t.Duration,
			"alert_level": t.AlertLevel,
		},
		"start_time": from,
		"end_time":   to,
	}
	var out TestResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/triggers/test", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportTriggers copies the exported JSON of hostID to w.
func (c *Client) ExportTriggers(ctx context.Context, hostID uint, w io.Writer) error {
	query := url.Values{}
	if hostID != 0 {
		query.Set("host_id", itoa(hostID))
	}
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/triggers/export", query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) ImportTriggers(ctx context.Context, hostID uint, r io.Reader) (int, error) {
	query := url.Values{}
	query.Set("host_id", itoa(hostID))
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/triggers/import", query, r)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var out struct {
		Imported int `json:"imported"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Imported, nil
}

func (c *Client) Dashboard(ctx context.Context) (*report.Summary, error) {
	var out report.Summary
	if err := c.do(ctx, http.MethodGet, "/api/v1/dashboard", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, data, v interface{}) error {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	resp, err := c.doRequest(ctx, method, endpoint, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = path.Join(u.Path, endpoint)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.apiKey != "":
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			apiErr.Message = errResp.Error
		}
		return nil, apiErr
	}

	return resp, nil
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
