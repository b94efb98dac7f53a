// Package client provides HTTP client functionality to communicate with a
// running alarmstacks daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alarmstacks/alarmstacks/internal/model"
)

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// Client talks to the daemon's HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a new alarmstacks API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		client:  &http.Client{Timeout: config.Timeout},
		logger:  config.Logger,
	}
}

// IsReachable checks whether the daemon answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	var stacks []model.Stack
	return c.doJSON(ctx, http.MethodGet, "/stacks", nil, &stacks) == nil
}

// CreateStack registers a new stack.
func (c *Client) CreateStack(ctx context.Context, st *model.Stack) (*model.Stack, error) {
	var created model.Stack
	if err := c.doJSON(ctx, http.MethodPost, "/stacks", st, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListStacks fetches every stack.
func (c *Client) ListStacks(ctx context.Context) ([]*model.Stack, error) {
	var stacks []*model.Stack
	if err := c.doJSON(ctx, http.MethodGet, "/stacks", nil, &stacks); err != nil {
		return nil, err
	}
	return stacks, nil
}

// GetStack fetches one stack by id.
func (c *Client) GetStack(ctx context.Context, id string) (*model.Stack, error) {
	var st model.Stack
	if err := c.doJSON(ctx, http.MethodGet, "/stacks/"+id, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// DeleteStack removes a stack and cancels its alarms.
func (c *Client) DeleteStack(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/stacks/"+id, nil, nil)
}

// Arm arms a stack and schedules its occurrences, returning the alarm ids.
func (c *Client) Arm(ctx context.Context, id string) ([]string, error) {
	var resp struct {
		AlarmIDs []string `json:"alarm_ids"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/stacks/"+id+"/arm", nil, &resp); err != nil {
		return nil, err
	}
	return resp.AlarmIDs, nil
}

// Disarm disarms a stack and cancels its occurrences.
func (c *Client) Disarm(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/stacks/"+id+"/disarm", nil, nil)
}

// Schedule re-schedules a stack without touching the armed flag.
func (c *Client) Schedule(ctx context.Context, id string) ([]string, error) {
	var resp struct {
		AlarmIDs []string `json:"alarm_ids"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/stacks/"+id+"/schedule", nil, &resp); err != nil {
		return nil, err
	}
	return resp.AlarmIDs, nil
}

// Activities lists the stack ids with a live activity.
func (c *Client) Activities(ctx context.Context) ([]string, error) {
	var resp struct {
		Live []string `json:"live"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/activities", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Live, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("daemon returned %d", resp.StatusCode)
}
