// Package remote mirrors task transitions to the central fleet service.
// The coordinator is offline-first: every call here is best effort, and the
// client keeps a health snapshot instead of letting a flaky link stall the
// local state machine.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// degradedThreshold is the consecutive-failure count at which the client
// reports itself degraded.
const degradedThreshold = 3

// Health is a snapshot of the sync link's recent behavior.
type Health struct {
	LastAttempt         time.Time
	LastSuccess         time.Time
	LastError           string
	ConsecutiveFailures int
	Degraded            bool
}

// Client talks to the fleet service's task endpoints.
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	mu     sync.Mutex
	health Health
}

// NewClient creates a Client for the given base URL. An empty token disables
// the Authorization header.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// StartTask reports a task transition to running.
func (c *Client) StartTask(ctx context.Context, pk int64) error {
	return c.post(ctx, fmt.Sprintf("/api/tasks/%d/start", pk), nil)
}

// CompleteTask reports a task completion.
func (c *Client) CompleteTask(ctx context.Context, pk int64) error {
	return c.post(ctx, fmt.Sprintf("/api/tasks/%d/complete", pk), nil)
}

// UpdateTask pushes arbitrary field updates for a task.
func (c *Client) UpdateTask(ctx context.Context, pk int64, fields map[string]interface{}) error {
	return c.post(ctx, fmt.Sprintf("/api/tasks/%d", pk), fields)
}

// ReportLocation pushes a device's last known zone and heading.
func (c *Client) ReportLocation(ctx context.Context, deviceID, zone, direction string) error {
	return c.post(ctx, fmt.Sprintf("/api/devices/%s/location", deviceID), map[string]interface{}{
		"zone":      zone,
		"direction": direction,
	})
}

// Health returns the current link health snapshot.
func (c *Client) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return c.recordFailure(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.recordFailure(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.recordFailure(fmt.Errorf("remote returned %s for %s", resp.Status, path))
	}

	c.mu.Lock()
	now := time.Now()
	c.health.LastAttempt = now
	c.health.LastSuccess = now
	c.health.LastError = ""
	c.health.ConsecutiveFailures = 0
	c.health.Degraded = false
	c.mu.Unlock()
	return nil
}

func (c *Client) recordFailure(err error) error {
	c.mu.Lock()
	c.health.LastAttempt = time.Now()
	c.health.LastError = err.Error()
	c.health.ConsecutiveFailures++
	c.health.Degraded = c.health.ConsecutiveFailures >= degradedThreshold
	c.mu.Unlock()
	return err
}
