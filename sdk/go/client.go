// Package taskforgesdk is a minimal Taskforge HTTP API client.
package taskforgesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL should include the API
// base path, for example http://127.0.0.1:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// Task mirrors the API task model (partial).
type Task struct {
	ID               int64          `json:"id"`
	BlueprintID      *int64         `json:"blueprint_id,omitempty"`
	Name             string         `json:"name"`
	ShortDescription string         `json:"short_description,omitempty"`
	Category         string         `json:"category,omitempty"`
	Status           string         `json:"status"`
	Priority         int            `json:"priority"`
	Importance       int            `json:"importance"`
	Payload          map[string]any `json:"payload,omitempty"`
}

// Event mirrors the API event model.
type Event struct {
	ID          int64          `json:"id"`
	Type        string         `json:"type"`
	Category    string         `json:"category,omitempty"`
	Message     string         `json:"message,omitempty"`
	TaskID      *int64         `json:"task_id,omitempty"`
	BlueprintID *int64         `json:"blueprint_id,omitempty"`
	WorkerID    *int64         `json:"worker_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

// EventPage wraps event listings with the cursor to resume from.
type EventPage struct {
	Items  []Event `json:"items"`
	LastID int64   `json:"last_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmitTask creates a pending task.
func (c *Client) SubmitTask(ctx context.Context, name, category string, priority, importance int) (Task, error) {
	body := map[string]any{
		"name":       name,
		"category":   category,
		"priority":   priority,
		"importance": importance,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// PendingTasks returns pending tasks in dispatch order.
func (c *Client) PendingTasks(ctx context.Context, limit int) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/pending?limit=%d", limit), nil, &resp)
	return resp, err
}

// RunPipeline triggers blueprint expansion and returns how many expanded.
func (c *Client) RunPipeline(ctx context.Context) (int, error) {
	var resp struct {
		Expanded int `json:"expanded"`
	}
	err := c.do(ctx, http.MethodPost, "pipeline/run", nil, &resp)
	return resp.Expanded, err
}

// EventsSince returns events after the given id, oldest first.
func (c *Client) EventsSince(ctx context.Context, lastID int64, limit int) (EventPage, error) {
	var resp EventPage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("events/since?last_id=%d&limit=%d", lastID, limit), nil, &resp)
	return resp, err
}

// TailEvents long-polls for new events. It returns when events arrive, the
// server's wait ceiling passes, or the context ends.
func (c *Client) TailEvents(ctx context.Context, lastID int64, limit int) (EventPage, error) {
	var resp EventPage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("events/stream?last_id=%d&limit=%d", lastID, limit), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
