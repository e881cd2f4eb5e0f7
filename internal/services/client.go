package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/desertthunder/podtasks/internal/lock"
	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/workers"
)

// Client implements [JobsAPI] over the server's HTTP endpoints.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ JobsAPI = (*Client)(nil)

// NewClient creates a Client for the server at baseURL, authenticating with token.
func NewClient(baseURL, token string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8765"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, httpClient: client}
}

// apiError is the body the server sends with every non-2xx response.
type apiError struct {
	Error string `json:"error"`
}

// statusErr maps a response status back onto the sentinel the server started from.
func statusErr(status int, body []byte) error {
	var e apiError
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		msg = e.Error
	}

	var base error
	switch status {
	case http.StatusConflict:
		base = shared.ErrAlreadyRunning
	case http.StatusNotFound:
		base = shared.ErrNotFound
	case http.StatusServiceUnavailable:
		base = shared.ErrServiceUnavailable
	case http.StatusUnauthorized:
		base = shared.ErrAuthFailed
	case http.StatusForbidden:
		base = shared.ErrForbidden
	case http.StatusBadRequest:
		base = shared.ErrInvalidInput
	default:
		base = shared.ErrAPIRequest
	}
	return fmt.Errorf("%w: %d %s", base, status, msg)
}

// do sends a request and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return statusErr(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Submit implements [JobsAPI].
func (c *Client) Submit(ctx context.Context, req workers.JobRequest) (string, error) {
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// List implements [JobsAPI].
func (c *Client) List(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Status implements [JobsAPI].
func (c *Client) Status(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+jobID, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Cancel implements [JobsAPI].
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+jobID, nil, nil)
}

// Health reports whether the server and its store are up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// History returns up to limit of the caller's finished jobs kept in the database.
func (c *Client) History(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	path := fmt.Sprintf("/api/history?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Lock reports who holds resourceKey. Requires an admin credential.
func (c *Client) Lock(ctx context.Context, resourceKey string) (*lock.Entry, error) {
	var entry lock.Entry
	if err := c.do(ctx, http.MethodGet, "/api/locks/"+url.PathEscape(resourceKey), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
