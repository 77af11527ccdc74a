package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// ErrUnreachable wraps transport failures: the server could not be reached
// or did not answer.
var ErrUnreachable = errors.New("server unreachable")

// APIError is an application error returned by the server of record
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Details    string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("server returned %d: %s (%s)", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the server of record over the route chosen by a Monitor.
type Client struct {
	monitor    Monitor
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewHTTPClient creates the HTTP client used for server requests. It sets no
// overall timeout: each request is bounded by its context.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:     dialer.DialContext,
			MaxIdleConns:    10,
			IdleConnTimeout: 90 * time.Second,
		},
	}
}

// NewClient creates a client authenticating with a bearer token. timeout
// bounds requests whose context carries no deadline of its own.
func NewClient(monitor Monitor, token string, timeout time.Duration) *Client {
	return &Client{monitor: monitor, token: token, timeout: timeout, httpClient: NewHTTPClient()}
}

// Push sends a batch to POST /api/sync/push
func (c *Client) Push(ctx context.Context, batch Batch) (Result, error) {
	var resp PushResponse
	if err := c.do(ctx, http.MethodPost, "/api/sync/push", PushRequest{Changes: batch}, &resp); err != nil {
		return Result{}, err
	}
	return resp.Result, nil
}

// List fetches all rows of a table as a JSON array
func (c *Client) List(ctx context.Context, table string) (json.RawMessage, error) {
	var rows json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/entities/"+url.PathEscape(table), nil, &rows)
	return rows, err
}

// Create creates a record and returns the stored row
func (c *Client) Create(ctx context.Context, table string, data json.RawMessage) (json.RawMessage, error) {
	var row json.RawMessage
	err := c.do(ctx, http.MethodPost, "/api/entities/"+url.PathEscape(table), data, &row)
	return row, err
}

// Update patches a record and returns the stored row
func (c *Client) Update(ctx context.Context, table, id string, patch json.RawMessage) (json.RawMessage, error) {
	var row json.RawMessage
	err := c.do(ctx, http.MethodPatch, "/api/entities/"+url.PathEscape(table)+"/"+url.PathEscape(id), patch, &row)
	return row, err
}

// Delete removes a record
func (c *Client) Delete(ctx context.Context, table, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/entities/"+url.PathEscape(table)+"/"+url.PathEscape(id), nil, nil)
}

// AssignPermissions replaces the permission set of a role
func (c *Client) AssignPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	body := map[string][]string{"permissionIds": permissionIDs}
	return c.do(ctx, http.MethodPut, "/api/roles/"+url.PathEscape(roleID)+"/permissions", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	route := c.monitor.CurrentRoute()
	if route == "" {
		return fmt.Errorf("%w: no route configured", ErrUnreachable)
	}
	reqCtx := ctx
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		var payload []byte
		if raw, ok := body.(json.RawMessage); ok {
			payload = raw
		} else {
			var err error
			if payload, err = json.Marshal(body); err != nil {
				return fmt.Errorf("failed to marshal request: %w", err)
			}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, route+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.monitor.ReportFailure(route, err)
		return fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.monitor.ReportFailure(route, err)
		return fmt.Errorf("%w: read response: %v", ErrUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		err := fmt.Errorf("%w: HTTP %d from %s", ErrUnreachable, resp.StatusCode, route)
		c.monitor.ReportFailure(route, err)
		return err
	case resp.StatusCode >= 400:
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
