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
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cuemby/burrow/pkg/api"
)

// requestTimeout bounds every call made by the CLI
const requestTimeout = 10 * time.Second

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409, e.g. an illegal transition
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// Client wraps the burrow HTTP API for easy CLI usage
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the server at addr ("host:port" or a URL)
func NewClient(addr string) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("server address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", addr, err)
	}
	return &Client{
		base: strings.TrimRight(u.String(), "/"),
		http: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}, nil
}

// CreateWorkload creates a new workload
func (c *Client) CreateWorkload(req *api.CreateWorkloadRequest) (*api.WorkloadView, error) {
	var out api.WorkloadView
	if err := c.do(http.MethodPost, "/v1/workloads", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListWorkloads lists workloads, optionally for a single tenant
func (c *Client) ListWorkloads(tenant string) ([]api.WorkloadView, error) {
	path := "/v1/workloads"
	if tenant != "" {
		path += "?tenant=" + url.QueryEscape(tenant)
	}
	var out []api.WorkloadView
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetWorkload gets a workload by ID
func (c *Client) GetWorkload(id string) (*api.WorkloadView, error) {
	var out api.WorkloadView
	if err := c.do(http.MethodGet, "/v1/workloads/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveWorkload deletes a workload record that has no container left
func (c *Client) RemoveWorkload(id string) error {
	return c.do(http.MethodDelete, "/v1/workloads/"+url.PathEscape(id), nil, nil)
}

// SubmitAction requests an action on a workload. A zero delay runs it as
// soon as a worker is free.
func (c *Client) SubmitAction(id, action string, delay time.Duration) (*api.ActionView, error) {
	req := api.CreateActionRequest{Action: action}
	if delay > 0 {
		req.Delay = delay.String()
	}
	var out api.ActionView
	if err := c.do(http.MethodPost, "/v1/workloads/"+url.PathEscape(id)+"/actions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListActions lists the actions requested for a workload
func (c *Client) ListActions(id string) ([]api.ActionView, error) {
	var out []api.ActionView
	if err := c.do(http.MethodGet, "/v1/workloads/"+url.PathEscape(id)+"/actions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Logs returns a workload's history, optionally restricted to one source
func (c *Client) Logs(id, source string) ([]api.LogEntryView, error) {
	path := "/v1/workloads/" + url.PathEscape(id) + "/logs"
	if source != "" {
		path += "?source=" + url.QueryEscape(source)
	}
	var out []api.LogEntryView
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp api.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &errResp) != nil || errResp.Error == "" {
			errResp.Error = strings.TrimSpace(string(data))
			if errResp.Error == "" {
				errResp.Error = http.StatusText(resp.StatusCode)
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
