// Package agentclient is the controller-side client for the agent daemon's
// HTTP API. Every call takes a bounded timeout so a wedged worker cannot
// stall a reconciler tick.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

var (
	// ErrContainerNotFound is the agent's definitive 404 on stop: the
	// container is already gone, which the caller treats as success.
	ErrContainerNotFound = errors.New("agent: container not found")

	// ErrImageNotFound is the agent's definitive 400 on start: the image
	// cannot be pulled, so a retry will not help.
	ErrImageNotFound = errors.New("agent: image not found")
)

// Client talks to one or more agent daemons. It is safe for concurrent use.
type Client struct {
	http *http.Client
}

// New creates a client. Per-call deadlines come from the caller's context;
// the transport itself carries no timeout.
func New() *Client {
	return &Client{http: &http.Client{}}
}

// Health is the agent's health report.
type Health struct {
	Status        string  `json:"status"`
	Host          string  `json:"host"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// StartRequest is the container start payload.
type StartRequest struct {
	Image  string `json:"image"`
	CPU    int    `json:"cpu"`
	Memory string `json:"memory"`
	Port   int    `json:"port"`
	UserID int64  `json:"user_id"`
}

// StartResponse is the agent's answer to a successful start.
type StartResponse struct {
	ContainerName string `json:"container_name"`
	URL           string `json:"url"`
	Port          int    `json:"port"`
}

// Container is one entry in the agent's managed-container listing.
type Container struct {
	Name   string `json:"name"`
	Image  string `json:"image"`
	Status string `json:"status"`
}

// CheckHealth probes GET /health on the agent at addr.
func (c *Client) CheckHealth(ctx context.Context, addr string) (*Health, error) {
	h := &Health{}
	if err := c.do(ctx, http.MethodGet, addr+"/health", nil, h); err != nil {
		return nil, err
	}
	return h, nil
}

// StartContainer asks the agent to create and start a session container.
// A 400 maps to ErrImageNotFound; anything else non-200 is a transient error.
func (c *Client) StartContainer(ctx context.Context, addr string, req StartRequest) (*StartResponse, error) {
	resp := &StartResponse{}
	if err := c.do(ctx, http.MethodPost, addr+"/start_container", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// StopContainer asks the agent to stop and remove a container by name.
// Returns ErrContainerNotFound on a 404, which callers treat as success.
func (c *Client) StopContainer(ctx context.Context, addr, name string) error {
	return c.do(ctx, http.MethodPost, addr+"/stop_container/"+url.PathEscape(name), nil, nil)
}

// ListContainers returns the agent's managed containers. Used by drift
// reconciliation to find orphans.
func (c *Client) ListContainers(ctx context.Context, addr string) ([]Container, error) {
	var out struct {
		Containers []Container `json:"containers"`
	}
	if err := c.do(ctx, http.MethodGet, addr+"/containers", nil, &out); err != nil {
		return nil, err
	}
	return out.Containers, nil
}

// TestImage asks the agent to pull an image. Diagnostic only.
func (c *Client) TestImage(ctx context.Context, addr, image string) error {
	return c.do(ctx, http.MethodPost, addr+"/test_image/"+url.PathEscape(image), nil, nil)
}

func (c *Client) do(ctx context.Context, method, u string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("agent: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("agent: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent: %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return ErrContainerNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return ErrImageNotFound
	default:
		// Read a short error line for the log; never the whole body.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("agent: %s %s: status %d: %s", method, u, resp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("agent: decode response: %w", err)
		}
	}
	return nil
}
