// Package client is a small Go client for the portal-autologin control API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Rorqualx/portal-autologin/internal/middleware"
	"github.com/Rorqualx/portal-autologin/internal/types"
)

// maxResponseSize bounds control API replies.
const maxResponseSize = 1 << 20

// Client talks to a running daemon.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a Client for baseURL, e.g. "http://127.0.0.1:8192".
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx reply from the control API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control API returned %d: %s", e.StatusCode, e.Message)
}

// RequestLogin asks the daemon to start a background login. A refusal
// (cooldown, in progress, no credentials) is a successful call with
// Success false.
func (c *Client) RequestLogin(ctx context.Context, currentURL, priority string) (types.LoginResponse, error) {
	var resp types.LoginResponse
	err := c.command(ctx, types.Request{
		Cmd:        types.CmdRequestLogin,
		CurrentURL: currentURL,
		Priority:   priority,
	}, &resp)
	return resp, err
}

// LoginSuccess reports that the login in tabID went through.
func (c *Client) LoginSuccess(ctx context.Context, tabID types.TabID) (types.AckResponse, error) {
	var resp types.AckResponse
	err := c.command(ctx, types.Request{Cmd: types.CmdLoginSuccess, TabID: tabID}, &resp)
	return resp, err
}

// NetworkError reports a failed request to rawURL as a connectivity signal.
func (c *Client) NetworkError(ctx context.Context, rawURL string) (types.AckResponse, error) {
	var resp types.AckResponse
	err := c.command(ctx, types.Request{Cmd: types.CmdNetworkError, CurrentURL: rawURL}, &resp)
	return resp, err
}

// Status fetches the coordinator snapshot.
func (c *Client) Status(ctx context.Context) (types.StatusResponse, error) {
	var resp types.StatusResponse
	err := c.command(ctx, types.Request{Cmd: types.CmdGetStatus}, &resp)
	return resp, err
}

// Health calls GET /health. A degraded daemon returns its body and an APIError.
func (c *Client) Health(ctx context.Context) (types.HealthResponse, error) {
	var resp types.HealthResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return resp, err
	}
	err = c.do(req, &resp)
	return resp, err
}

func (c *Client) command(ctx context.Context, cmd types.Request, out interface{}) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd.Cmd, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set(middleware.APIKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e types.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Message != "" {
			apiErr.Message = e.Message
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		// Health replies carry a full body even when degraded.
		_ = json.Unmarshal(data, out)
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
