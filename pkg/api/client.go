// Package api implements the HTTP client for the skimmr task server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.skimmr.dev"

// BaseURL returns the task server base URL, honoring the SKIMMR_BASE_URL
// environment override.
func BaseURL() string {
	if u := os.Getenv("SKIMMR_BASE_URL"); strings.TrimSpace(u) != "" {
		return strings.TrimRight(u, "/")
	}
	return defaultBaseURL
}

// Client is a thin HTTP client for the task server endpoints. Authentication
// headers are passed explicitly per call; the client holds no credential state.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a Client for the given base URL. An empty baseURL falls
// back to BaseURL().
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = BaseURL()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 60 * time.Second},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURLString returns the configured base URL.
func (c *Client) BaseURLString() string { return c.baseURL }

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

// Login exchanges the shared password for a bearer token. Non-2xx responses
// surface the server's error message verbatim.
func (c *Client) Login(ctx context.Context, password string) (string, error) {
	body, err := json.Marshal(loginRequest{Password: password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil && resp.StatusCode == http.StatusOK {
		return "", fmt.Errorf("invalid login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := lr.Error
		if msg == "" {
			msg = resp.Status
		}
		return "", &ServerError{StatusCode: resp.StatusCode, Message: msg}
	}
	if strings.TrimSpace(lr.Token) == "" {
		return "", fmt.Errorf("login response contained no token")
	}
	return lr.Token, nil
}

// Logout notifies the server that the session is over. Callers treat failures
// as advisory; the client-side session is already gone by the time this runs.
func (c *Client) Logout(ctx context.Context, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/logout", nil)
	if err != nil {
		return err
	}
	applyHeaders(req, headers)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ServerError{StatusCode: resp.StatusCode, Message: resp.Status}
	}
	return nil
}

// CheckOutcome is the result of an /auth/check round trip.
type CheckOutcome int

const (
	// CheckAuthenticated means the server confirmed the credential.
	CheckAuthenticated CheckOutcome = iota
	// CheckNotAuthenticated means the server answered 200 with authenticated=false.
	CheckNotAuthenticated
	// CheckNoChange is the 304 sentinel; the previous answer still holds.
	CheckNoChange
	// CheckUnauthorized is the 401 sentinel; the credential must be evicted.
	CheckUnauthorized
)

type checkResponse struct {
	Authenticated bool `json:"authenticated"`
}

// CheckAuth asks the server whether the presented credential is still valid.
func (c *Client) CheckAuth(ctx context.Context, headers map[string]string) (CheckOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/check", nil)
	if err != nil {
		return CheckNoChange, err
	}
	applyHeaders(req, headers)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return CheckNoChange, fmt.Errorf("auth check failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var cr checkResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return CheckNoChange, fmt.Errorf("invalid auth check response: %w", err)
		}
		if cr.Authenticated {
			return CheckAuthenticated, nil
		}
		return CheckNotAuthenticated, nil
	case http.StatusNotModified:
		return CheckNoChange, nil
	case http.StatusUnauthorized:
		io.Copy(io.Discard, resp.Body)
		return CheckUnauthorized, nil
	default:
		io.Copy(io.Discard, resp.Body)
		return CheckNoChange, &ServerError{StatusCode: resp.StatusCode, Message: resp.Status}
	}
}

// Probe is the raw outcome of a /status round trip. A transport failure is
// reported in-band rather than as an error so that callers can map it onto
// reachability state without unwrapping.
type Probe struct {
	ReachedServer bool
	StatusCode    int
	TimedOut      bool
	Err           error
}

// ProbeStatus issues the health probe. The caller bounds the round trip via
// ctx; a deadline hit is reported as TimedOut.
func (c *Client) ProbeStatus(ctx context.Context, headers map[string]string) Probe {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return Probe{Err: err}
	}
	applyHeaders(req, headers)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Probe{TimedOut: IsTimeout(err), Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return Probe{ReachedServer: true, StatusCode: resp.StatusCode}
}

// TaskResponse is the server's answer to a submitted summarization task.
type TaskResponse struct {
	TaskID string          `json:"taskId"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
}

type taskRequest struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type taskErrorResponse struct {
	Error string `json:"error"`
}

// SubmitTask posts a summarization task. Non-2xx responses come back as
// *ServerError carrying the server-supplied message when one was parseable.
func (c *Client) SubmitTask(ctx context.Context, headers map[string]string, taskType string, data any) (*TaskResponse, error) {
	body, err := json.Marshal(taskRequest{Type: taskType, Data: data})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	applyHeaders(req, headers)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("task request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		msg := resp.Status
		var te taskErrorResponse
		if json.Unmarshal(raw, &te) == nil && te.Error != "" {
			msg = te.Error
		} else if len(raw) > 0 {
			msg = fmt.Sprintf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
		}
		return nil, &ServerError{StatusCode: resp.StatusCode, Message: msg}
	}

	var tr TaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("invalid task response: %w", err)
	}
	return &tr, nil
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}
