package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

// TestClient provides HTTP client utilities for testing
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Response wraps HTTP response with helpers
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals response body into v
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// String returns response body as string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ErrorCode returns the code of an error response, or "".
func (r *Response) ErrorCode() string {
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := r.JSON(&body); err != nil {
		return ""
	}
	return body.Error.Code
}

// Get performs HTTP GET request
func (c *TestClient) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs HTTP POST request with JSON body
func (c *TestClient) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Patch performs HTTP PATCH request with JSON body
func (c *TestClient) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPatch, path, body)
}

// Delete performs HTTP DELETE request
func (c *TestClient) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *TestClient) do(ctx context.Context, method, path string, body any) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// ---- Chat API Helpers ----

// Exchange mirrors the body returned by send, regenerate and retry.
type Exchange struct {
	SessionID string         `json:"sessionID"`
	Reply     *types.Message `json:"reply"`
	Error     string         `json:"error"`
	Discarded bool           `json:"discarded"`
}

// Status mirrors GET /chat/status.
type Status struct {
	ActiveID  string   `json:"activeID"`
	Busy      bool     `json:"busy"`
	LastError string   `json:"lastError"`
	Pending   []string `json:"pending"`
}

// ChatList mirrors GET /chat.
type ChatList struct {
	Sessions []*types.Session `json:"sessions"`
	ActiveID string           `json:"activeID"`
}

// Send posts text to the active chat and decodes the settled exchange.
func (c *TestClient) Send(ctx context.Context, text string) (*Exchange, *Response, error) {
	return c.exchange(c.Post(ctx, "/chat/message", map[string]string{"text": text}))
}

// Regenerate replaces an assistant reply in the active chat.
func (c *TestClient) Regenerate(ctx context.Context, messageID string) (*Exchange, *Response, error) {
	return c.exchange(c.Post(ctx, "/chat/message/"+messageID+"/regenerate", nil))
}

// Retry regenerates the last failed reply.
func (c *TestClient) Retry(ctx context.Context) (*Exchange, *Response, error) {
	return c.exchange(c.Post(ctx, "/chat/retry", nil))
}

func (c *TestClient) exchange(resp *Response, err error) (*Exchange, *Response, error) {
	if err != nil {
		return nil, nil, err
	}
	if !resp.IsSuccess() {
		return nil, resp, nil
	}
	var ex Exchange
	if err := resp.JSON(&ex); err != nil {
		return nil, resp, err
	}
	return &ex, resp, nil
}

// Status fetches the busy flag and last error.
func (c *TestClient) Status(ctx context.Context) (*Status, error) {
	resp, err := c.Get(ctx, "/chat/status")
	if err != nil {
		return nil, err
	}
	var s Status
	return &s, resp.JSON(&s)
}

// Chats lists every chat and the active id.
func (c *TestClient) Chats(ctx context.Context) (*ChatList, error) {
	resp, err := c.Get(ctx, "/chat")
	if err != nil {
		return nil, err
	}
	var l ChatList
	return &l, resp.JSON(&l)
}

// Active fetches the active chat, or nil when there is none.
func (c *TestClient) Active(ctx context.Context) (*types.Session, error) {
	resp, err := c.Get(ctx, "/chat/active")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	var s types.Session
	return &s, resp.JSON(&s)
}

// NewChat creates a chat and makes it active.
func (c *TestClient) NewChat(ctx context.Context) (*types.Session, error) {
	resp, err := c.Post(ctx, "/chat", nil)
	if err != nil {
		return nil, err
	}
	var s types.Session
	return &s, resp.JSON(&s)
}
