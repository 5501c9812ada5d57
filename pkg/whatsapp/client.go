// Package whatsapp provides a client for the WhatsApp bridge service.
//
// The bridge owns the WhatsApp Web session and exposes a small HTTP API:
// GET /api/whatsapp/status reports whether the session is connected and
// POST /api/whatsapp/send delivers a text message to a phone number.
// The client caches the last known readiness so callers can check it
// without doing I/O.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wb-go/wbf/zlog"
)

const (
	statusPath = "/api/whatsapp/status"
	sendPath   = "/api/whatsapp/send"
)

// Client represents a WhatsApp bridge client used to send notifications.
type Client struct {
	baseURL string       // bridge base URL, e.g. http://localhost:5001
	client  *http.Client // HTTP client used to make requests
	ready   atomic.Bool  // last readiness reported by the bridge
}

// NewClient creates a new Client for the bridge at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// sendMessageRequest represents the payload for the bridge send endpoint.
type sendMessageRequest struct {
	Number  string `json:"number"`  // recipient phone number, digits only
	Message string `json:"message"` // message text
}

// errorResponse is the body the bridge returns on failure.
type errorResponse struct {
	Error string `json:"error"`
}

// Status is the readiness report of the bridge.
type Status struct {
	Status string `json:"status"`
	Bot    struct {
		IsReady   bool    `json:"isReady"`
		UserCount int     `json:"userCount"`
		Uptime    float64 `json:"uptime"`
	} `json:"bot"`
}

// APIError is returned when the bridge answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("whatsapp bridge error: %s", http.StatusText(e.StatusCode))
}

// Send sends a message to the given phone number.
//
// The request is made once. Any transport failure or non-2xx answer is
// returned as an error.
func (c *Client) Send(ctx context.Context, number, message string) error {
	body, err := json.Marshal(sendMessageRequest{Number: number, Message: message})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sendPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	return nil
}

// Status fetches the current bridge status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+statusPath, nil)
	if err != nil {
		return st, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return st, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return st, decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}

	return st, nil
}

// Ready reports the readiness observed by the last Refresh.
func (c *Client) Ready() bool {
	return c.ready.Load()
}

// Refresh queries the bridge and updates the cached readiness.
// Any error marks the client as not ready.
func (c *Client) Refresh(ctx context.Context) bool {
	st, err := c.Status(ctx)
	ready := err == nil && st.Bot.IsReady

	if prev := c.ready.Swap(ready); prev != ready {
		ev := zlog.Logger.Info()
		if err != nil {
			ev = zlog.Logger.Warn().Err(err)
		}
		ev.Bool("ready", ready).Msg("whatsapp bridge readiness changed")
	}

	return ready
}

// Watch refreshes readiness immediately and then every interval until ctx is done.
func (c *Client) Watch(ctx context.Context, interval time.Duration) {
	c.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.ready.Store(false)
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return apiErr
	}

	var body errorResponse
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
	}

	return apiErr
}
