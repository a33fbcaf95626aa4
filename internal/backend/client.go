// Package backend wraps the remote authority's HTTP API. It exposes the two
// calls the ingest server depends on: verifying a publisher's credentials
// before the upgrade completes, and reporting that a stream is still actively
// producing data.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"relaycast/internal/auth"
)

// StreamDescriptor is the verified outcome of a successful credential check.
type StreamDescriptor struct {
	ID string `json:"id"`
}

// Gateway captures the backend operations consumed by the stream runtime.
// Network failures and application-level error outcomes are surfaced
// identically, as a non-nil error.
type Gateway interface {
	Verify(ctx context.Context, creds auth.Credentials) (StreamDescriptor, error)
	Activate(ctx context.Context, streamID string) error
}

// Config stores connectivity information for the backend client.
type Config struct {
	BaseURL    string
	Key        string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements Gateway over a single HTTP endpoint with a shared static
// Basic authorization header.
type Client struct {
	baseURL    string
	key        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates the configuration and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    base,
		key:        strings.TrimSpace(cfg.Key),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// envelope is the response shape shared by both backend operations. The err
// field is kept raw because the backend reports failures as strings, booleans,
// or objects depending on the path that produced them.
type envelope struct {
	Err json.RawMessage `json:"err"`
	ID  string          `json:"id"`
}

func (e envelope) failed() bool {
	value := strings.TrimSpace(string(e.Err))
	switch value {
	case "", "null", "false", `""`:
		return false
	}
	return true
}

func (e envelope) reason() string {
	if !e.failed() {
		return ""
	}
	return strings.Trim(strings.TrimSpace(string(e.Err)), `"`)
}

// Verify submits the decoded credentials for verification. On success the
// returned descriptor carries the stream ID from the backend response, falling
// back to the credential's own id field when the response omits one.
func (c *Client) Verify(ctx context.Context, creds auth.Credentials) (StreamDescriptor, error) {
	var resp envelope
	if err := c.post(ctx, "/verify", creds, &resp); err != nil {
		return StreamDescriptor{}, fmt.Errorf("verify stream: %w", err)
	}
	if resp.failed() {
		return StreamDescriptor{}, fmt.Errorf("verify stream: backend rejected credentials: %s", resp.reason())
	}
	id := resp.ID
	if id == "" {
		id = creds.ID
	}
	return StreamDescriptor{ID: id}, nil
}

type activateRequest struct {
	StreamID string `json:"streamID"`
}

// Activate reports that the stream identified by streamID is still producing
// data.
func (c *Client) Activate(ctx context.Context, streamID string) error {
	var resp envelope
	if err := c.post(ctx, "/activate_stream", activateRequest{StreamID: streamID}, &resp); err != nil {
		return fmt.Errorf("activate stream: %w", err)
	}
	if resp.failed() {
		return fmt.Errorf("activate stream: backend rejected stream %s: %s", streamID, resp.reason())
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Basic "+c.key)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
