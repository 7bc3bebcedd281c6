// Package upstream is the HTTP client for the orchestration engine: it
// creates missions, opens their event streams, and carries checkpoint
// resolution commands.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/models"
)

// ErrNotFound is returned when the engine reports 404 for a resource.
var ErrNotFound = errors.New("upstream resource not found")

// StatusError is a non-2xx engine response outside the sentinel cases.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// IsClientError reports whether the status is a 4xx validation-class
// failure (not meaningful to retry).
func (e *StatusError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// RequestContext carries the per-request identity headers the engine
// requires on every call.
type RequestContext struct {
	Token     string
	TenantID  string
	UserID    string
	UserEmail string
	RequestID string
}

// WithRequestID returns a copy with RequestID populated, generating a
// UUID when the caller did not supply one.
func (rc RequestContext) WithRequestID() RequestContext {
	if rc.RequestID == "" {
		rc.RequestID = uuid.New().String()
	}
	return rc
}

// Client talks to the orchestration engine.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an engine client. The timeout applies to synchronous
// calls only; stream requests use a client without an overall deadline.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// StreamClient returns an HTTP client suitable for long-lived stream
// requests (no overall timeout; cancellation comes from the context).
func (c *Client) StreamClient() *http.Client {
	return &http.Client{}
}

// StreamURL returns the SSE endpoint for a mission's event stream.
func (c *Client) StreamURL(missionID string) string {
	return c.baseURL + "/missions/" + missionID + "/stream"
}

func (rc RequestContext) apply(req *http.Request) {
	if rc.Token != "" {
		req.Header.Set("Authorization", "Bearer "+rc.Token)
	}
	req.Header.Set("X-Tenant-ID", rc.TenantID)
	req.Header.Set("X-User-ID", rc.UserID)
	if rc.UserEmail != "" {
		req.Header.Set("X-User-Email", rc.UserEmail)
	}
	req.Header.Set("X-Request-ID", rc.RequestID)
}

// Headers returns the identity headers as an http.Header, for callers
// that attach them to their own requests (the stream transport).
func (rc RequestContext) Headers() http.Header {
	h := make(http.Header)
	if rc.Token != "" {
		h.Set("Authorization", "Bearer "+rc.Token)
	}
	h.Set("X-Tenant-ID", rc.TenantID)
	h.Set("X-User-ID", rc.UserID)
	if rc.UserEmail != "" {
		h.Set("X-User-Email", rc.UserEmail)
	}
	h.Set("X-Request-ID", rc.RequestID)
	return h
}

// CreateMission creates a mission via the synchronous engine API.
func (c *Client) CreateMission(ctx context.Context, rc RequestContext, req models.CreateMissionRequest) (*models.MissionCreated, error) {
	var created models.MissionCreated
	if err := c.doJSON(ctx, rc, http.MethodPost, "/missions", req, &created, http.StatusCreated); err != nil {
		return nil, err
	}
	return &created, nil
}

// CancelMission requests cancellation of a running mission.
func (c *Client) CancelMission(ctx context.Context, missionID string) error {
	rc := RequestContext{}.WithRequestID()
	return c.doJSON(ctx, rc, http.MethodPost, "/missions/"+missionID+"/cancel", nil, nil, http.StatusOK)
}

// GetCheckpoint fetches a checkpoint descriptor.
func (c *Client) GetCheckpoint(ctx context.Context, rc RequestContext, checkpointID string) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	if err := c.doJSON(ctx, rc, http.MethodGet, "/checkpoint/"+checkpointID, nil, &cp, http.StatusOK); err != nil {
		return nil, err
	}
	return &cp, nil
}

// RespondCheckpoint forwards a checkpoint resolution. The audit record in
// the body is passed through unmodified.
func (c *Client) RespondCheckpoint(ctx context.Context, rc RequestContext, checkpointID string, resp models.CheckpointResponse) (*models.CheckpointResult, error) {
	var result models.CheckpointResult
	if err := c.doJSON(ctx, rc, http.MethodPost, "/checkpoint/"+checkpointID, resp, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelCheckpoint cancels an awaiting checkpoint. The engine treats this
// as an implicit reject-with-timeout.
func (c *Client) CancelCheckpoint(ctx context.Context, rc RequestContext, checkpointID string) error {
	return c.doJSON(ctx, rc, http.MethodDelete, "/checkpoint/"+checkpointID, nil, nil, http.StatusOK)
}

// Health probes the engine's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// doJSON performs a JSON request/response round trip. A nil out skips
// decoding; expect is the status treated as success (404 always maps to
// ErrNotFound).
func (c *Client) doJSON(ctx context.Context, rc RequestContext, method, path string, body, out any, expect int) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rc.WithRequestID().apply(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != expect {
		// Body is bounded: error payloads are small and we never want to
		// buffer an unbounded response on a failure path.
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
