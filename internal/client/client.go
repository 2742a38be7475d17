// Package client talks to the leasehold HTTP API.
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

	"github.com/VenkatGGG/leasehold/internal/lease"
	"github.com/VenkatGGG/leasehold/internal/resource"
	"github.com/VenkatGGG/leasehold/internal/session"
	"github.com/VenkatGGG/leasehold/pkg/httpx"
)

const DefaultBaseURL = "http://localhost:8080"

// Resource is the server's view of a resource, including derived fields.
type Resource struct {
	resource.Resource
	Claimed          bool   `json:"claimed"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	ClaimedByName    string `json:"claimed_by_name,omitempty"`
}

// APIError is a non-2xx reply. It unwraps to the matching lease sentinel so
// callers can use errors.Is(err, lease.ErrAlreadyClaimed).
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "invalid_name":
		return lease.ErrInvalidName
	case "invalid_duration":
		return lease.ErrInvalidDuration
	case "invalid_message":
		return lease.ErrInvalidMessage
	case "not_found":
		return lease.ErrNotFound
	case "already_claimed":
		return lease.ErrAlreadyClaimed
	case "not_claimed":
		return lease.ErrNotClaimed
	case "not_holder":
		return lease.ErrNotHolder
	default:
		return nil
	}
}

type Option func(*Client)

func WithSession(id string) Option {
	return func(c *Client) { c.sessionID = strings.TrimSpace(id) }
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	sessionID  string
	apiKey     string
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    normalizeBaseURL(baseURL),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateSession(ctx context.Context, name string) (session.Session, error) {
	var out session.Session
	err := c.do(ctx, http.MethodPost, "/v1/sessions", session.CreateInput{Name: name}, http.StatusCreated, &out)
	return out, err
}

// ErrNoSession is returned by session calls made without WithSession.
var ErrNoSession = errors.New("client has no session")

// RenameSession changes the display name of the client's own session.
func (c *Client) RenameSession(ctx context.Context, name string) (session.Session, error) {
	if c.sessionID == "" {
		return session.Session{}, ErrNoSession
	}
	var out session.Session
	err := c.do(ctx, http.MethodPatch, sessionPath(c.sessionID), map[string]string{"name": name}, http.StatusOK, &out)
	return out, err
}

// SignOut deletes the client's own session.
func (c *Client) SignOut(ctx context.Context) error {
	if c.sessionID == "" {
		return ErrNoSession
	}
	return c.do(ctx, http.MethodDelete, sessionPath(c.sessionID), nil, http.StatusNoContent, nil)
}

func (c *Client) CreateResource(ctx context.Context, name string) (Resource, error) {
	var out struct {
		ID       string   `json:"id"`
		Resource Resource `json:"resource"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/resources", map[string]string{"name": name}, http.StatusCreated, &out); err != nil {
		return Resource{}, err
	}
	return out.Resource, nil
}

func (c *Client) GetResource(ctx context.Context, id string) (Resource, error) {
	var out Resource
	err := c.do(ctx, http.MethodGet, resourcePath(id, ""), nil, http.StatusOK, &out)
	return out, err
}

// Claim checks minutes against lease.MaxClaimMinutes before calling the
// server, which enforces the same bound.
func (c *Client) Claim(ctx context.Context, id string, minutes int, message string) (Resource, error) {
	if minutes < 1 || minutes > lease.MaxClaimMinutes {
		return Resource{}, lease.ErrInvalidDuration
	}
	body := map[string]any{"minutes": minutes}
	if message != "" {
		body["message"] = message
	}
	var out Resource
	err := c.do(ctx, http.MethodPost, resourcePath(id, "claim"), body, http.StatusOK, &out)
	return out, err
}

func (c *Client) Extend(ctx context.Context, id string) (Resource, error) {
	var out Resource
	err := c.do(ctx, http.MethodPost, resourcePath(id, "extend"), nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) Release(ctx context.Context, id string) (Resource, error) {
	var out Resource
	err := c.do(ctx, http.MethodPost, resourcePath(id, "release"), nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		apiErr := httpx.ReadError(resp)
		return &APIError{StatusCode: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, httpx.MaxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	if c.sessionID != "" {
		h.Set("X-Session-ID", c.sessionID)
	}
	if c.apiKey != "" {
		h.Set("X-API-Key", c.apiKey)
	}
}

func sessionPath(id string) string {
	return "/v1/sessions/" + url.PathEscape(strings.TrimSpace(id))
}

func resourcePath(id, action string) string {
	path := "/v1/resources/" + url.PathEscape(strings.TrimSpace(id))
	if action != "" {
		path += "/" + action
	}
	return path
}

func normalizeBaseURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	return strings.TrimSuffix(trimmed, "/")
}

// IsConflict reports whether err is a refused transition the caller may
// resolve by re-reading the resource.
func IsConflict(err error) bool {
	return errors.Is(err, lease.ErrAlreadyClaimed) ||
		errors.Is(err, lease.ErrNotClaimed) ||
		errors.Is(err, lease.ErrNotHolder)
}
