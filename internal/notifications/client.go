package notifications

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"ops-realtime/internal/auth"
	"ops-realtime/internal/models"
)

// Backend is what a notification consumer needs from the REST service.
// APIClient talks to a server; tests and offline tools swap in their own.
type Backend interface {
	List(ctx context.Context) ([]models.Notification, error)
	MarkRead(ctx context.Context, id string) (models.Notification, error)
	MarkAllRead(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
}

// APIClient calls the notifications REST API as the identity supplied by
// its provider.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	identity   auth.Provider
}

// NewAPIClient returns a client for baseURL. A nil httpClient means
// http.DefaultClient.
func NewAPIClient(baseURL string, identity auth.Provider, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		identity:   identity,
	}
}

func (c *APIClient) List(ctx context.Context) ([]models.Notification, error) {
	var items []models.Notification
	if err := c.do(ctx, http.MethodGet, "/api/notifications", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Create adds a notification for userID, or for the caller when empty.
func (c *APIClient) Create(ctx context.Context, userID string, in CreateInput) (models.Notification, error) {
	var n models.Notification
	err := c.do(ctx, http.MethodPost, "/api/notifications", createRequest{CreateInput: in, UserID: userID}, &n)
	return n, err
}

func (c *APIClient) MarkRead(ctx context.Context, id string) (models.Notification, error) {
	var n models.Notification
	err := c.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/read", nil, &n)
	return n, err
}

func (c *APIClient) MarkAllRead(ctx context.Context) (int, error) {
	var resp struct {
		Updated int `json:"updated"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/notifications/read-all", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

func (c *APIClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/notifications/"+url.PathEscape(id), nil, nil)
}

// PublishUpdate posts payload to every subscriber of channel.
func (c *APIClient) PublishUpdate(ctx context.Context, channel string, payload json.RawMessage) error {
	return c.do(ctx, http.MethodPost, "/api/channels/"+url.PathEscape(channel)+"/events", payload, nil)
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	id, err := c.identity.Identity(ctx)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}

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
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id.Token != "" {
		req.Header.Set("Authorization", "Bearer "+id.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(raw))
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalid, payload.Error)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", auth.ErrUnauthorized, payload.Error)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, payload.Error)
	default:
		return fmt.Errorf("notifications api returned status %d: %s", resp.StatusCode, payload.Error)
	}
}
