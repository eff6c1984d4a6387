package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"ops-realtime/internal/metrics"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
)

var (
	ErrNotFound       = errors.New("webhook not found")
	ErrInvalidWebhook = errors.New("invalid webhook")
)

// Endpoint receives a tenant's events. An empty Events list subscribes
// to everything.
type Endpoint struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Secret string   `json:"-"`
	Events []string `json:"events,omitempty"`
}

func (e Endpoint) wants(event string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == event {
			return true
		}
	}
	return false
}

// Delivery is the JSON body posted to endpoints.
type Delivery struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	TenantID  string      `json:"tenantId"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type Manager struct {
	httpClient *http.Client
	timeout    time.Duration

	mu        sync.RWMutex
	endpoints map[string]map[string]Endpoint
}

// NewManager returns a manager posting with httpClient (http.DefaultClient
// when nil), bounding each delivery by timeout.
func NewManager(httpClient *http.Client, timeout time.Duration) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Manager{
		httpClient: httpClient,
		timeout:    timeout,
		endpoints:  make(map[string]map[string]Endpoint),
	}
}

// Register adds an endpoint for tenantID and returns its id.
func (m *Manager) Register(tenantID string, ep Endpoint) (string, error) {
	u, err := url.Parse(ep.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: url must be absolute http(s)", ErrInvalidWebhook)
	}
	if ep.Secret == "" {
		return "", fmt.Errorf("%w: secret is required", ErrInvalidWebhook)
	}

	ep.ID = uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.endpoints[tenantID] == nil {
		m.endpoints[tenantID] = make(map[string]Endpoint)
	}
	m.endpoints[tenantID][ep.ID] = ep

	slog.Info("[WEBHOOK] Endpoint registered", "tenant", tenantID, "id", ep.ID, "url", ep.URL)
	return ep.ID, nil
}

func (m *Manager) Unregister(tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.endpoints[tenantID][id]; !ok {
		return ErrNotFound
	}
	delete(m.endpoints[tenantID], id)
	if len(m.endpoints[tenantID]) == 0 {
		delete(m.endpoints, tenantID)
	}
	return nil
}

// Endpoints lists a tenant's endpoints ordered by URL.
func (m *Manager) Endpoints(tenantID string) []Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Endpoint, 0, len(m.endpoints[tenantID]))
	for _, ep := range m.endpoints[tenantID] {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].URL != out[j].URL {
			return out[i].URL < out[j].URL
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Dispatch posts event to every matching endpoint of tenantID and joins
// the errors of failed deliveries.
func (m *Manager) Dispatch(ctx context.Context, tenantID, event string, data interface{}) error {
	var targets []Endpoint
	for _, ep := range m.Endpoints(tenantID) {
		if ep.wants(event) {
			targets = append(targets, ep)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	body, err := json.Marshal(Delivery{
		ID:        uuid.NewString(),
		Event:     event,
		TenantID:  tenantID,
		Timestamp: time.Now().Unix(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, ep := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.deliver(ctx, ep, event, body)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (m *Manager) deliver(ctx context.Context, ep Endpoint, event string, body []byte) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request for %s: %w", ep.URL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, event)
	req.Header.Set(SignatureHeader, Sign(ep.Secret, body))

	resp, err := m.httpClient.Do(req)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		slog.Warn("[WEBHOOK] Delivery failed", "id", ep.ID, "url", ep.URL, "event", event, "error", err)
		return fmt.Errorf("deliver to %s: %w", ep.URL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		slog.Warn("[WEBHOOK] Delivery rejected", "id", ep.ID, "url", ep.URL, "event", event, "status", resp.StatusCode)
		return fmt.Errorf("deliver to %s: status %d", ep.URL, resp.StatusCode)
	}

	metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
	slog.Debug("[WEBHOOK] Delivered", "id", ep.ID, "event", event)
	return nil
}

// Sign returns the signature header value for body: sha256=<hex hmac>.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
