package notifications

import (
	"context"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"

	"ops-realtime/internal/models"
	"ops-realtime/internal/realtime"
)

// Center is a user's notification list kept in sync with the backend and
// with notifications pushed over the realtime connection.
type Center struct {
	backend Backend

	mu    sync.RWMutex
	items []models.Notification
}

func NewCenter(backend Backend) *Center {
	return &Center{backend: backend}
}

// Load replaces the local list with the backend's.
func (c *Center) Load(ctx context.Context) error {
	items, err := c.backend.List(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.items = append([]models.Notification(nil), items...)
	c.mu.Unlock()
	return nil
}

func (c *Center) MarkRead(ctx context.Context, id string) error {
	n, err := c.backend.MarkRead(ctx, id)
	if err != nil {
		return err
	}
	c.apply(n)
	return nil
}

func (c *Center) MarkAllRead(ctx context.Context) (int, error) {
	updated, err := c.backend.MarkAllRead(ctx)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	for i := range c.items {
		c.items[i].Status = models.StatusRead
	}
	c.mu.Unlock()
	return updated, nil
}

func (c *Center) Delete(ctx context.Context, id string) error {
	if err := c.backend.Delete(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.items {
		if n.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			break
		}
	}
	return nil
}

// Items returns the list, newest first.
func (c *Center) Items() []models.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Notification(nil), c.items...)
}

func (c *Center) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for _, n := range c.items {
		if n.Unread() {
			count++
		}
	}
	return count
}

// Attach applies notification messages received by client until the
// returned function is called.
func (c *Center) Attach(client *realtime.Client) (detach func()) {
	return client.OnMessage(func(env models.Envelope) {
		if env.Type != models.TypeNotification {
			return
		}
		var n models.Notification
		if err := json.Unmarshal(env.Data, &n); err != nil || n.ID == "" {
			slog.Warn("[CENTER] Ignoring malformed notification", "error", err)
			return
		}
		c.apply(n)
	})
}

// apply replaces a known notification in place or prepends a new one.
func (c *Center) apply(n models.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == n.ID {
			c.items[i] = n
			return
		}
	}
	c.items = append([]models.Notification{n}, c.items...)
}
