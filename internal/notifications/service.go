package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"ops-realtime/internal/metrics"
	"ops-realtime/internal/models"
)

// Webhook events dispatched by the service.
const (
	EventNotificationCreated = "notification.created"
	EventChannelUpdate       = "channel.update"
)

// Publisher delivers events to connected clients, locally or through the bus.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Dispatcher notifies a tenant's webhook endpoints.
type Dispatcher interface {
	Dispatch(ctx context.Context, tenantID, event string, data interface{}) error
}

type CreateInput struct {
	Title     string                  `json:"title"`
	Message   string                  `json:"message"`
	Type      models.NotificationType `json:"type,omitempty"`
	Priority  models.Priority         `json:"priority,omitempty"`
	ActionURL string                  `json:"actionUrl,omitempty"`
}

type Service struct {
	store     Store
	publisher Publisher
	hooks     Dispatcher
	now       func() time.Time
}

// NewService wires the store to the realtime publisher. hooks may be nil.
func NewService(store Store, publisher Publisher, hooks Dispatcher) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		hooks:     hooks,
		now:       time.Now,
	}
}

func (s *Service) List(ctx context.Context, tenantID, userID string) ([]models.Notification, error) {
	return s.store.List(ctx, tenantID, userID)
}

// Create stores a notification for the user and pushes it to their
// connections. A failed push does not fail the call.
func (s *Service) Create(ctx context.Context, tenantID, userID string, in CreateInput) (models.Notification, error) {
	n := models.Notification{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(in.Title),
		Message:   strings.TrimSpace(in.Message),
		Type:      in.Type,
		Priority:  in.Priority,
		Status:    models.StatusUnread,
		CreatedAt: s.now().UTC(),
		ActionURL: in.ActionURL,
	}
	if n.Type == "" {
		n.Type = models.NotificationInfo
	}
	if n.Priority == "" {
		n.Priority = models.PriorityMedium
	}

	switch {
	case tenantID == "" || userID == "":
		return models.Notification{}, fmt.Errorf("%w: tenant and user are required", ErrInvalid)
	case n.Title == "":
		return models.Notification{}, fmt.Errorf("%w: title is required", ErrInvalid)
	case !n.Type.Valid():
		return models.Notification{}, fmt.Errorf("%w: unknown type %q", ErrInvalid, n.Type)
	case !n.Priority.Valid():
		return models.Notification{}, fmt.Errorf("%w: unknown priority %q", ErrInvalid, n.Priority)
	}

	if err := s.store.Put(ctx, tenantID, userID, n); err != nil {
		return models.Notification{}, err
	}
	metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
	slog.Info("[NOTIFY] Notification created", "id", n.ID, "tenant", tenantID, "user", userID, "type", n.Type)

	s.push(ctx, tenantID, userID, n)
	s.dispatch(ctx, tenantID, EventNotificationCreated, map[string]interface{}{
		"userId":       userID,
		"notification": n,
	})
	return n, nil
}

// MarkRead marks one notification read and pushes the new state to the
// user's other connections.
func (s *Service) MarkRead(ctx context.Context, tenantID, userID, id string) (models.Notification, error) {
	n, err := s.store.Get(ctx, tenantID, userID, id)
	if err != nil {
		return models.Notification{}, err
	}
	if !n.Unread() {
		return n, nil
	}

	n.Status = models.StatusRead
	if err := s.store.Put(ctx, tenantID, userID, n); err != nil {
		return models.Notification{}, err
	}
	s.push(ctx, tenantID, userID, n)
	return n, nil
}

// MarkAllRead returns how many notifications changed.
func (s *Service) MarkAllRead(ctx context.Context, tenantID, userID string) (int, error) {
	items, err := s.store.List(ctx, tenantID, userID)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, n := range items {
		if !n.Unread() {
			continue
		}
		n.Status = models.StatusRead
		if err := s.store.Put(ctx, tenantID, userID, n); err != nil {
			return changed, err
		}
		s.push(ctx, tenantID, userID, n)
		changed++
	}
	return changed, nil
}

func (s *Service) Delete(ctx context.Context, tenantID, userID, id string) error {
	return s.store.Delete(ctx, tenantID, userID, id)
}

// PublishUpdate sends payload to every subscriber of a tenant channel.
func (s *Service) PublishUpdate(ctx context.Context, tenantID, channel string, payload json.RawMessage) error {
	channel = strings.TrimSpace(channel)
	if tenantID == "" || channel == "" {
		return fmt.Errorf("%w: tenant and channel are required", ErrInvalid)
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return fmt.Errorf("%w: payload must be JSON", ErrInvalid)
	}

	ev := models.NewUpdateEvent(tenantID, channel, payload)
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish update to %s: %w", channel, err)
	}
	s.dispatch(ctx, tenantID, EventChannelUpdate, models.ChannelUpdate{Channel: channel, Payload: payload})
	return nil
}

func (s *Service) push(ctx context.Context, tenantID, userID string, n models.Notification) {
	ev, err := models.NewNotificationEvent(tenantID, userID, n)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		slog.Warn("[NOTIFY] Failed to push notification", "id", n.ID, "tenant", tenantID, "user", userID, "error", err)
	}
}

func (s *Service) dispatch(ctx context.Context, tenantID, event string, data interface{}) {
	if s.hooks == nil {
		return
	}
	go func() {
		if err := s.hooks.Dispatch(context.WithoutCancel(ctx), tenantID, event, data); err != nil {
			slog.Warn("[NOTIFY] Webhook dispatch failed", "tenant", tenantID, "event", event, "error", err)
		}
	}()
}
