package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ops-realtime/internal/models"
)

func newTestService() (*Service, *recordingPublisher, *recordingDispatcher) {
	pub := &recordingPublisher{}
	hooks := newRecordingDispatcher()
	svc := NewService(NewMemoryStore(), pub, hooks)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, pub, hooks
}

func TestService_CreateDefaults(t *testing.T) {
	svc, pub, hooks := newTestService()

	n, err := svc.Create(context.Background(), "t1", "u1", CreateInput{Title: "  Backup done ", Message: "ok"})
	require.NoError(t, err)

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "Backup done", n.Title)
	assert.Equal(t, models.NotificationInfo, n.Type)
	assert.Equal(t, models.PriorityMedium, n.Priority)
	assert.Equal(t, models.StatusUnread, n.Status)
	assert.Equal(t, 2026, n.CreatedAt.Year())

	events := pub.published()
	require.Len(t, events, 1)
	assert.Equal(t, models.TypeNotification, events[0].Type)
	assert.Equal(t, "t1", events[0].TenantID)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Empty(t, events[0].Channel)

	select {
	case call := <-hooks.calls:
		assert.Equal(t, "t1", call.tenantID)
		assert.Equal(t, EventNotificationCreated, call.event)
	case <-time.After(time.Second):
		t.Fatal("webhook not dispatched")
	}
}

func TestService_CreateValidation(t *testing.T) {
	svc, pub, _ := newTestService()

	tests := []struct {
		name   string
		tenant string
		user   string
		in     CreateInput
	}{
		{"missing title", "t1", "u1", CreateInput{Title: "   "}},
		{"missing user", "t1", "", CreateInput{Title: "x"}},
		{"bad type", "t1", "u1", CreateInput{Title: "x", Type: "loud"}},
		{"bad priority", "t1", "u1", CreateInput{Title: "x", Priority: "whenever"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.tenant, tt.user, tt.in)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
	assert.Empty(t, pub.published())
}

func TestService_CreateSurvivesPublishFailure(t *testing.T) {
	svc, pub, _ := newTestService()
	pub.err = errors.New("bus down")

	n, err := svc.Create(context.Background(), "t1", "u1", CreateInput{Title: "x"})
	require.NoError(t, err)

	items, err := svc.List(context.Background(), "t1", "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, n.ID, items[0].ID)
}

func TestService_MarkRead(t *testing.T) {
	ctx := context.Background()
	svc, pub, _ := newTestService()

	n, err := svc.Create(ctx, "t1", "u1", CreateInput{Title: "x"})
	require.NoError(t, err)

	read, err := svc.MarkRead(ctx, "t1", "u1", n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, read.Status)

	// second call is a no-op and does not push again
	_, err = svc.MarkRead(ctx, "t1", "u1", n.ID)
	require.NoError(t, err)
	assert.Len(t, pub.published(), 2)

	_, err = svc.MarkRead(ctx, "t1", "u2", n.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_MarkAllReadAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	var ids []string
	for _, title := range []string{"a", "b", "c"} {
		n, err := svc.Create(ctx, "t1", "u1", CreateInput{Title: title})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}
	_, err := svc.MarkRead(ctx, "t1", "u1", ids[0])
	require.NoError(t, err)

	updated, err := svc.MarkAllRead(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	require.NoError(t, svc.Delete(ctx, "t1", "u1", ids[1]))
	assert.ErrorIs(t, svc.Delete(ctx, "t1", "u1", ids[1]), ErrNotFound)

	items, err := svc.List(ctx, "t1", "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, n := range items {
		assert.Equal(t, models.StatusRead, n.Status)
	}
}

func TestService_PublishUpdate(t *testing.T) {
	ctx := context.Background()
	svc, pub, hooks := newTestService()

	assert.ErrorIs(t, svc.PublishUpdate(ctx, "t1", " ", json.RawMessage(`{}`)), ErrInvalid)
	assert.ErrorIs(t, svc.PublishUpdate(ctx, "t1", "orders", json.RawMessage(`{`)), ErrInvalid)
	assert.ErrorIs(t, svc.PublishUpdate(ctx, "t1", "orders", nil), ErrInvalid)

	require.NoError(t, svc.PublishUpdate(ctx, "t1", "orders", json.RawMessage(`{"id":3}`)))
	events := pub.published()
	require.Len(t, events, 1)
	assert.Equal(t, models.TypeUpdate, events[0].Type)
	assert.Equal(t, "orders", events[0].Channel)

	select {
	case call := <-hooks.calls:
		assert.Equal(t, EventChannelUpdate, call.event)
	case <-time.After(time.Second):
		t.Fatal("webhook not dispatched")
	}

	pub.err = errors.New("bus down")
	assert.Error(t, svc.PublishUpdate(ctx, "t1", "orders", json.RawMessage(`1`)))
}
