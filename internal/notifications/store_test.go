package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ops-realtime/internal/models"
)

func notification(id string, at time.Time) models.Notification {
	return models.Notification{
		ID:        id,
		Title:     "title " + id,
		Type:      models.NotificationInfo,
		Priority:  models.PriorityMedium,
		Status:    models.StatusUnread,
		CreatedAt: at,
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Put(ctx, "t1", "u1", notification("a", base)))
	require.NoError(t, store.Put(ctx, "t1", "u1", notification("b", base.Add(time.Minute))))
	require.NoError(t, store.Put(ctx, "t1", "u2", notification("c", base)))
	require.NoError(t, store.Put(ctx, "t2", "u1", notification("d", base)))

	items, err := store.List(ctx, "t1", "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].ID)
	assert.Equal(t, "a", items[1].ID)

	_, err = store.Get(ctx, "t2", "u1", "a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, "t1", "u1", "a"))
	assert.ErrorIs(t, store.Delete(ctx, "t1", "u1", "a"), ErrNotFound)

	items, err = store.List(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = store.List(ctx, "t9", "nobody")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStoreKey(t *testing.T) {
	assert.Equal(t, "notifications:acme:u1", storeKey("acme", "u1"))
}
