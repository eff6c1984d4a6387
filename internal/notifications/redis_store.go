package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"

	"ops-realtime/internal/models"
)

// RedisStore keeps each user's notifications in one hash keyed by id.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func storeKey(tenantID, userID string) string {
	return "notifications:" + tenantID + ":" + userID
}

func (s *RedisStore) List(ctx context.Context, tenantID, userID string) ([]models.Notification, error) {
	key := storeKey(tenantID, userID)
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", key, err)
	}

	out := make([]models.Notification, 0, len(fields))
	for id, raw := range fields {
		var n models.Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			slog.Warn("[STORE] Skipping malformed notification", "key", key, "id", id, "error", err)
			continue
		}
		out = append(out, n)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *RedisStore) Get(ctx context.Context, tenantID, userID, id string) (models.Notification, error) {
	raw, err := s.rdb.HGet(ctx, storeKey(tenantID, userID), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Notification{}, ErrNotFound
	}
	if err != nil {
		return models.Notification{}, fmt.Errorf("get notification %s: %w", id, err)
	}

	var n models.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return models.Notification{}, fmt.Errorf("decode notification %s: %w", id, err)
	}
	return n, nil
}

func (s *RedisStore) Put(ctx context.Context, tenantID, userID string, n models.Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, storeKey(tenantID, userID), n.ID, raw).Err(); err != nil {
		return fmt.Errorf("put notification %s: %w", n.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, tenantID, userID, id string) error {
	removed, err := s.rdb.HDel(ctx, storeKey(tenantID, userID), id).Result()
	if err != nil {
		return fmt.Errorf("delete notification %s: %w", id, err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}
