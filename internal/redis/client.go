package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"

	"ops-realtime/internal/models"
)

const tenantChannelPrefix = "tenant:"

type Client struct {
	rdb *redis.Client
}

// NewClient connects to redisURL and pings it once.
func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	slog.Info("[REDIS] Connected to Redis", "addr", opt.Addr)

	return &Client{rdb: rdb}, nil
}

// Redis exposes the underlying client for stores sharing the connection.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// TenantChannel is the pub/sub channel carrying a tenant's events.
func TenantChannel(tenantID string) string {
	return tenantChannelPrefix + tenantID
}

// Publish sends ev to every instance subscribed to its tenant.
func (c *Client) Publish(ctx context.Context, ev models.Event) error {
	if ev.TenantID == "" {
		return fmt.Errorf("publish %s: missing tenant", ev.Type)
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("[REDIS] Failed to marshal event", "type", ev.Type, "tenant", ev.TenantID, "error", err)
		return err
	}

	channel := TenantChannel(ev.TenantID)
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		slog.Error("[REDIS] Failed to publish event", "type", ev.Type, "channel", channel, "error", err)
		return err
	}

	slog.Debug("[REDIS] Event published", "type", ev.Type, "channel", channel)
	return nil
}
