package redis

import (
	"context"
	"log/slog"

	"github.com/goccy/go-json"

	"ops-realtime/internal/models"
	"ops-realtime/internal/ws"
)

// SubscribeToEvents feeds every tenant event published on redis into the
// hub until ctx is cancelled or the subscription closes.
func SubscribeToEvents(ctx context.Context, client *Client, hub *ws.Hub) error {
	slog.Info("[REDIS] Starting Redis pub/sub subscription...")

	pattern := tenantChannelPrefix + "*"
	pubsub := client.rdb.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		slog.Error("[REDIS] Failed to receive subscription confirmation", "error", err)
		return err
	}

	slog.Info("[REDIS] Subscription confirmed, listening for messages...", "pattern", pattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			slog.Info("[REDIS] Subscription stopped")
			return nil

		case msg, ok := <-ch:
			if !ok {
				slog.Info("[REDIS] Redis pub/sub channel closed")
				return nil
			}

			broadcastMsg, ok := decodeEvent(msg.Channel, []byte(msg.Payload))
			if !ok {
				continue
			}

			select {
			case hub.Broadcast <- broadcastMsg:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func decodeEvent(channel string, payload []byte) (*models.BroadcastMessage, bool) {
	var event models.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		slog.Error("[REDIS] Error unmarshaling event", "channel", channel, "error", err, "payload", string(payload))
		return nil, false
	}

	if TenantChannel(event.TenantID) != channel {
		slog.Warn("[REDIS] Event tenant does not match channel", "channel", channel, "tenant", event.TenantID)
		return nil, false
	}

	broadcastMsg, err := ws.BroadcastFromEvent(event)
	if err != nil {
		slog.Warn("[REDIS] Dropping event", "channel", channel, "type", event.Type, "error", err)
		return nil, false
	}
	return broadcastMsg, true
}
