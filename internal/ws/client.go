package ws

import (
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"ops-realtime/internal/metrics"
	"ops-realtime/internal/models"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Max message size
	maxMessageSize = 64 * 1024

	maxChannelName = 128
)

// Client is one server-side WebSocket connection. channels and
// registered are guarded by the hub's lock.
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	tenantID string
	userID   string
	limiter  *rate.Limiter

	channels   map[string]bool
	registered bool
}

// ReadPump pumps messages from WebSocket to hub
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("[CLIENT] Unexpected close", "connection", c.id, "user", c.userID, "error", err)
			}
			break
		}

		c.handleClientMessage(message)
	}
}

// WritePump pumps messages from hub to WebSocket
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing connection"))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Error("[CLIENT] Failed to write message", "connection", c.id, "user", c.userID, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Error("[CLIENT] Failed to send ping", "connection", c.id, "user", c.userID, "error", err)
				return
			}
		}
	}
}

func (c *Client) handleClientMessage(message []byte) {
	if c.limiter != nil && !c.limiter.Allow() {
		metrics.WSRateLimited.Inc()
		c.replyError("rate limit exceeded")
		return
	}

	var env models.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		slog.Warn("[CLIENT] Error unmarshaling message", "connection", c.id, "user", c.userID, "error", err)
		c.replyError("invalid message format")
		return
	}

	switch env.Type {
	case models.TypeSubscribe, models.TypeUnsubscribe:
		channels, ok := parseChannels(env.Data)
		if !ok {
			c.replyError("channels must be a non-empty list of channel names")
			return
		}

		ackType := models.TypeSubscribed
		var acked []string
		if env.Type == models.TypeSubscribe {
			acked = c.hub.subscribe(c, channels)
		} else {
			ackType = models.TypeUnsubscribed
			acked = c.hub.unsubscribe(c, channels)
		}
		slog.Debug("[CLIENT] Channels updated", "connection", c.id, "type", env.Type, "channels", acked)
		c.reply(ackType, models.ChannelsData{Channels: acked})

	default:
		slog.Warn("[CLIENT] Unknown event type", "type", env.Type, "connection", c.id, "user", c.userID)
		c.replyError("unknown message type: " + env.Type)
	}
}

func parseChannels(data json.RawMessage) ([]string, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var payload models.ChannelsData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, false
	}

	seen := make(map[string]bool, len(payload.Channels))
	channels := make([]string, 0, len(payload.Channels))
	for _, ch := range payload.Channels {
		ch = strings.TrimSpace(ch)
		if ch == "" || len(ch) > maxChannelName || seen[ch] {
			continue
		}
		seen[ch] = true
		channels = append(channels, ch)
	}
	return channels, len(channels) > 0
}

func (c *Client) reply(msgType string, data interface{}) {
	payload, err := encode(msgType, data)
	if err != nil {
		slog.Error("[CLIENT] Failed to encode reply", "type", msgType, "error", err)
		return
	}
	c.hub.reply(c, msgType, payload)
}

func (c *Client) replyError(message string) {
	c.reply(models.TypeError, models.ErrorData{Message: message})
}
