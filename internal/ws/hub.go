package ws

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"ops-realtime/internal/metrics"
	"ops-realtime/internal/models"
)

var ErrHubStopped = errors.New("hub stopped")

type clientSet map[*Client]bool

// Hub maintains active WebSocket connections and routes messages to
// channel subscribers or to every connection of a user, per tenant.
type Hub struct {
	// tenantId -> channel -> clients
	channels map[string]map[string]clientSet

	// tenantId -> userId -> clients
	users map[string]map[string]clientSet

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client

	// Broadcast is fed by the local publisher and the redis subscriber.
	Broadcast chan *models.BroadcastMessage

	done chan struct{}

	messageRate  rate.Limit
	messageBurst int
}

// NewHub returns a hub whose connections may send messageRate frames per
// second with bursts of messageBurst.
func NewHub(messageRate float64, messageBurst int) *Hub {
	return &Hub{
		channels:     make(map[string]map[string]clientSet),
		users:        make(map[string]map[string]clientSet),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		Broadcast:    make(chan *models.BroadcastMessage, 256),
		done:         make(chan struct{}),
		messageRate:  rate.Limit(messageRate),
		messageBurst: messageBurst,
	}
}

// Run processes hub events until ctx is cancelled, then closes every
// connection's send buffer.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("[HUB] Starting hub event loop")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			slog.Info("[HUB] Hub event loop stopped")
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.Broadcast:
			h.route(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	byUser := h.users[client.tenantID]
	if byUser == nil {
		byUser = make(map[string]clientSet)
		h.users[client.tenantID] = byUser
	}
	if byUser[client.userID] == nil {
		byUser[client.userID] = make(clientSet)
	}
	byUser[client.userID][client] = true
	client.registered = true
	metrics.WSConnectionsActive.Inc()

	slog.Info("[HUB] Client registered", "connection", client.id, "user", client.userID, "tenant", client.tenantID,
		"userConnections", len(byUser[client.userID]))

	payload, err := encode(models.TypeConnectionEstablished, models.ConnectionData{
		ConnectionID: client.id,
		TenantID:     client.tenantID,
		UserID:       client.userID,
	})
	if err != nil {
		slog.Error("[HUB] Failed to encode connection_established", "error", err)
		return
	}
	h.sendLocked(client, models.TypeConnectionEstablished, payload)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.removeLocked(client) {
		return
	}
	slog.Info("[HUB] Client unregistered", "connection", client.id, "user", client.userID, "tenant", client.tenantID)
}

// removeLocked drops client from every index and closes its send buffer.
// It reports false when the client was already gone.
func (h *Hub) removeLocked(client *Client) bool {
	if !client.registered {
		return false
	}
	client.registered = false

	for channel := range client.channels {
		h.leaveLocked(client, channel)
	}
	if byUser, ok := h.users[client.tenantID]; ok {
		if set, ok := byUser[client.userID]; ok {
			delete(set, client)
			if len(set) == 0 {
				delete(byUser, client.userID)
			}
		}
		if len(byUser) == 0 {
			delete(h.users, client.tenantID)
		}
	}

	close(client.send)
	metrics.WSConnectionsActive.Dec()
	return true
}

func (h *Hub) leaveLocked(client *Client, channel string) {
	delete(client.channels, channel)
	byChannel, ok := h.channels[client.tenantID]
	if !ok {
		return
	}
	if set, ok := byChannel[channel]; ok {
		delete(set, client)
		if len(set) == 0 {
			slog.Debug("[HUB] Channel is now empty, removing", "tenant", client.tenantID, "channel", channel)
			delete(byChannel, channel)
		}
	}
	if len(byChannel) == 0 {
		delete(h.channels, client.tenantID)
	}
}

// subscribe adds client to channels and returns the channels it is now in.
func (h *Hub) subscribe(client *Client, channels []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !client.registered {
		return nil
	}
	byChannel := h.channels[client.tenantID]
	if byChannel == nil {
		byChannel = make(map[string]clientSet)
		h.channels[client.tenantID] = byChannel
	}

	joined := make([]string, 0, len(channels))
	for _, channel := range channels {
		if byChannel[channel] == nil {
			byChannel[channel] = make(clientSet)
		}
		byChannel[channel][client] = true
		client.channels[channel] = true
		joined = append(joined, channel)
	}
	return joined
}

func (h *Hub) unsubscribe(client *Client, channels []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !client.registered {
		return nil
	}
	left := make([]string, 0, len(channels))
	for _, channel := range channels {
		if client.channels[channel] {
			h.leaveLocked(client, channel)
		}
		left = append(left, channel)
	}
	return left
}

// reply queues payload to a single client.
func (h *Hub) reply(client *Client, msgType string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if client.registered {
		h.trySendLocked(client, msgType, payload)
	}
}

func (h *Hub) route(message *models.BroadcastMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var targets clientSet
	switch {
	case message.Channel != "":
		targets = h.channels[message.TenantID][message.Channel]
	case message.UserID != "":
		targets = h.users[message.TenantID][message.UserID]
	}

	if len(targets) == 0 {
		slog.Debug("[HUB] No recipients", "tenant", message.TenantID, "channel", message.Channel, "user", message.UserID)
		return
	}

	sent, failed := 0, 0
	for _, client := range sortedClients(targets) {
		if h.sendLocked(client, "broadcast", message.Payload) {
			sent++
		} else {
			failed++
		}
	}
	slog.Debug("[HUB] Broadcast complete", "tenant", message.TenantID, "channel", message.Channel,
		"user", message.UserID, "sent", sent, "failed", failed)
}

// sendLocked queues payload and drops the client when its buffer is full.
// Requires the write lock.
func (h *Hub) sendLocked(client *Client, msgType string, payload []byte) bool {
	if h.trySendLocked(client, msgType, payload) {
		return true
	}
	slog.Warn("[HUB] Client buffer full, disconnecting", "connection", client.id, "user", client.userID)
	h.removeLocked(client)
	return false
}

func (h *Hub) trySendLocked(client *Client, msgType string, payload []byte) bool {
	select {
	case client.send <- payload:
		metrics.WSMessagesSent.WithLabelValues(msgType).Inc()
		return true
	default:
		metrics.WSMessagesDropped.Inc()
		return false
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, byUser := range h.users {
		for _, set := range byUser {
			for client := range set {
				h.removeLocked(client)
			}
		}
	}
}

// Publish routes a bus event to the local connections.
func (h *Hub) Publish(ctx context.Context, ev models.Event) error {
	message, err := BroadcastFromEvent(ev)
	if err != nil {
		return err
	}
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.Broadcast <- message:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BroadcastFromEvent builds the hub routing unit for ev.
func BroadcastFromEvent(ev models.Event) (*models.BroadcastMessage, error) {
	if ev.TenantID == "" || (ev.Channel == "" && ev.UserID == "") {
		return nil, errors.New("event has no recipient")
	}
	env, err := ev.Envelope()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return &models.BroadcastMessage{
		TenantID: ev.TenantID,
		Channel:  ev.Channel,
		UserID:   ev.UserID,
		Payload:  payload,
	}, nil
}

// ChannelSubscribers returns the user ids subscribed to a tenant channel.
func (h *Hub) ChannelSubscribers(tenantID, channel string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := []string{}
	for client := range h.channels[tenantID][channel] {
		users = append(users, client.userID)
	}
	sort.Strings(users)
	return users
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, byUser := range h.users {
		for _, set := range byUser {
			n += len(set)
		}
	}
	return n
}

func encode(msgType string, data interface{}) ([]byte, error) {
	env, err := models.NewEnvelope(msgType, data, "", "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func sortedClients(set clientSet) []*Client {
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
