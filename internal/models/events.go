package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Inbound control message types sent by the realtime server.
const (
	TypeConnectionEstablished = "connection_established"
	TypeSubscribed            = "subscribed"
	TypeUnsubscribed          = "unsubscribed"
	TypeError                 = "error"
)

// Outbound control message types sent by clients.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Application message types.
const (
	TypeNotification = "notification"
	TypeUpdate       = "update"
)

// Envelope is the JSON frame exchanged over the realtime transport.
type Envelope struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	TenantID string          `json:"tenantId,omitempty"`
	UserID   string          `json:"userId,omitempty"`
}

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(msgType string, data interface{}, tenantID, userID string) (Envelope, error) {
	env := Envelope{Type: msgType, TenantID: tenantID, UserID: userID}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return env, err
	}
	env.Data = raw
	return env, nil
}

// IsControlType reports whether t is handled by the transport itself
// rather than surfaced to consumers.
func IsControlType(t string) bool {
	switch t {
	case TypeConnectionEstablished, TypeSubscribed, TypeUnsubscribed, TypeError:
		return true
	}
	return false
}

type ChannelsData struct {
	Channels []string `json:"channels"`
}

type ErrorData struct {
	Message string `json:"message"`
}

type ConnectionData struct {
	ConnectionID string `json:"connectionId"`
	TenantID     string `json:"tenantId"`
	UserID       string `json:"userId"`
}

// ChannelUpdate is the data of an "update" message.
type ChannelUpdate struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Event is what server instances exchange over the bus.
type Event struct {
	Type      string          `json:"type"`
	TenantID  string          `json:"tenantId"`
	Channel   string          `json:"channel,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// BroadcastMessage is routed by the hub. A set Channel targets the
// channel's subscribers within the tenant; a set UserID targets every
// connection of that user.
type BroadcastMessage struct {
	TenantID string
	Channel  string
	UserID   string
	Payload  []byte
}

// NewNotificationEvent addresses n to every connection of one user.
func NewNotificationEvent(tenantID, userID string, n Notification) (Event, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      TypeNotification,
		TenantID:  tenantID,
		UserID:    userID,
		Timestamp: time.Now().Unix(),
		Data:      raw,
	}, nil
}

// NewUpdateEvent addresses payload to the subscribers of a tenant channel.
func NewUpdateEvent(tenantID, channel string, payload json.RawMessage) Event {
	return Event{
		Type:      TypeUpdate,
		TenantID:  tenantID,
		Channel:   channel,
		Timestamp: time.Now().Unix(),
		Data:      payload,
	}
}

// Envelope converts a bus event into the frame sent to clients. Channel
// events wrap their data as {"channel": ..., "payload": ...}.
func (e Event) Envelope() (Envelope, error) {
	env := Envelope{Type: e.Type, TenantID: e.TenantID, UserID: e.UserID, Data: e.Data}
	if e.Channel == "" {
		return env, nil
	}
	raw, err := json.Marshal(ChannelUpdate{Channel: e.Channel, Payload: e.Data})
	if err != nil {
		return env, err
	}
	env.Data = raw
	return env, nil
}
