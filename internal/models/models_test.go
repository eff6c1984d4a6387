package models

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsControlType(t *testing.T) {
	for _, typ := range []string{TypeConnectionEstablished, TypeSubscribed, TypeUnsubscribed, TypeError} {
		assert.True(t, IsControlType(typ), typ)
	}
	for _, typ := range []string{TypeUpdate, TypeNotification, TypeSubscribe, ""} {
		assert.False(t, IsControlType(typ), typ)
	}
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(TypeSubscribe, ChannelsData{Channels: []string{"orders"}}, "t1", "u1")
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"subscribe","data":{"channels":["orders"]},"tenantId":"t1","userId":"u1"}`, string(raw))
}

func TestNewEnvelope_NilData(t *testing.T) {
	env, err := NewEnvelope(TypeSubscribed, nil, "", "")
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"subscribed"}`, string(raw))
}

func TestNotificationEnums(t *testing.T) {
	assert.True(t, StatusRead.Valid())
	assert.True(t, StatusUnread.Valid())
	assert.False(t, Status("archived").Valid())

	assert.True(t, PriorityUrgent.Valid())
	assert.False(t, Priority("critical").Valid())

	assert.True(t, NotificationWarning.Valid())
	assert.False(t, NotificationType("debug").Valid())

	assert.True(t, Notification{Status: StatusUnread}.Unread())
	assert.False(t, Notification{Status: StatusRead}.Unread())
}

func TestEventEnvelope_Channel(t *testing.T) {
	ev := NewUpdateEvent("t1", "orders", json.RawMessage(`{"id":"o-1"}`))

	env, err := ev.Envelope()
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"update","tenantId":"t1","data":{"channel":"orders","payload":{"id":"o-1"}}}`, string(raw))
}

func TestEventEnvelope_User(t *testing.T) {
	ev, err := NewNotificationEvent("t1", "u1", Notification{ID: "n1", Title: "Hi", Status: StatusUnread})
	require.NoError(t, err)

	env, err := ev.Envelope()
	require.NoError(t, err)
	assert.Equal(t, TypeNotification, env.Type)
	assert.Equal(t, "u1", env.UserID)

	var n Notification
	require.NoError(t, json.Unmarshal(env.Data, &n))
	assert.Equal(t, "n1", n.ID)
}
