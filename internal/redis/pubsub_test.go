package redis

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ops-realtime/internal/models"
)

func TestTenantChannel(t *testing.T) {
	assert.Equal(t, "tenant:acme", TenantChannel("acme"))
}

func TestDecodeEvent(t *testing.T) {
	update, err := json.Marshal(models.NewUpdateEvent("acme", "orders", json.RawMessage(`{"id":7}`)))
	require.NoError(t, err)
	noRecipient, err := json.Marshal(models.Event{Type: models.TypeUpdate, TenantID: "acme"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		channel string
		payload []byte
		ok      bool
	}{
		{"update", "tenant:acme", update, true},
		{"malformed", "tenant:acme", []byte("{"), false},
		{"tenant mismatch", "tenant:other", update, false},
		{"no recipient", "tenant:acme", noRecipient, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := decodeEvent(tt.channel, tt.payload)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.Nil(t, msg)
				return
			}
			assert.Equal(t, "acme", msg.TenantID)
			assert.Equal(t, "orders", msg.Channel)

			var env models.Envelope
			require.NoError(t, json.Unmarshal(msg.Payload, &env))
			assert.Equal(t, models.TypeUpdate, env.Type)
		})
	}
}

func TestPublish_RequiresTenant(t *testing.T) {
	c := &Client{}
	err := c.Publish(t.Context(), models.Event{Type: models.TypeUpdate})
	assert.ErrorContains(t, err, "missing tenant")
}
