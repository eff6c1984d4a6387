package realtime

import (
	"sync"

	"github.com/goccy/go-json"

	"ops-realtime/internal/models"
)

// Watcher follows the payload of messages addressed to one channel,
// i.e. messages whose data carries {"channel": ..., "payload": ...}.
type Watcher struct {
	channel string
	remove  func()
	updates chan struct{}

	mu    sync.RWMutex
	value json.RawMessage
}

// Watch returns a watcher for channel. It only observes; subscribing on
// the server is still the caller's job.
func (c *Client) Watch(channel string) *Watcher {
	w := &Watcher{
		channel: channel,
		updates: make(chan struct{}, 1),
	}
	w.remove = c.OnMessage(w.observe)
	return w
}

func (w *Watcher) observe(env models.Envelope) {
	if len(env.Data) == 0 {
		return
	}
	var update models.ChannelUpdate
	if err := json.Unmarshal(env.Data, &update); err != nil || update.Channel != w.channel {
		return
	}

	w.mu.Lock()
	w.value = update.Payload
	w.mu.Unlock()

	select {
	case w.updates <- struct{}{}:
	default:
	}
}

func (w *Watcher) Channel() string {
	return w.channel
}

// Value returns the latest payload, nil until one arrives.
func (w *Watcher) Value() json.RawMessage {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.value
}

// Decode unmarshals the latest payload into v. It reports false when no
// payload has arrived yet.
func (w *Watcher) Decode(v interface{}) (bool, error) {
	raw := w.Value()
	if raw == nil {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

// Updates signals after each new payload. Signals coalesce while unread.
func (w *Watcher) Updates() <-chan struct{} {
	return w.updates
}

func (w *Watcher) Stop() {
	w.remove()
}
