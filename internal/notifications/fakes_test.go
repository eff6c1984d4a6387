package notifications

import (
	"context"
	"sync"

	"ops-realtime/internal/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) published() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}

type dispatched struct {
	tenantID string
	event    string
	data     interface{}
}

type recordingDispatcher struct {
	calls chan dispatched
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{calls: make(chan dispatched, 16)}
}

func (d *recordingDispatcher) Dispatch(_ context.Context, tenantID, event string, data interface{}) error {
	d.calls <- dispatched{tenantID: tenantID, event: event, data: data}
	return nil
}
