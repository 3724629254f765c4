package testutil

import (
	"context"
	"encoding/json"
	"sync"
)

// PublishedEvent is one call to RecordingPublisher.Publish.
type PublishedEvent struct {
	Type    string
	Payload interface{}
	UserIDs []string
}

// RecordingPublisher records every published event instead of delivering it.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
}

// Publish records the event and reports every target as delivered.
func (p *RecordingPublisher) Publish(_ context.Context, eventType string, payload interface{}, userIDs ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PublishedEvent{
		Type:    eventType,
		Payload: payload,
		UserIDs: append([]string(nil), userIDs...),
	})
	return len(userIDs)
}

// Events returns a copy of everything published so far.
func (p *RecordingPublisher) Events() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedEvent(nil), p.events...)
}

// OfType returns the published events with the given type.
func (p *RecordingPublisher) OfType(eventType string) []PublishedEvent {
	var out []PublishedEvent
	for _, e := range p.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// SentTo returns the events of the given type that targeted userID.
func (p *RecordingPublisher) SentTo(eventType, userID string) []PublishedEvent {
	var out []PublishedEvent
	for _, e := range p.OfType(eventType) {
		for _, id := range e.UserIDs {
			if id == userID {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Decode round-trips a recorded payload through JSON into dest, the way a
// client would see it.
func Decode(payload interface{}, dest interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}
