// Package notifications binds websocket connections to users and fans
// events out to them.
package notifications

import (
	"encoding/json"
	"fmt"
)

// Event types produced by the relay itself.
const (
	EventMessagesDropped = "messages_dropped"
	EventPong            = "pong"
	EventAck             = "ack"
	EventRateLimited     = "rate_limited"
)

// Envelope is the frame shape in both directions: {"type": ..., "payload": ...}.
type Envelope struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals an outbound event frame.
func Encode(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}

var droppedNotice = []byte(`{"type":"messages_dropped","payload":{"reason":"buffer_full"}}`)

var rateLimitedNotice = []byte(`{"type":"rate_limited","payload":{"reason":"too_many_commands"}}`)

// RelayFailure is a delivery that could not reach one recipient connection.
// It is logged and counted, never returned to the publisher's caller.
type RelayFailure struct {
	UserID string
	Event  string
	Reason string
}

func (e *RelayFailure) Error() string {
	return fmt.Sprintf("relay %s to user %s: %s", e.Event, e.UserID, e.Reason)
}
