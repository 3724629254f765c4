package models

import (
	"encoding/json"
	"time"
)

// Outbound realtime event types.
const (
	EventNewMessage            = "new_message"
	EventMessageStatusChanged  = "message_status_changed"
	EventMessageReaction       = "message_reaction"
	EventTyping                = "typing"
	EventIncomingCall          = "incoming_call"
	EventCallAccepted          = "call_accepted"
	EventCallDeclined          = "call_declined"
	EventCallEnded             = "call_ended"
	EventCallSignal            = "call_signal"
	EventFriendRequestReceived = "friend_request_received"
	EventFriendRequestAccepted = "friend_request_accepted"
	EventPresenceChanged       = "presence_changed"
)

// MessageStatusEvent is published when a message advances status.
type MessageStatusEvent struct {
	MessageID      int64         `json:"message_id,string"`
	ConversationID string        `json:"conversation_id"`
	Status         MessageStatus `json:"status"`
	ReaderID       string        `json:"reader_id"`
}

// ReactionEvent is published when a user's reaction changes.
type ReactionEvent struct {
	MessageID      int64  `json:"message_id,string"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Reaction       string `json:"reaction"`
}

// TypingEvent is published to the other participants of a conversation.
type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// CallEvent is the payload of every call lifecycle and signaling event.
// Payload is the opaque offer, answer or signal and is never inspected.
type CallEvent struct {
	CallID         string          `json:"call_id"`
	ConversationID string          `json:"conversation_id"`
	CallType       CallType        `json:"call_type"`
	Status         CallStatus      `json:"status"`
	UserID         string          `json:"user_id"`
	CallerName     string          `json:"caller_name,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// FriendRequestEvent is published to the other side of a friend request.
type FriendRequestEvent struct {
	Request *FriendRequest `json:"request"`
	User    *User          `json:"user"`
}

// PresenceEvent is published to a user's contacts on connect and disconnect.
type PresenceEvent struct {
	UserID     string     `json:"user_id"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}
