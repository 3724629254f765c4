package models

import "time"

// CallType is the media kind of a call.
type CallType string

const (
	CallVoice CallType = "voice"
	CallVideo CallType = "video"
)

// Valid reports whether t is a known call type.
func (t CallType) Valid() bool {
	return t == CallVoice || t == CallVideo
}

// CallStatus is the lifecycle state of a call.
type CallStatus string

const (
	CallRinging  CallStatus = "ringing"
	CallActive   CallStatus = "active"
	CallDeclined CallStatus = "declined"
	CallEnded    CallStatus = "ended"
)

// IsLive reports whether signaling may still flow for the call.
func (s CallStatus) IsLive() bool {
	return s == CallRinging || s == CallActive
}

// Reasons recorded when a call ends.
const (
	EndReasonHangup       = "hangup"
	EndReasonCancelled    = "cancelled"
	EndReasonTimeout      = "timeout"
	EndReasonDisconnected = "disconnected"

	// Sent to the other invitees of a group call once one of them answers.
	EndReasonAnsweredElsewhere = "answered_elsewhere"
	EndReasonDeclined          = "declined"
)

// Call is one call attempt. Rows are kept after termination as call history.
// ToUserID is empty for group calls, whose participants are the conversation's.
type Call struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	ConversationID string     `gorm:"size:80;not null;index" json:"conversation_id"`
	CallType       CallType   `gorm:"size:8;not null" json:"call_type"`
	FromUserID     string     `gorm:"size:36;not null;index" json:"from_user_id"`
	ToUserID       string     `gorm:"size:36" json:"to_user_id,omitempty"`
	Status         CallStatus `gorm:"size:16;not null;index" json:"status"`
	EndReason      string     `gorm:"size:32" json:"end_reason,omitempty"`
	EndedBy        string     `gorm:"size:36" json:"ended_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AnsweredAt     *time.Time `json:"answered_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Call) TableName() string {
	return "calls"
}
