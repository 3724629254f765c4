package models

import "time"

// NoMessagesYet is the preview shown for conversations without messages.
const NoMessagesYet = "no messages yet"

// ParticipantRole is a member's role within a conversation.
type ParticipantRole string

const (
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
)

// Conversation is a 1:1 or group thread. Direct conversations use the id
// returned by DirectConversationID.
type Conversation struct {
	ID            string     `gorm:"primaryKey;size:80" json:"id"`
	IsGroup       bool       `gorm:"not null;default:false" json:"is_group"`
	Name          string     `gorm:"size:128" json:"name"`
	CreatedBy     string     `gorm:"size:36;not null" json:"created_by"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Conversation) TableName() string {
	return "conversations"
}

// ConversationParticipant links a user to a conversation.
type ConversationParticipant struct {
	ConversationID string          `gorm:"primaryKey;size:80" json:"conversation_id"`
	UserID         string          `gorm:"primaryKey;size:36;index" json:"user_id"`
	Role           ParticipantRole `gorm:"size:16;not null;default:'member'" json:"role"`
	JoinedAt       time.Time       `json:"joined_at"`
}

// TableName specifies the table name for GORM
func (ConversationParticipant) TableName() string {
	return "conversation_participants"
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ID           string    `json:"id"`
	IsGroup      bool      `json:"is_group"`
	Name         string    `json:"name"`
	Participants []string  `json:"participants"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	Preview      string    `json:"preview"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DirectConversationID derives the canonical id for the unordered pair (a, b).
func DirectConversationID(a, b string) string {
	lo, hi := SortedPair(a, b)
	return "dm:" + lo + ":" + hi
}
