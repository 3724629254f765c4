package models

import "time"

// MessageType is the kind of content a message carries.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageVoice    MessageType = "voice"
	MessageImage    MessageType = "image"
	MessageFile     MessageType = "file"
	MessageLocation MessageType = "location"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageVoice, MessageImage, MessageFile, MessageLocation:
		return true
	}
	return false
}

// HasBlob reports whether the type must reference a blob handle.
func (t MessageType) HasBlob() bool {
	return t == MessageVoice || t == MessageImage || t == MessageFile
}

// MessageStatus is the delivery state of a message. It only moves forward.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses so transitions can be checked for direction.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Message is an entry in a conversation's append-only log. Only Status,
// reactions and stars change after creation.
type Message struct {
	ID              int64         `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	ConversationID  string        `gorm:"size:80;not null;index:idx_messages_conversation_ts,priority:1" json:"conversation_id"`
	SenderID        string        `gorm:"size:36;not null;index" json:"sender_id"`
	Type            MessageType   `gorm:"size:16;not null" json:"type"`
	Content         string        `gorm:"type:text" json:"content"`
	FilePath        string        `gorm:"size:512" json:"file_path,omitempty"`
	Thumbnail       string        `gorm:"size:512" json:"thumbnail,omitempty"`
	DurationSeconds *int          `json:"duration_seconds,omitempty"`
	Timestamp       time.Time     `gorm:"not null;index:idx_messages_conversation_ts,priority:2" json:"timestamp"`
	Status          MessageStatus `gorm:"size:16;not null;default:'sent'" json:"status"`
	RepliedToID     *int64        `json:"replied_to_id,string,omitempty"`
	ForwardedFromID *int64        `json:"forwarded_from_id,string,omitempty"`

	// Populated per viewer, not stored on the row.
	SenderUsername string            `gorm:"-" json:"sender_username,omitempty"`
	Reactions      map[string]string `gorm:"-" json:"reactions,omitempty"`
	ReadBy         []string          `gorm:"-" json:"read_by,omitempty"`
	Starred        bool              `gorm:"-" json:"starred"`
}

// TableName specifies the table name for GORM
func (Message) TableName() string {
	return "messages"
}

// MessageRead records that a participant has read a message.
type MessageRead struct {
	MessageID int64     `gorm:"primaryKey;autoIncrement:false" json:"message_id,string"`
	UserID    string    `gorm:"primaryKey;size:36" json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// TableName specifies the table name for GORM
func (MessageRead) TableName() string {
	return "message_reads"
}

// MessageReaction is the single active reaction of a user on a message.
type MessageReaction struct {
	MessageID int64     `gorm:"primaryKey;autoIncrement:false" json:"message_id,string"`
	UserID    string    `gorm:"primaryKey;size:36" json:"user_id"`
	Reaction  string    `gorm:"size:32;not null" json:"reaction"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (MessageReaction) TableName() string {
	return "message_reactions"
}

// MessageStar marks a message as starred by one user.
type MessageStar struct {
	UserID    string    `gorm:"primaryKey;size:36" json:"user_id"`
	MessageID int64     `gorm:"primaryKey;autoIncrement:false;index" json:"message_id,string"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (MessageStar) TableName() string {
	return "message_stars"
}
