package models

import "time"

// FriendRequestStatus represents the status of a friend request.
type FriendRequestStatus string

const (
	// FriendRequestPending is awaiting a response from the addressee.
	FriendRequestPending FriendRequestStatus = "pending"
	// FriendRequestAccepted created the symmetric friendship rows.
	FriendRequestAccepted FriendRequestStatus = "accepted"
	// FriendRequestDeclined was rejected; a new request may follow.
	FriendRequestDeclined FriendRequestStatus = "declined"
)

// FriendRequest is one attempt by FromUserID to befriend ToUserID.
// PendingKey holds the canonical pair key while the request is pending and is
// cleared once resolved, so the unique index allows at most one pending
// request per unordered pair while keeping resolved history.
type FriendRequest struct {
	ID          string              `gorm:"primaryKey;size:36" json:"id"`
	FromUserID  string              `gorm:"size:36;not null;index" json:"from_user_id"`
	ToUserID    string              `gorm:"size:36;not null;index" json:"to_user_id"`
	Status      FriendRequestStatus `gorm:"size:16;not null;index" json:"status"`
	PendingKey  *string             `gorm:"size:80;uniqueIndex" json:"-"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	RespondedAt *time.Time          `json:"responded_at,omitempty"`
}

// TableName specifies the table name for GORM
func (FriendRequest) TableName() string {
	return "friend_requests"
}

// Friendship is a directional contact row. Accepted requests always produce
// both directions.
type Friendship struct {
	OwnerID   string    `gorm:"primaryKey;size:36" json:"owner_id"`
	ContactID string    `gorm:"primaryKey;size:36;index" json:"contact_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (Friendship) TableName() string {
	return "friendships"
}

// PairKey is the order-independent key of two user ids.
func PairKey(a, b string) string {
	lo, hi := SortedPair(a, b)
	return lo + "|" + hi
}
