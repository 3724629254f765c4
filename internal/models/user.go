// Package models contains data structures for the application's domain models.
package models

import (
	"sort"
	"time"
)

// DefaultStatusText is the profile status assigned to new users.
const DefaultStatusText = "Available"

// User is a registered account. ID is immutable once created.
type User struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Username    string     `gorm:"size:64;not null;uniqueIndex" json:"username"`
	DisplayName string     `gorm:"size:128" json:"display_name"`
	Code        string     `gorm:"size:8;not null;uniqueIndex" json:"code"`
	Phone       string     `gorm:"size:32" json:"phone,omitempty"`
	Avatar      string     `gorm:"size:512" json:"avatar,omitempty"`
	StatusText  string     `gorm:"size:140" json:"status_text"`
	Online      bool       `gorm:"not null;default:false" json:"online"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// SortedPair returns the two ids in lexicographic order.
func SortedPair(a, b string) (string, string) {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0], ids[1]
}
