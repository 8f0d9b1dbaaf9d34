// Package store persists chat rooms, chat messages and the user directory
// that the HTTP layer consults around the real-time chat core.
package store

import (
	"time"

	"gorm.io/datatypes"
)

// ChatRoom is the durable record of who may read a room's history. Ride
// rooms carry a RideID; direct rooms between two users leave it nil.
// Members only ever grow.
type ChatRoom struct {
	ID        string                      `gorm:"primaryKey;size:36" json:"_id"`
	RideID    *string                     `gorm:"index" json:"ride_id,omitempty"`
	Members   datatypes.JSONSlice[string] `json:"members"`
	IsActive  bool                        `gorm:"default:true" json:"isActive"`
	CreatedAt time.Time                   `json:"time"`
}

// HasMember reports whether userID is in the room's member list.
func (r *ChatRoom) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// ChatMessage is a persisted chat line. Only IsDeleted changes after creation.
type ChatMessage struct {
	ID        string    `gorm:"primaryKey;size:36" json:"_id"`
	SenderID  string    `gorm:"index;not null" json:"sender"`
	RoomID    string    `gorm:"index;not null" json:"room_id"`
	Content   string    `gorm:"not null" json:"content"`
	IsDeleted bool      `gorm:"default:false" json:"isDeleted"`
	IsActive  bool      `gorm:"default:true" json:"isActive"`
	CreatedAt time.Time `json:"time"`
}

// User is the slice of the user directory the chat layer needs.
type User struct {
	ID       string `gorm:"primaryKey;size:36"`
	Username string `gorm:"not null"`
}

// HistoryEntry is a message enriched with the sender's display name.
type HistoryEntry struct {
	Message    string    `json:"message"`
	SenderName string    `json:"senderName"`
	SenderID   string    `json:"senderId"`
	RoomID     string    `json:"roomId"`
	Date       time.Time `json:"date"`
}
