package model

import "time"

// User is the slice of the user record this core reads and syncs from
// auth-provider lifecycle events.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name"`
	Username       string    `json:"username"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Connection is a connection request between two users.
type Connection struct {
	ID         string    `json:"id"`
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	ConnectionPending  = "pending"
	ConnectionAccepted = "accepted"
)

// Message is a chat message pushed over the live channel when the recipient
// is connected and counted by the digest when they are not.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	FromUserID     string    `json:"from_user_id"`
	ToUserID       string    `json:"to_user_id"`
	Text           string    `json:"text,omitempty"`
	MediaURL       string    `json:"media_url,omitempty"`
	Seen           bool      `json:"seen"`
	CreatedAt      time.Time `json:"created_at"`
}

// Story is an ephemeral post deleted 24 hours after creation.
type Story struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content,omitempty"`
	MediaURL  string    `json:"media_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
