package models

import (
	"time"
)

// MaxContentLength is the default upper bound on a message body, in runes.
const MaxContentLength = 255

// User is the directory entry the chat core reads. Account management
// lives outside this service; the chat code only needs an id and a
// display name.
//
// PasswordHash is tagged json:"-" so a handler that returns a User can
// never leak it.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserRef is the public slice of a User embedded in chat payloads.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username}
}

// Message is a single direct message between two users.
//
// Why int64 for ID?
//   - Messages are the highest-volume table and go through a single
//     bigserial sequence. Higher ID = inserted later, which is what we use
//     to break created_at ties so pagination stays stable.
//
// Messages are append-only: nothing in this service updates or deletes them.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Involves reports whether the message belongs to the conversation {a, b}.
func (m *Message) Involves(a, b int64) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// ConversationSummary is one row of the conversation list: the other
// participant and the latest message exchanged with them, if any.
type ConversationSummary struct {
	User        UserRef  `json:"user"`
	LastMessage *Message `json:"lastMessage"`
}
