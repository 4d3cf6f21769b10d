package repository

import (
	"context"

	"github.com/lalith-99/dmstream/internal/models"
)

// Every method takes ctx first: the HTTP request's context flows down so a
// disconnected client cancels its query.
//
// User ids are always passed explicitly. Nothing in this layer knows who
// "the current user" is.

// MessageRepository is the durable system of record for direct messages.
//
// A conversation is the unordered pair {a, b}: every query below matches
// (sender, receiver) in either direction.
type MessageRepository interface {
	// Append validates and persists a message, returning it with ID and
	// CreatedAt populated. The insert is atomic.
	//   - sender == receiver, blank or over-long content: ErrValidation
	//   - unknown sender or receiver: ErrNotFound
	//   - storage failure: ErrPersistence
	Append(ctx context.Context, senderID, receiverID int64, content string) (*models.Message, error)

	// FindConversation returns the latest `limit` messages in chronological
	// order (oldest first). Used for the initial render of a conversation.
	// A limit <= 0 returns an empty slice; there is no "unlimited".
	FindConversation(ctx context.Context, a, b int64, limit int) ([]models.Message, error)

	// FindPaginatedConversation returns one page ordered newest first,
	// offset (page-1)*pageSize. Callers reverse it before display.
	// Returns an empty slice (not nil) past the last page, for any page
	// number however large, and for pageSize <= 0.
	FindPaginatedConversation(ctx context.Context, a, b int64, page, pageSize int) ([]models.Message, error)

	// CountConversation returns the number of messages between a and b.
	CountConversation(ctx context.Context, a, b int64) (int, error)

	// FindLastMessage returns the most recent message, or nil, nil when the
	// pair never talked.
	FindLastMessage(ctx context.Context, a, b int64) (*models.Message, error)
}

// UserRepository is the read side of the user directory, plus the writes
// signup needs.
type UserRepository interface {
	// Create inserts a user and returns it with ID and CreatedAt populated.
	Create(ctx context.Context, username, email, passwordHash string) (*models.User, error)

	// GetByID returns nil, nil if the user does not exist.
	GetByID(ctx context.Context, userID int64) (*models.User, error)

	// GetByEmail returns nil, nil if nobody registered that email.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// ListExcept returns every user other than userID, ordered by username.
	ListExcept(ctx context.Context, userID int64) ([]models.User, error)
}
