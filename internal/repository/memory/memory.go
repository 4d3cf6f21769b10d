// Package memory implements the repository interfaces on process memory.
// It backs DATABASE_URL=memory:// for local runs and is the fake used by
// service and handler tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lalith-99/dmstream/internal/models"
	"github.com/lalith-99/dmstream/internal/repository"
)

type UserStore struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]models.User
	now    func() time.Time
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[int64]models.User), now: time.Now}
}

func (s *UserStore) Create(_ context.Context, username, email, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) || strings.EqualFold(u.Email, email) {
			return nil, fmt.Errorf("insert user: %w", repository.ErrConflict)
		}
	}

	s.nextID++
	u := models.User{
		ID:           s.nextID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}
	s.users[u.ID] = u
	return &u, nil
}

func (s *UserStore) GetByID(_ context.Context, userID int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *UserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *UserStore) ListExcept(_ context.Context, userID int64) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.users))
	for id, u := range s.users {
		if id != userID {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *UserStore) exists(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok
}

// MessageStore keeps messages in insertion order. Ids come from a single
// counter, so id order equals arrival order.
type MessageStore struct {
	users      *UserStore
	maxContent int
	now        func() time.Time

	mu       sync.RWMutex
	nextID   int64
	messages []models.Message

	// failWith, when set, makes Append fail. Tests use it to simulate an
	// unavailable database.
	failWith error
}

func NewMessageStore(users *UserStore, maxContent int) *MessageStore {
	return &MessageStore{users: users, maxContent: maxContent, now: time.Now}
}

// SetClock overrides the timestamp source for new messages.
func (s *MessageStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailAppends makes every subsequent Append return err wrapped in
// repository.ErrPersistence. Pass nil to restore normal behaviour.
func (s *MessageStore) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *MessageStore) Append(_ context.Context, senderID, receiverID int64, content string) (*models.Message, error) {
	if err := repository.ValidateMessage(senderID, receiverID, content, s.maxContent); err != nil {
		return nil, err
	}
	if !s.users.exists(senderID) {
		return nil, fmt.Errorf("insert message: sender %d: %w", senderID, repository.ErrNotFound)
	}
	if !s.users.exists(receiverID) {
		return nil, fmt.Errorf("insert message: receiver %d: %w", receiverID, repository.ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return nil, fmt.Errorf("insert message: %w: %w", repository.ErrPersistence, s.failWith)
	}

	s.nextID++
	msg := models.Message{
		ID:         s.nextID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  s.now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *MessageStore) FindConversation(_ context.Context, a, b int64, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return make([]models.Message, 0), nil
	}
	desc := s.conversationDesc(a, b)
	if len(desc) > limit {
		desc = desc[:limit]
	}
	out := make([]models.Message, len(desc))
	for i, m := range desc {
		out[len(desc)-1-i] = m
	}
	return out, nil
}

func (s *MessageStore) FindPaginatedConversation(_ context.Context, a, b int64, page, pageSize int) ([]models.Message, error) {
	if pageSize <= 0 {
		return make([]models.Message, 0), nil
	}
	desc := s.conversationDesc(a, b)
	offset := repository.Offset(page, pageSize)
	if offset >= len(desc) {
		return make([]models.Message, 0), nil
	}
	end := offset + pageSize
	if end > len(desc) {
		end = len(desc)
	}
	out := make([]models.Message, end-offset)
	copy(out, desc[offset:end])
	return out, nil
}

func (s *MessageStore) CountConversation(_ context.Context, a, b int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for i := range s.messages {
		if s.messages[i].Involves(a, b) {
			n++
		}
	}
	return n, nil
}

func (s *MessageStore) FindLastMessage(_ context.Context, a, b int64) (*models.Message, error) {
	desc := s.conversationDesc(a, b)
	if len(desc) == 0 {
		return nil, nil
	}
	msg := desc[0]
	return &msg, nil
}

// conversationDesc returns a copy of the pair's messages, newest first,
// ordered by created_at then id to match the SQL store.
func (s *MessageStore) conversationDesc(a, b int64) []models.Message {
	s.mu.RLock()
	out := make([]models.Message, 0)
	for i := range s.messages {
		if s.messages[i].Involves(a, b) {
			out = append(out, s.messages[i])
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
