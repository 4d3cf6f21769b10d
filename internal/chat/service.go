// Package chat implements the direct-message use cases: sending a message,
// listing conversations and paging through history.
//
// The message store is the system of record. Live fan-out through the hub
// happens after the write commits and is best effort: a failed publish is
// logged and never undoes or fails the send.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/dmstream/internal/hub"
	"github.com/lalith-99/dmstream/internal/models"
	"github.com/lalith-99/dmstream/internal/observ"
	"github.com/lalith-99/dmstream/internal/repository"
	"github.com/lalith-99/dmstream/internal/topic"
)

var (
	// ErrInvalidRequest covers input the caller got wrong: missing or
	// unknown receiver, talking to yourself, blank content.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrPublish wraps live-delivery failures. It is only ever logged.
	ErrPublish = errors.New("publish failed")
)

type Options struct {
	// PageSize is the history page size used when the caller passes 0.
	PageSize int
	// InitialLimit caps the ascending initial-render view.
	InitialLimit int
}

type Service struct {
	messages repository.MessageRepository
	users    repository.UserRepository
	broker   hub.Broker
	logger   *zap.Logger
	metrics  *observ.ChatMetrics
	opts     Options
}

func NewService(
	messages repository.MessageRepository,
	users repository.UserRepository,
	broker hub.Broker,
	logger *zap.Logger,
	metrics *observ.ChatMetrics,
	opts Options,
) *Service {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.InitialLimit <= 0 {
		opts.InitialLimit = 50
	}
	return &Service{
		messages: messages,
		users:    users,
		broker:   broker,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
	}
}

// SendMessage persists a message from senderID to receiverID and then
// announces it on the conversation topic and on the receiver's
// notification topic.
//
// Once the store accepts the message it exists, whatever happens to the
// two publishes. Retrying after a timeout can therefore store the same
// text twice; there is no idempotency key.
//
// The flow:
//  1. Validate the pair and the content, and look the users up (store).
//  2. Append to the message store. This is the system of record; any
//     failure up to here is returned and nothing is published.
//  3. Publish the full message on the conversation topic.
//  4. Publish a preview on the receiver's notification topic.
//
// Steps 3 and 4 are best effort. A failure is logged and counted but the
// caller still gets the stored message: the receiver sees it on the next
// history fetch even if live delivery missed.
func (s *Service) SendMessage(ctx context.Context, senderID, receiverID int64, content string) (*models.Message, error) {
	// Steps 1 and 2.
	msg, sender, err := s.store(ctx, senderID, receiverID, content)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			s.metrics.IncSend("invalid")
		} else {
			s.metrics.IncSend("error")
		}
		return nil, err
	}
	s.metrics.IncSend("ok")

	// The request may be cancelled the moment we return; delivery should
	// not be.
	pubCtx := context.WithoutCancel(ctx)

	// Step 3: both participants' open conversation views.
	convTopic := topic.Conversation(msg.SenderID, msg.ReceiverID)
	if err := s.publish(pubCtx, convTopic, newMessageEvent(msg, sender.Username)); err != nil {
		s.logger.Warn("live message delivery failed",
			zap.Int64("message_id", msg.ID),
			zap.String("topic", convTopic),
			zap.Error(err),
		)
	}

	// Step 4: the receiver's toast, wherever they are in the app.
	notifTopic := topic.Notification(msg.ReceiverID)
	if err := s.publish(pubCtx, notifTopic, newNotificationEvent(msg, sender.Username)); err != nil {
		s.logger.Warn("notification delivery failed",
			zap.Int64("message_id", msg.ID),
			zap.String("topic", notifTopic),
			zap.Error(err),
		)
	}

	return msg, nil
}

func (s *Service) store(ctx context.Context, senderID, receiverID int64, content string) (*models.Message, *models.User, error) {
	if receiverID <= 0 {
		return nil, nil, fmt.Errorf("%w: receiver_id is required", ErrInvalidRequest)
	}
	if receiverID == senderID {
		return nil, nil, fmt.Errorf("%w: cannot send a message to yourself", ErrInvalidRequest)
	}

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve sender: %w", err)
	}
	if sender == nil {
		return nil, nil, fmt.Errorf("sender %d: %w", senderID, repository.ErrNotFound)
	}

	receiver, err := s.users.GetByID(ctx, receiverID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve receiver: %w", err)
	}
	if receiver == nil {
		return nil, nil, fmt.Errorf("%w: receiver %d: %w", ErrInvalidRequest, receiverID, repository.ErrNotFound)
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, nil, fmt.Errorf("%w: content is empty", ErrInvalidRequest)
	}

	msg, err := s.messages.Append(ctx, senderID, receiverID, trimmed)
	if err != nil {
		return nil, nil, err
	}
	return msg, sender, nil
}

func (s *Service) publish(ctx context.Context, t string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: encode event: %w", ErrPublish, err)
	}
	if err := s.broker.Publish(ctx, t, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	return nil
}

// ListConversations returns every other user with the latest message
// exchanged with them, most recent conversation first. Users never
// messaged sort last, in username order.
func (s *Service) ListConversations(ctx context.Context, currentUserID int64) ([]models.ConversationSummary, error) {
	others, err := s.users.ListExcept(ctx, currentUserID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	summaries := make([]models.ConversationSummary, 0, len(others))
	for i := range others {
		last, err := s.messages.FindLastMessage(ctx, currentUserID, others[i].ID)
		if err != nil {
			return nil, fmt.Errorf("last message with %d: %w", others[i].ID, err)
		}
		summaries = append(summaries, models.ConversationSummary{
			User:        others[i].Ref(),
			LastMessage: last,
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return lastActivity(summaries[i]).After(lastActivity(summaries[j]))
	})
	return summaries, nil
}

// lastActivity uses the zero time as the "never talked" sentinel.
func lastActivity(c models.ConversationSummary) time.Time {
	if c.LastMessage == nil {
		return time.Time{}
	}
	return c.LastMessage.CreatedAt
}

// History is one page of a conversation in display order.
type History struct {
	Messages    []MessagePayload `json:"messages"`
	HasMore     bool             `json:"hasMore"`
	CurrentPage int              `json:"currentPage"`
}

// GetHistory returns page `page` of the conversation, oldest message
// first within the page. Page 1 holds the newest messages; HasMore says
// whether an older page exists.
func (s *Service) GetHistory(ctx context.Context, currentUserID, otherUserID int64, page, pageSize int) (*History, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.opts.PageSize
	}

	names, err := s.participants(ctx, currentUserID, otherUserID)
	if err != nil {
		return nil, err
	}

	desc, err := s.messages.FindPaginatedConversation(ctx, currentUserID, otherUserID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	total, err := s.messages.CountConversation(ctx, currentUserID, otherUserID)
	if err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}

	out := make([]MessagePayload, len(desc))
	for i := range desc {
		m := &desc[len(desc)-1-i]
		out[i] = NewMessagePayload(m, names[m.SenderID])
	}

	return &History{
		Messages:    out,
		HasMore:     HasMore(page, pageSize, total),
		CurrentPage: page,
	}, nil
}

// HasMore reports whether messages exist beyond page `page`, that is
// page*pageSize < total. It is computed as page <= (total-1)/pageSize so a
// huge page number cannot overflow into a negative product and claim a
// next page that does not exist.
func HasMore(page, pageSize, total int) bool {
	if page < 1 || pageSize <= 0 || total <= 0 {
		return false
	}
	return page <= (total-1)/pageSize
}

// InitialConversation returns the most recent messages in chronological
// order, for rendering a conversation the first time it is opened.
func (s *Service) InitialConversation(ctx context.Context, currentUserID, otherUserID int64) ([]MessagePayload, error) {
	names, err := s.participants(ctx, currentUserID, otherUserID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.messages.FindConversation(ctx, currentUserID, otherUserID, s.opts.InitialLimit)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	out := make([]MessagePayload, len(msgs))
	for i := range msgs {
		out[i] = NewMessagePayload(&msgs[i], names[msgs[i].SenderID])
	}
	return out, nil
}

// participants validates the pair and returns id -> username for both.
func (s *Service) participants(ctx context.Context, currentUserID, otherUserID int64) (map[int64]string, error) {
	if otherUserID <= 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if otherUserID == currentUserID {
		return nil, fmt.Errorf("%w: cannot chat with yourself", ErrInvalidRequest)
	}

	names := make(map[int64]string, 2)
	for _, id := range []int64{currentUserID, otherUserID} {
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve user %d: %w", id, err)
		}
		if u == nil {
			return nil, fmt.Errorf("user %d: %w", id, repository.ErrNotFound)
		}
		names[id] = u.Username
	}
	return names, nil
}
