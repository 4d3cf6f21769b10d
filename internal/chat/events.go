package chat

import (
	"time"
	"unicode/utf8"

	"github.com/lalith-99/dmstream/internal/models"
)

const (
	EventNewMessage             = "new_message"
	EventNewMessageNotification = "new_message_notification"

	// PreviewLength is the rune budget for the notification preview.
	PreviewLength = 50
)

// MessagePayload is the wire form of a message, shared by the send
// response, history pages and the conversation-topic event.
type MessagePayload struct {
	ID         int64  `json:"id"`
	Content    string `json:"content"`
	SenderID   int64  `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	ReceiverID int64  `json:"receiver_id"`
	CreatedAt  string `json:"created_at"`
}

// MessageEvent is published on the conversation topic. The payload fields
// are inlined next to "type".
type MessageEvent struct {
	Type string `json:"type"`
	MessagePayload
}

// NotificationPayload carries a shortened preview, not the full content.
type NotificationPayload struct {
	ID         int64  `json:"id"`
	Content    string `json:"content"`
	SenderID   int64  `json:"sender_id"`
	SenderName string `json:"sender_name"`
	CreatedAt  string `json:"created_at"`
}

// NotificationEvent is published on the receiver's notification topic.
type NotificationEvent struct {
	Type    string              `json:"type"`
	Message NotificationPayload `json:"message"`
}

// FormatTime renders timestamps as RFC 3339 in UTC, which sorts
// lexically in time order.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func NewMessagePayload(m *models.Message, senderName string) MessagePayload {
	return MessagePayload{
		ID:         m.ID,
		Content:    m.Content,
		SenderID:   m.SenderID,
		SenderName: senderName,
		ReceiverID: m.ReceiverID,
		CreatedAt:  FormatTime(m.CreatedAt),
	}
}

func newMessageEvent(m *models.Message, senderName string) MessageEvent {
	return MessageEvent{Type: EventNewMessage, MessagePayload: NewMessagePayload(m, senderName)}
}

func newNotificationEvent(m *models.Message, senderName string) NotificationEvent {
	return NotificationEvent{
		Type: EventNewMessageNotification,
		Message: NotificationPayload{
			ID:         m.ID,
			Content:    Preview(m.Content),
			SenderID:   m.SenderID,
			SenderName: senderName,
			CreatedAt:  FormatTime(m.CreatedAt),
		},
	}
}

// Preview cuts content to PreviewLength runes and appends "..." when
// anything was cut.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= PreviewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:PreviewLength]) + "..."
}
