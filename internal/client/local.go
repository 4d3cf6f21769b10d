package client

import (
	"context"

	"github.com/lalith-99/dmstream/internal/chat"
	"github.com/lalith-99/dmstream/internal/hub"
)

// Local drives a Session in-process, against the chat service and broker
// directly instead of over HTTP.
type Local struct {
	Chat     *chat.Service
	Broker   hub.Broker
	UserID   int64
	Username string
}

var (
	_ HistorySource = Local{}
	_ Sender        = Local{}
	_ Subscriber    = Local{}
)

func (l Local) History(ctx context.Context, otherUserID int64, page int) (*chat.History, error) {
	return l.Chat.GetHistory(ctx, l.UserID, otherUserID, page, 0)
}

func (l Local) Send(ctx context.Context, receiverID int64, content string) (*chat.MessagePayload, error) {
	msg, err := l.Chat.SendMessage(ctx, l.UserID, receiverID, content)
	if err != nil {
		return nil, err
	}
	p := chat.NewMessagePayload(msg, l.Username)
	return &p, nil
}

func (l Local) Subscribe(ctx context.Context, t string) (Stream, error) {
	sub, err := l.Broker.Subscribe(ctx, t)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
