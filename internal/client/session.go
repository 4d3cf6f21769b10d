// Package client is the consumer side of a conversation: it keeps one
// open conversation's message list current from history pages and live
// events.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lalith-99/dmstream/internal/chat"
	"github.com/lalith-99/dmstream/internal/topic"
)

var (
	ErrNotOpen = errors.New("session: no conversation open")
	// ErrSuperseded is returned by an Open or LoadMore that lost a race
	// with a later Open or Close. Its result was discarded.
	ErrSuperseded = errors.New("session: superseded")
)

type HistorySource interface {
	History(ctx context.Context, otherUserID int64, page int) (*chat.History, error)
}

type Sender interface {
	Send(ctx context.Context, receiverID int64, content string) (*chat.MessagePayload, error)
}

// Stream is a live feed of payloads for one topic. C is closed when the
// stream ends; Close is idempotent. *hub.Subscription satisfies it.
type Stream interface {
	C() <-chan []byte
	Close()
}

type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (Stream, error)
}

type State int

const (
	Disconnected State = iota
	Subscribing
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Options struct {
	// OnMessage is called for every message added by a live event, in
	// arrival order. It may read the Session but must not call Open or
	// Close.
	OnMessage func(chat.MessagePayload)
	Logger    *zap.Logger
}

// Session holds at most one open conversation. Opening another closes
// the previous subscription first.
type Session struct {
	userID  int64
	history HistorySource
	sender  Sender
	subs    Subscriber
	opts    Options

	// mu guards everything below it except cbMu.
	//
	// gen is the session's generation. Open and Close bump it, and every
	// piece of async work (the history fetch in Open, LoadMore, the
	// consume goroutine, a queued callback) captures the value it started
	// under. When that work comes back it re-checks gen under mu; a
	// mismatch means the user has moved on, and the result is thrown away
	// instead of being written into the newer conversation.
	mu       sync.Mutex
	state    State
	gen      uint64
	otherID  int64
	messages []chat.MessagePayload
	known    map[int64]struct{}
	page     int
	hasMore  bool
	stream   Stream

	// cbMu is held while OnMessage runs so Close can wait out a callback
	// that is already in flight.
	cbMu sync.Mutex
}

func NewSession(userID int64, history HistorySource, sender Sender, subs Subscriber, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Session{
		userID:  userID,
		history: history,
		sender:  sender,
		subs:    subs,
		opts:    opts,
		known:   make(map[int64]struct{}),
	}
}

// Open switches the session to the conversation with otherUserID.
//
// The live subscription is opened before page 1 of history is fetched, so
// a message sent in between shows up once (from history or the stream)
// rather than not at all.
func (s *Session) Open(ctx context.Context, otherUserID int64) error {
	s.mu.Lock()
	s.closeLocked()
	s.state = Subscribing
	s.otherID = otherUserID
	gen := s.gen
	s.mu.Unlock()

	stream, err := s.subs.Subscribe(ctx, topic.Conversation(s.userID, otherUserID))
	if err != nil {
		s.fail(gen)
		return fmt.Errorf("subscribe: %w", err)
	}

	first, err := s.history.History(ctx, otherUserID, 1)
	if err != nil {
		stream.Close()
		s.fail(gen)
		return fmt.Errorf("load history: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		stream.Close()
		return ErrSuperseded
	}
	s.stream = stream
	s.page = 1
	s.hasMore = first.HasMore
	for _, m := range first.Messages {
		s.addLocked(m)
	}
	s.state = Subscribed
	s.mu.Unlock()

	go s.consume(gen, stream)
	return nil
}

// fail rolls a failed Open back to an empty, disconnected session. A
// newer Open or Close owns the session by then if gen moved, so it is left
// alone.
func (s *Session) fail(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.state = Disconnected
		s.otherID = 0
	}
}

// consume applies live events until the stream ends or the session moves
// on to another generation.
func (s *Session) consume(gen uint64, stream Stream) {
	for payload := range stream.C() {
		var ev chat.MessageEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			s.opts.Logger.Warn("dropping malformed event", zap.Error(err))
			continue
		}
		if ev.Type != chat.EventNewMessage {
			continue
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		other := s.otherID
		if !involves(ev.MessagePayload, s.userID, other) || !s.addLocked(ev.MessagePayload) {
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		s.notify(gen, ev.MessagePayload)
	}

	// The stream ended on its own (server gone, hub closed).
	s.mu.Lock()
	if s.gen == gen && s.state == Subscribed {
		s.state = Disconnected
		s.stream = nil
	}
	s.mu.Unlock()
}

func (s *Session) notify(gen uint64, m chat.MessagePayload) {
	if s.opts.OnMessage == nil {
		return
	}
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	s.mu.Lock()
	current := s.gen == gen
	s.mu.Unlock()
	if current {
		s.opts.OnMessage(m)
	}
}

// Notifications subscribes to the user's own notification topic and calls
// fn for every alert until ctx is cancelled or stop is called. It does not
// depend on which conversation is open. No call to fn starts after stop
// returns; fn must not call stop itself.
func (s *Session) Notifications(ctx context.Context, fn func(chat.NotificationPayload)) (stop func(), err error) {
	stream, err := s.subs.Subscribe(ctx, topic.Notification(s.userID))
	if err != nil {
		return nil, fmt.Errorf("subscribe notifications: %w", err)
	}

	var stopped atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for payload := range stream.C() {
			var ev chat.NotificationEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				s.opts.Logger.Warn("dropping malformed notification", zap.Error(err))
				continue
			}
			if ev.Type != chat.EventNewMessageNotification || stopped.Load() {
				continue
			}
			fn(ev.Message)
		}
	}()

	return func() {
		stopped.Store(true)
		stream.Close()
		<-done
	}, nil
}

// LoadMore fetches the next older page and prepends the messages not
// already shown. It returns how many were added; zero with a nil error
// means there was nothing more to load.
func (s *Session) LoadMore(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.state != Subscribed {
		s.mu.Unlock()
		return 0, ErrNotOpen
	}
	if !s.hasMore {
		s.mu.Unlock()
		return 0, nil
	}
	gen, other, next := s.gen, s.otherID, s.page+1
	s.mu.Unlock()

	h, err := s.history.History(ctx, other, next)
	if err != nil {
		return 0, fmt.Errorf("load page %d: %w", next, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return 0, ErrSuperseded
	}
	// A concurrent LoadMore already applied this page.
	if s.page >= next {
		return 0, nil
	}

	older := make([]chat.MessagePayload, 0, len(h.Messages))
	for _, m := range h.Messages {
		if _, seen := s.known[m.ID]; seen {
			continue
		}
		s.known[m.ID] = struct{}{}
		older = append(older, m)
	}
	s.messages = append(older, s.messages...)
	s.page = next
	s.hasMore = h.HasMore
	return len(older), nil
}

// Send posts content to the open conversation and appends the stored
// message right away. The live echo of the same message is then ignored.
func (s *Session) Send(ctx context.Context, content string) (*chat.MessagePayload, error) {
	s.mu.Lock()
	if s.state != Subscribed {
		s.mu.Unlock()
		return nil, ErrNotOpen
	}
	other := s.otherID
	s.mu.Unlock()

	m, err := s.sender.Send(ctx, other, content)
	if err != nil {
		return nil, err
	}
	s.AppendLocal(*m)
	return m, nil
}

// AppendLocal adds a message the caller already has, typically the
// response to its own send. It reports whether the message was new.
func (s *Session) AppendLocal(m chat.MessagePayload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Subscribed || !involves(m, s.userID, s.otherID) {
		return false
	}
	return s.addLocked(m)
}

func (s *Session) addLocked(m chat.MessagePayload) bool {
	if _, seen := s.known[m.ID]; seen {
		return false
	}
	s.known[m.ID] = struct{}{}
	s.messages = append(s.messages, m)
	return true
}

// Close ends the live subscription. Once it returns no callback runs and
// the message list no longer changes.
func (s *Session) Close() {
	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()

	// Wait for a callback that started before the generation changed.
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
}

func (s *Session) closeLocked() {
	s.gen++
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
	s.state = Disconnected
	s.otherID = 0
	s.messages = nil
	s.known = make(map[int64]struct{})
	s.page = 0
	s.hasMore = false
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OtherUserID is the peer of the open conversation, or 0.
func (s *Session) OtherUserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.otherID
}

// Messages returns a copy of the current list, oldest first.
func (s *Session) Messages() []chat.MessagePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.MessagePayload, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

func involves(m chat.MessagePayload, a, b int64) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}
