// Package topic derives the pub/sub topic names used for live delivery.
//
// Conversation topics are keyed by the unordered user pair, written as
// "min-max" so both participants compute the same string no matter who
// sent first. Numeric ids are unique, so two different pairs can never
// produce the same topic.
package topic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	conversationPrefix = "chat/conversation/"
	userPrefix         = "user/"
	notificationSuffix = "/notifications"

	// Patterns for brokers that subscribe by glob (Redis PSUBSCRIBE).
	ConversationPattern = conversationPrefix + "*"
	UserPattern         = userPrefix + "*"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindConversation
	KindNotification
)

var ErrInvalidTopic = errors.New("invalid topic")

// Conversation returns "chat/conversation/{min}-{max}".
func Conversation(a, b int64) string {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return conversationPrefix + strconv.FormatInt(lo, 10) + "-" + strconv.FormatInt(hi, 10)
}

// Notification returns "user/{id}/notifications".
func Notification(userID int64) string {
	return userPrefix + strconv.FormatInt(userID, 10) + notificationSuffix
}

// Parsed is a topic broken back into its parts. For notification topics
// only A is set.
type Parsed struct {
	Kind Kind
	A, B int64
}

// Parse is the inverse of Conversation and Notification. It only accepts
// canonical forms: a conversation topic must list the smaller id first.
func Parse(t string) (Parsed, error) {
	switch {
	case strings.HasPrefix(t, conversationPrefix):
		pair := strings.TrimPrefix(t, conversationPrefix)
		left, right, ok := strings.Cut(pair, "-")
		if !ok {
			return Parsed{}, fmt.Errorf("%w: %q", ErrInvalidTopic, t)
		}
		a, errA := parseID(left)
		b, errB := parseID(right)
		if errA != nil || errB != nil || a >= b {
			return Parsed{}, fmt.Errorf("%w: %q", ErrInvalidTopic, t)
		}
		return Parsed{Kind: KindConversation, A: a, B: b}, nil

	case strings.HasPrefix(t, userPrefix) && strings.HasSuffix(t, notificationSuffix):
		raw := strings.TrimSuffix(strings.TrimPrefix(t, userPrefix), notificationSuffix)
		id, err := parseID(raw)
		if err != nil {
			return Parsed{}, fmt.Errorf("%w: %q", ErrInvalidTopic, t)
		}
		return Parsed{Kind: KindNotification, A: id}, nil
	}
	return Parsed{}, fmt.Errorf("%w: %q", ErrInvalidTopic, t)
}

// CanSubscribe reports whether userID may listen on t: only participants
// of a conversation, and only the owner of a notification channel.
func CanSubscribe(userID int64, t string) bool {
	p, err := Parse(t)
	if err != nil {
		return false
	}
	switch p.Kind {
	case KindConversation:
		return userID == p.A || userID == p.B
	case KindNotification:
		return userID == p.A
	}
	return false
}

// parseID accepts positive decimal ids without sign or leading zeros, so
// every id has exactly one spelling.
func parseID(s string) (int64, error) {
	if s == "" || s[0] == '+' || s[0] == '-' || (len(s) > 1 && s[0] == '0') {
		return 0, ErrInvalidTopic
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidTopic
	}
	return id, nil
}
