// Package hub fans live events out to subscribers of a topic.
//
// Delivery is best effort and at most once per subscriber: there is no
// replay, no ack and no retry. A subscriber that connects after an event
// was published never sees it; history comes from the message store.
package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrClosed    = errors.New("hub closed")
	ErrQueueFull = errors.New("hub publish queue full")
)

// Broker is what the chat service and the streaming handlers depend on.
type Broker interface {
	// Publish hands payload to every current subscriber of topic. It does
	// not wait for delivery: once the event is queued it returns nil.
	// Publishing to a topic nobody listens on is a no-op.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe opens a live stream for topic. The subscription ends when
	// it is closed, when ctx is cancelled, or when the broker shuts down.
	Subscribe(ctx context.Context, topic string) (*Subscription, error)

	Close() error
}

type Options struct {
	// QueueSize bounds events accepted by Publish but not yet dispatched.
	QueueSize int
	// SubscriberBuffer bounds events waiting for one slow subscriber.
	// When it is full that subscriber misses the event; others are not
	// held up.
	SubscriberBuffer int
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = 64
	}
	return o
}

type envelope struct {
	topic   string
	payload []byte
}

// Subscription is one live binding between a consumer and a topic.
type Subscription struct {
	ID    string
	Topic string

	ch   chan []byte
	done chan struct{}
	once sync.Once

	// detach removes the subscription from its broker's registry. It runs
	// before ch is closed so the dispatcher can never send on a closed
	// channel.
	detach func(*Subscription)
}

func newSubscription(topic string, buffer int, detach func(*Subscription)) *Subscription {
	return &Subscription{
		ID:     uuid.NewString(),
		Topic:  topic,
		ch:     make(chan []byte, buffer),
		done:   make(chan struct{}),
		detach: detach,
	}
}

// C yields payloads in publish order. It is closed when the subscription
// ends. Payloads are shared between subscribers and must not be modified.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops delivery. Safe to call more than once and from any
// goroutine; nothing is delivered after it returns.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.detach != nil {
			s.detach(s)
		}
		close(s.done)
		close(s.ch)
	})
}

// closeOnCancel ends sub when ctx is cancelled.
func closeOnCancel(ctx context.Context, sub *Subscription) {
	if ctx == nil || ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
}
