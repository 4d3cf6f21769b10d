package hub

import (
	"context"
	"sync"

	"github.com/lalith-99/dmstream/internal/observ"
	"go.uber.org/zap"
)

// Memory is an in-process broker.
//
// Publish only enqueues; a single dispatcher goroutine drains the queue,
// so events reach each subscriber in publish order. Each subscriber has
// its own bounded buffer and a full buffer drops the event for that
// subscriber alone.
type Memory struct {
	logger  *zap.Logger
	metrics *observ.HubMetrics
	opts    Options

	queue chan envelope
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	// mu guards topics.
	//
	// Lock discipline:
	//   - deliver holds RLock for the whole fan-out of one event. Sends to
	//     sub.ch are non-blocking, so the read lock is never held across a
	//     wait on a slow consumer.
	//   - detach takes the write Lock to remove a subscription, and
	//     Subscription.Close calls detach BEFORE closing sub.ch.
	//
	// Together these mean deliver can never send on a closed channel: by
	// the time ch is closed, detach has waited out any fan-out that still
	// saw the subscription, and later ones cannot see it.
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
}

var _ Broker = (*Memory)(nil)

func NewMemory(logger *zap.Logger, metrics *observ.HubMetrics, opts Options) *Memory {
	opts = opts.withDefaults()
	m := &Memory{
		logger:  logger,
		metrics: metrics,
		opts:    opts,
		queue:   make(chan envelope, opts.QueueSize),
		stop:    make(chan struct{}),
		topics:  make(map[string]map[*Subscription]struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-m.stop:
		m.metrics.IncPublishErrors()
		return ErrClosed
	default:
	}

	// Copy so the caller may reuse its buffer.
	env := envelope{topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case m.queue <- env:
		m.metrics.IncPublished()
		return nil
	default:
		m.metrics.IncPublishErrors()
		return ErrQueueFull
	}
}

func (m *Memory) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	select {
	case <-m.stop:
		return nil, ErrClosed
	default:
	}

	sub := newSubscription(topic, m.opts.SubscriberBuffer, m.detach)

	m.mu.Lock()
	subs, ok := m.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		m.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	m.mu.Unlock()
	m.metrics.SubscriberAdded()

	// Close may have collected the registry between the check above and
	// the insert.
	select {
	case <-m.stop:
		sub.Close()
		return nil, ErrClosed
	default:
	}

	m.logger.Debug("subscribed", zap.String("topic", topic), zap.String("subscription_id", sub.ID))

	closeOnCancel(ctx, sub)
	return sub, nil
}

// Subscribers returns how many subscriptions are open on topic.
func (m *Memory) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.topics[topic])
}

// Close stops the dispatcher and ends every open subscription. Events
// still queued are discarded.
func (m *Memory) Close() error {
	m.once.Do(func() {
		close(m.stop)
		m.wg.Wait()

		m.mu.RLock()
		open := make([]*Subscription, 0)
		for _, subs := range m.topics {
			for sub := range subs {
				open = append(open, sub)
			}
		}
		m.mu.RUnlock()

		for _, sub := range open {
			sub.Close()
		}
	})
	return nil
}

// run is the only goroutine that delivers. One dispatcher for every
// topic is what gives per-topic FIFO order: two publishes on the same
// topic are dequeued, and so fanned out, in the order they were queued.
func (m *Memory) run() {
	defer m.wg.Done()
	for {
		select {
		case env := <-m.queue:
			m.deliver(env)
		case <-m.stop:
			return
		}
	}
}

// deliver fans one event out to the topic's current subscribers. A
// subscriber whose buffer is full loses this event; the others still get
// it and the dispatcher moves straight on to the next envelope.
func (m *Memory) deliver(env envelope) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for sub := range m.topics[env.topic] {
		select {
		case sub.ch <- env.payload:
			m.metrics.IncDelivered()
		default:
			m.metrics.IncDropped()
			m.logger.Warn("subscriber buffer full, dropping event",
				zap.String("topic", env.topic),
				zap.String("subscription_id", sub.ID),
			)
		}
	}
}

func (m *Memory) detach(sub *Subscription) {
	m.mu.Lock()
	subs, ok := m.topics[sub.Topic]
	if ok {
		if _, present := subs[sub]; present {
			delete(subs, sub)
			m.metrics.SubscriberRemoved()
		}
		if len(subs) == 0 {
			delete(m.topics, sub.Topic)
		}
	}
	m.mu.Unlock()

	m.logger.Debug("unsubscribed", zap.String("topic", sub.Topic), zap.String("subscription_id", sub.ID))
}
