package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lalith-99/dmstream/internal/observ"
	"github.com/lalith-99/dmstream/internal/topic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisPublishTimeout = 2 * time.Second

// Redis shares live delivery across server instances.
//
// Publish queues the event locally and a writer goroutine PUBLISHes it.
// One relay goroutine PSUBSCRIBEs to every chat and user topic and feeds
// what it hears into a local Memory broker, which owns the subscribers of
// this instance. A sender's publish therefore reaches subscribers on any
// instance, and Redis being slow never blocks SendMessage.
type Redis struct {
	rdb     *redis.Client
	logger  *zap.Logger
	metrics *observ.HubMetrics

	local  *Memory
	pubsub *redis.PubSub

	outbound chan envelope
	stop     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

var _ Broker = (*Redis)(nil)

func NewRedis(ctx context.Context, rdb *redis.Client, logger *zap.Logger, metrics *observ.HubMetrics, opts Options) (*Redis, error) {
	opts = opts.withDefaults()

	ps := rdb.PSubscribe(ctx, topic.ConversationPattern, topic.UserPattern)
	// Receive blocks until Redis confirms the first pattern, so a failed
	// connection surfaces here instead of as silent non-delivery.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("psubscribe: %w", err)
	}

	r := &Redis{
		rdb:      rdb,
		logger:   logger,
		metrics:  metrics,
		local:    NewMemory(logger, metrics, opts),
		pubsub:   ps,
		outbound: make(chan envelope, opts.QueueSize),
		stop:     make(chan struct{}),
	}

	r.wg.Add(2)
	go r.relay()
	go r.write()

	logger.Info("redis hub started",
		zap.Strings("patterns", []string{topic.ConversationPattern, topic.UserPattern}),
	)
	return r, nil
}

func (r *Redis) Publish(ctx context.Context, t string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-r.stop:
		r.metrics.IncPublishErrors()
		return ErrClosed
	default:
	}

	env := envelope{topic: t, payload: append([]byte(nil), payload...)}
	select {
	case r.outbound <- env:
		return nil
	default:
		r.metrics.IncPublishErrors()
		return ErrQueueFull
	}
}

func (r *Redis) Subscribe(ctx context.Context, t string) (*Subscription, error) {
	return r.local.Subscribe(ctx, t)
}

func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		close(r.stop)
		// Closing the PubSub ends the relay's channel range.
		err = r.pubsub.Close()
		r.wg.Wait()
		_ = r.local.Close()
	})
	return err
}

func (r *Redis) write() {
	defer r.wg.Done()
	for {
		select {
		case env := <-r.outbound:
			ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
			err := r.rdb.Publish(ctx, env.topic, env.payload).Err()
			cancel()
			if err != nil {
				r.metrics.IncPublishErrors()
				r.logger.Warn("redis publish failed", zap.String("topic", env.topic), zap.Error(err))
			}
		case <-r.stop:
			return
		}
	}
}

func (r *Redis) relay() {
	defer r.wg.Done()
	for msg := range r.pubsub.Channel() {
		if err := r.local.Publish(context.Background(), msg.Channel, []byte(msg.Payload)); err != nil {
			r.logger.Warn("relay to local subscribers failed",
				zap.String("topic", msg.Channel),
				zap.Error(err),
			)
		}
	}
}
