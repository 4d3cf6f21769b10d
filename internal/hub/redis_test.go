package hub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/dmstream/internal/topic"
)

// Needs a reachable Redis, e.g. TEST_REDIS_URL=redis://localhost:6379/15
func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := NewRedis(ctx, rdb, zap.NewNop(), nil, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedis_CrossInstanceDelivery(t *testing.T) {
	// Two brokers on one Redis stand in for two server instances.
	sender := newTestRedis(t)
	receiver := newTestRedis(t)
	ctx := context.Background()

	conv := topic.Conversation(3, 7)
	sub, err := receiver.Subscribe(ctx, conv)
	require.NoError(t, err)
	other, err := receiver.Subscribe(ctx, topic.Notification(3))
	require.NoError(t, err)

	require.NoError(t, sender.Publish(ctx, conv, []byte("first")))
	require.NoError(t, sender.Publish(ctx, conv, []byte("second")))

	assert.Equal(t, "first", string(receive(t, sub)))
	assert.Equal(t, "second", string(receive(t, sub)))
	assertNothing(t, other)
}

func TestRedis_Close(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	sub, err := r.Subscribe(ctx, topic.Notification(1))
	require.NoError(t, err)

	require.NoError(t, r.Close())
	<-sub.Done()
	assert.ErrorIs(t, r.Publish(ctx, topic.Notification(1), []byte("x")), ErrClosed)
}
