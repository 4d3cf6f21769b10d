package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/dmstream/internal/api"
	"github.com/lalith-99/dmstream/internal/chat"
	"github.com/lalith-99/dmstream/internal/hub"
	"github.com/lalith-99/dmstream/internal/models"
	"github.com/lalith-99/dmstream/internal/repository/memory"
	"github.com/lalith-99/dmstream/internal/topic"
)

func newTestAPI(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := memory.NewUserStore()
	messages := memory.NewMessageStore(users, models.MaxContentLength)
	broker := hub.NewMemory(zap.NewNop(), nil, hub.Options{})

	router := api.NewRouter(api.Deps{
		Logger:          zap.NewNop(),
		JWTSecret:       "remote-test",
		TokenTTL:        time.Hour,
		Users:           users,
		Chat:            chat.NewService(messages, users, broker, zap.NewNop(), nil, chat.Options{PageSize: 20}),
		Broker:          broker,
		StreamHeartbeat: time.Hour,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		_ = broker.Close()
		srv.Close()
	})
	return srv.URL
}

func newSignedUp(t *testing.T, base, name string) (*Remote, int64) {
	t.Helper()
	r, err := NewRemote(base, "", nil)
	require.NoError(t, err)
	res, err := r.Signup(context.Background(), name, name+"@example.com", "correct-horse")
	require.NoError(t, err)
	require.NotEmpty(t, r.Token())
	return r, res.UserID
}

func TestNewRemote_RejectsBadURL(t *testing.T) {
	_, err := NewRemote("ftp://example.com", "", nil)
	assert.Error(t, err)
	_, err = NewRemote("://", "", nil)
	assert.Error(t, err)
}

func TestRemote_EndToEnd(t *testing.T) {
	base := newTestAPI(t)
	ctx := context.Background()

	alice, aliceID := newSignedUp(t, base, "alice")
	bob, bobID := newSignedUp(t, base, "bob")

	me, err := bob.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", me.Username)

	rec := &recorder{}
	s := NewSession(bobID, bob, bob, bob, Options{OnMessage: rec.OnMessage})
	t.Cleanup(s.Close)
	require.NoError(t, s.Open(ctx, aliceID))
	assert.Empty(t, s.Messages())

	sent, err := alice.Send(ctx, bobID, "hi bob")
	require.NoError(t, err)
	assert.Equal(t, "hi bob", sent.Content)

	require.Eventually(t, func() bool { return rec.len() == 1 }, waitFor, 10*time.Millisecond)
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.Equal(t, "alice", msgs[0].SenderName)

	reply, err := s.Send(ctx, "hi alice")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, s.Messages(), 2)
	assert.Equal(t, reply.ID, s.Messages()[1].ID)

	inbox, err := alice.Conversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, aliceID, inbox.CurrentUser.ID)
	require.Len(t, inbox.Conversations, 1)
	require.NotNil(t, inbox.Conversations[0].LastMessage)
	assert.Equal(t, "hi alice", inbox.Conversations[0].LastMessage.Content)

	h, err := alice.History(ctx, bobID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi bob", "hi alice"}, contents(h.Messages))
	assert.False(t, h.HasMore)
}

func TestRemote_Errors(t *testing.T) {
	base := newTestAPI(t)
	ctx := context.Background()

	alice, aliceID := newSignedUp(t, base, "alice")
	_, bobID := newSignedUp(t, base, "bob")

	var apiErr *APIError

	_, err := alice.Send(ctx, aliceID, "to myself")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	_, err = alice.Subscribe(ctx, topic.Notification(bobID))
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)

	anon, err := NewRemote(base, "", nil)
	require.NoError(t, err)
	_, err = anon.Me(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, err = anon.Login(ctx, "alice@example.com", "wrong-password")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Empty(t, anon.Token())
}

func TestRemote_SubscribeNotifications(t *testing.T) {
	base := newTestAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice, _ := newSignedUp(t, base, "alice")
	bob, bobID := newSignedUp(t, base, "bob")

	stream, err := bob.Subscribe(ctx, topic.Notification(bobID))
	require.NoError(t, err)

	_, err = alice.Send(ctx, bobID, "ping")
	require.NoError(t, err)

	select {
	case raw, ok := <-stream.C():
		require.True(t, ok)
		assert.Contains(t, string(raw), chat.EventNewMessageNotification)
	case <-time.After(waitFor):
		t.Fatal("no notification")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-stream.C():
			return !ok
		default:
			return false
		}
	}, waitFor, 10*time.Millisecond)
}
