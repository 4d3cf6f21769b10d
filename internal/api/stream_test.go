package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalith-99/dmstream/internal/chat"
	"github.com/lalith-99/dmstream/internal/topic"
)

func startHTTP(t *testing.T, s *testServer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(s.router)
	// Cleanups run last-in first-out: the broker registered in
	// newTestServer closes after this, so close it here first to end
	// open streams before the server waits for them.
	t.Cleanup(func() {
		_ = s.broker.Close()
		srv.Close()
	})
	return srv
}

func streamURL(base, path, t, token string) string {
	q := url.Values{}
	q.Set("topic", t)
	q.Set("access_token", token)
	return base + path + "?" + q.Encode()
}

func postSend(t *testing.T, base string, from testUser, to int64, content string) {
	t.Helper()
	body, err := json.Marshal(gin.H{"receiver_id": to, "content": content})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, base+"/v1/chat/send", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+from.Token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// nextSSEData reads until the next "message" event and returns its data.
func nextSSEData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	event := ""
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:") && event == "message":
			return strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func TestSSE_DeliversConversationAndNotification(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")
	srv := startHTTP(t, s)

	convResp, err := http.Get(streamURL(srv.URL, "/v1/stream", topic.Conversation(bob.ID, alice.ID), bob.Token))
	require.NoError(t, err)
	defer convResp.Body.Close()
	require.Equal(t, http.StatusOK, convResp.StatusCode)
	assert.Contains(t, convResp.Header.Get("Content-Type"), "text/event-stream")

	notifResp, err := http.Get(streamURL(srv.URL, "/v1/stream", topic.Notification(bob.ID), bob.Token))
	require.NoError(t, err)
	defer notifResp.Body.Close()
	require.Equal(t, http.StatusOK, notifResp.StatusCode)

	// Headers are flushed only after the subscription is registered, so
	// nothing published from here on can be missed.
	postSend(t, srv.URL, alice, bob.ID, "hello over sse")

	var ev chat.MessageEvent
	require.NoError(t, json.Unmarshal([]byte(nextSSEData(t, bufio.NewReader(convResp.Body))), &ev))
	assert.Equal(t, chat.EventNewMessage, ev.Type)
	assert.Equal(t, "hello over sse", ev.Content)
	assert.Equal(t, alice.ID, ev.SenderID)
	assert.Equal(t, bob.ID, ev.ReceiverID)

	var notif chat.NotificationEvent
	require.NoError(t, json.Unmarshal([]byte(nextSSEData(t, bufio.NewReader(notifResp.Body))), &notif))
	assert.Equal(t, chat.EventNewMessageNotification, notif.Type)
	assert.Equal(t, ev.ID, notif.Message.ID)
	assert.Equal(t, "alice", notif.Message.SenderName)
}

func TestStream_Authorization(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")
	carol := s.signup(t, "carol")

	tests := []struct {
		name  string
		topic string
		want  int
	}{
		{"missing topic", "", http.StatusBadRequest},
		{"malformed topic", "chat/conversation/abc", http.StatusBadRequest},
		{"non-canonical pair", fmt.Sprintf("chat/conversation/%d-%d", bob.ID, alice.ID), http.StatusBadRequest},
		{"other conversation", topic.Conversation(alice.ID, bob.ID), http.StatusForbidden},
		{"other user's notifications", topic.Notification(alice.ID), http.StatusForbidden},
	}
	for _, tt := range tests {
		for _, path := range []string{"/v1/stream", "/v1/ws"} {
			t.Run(tt.name+" "+path, func(t *testing.T) {
				req := httptest.NewRequest(http.MethodGet, streamURL("", path, tt.topic, carol.Token), nil)
				w := httptest.NewRecorder()
				s.router.ServeHTTP(w, req)
				assert.Equal(t, tt.want, w.Code, w.Body.String())
			})
		}
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/stream?topic="+url.QueryEscape(topic.Notification(carol.ID)), nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebSocket_Delivers(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")
	srv := startHTTP(t, s)

	wsURL := "ws" + strings.TrimPrefix(streamURL(srv.URL, "/v1/ws", topic.Conversation(alice.ID, bob.ID), alice.Token), "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	postSend(t, srv.URL, bob, alice.ID, "first")
	postSend(t, srv.URL, alice, bob.ID, "second")

	for _, want := range []string{"first", "second"} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		kind, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, kind)

		var ev chat.MessageEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		assert.Equal(t, chat.EventNewMessage, ev.Type)
		assert.Equal(t, want, ev.Content)
	}
}

func TestWebSocket_ClientCloseReleasesSubscription(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")
	srv := startHTTP(t, s)

	conv := topic.Conversation(alice.ID, bob.ID)
	wsURL := "ws" + strings.TrimPrefix(streamURL(srv.URL, "/v1/ws", conv, alice.Token), "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.broker.Subscribers(conv))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool {
		return s.broker.Subscribers(conv) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
