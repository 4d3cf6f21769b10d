package commands

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/lalith-99/dmstream/internal/api"
	"github.com/lalith-99/dmstream/internal/chat"
	"github.com/lalith-99/dmstream/internal/client"
	"github.com/lalith-99/dmstream/internal/hub"
	"github.com/lalith-99/dmstream/internal/models"
	"github.com/lalith-99/dmstream/internal/repository/memory"
)

func TestFlags_TokenSources(t *testing.T) {
	dir := t.TempDir()
	f := &Flags{
		Server:    "http://localhost:8081",
		TokenFile: filepath.Join(dir, "nested", "token"),
		Logger:    zap.NewNop(),
	}

	_, err := f.remote(true)
	require.Error(t, err, "no token anywhere")

	r, err := f.remote(false)
	require.NoError(t, err)
	assert.Empty(t, r.Token())

	require.NoError(t, f.saveToken("saved-token"))
	r, err = f.remote(true)
	require.NoError(t, err)
	assert.Equal(t, "saved-token", r.Token())

	f.Token = "flag-token"
	r, err = f.remote(true)
	require.NoError(t, err)
	assert.Equal(t, "flag-token", r.Token())
}

func TestFormatMessage(t *testing.T) {
	m := chat.MessagePayload{ID: 1, SenderID: 2, ReceiverID: 1, Content: "hello", CreatedAt: "not a time"}

	assert.Contains(t, formatMessage(m, 2, "bob"), "you:")
	assert.Contains(t, formatMessage(m, 1, "bob"), "bob:")
	assert.Contains(t, formatMessage(m, 1, ""), "#2:")

	m.SenderName = "robert"
	line := formatMessage(m, 1, "bob")
	assert.Contains(t, line, "robert:")
	assert.Contains(t, line, "hello")
	assert.Contains(t, line, "not a time")
}

func TestLsCmd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	users := memory.NewUserStore()
	messages := memory.NewMessageStore(users, models.MaxContentLength)
	broker := hub.NewMemory(zap.NewNop(), nil, hub.Options{})
	srv := httptest.NewServer(api.NewRouter(api.Deps{
		Logger:    zap.NewNop(),
		JWTSecret: "cli-test",
		TokenTTL:  time.Hour,
		Users:     users,
		Chat:      chat.NewService(messages, users, broker, zap.NewNop(), nil, chat.Options{}),
		Broker:    broker,
	}))
	t.Cleanup(func() {
		_ = broker.Close()
		srv.Close()
	})

	ctx := context.Background()
	alice, err := client.NewRemote(srv.URL, "", nil)
	require.NoError(t, err)
	_, err = alice.Signup(ctx, "alice", "alice@example.com", "correct-horse")
	require.NoError(t, err)
	bob, err := client.NewRemote(srv.URL, "", nil)
	require.NoError(t, err)
	bobAuth, err := bob.Signup(ctx, "bob", "bob@example.com", "correct-horse")
	require.NoError(t, err)
	_, err = alice.Send(ctx, bobAuth.UserID, "see you at noon")
	require.NoError(t, err)

	var out bytes.Buffer
	flags := &Flags{Server: srv.URL, Token: bob.Token(), TokenFile: filepath.Join(t.TempDir(), "token"), Logger: zap.NewNop()}
	app := &cli.Command{Name: "chatcli", Writer: &out}
	app = NewLsCmd(flags).Register(app)

	require.NoError(t, app.Run(ctx, []string{"chatcli", "conversations"}))
	text := out.String()
	assert.Contains(t, text, "bob")
	assert.Contains(t, text, "alice")
	assert.Contains(t, text, "see you at noon")
	assert.True(t, strings.Index(text, "ID") < strings.Index(text, "see you at noon"))
}
