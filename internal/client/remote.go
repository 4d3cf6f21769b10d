package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalith-99/dmstream/internal/chat"
	"github.com/lalith-99/dmstream/internal/models"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Inbox is the conversation list, most recent first.
type Inbox struct {
	Conversations []InboxEntry   `json:"usersWithLastMessage"`
	CurrentUser   models.UserRef `json:"current_user"`
}

type InboxEntry struct {
	User        models.UserRef `json:"user"`
	LastMessage *struct {
		ID        int64  `json:"id"`
		Content   string `json:"content"`
		CreatedAt string `json:"created_at"`
	} `json:"lastMessage"`
}

type AuthResult struct {
	Token  string `json:"token"`
	UserID int64  `json:"user_id"`
}

// Remote talks to a dmstream server over its HTTP API, with live topics
// streamed over a websocket.
type Remote struct {
	base   *url.URL
	http   *http.Client
	dialer *websocket.Dialer
	logger *zap.Logger

	mu    sync.RWMutex
	token string
}

var (
	_ HistorySource = (*Remote)(nil)
	_ Sender        = (*Remote)(nil)
	_ Subscriber    = (*Remote)(nil)
)

func NewRemote(baseURL, token string, logger *zap.Logger) (*Remote, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{
		base:   base,
		http:   &http.Client{Timeout: 15 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
		token:  token,
	}, nil
}

func (r *Remote) Token() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.token
}

// Login exchanges credentials for a token and keeps it for later calls.
func (r *Remote) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	return r.authenticate(ctx, "/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

func (r *Remote) Signup(ctx context.Context, username, email, password string) (*AuthResult, error) {
	return r.authenticate(ctx, "/v1/auth/signup", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
}

func (r *Remote) authenticate(ctx context.Context, path string, body any) (*AuthResult, error) {
	var res AuthResult
	if err := r.do(ctx, http.MethodPost, path, nil, body, &res); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.token = res.Token
	r.mu.Unlock()
	return &res, nil
}

func (r *Remote) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := r.do(ctx, http.MethodGet, "/v1/users/me", nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Remote) Conversations(ctx context.Context) (*Inbox, error) {
	var inbox Inbox
	if err := r.do(ctx, http.MethodGet, "/v1/chat", nil, nil, &inbox); err != nil {
		return nil, err
	}
	return &inbox, nil
}

func (r *Remote) History(ctx context.Context, otherUserID int64, page int) (*chat.History, error) {
	q := url.Values{"page": {strconv.Itoa(page)}}
	var h chat.History
	path := "/v1/chat/messages/" + strconv.FormatInt(otherUserID, 10)
	if err := r.do(ctx, http.MethodGet, path, q, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *Remote) Send(ctx context.Context, receiverID int64, content string) (*chat.MessagePayload, error) {
	var res struct {
		Status  string              `json:"status"`
		Message chat.MessagePayload `json:"message"`
	}
	body := map[string]any{"receiver_id": receiverID, "content": content}
	if err := r.do(ctx, http.MethodPost, "/v1/chat/send", nil, body, &res); err != nil {
		return nil, err
	}
	return &res.Message, nil
}

func (r *Remote) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *r.base
	u.Path += path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := r.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Subscribe opens a websocket on /v1/ws for topic t. The stream ends when
// it is closed, when ctx is cancelled, or when the server hangs up.
func (r *Remote) Subscribe(ctx context.Context, t string) (Stream, error) {
	u := *r.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/v1/ws"
	u.RawQuery = url.Values{"topic": {t}}.Encode()

	header := http.Header{}
	if tok := r.Token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, resp, err := r.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			var e struct {
				Error string `json:"error"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&e)
			if e.Error == "" {
				e.Error = http.StatusText(resp.StatusCode)
			}
			return nil, &APIError{Status: resp.StatusCode, Message: e.Error}
		}
		return nil, fmt.Errorf("dial %s: %w", t, err)
	}

	s := &wsStream{
		conn:   conn,
		ch:     make(chan []byte, 64),
		done:   make(chan struct{}),
		logger: r.logger.With(zap.String("topic", t)),
	}
	go s.read()
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.Close()
			case <-s.done:
			}
		}()
	}
	return s, nil
}

type wsStream struct {
	conn   *websocket.Conn
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func (s *wsStream) C() <-chan []byte {
	return s.ch
}

func (s *wsStream) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

func (s *wsStream) read() {
	defer close(s.ch)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				select {
				case <-s.done:
				default:
					s.logger.Debug("stream read ended", zap.Error(err))
				}
			}
			s.Close()
			return
		}
		select {
		case s.ch <- data:
		case <-s.done:
			return
		}
	}
}
