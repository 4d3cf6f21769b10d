package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalith-99/dmstream/internal/hub"
	"github.com/lalith-99/dmstream/internal/middleware"
	"github.com/lalith-99/dmstream/internal/topic"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// Clients only send pongs and close frames.
	maxClientFrame = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamHandler exposes hub topics to browsers and CLI clients, over
// Server-Sent Events or a websocket. A connection listens on exactly one
// topic; history is fetched separately through the chat endpoints.
type StreamHandler struct {
	broker    hub.Broker
	logger    *zap.Logger
	heartbeat time.Duration
}

func NewStreamHandler(broker hub.Broker, logger *zap.Logger, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &StreamHandler{broker: broker, logger: logger, heartbeat: heartbeat}
}

// subscribe checks the topic query parameter and opens the subscription.
// On failure it writes the response itself.
func (h *StreamHandler) subscribe(ctx context.Context, c *gin.Context) (*hub.Subscription, bool) {
	t := c.Query("topic")
	if t == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'topic' parameter"})
		return nil, false
	}
	if _, err := topic.Parse(t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	userID := middleware.GetUserID(c)
	if !topic.CanSubscribe(userID, t) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to subscribe to this topic"})
		return nil, false
	}

	sub, err := h.broker.Subscribe(ctx, t)
	if err != nil {
		if errors.Is(err, hub.ErrClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
			return nil, false
		}
		h.logger.Error("failed to subscribe", zap.String("topic", t), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to subscribe"})
		return nil, false
	}
	return sub, true
}

// SSE handles GET /v1/stream?topic=...
//
// Each hub payload becomes one "message" event whose data is the JSON
// payload. A "ping" event is sent every heartbeat so proxies keep the
// connection open.
func (h *StreamHandler) SSE(c *gin.Context) {
	ctx := c.Request.Context()
	sub, ok := h.subscribe(ctx, c)
	if !ok {
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	h.logger.Debug("sse stream opened",
		zap.String("topic", sub.Topic),
		zap.String("subscription_id", sub.ID),
		zap.Int64("user_id", middleware.GetUserID(c)),
	)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case payload, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent("message", string(payload))
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		case <-ctx.Done():
			return false
		}
	})

	h.logger.Debug("sse stream closed", zap.String("subscription_id", sub.ID))
}

// WebSocket handles GET /v1/ws?topic=...
//
// Payloads are written as text frames. The read side only serves to
// notice the peer going away; anything the client sends is discarded.
func (h *StreamHandler) WebSocket(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub, ok := h.subscribe(ctx, c)
	if !ok {
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	go h.readPump(conn, cancel)
	h.writePump(conn, sub)
}

func (h *StreamHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *StreamHandler) writePump(conn *websocket.Conn, sub *hub.Subscription) {
	ticker := time.NewTicker((pongWait * 9) / 10)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
