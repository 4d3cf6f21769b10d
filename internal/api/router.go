package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lalith-99/dmstream/internal/chat"
	"github.com/lalith-99/dmstream/internal/hub"
	"github.com/lalith-99/dmstream/internal/middleware"
	"github.com/lalith-99/dmstream/internal/observ"
	"github.com/lalith-99/dmstream/internal/repository"
)

// Deps is everything the HTTP layer needs. main builds it once; tests
// build it from in-memory fakes.
type Deps struct {
	Logger    *zap.Logger
	JWTSecret string
	TokenTTL  time.Duration

	Users  repository.UserRepository
	Chat   *chat.Service
	Broker hub.Broker

	// Health reports storage liveness; nil means always healthy.
	Health func(ctx context.Context) error
	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// StreamHeartbeat is the keep-alive interval on streaming endpoints.
	StreamHeartbeat time.Duration

	// RateLimitRPS and RateLimitBurst bound sends per user and auth
	// attempts per IP. Zero RPS disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(d Deps) *gin.Engine {
	srv := gin.New()
	srv.Use(observ.GinLogger(d.Logger), gin.Recovery())

	// Health is public so load balancers can probe it.
	srv.GET("/v1/health", func(c *gin.Context) {
		if d.Health != nil {
			if err := d.Health(c.Request.Context()); err != nil {
				d.Logger.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if d.Gatherer != nil {
		srv.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	limit := func() gin.HandlerFunc {
		if d.RateLimitRPS <= 0 {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimit(d.RateLimitRPS, d.RateLimitBurst)
	}

	authHandler := NewAuthHandler(d.Users, d.JWTSecret, d.TokenTTL, d.Logger)
	authGroup := srv.Group("/v1/auth", limit())
	authGroup.POST("/signup", authHandler.Signup)
	authGroup.POST("/login", authHandler.Login)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(d.JWTSecret))

	userHandler := NewUserHandler(d.Users, d.Logger)
	v1.GET("/users/me", userHandler.GetMe)

	chatHandler := NewChatHandler(d.Chat, d.Logger)
	v1.GET("/chat", chatHandler.Index)
	v1.POST("/chat/send", limit(), chatHandler.Send)
	v1.GET("/chat/messages/:id", chatHandler.Messages)
	v1.GET("/chat/conversation/:id", chatHandler.Conversation)

	streamHandler := NewStreamHandler(d.Broker, d.Logger, d.StreamHeartbeat)
	v1.GET("/stream", streamHandler.SSE)
	v1.GET("/ws", streamHandler.WebSocket)

	return srv
}
