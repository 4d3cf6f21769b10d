package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalith-99/dmstream/internal/api"
	"github.com/lalith-99/dmstream/internal/chat"
	"github.com/lalith-99/dmstream/internal/config"
	"github.com/lalith-99/dmstream/internal/db"
	"github.com/lalith-99/dmstream/internal/hub"
	"github.com/lalith-99/dmstream/internal/observ"
	"github.com/lalith-99/dmstream/internal/repository"
	"github.com/lalith-99/dmstream/internal/repository/memory"
	"github.com/lalith-99/dmstream/internal/repository/postgres"
)

// memoryDatabaseURL runs the server without Postgres. Data lives only as
// long as the process.
const memoryDatabaseURL = "memory://"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Load config
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ---------------------------------------------------------------
	// 2. Create logger
	// ---------------------------------------------------------------
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 3. Storage
	// ---------------------------------------------------------------
	var (
		userRepo    repository.UserRepository
		messageRepo repository.MessageRepository
		health      func(context.Context) error
	)
	if strings.HasPrefix(cfg.DatabaseURL, memoryDatabaseURL) {
		logger.Warn("using in-memory storage, data is lost on exit")
		users := memory.NewUserStore()
		userRepo = users
		messageRepo = memory.NewMessageStore(users, cfg.ChatMaxContent)
	} else {
		database, err := db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}

		pool := database.Pool()
		userRepo = postgres.NewUserStore(pool)
		messageRepo = postgres.NewMessageStore(pool, cfg.ChatMaxContent)
		health = database.Health
	}

	// ---------------------------------------------------------------
	// 4. Metrics
	// ---------------------------------------------------------------
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hubMetrics := observ.NewHubMetrics(registry)
	chatMetrics := observ.NewChatMetrics(registry)

	// ---------------------------------------------------------------
	// 5. Pub/sub hub
	// ---------------------------------------------------------------
	broker, closeBroker, err := newBroker(ctx, cfg, logger, hubMetrics)
	if err != nil {
		return err
	}
	defer closeBroker()

	// ---------------------------------------------------------------
	// 6. HTTP server
	// ---------------------------------------------------------------
	chatSvc := chat.NewService(messageRepo, userRepo, broker, logger, chatMetrics, chat.Options{
		PageSize: cfg.ChatPageSize,
	})

	router := api.NewRouter(api.Deps{
		Logger:    logger,
		JWTSecret: cfg.JWTSecret,
		TokenTTL:  cfg.TokenTTL,
		Users:     userRepo,
		Chat:      chatSvc,
		Broker:    broker,
		Health:    health,
		Gatherer:  registry,

		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting dmstream",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("hub_backend", cfg.HubBackend),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))

	// Closing the broker first ends every open stream, so Shutdown does
	// not wait out the timeout on long-lived SSE and websocket requests.
	closeBroker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newBroker builds the configured hub. The returned close func releases
// the hub and, for Redis, the client; it is safe to call twice.
func newBroker(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observ.HubMetrics) (hub.Broker, func(), error) {
	opts := hub.Options{
		QueueSize:        cfg.HubQueueSize,
		SubscriberBuffer: cfg.HubSubscriberBuffer,
	}
	if cfg.HubBackend != config.HubBackendRedis {
		broker := hub.NewMemory(logger, metrics, opts)
		return broker, func() { _ = broker.Close() }, nil
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	broker, err := hub.NewRedis(ctx, rdb, logger, metrics, opts)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("start redis hub: %w", err)
	}
	closeFn := sync.OnceFunc(func() {
		if err := broker.Close(); err != nil {
			logger.Warn("failed to close hub", zap.Error(err))
		}
		if err := rdb.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	})
	return broker, closeFn, nil
}
