package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/layer-3/signet/adapters/events"
	"github.com/layer-3/signet/adapters/ratelimit"
	"github.com/layer-3/signet/adapters/store"
	"github.com/layer-3/signet/adapters/tokenizer"
	"github.com/layer-3/signet/config"
	"github.com/layer-3/signet/ports"
	"github.com/layer-3/signet/service"
	transport "github.com/layer-3/signet/transport/http"
)

const (
	shutdownTimeout = 30 * time.Second
	sweepInterval   = time.Minute
)

var serveFlags struct {
	addr      string
	store     string
	rateLimit string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authentication server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if serveFlags.addr != "" {
			cfg.Addr = serveFlags.addr
		}
		if serveFlags.store != "" {
			cfg.StoreBackend = serveFlags.store
		}
		if serveFlags.rateLimit != "" {
			cfg.RateLimitBackend = serveFlags.rateLimit
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err := config.NewLogger(cfg.LogLevel, cfg.Production())
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, logger, nil)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "listen address, overrides SIGNET_ADDR")
	serveCmd.Flags().StringVar(&serveFlags.store, "store", "", "store backend: memory, redis or mongo")
	serveCmd.Flags().StringVar(&serveFlags.rateLimit, "rate-limit", "", "rate limit backend: memory or redis")
}

// authStore is what the services need from a storage backend
type authStore interface {
	ports.NonceStore
	ports.SessionStore
}

// backends holds the process-wide adapters built from config
type backends struct {
	store     authStore
	limiters  map[ratelimit.Category]ports.RateLimiter
	publisher ports.EventPublisher
	closers   []func(context.Context) error
	sweepers  []func(time.Time)
}

func (b *backends) close(ctx context.Context, logger *zap.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			logger.Warn("failed to close backend", zap.Error(err))
		}
	}
}

// run serves until ctx is done. When ready is non-nil the base URL is sent on
// it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, ready chan<- string) error {
	b, err := buildBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		b.close(closeCtx, logger)
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	security := service.NewSecurityLogger(logger, b.publisher, registry)
	authService := newAuthService(cfg, b.store, security, logger)
	router := transport.SetupRouter(authService, transport.RouterConfig{
		Production: cfg.Production(),
		Limiters:   b.limiters,
		Security:   security,
		Gatherer:   registry,
		Logger:     logger,
	})

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	server := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	if len(b.sweepers) > 0 {
		go sweep(sweepCtx, b.sweepers)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("signet listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("store", cfg.StoreBackend),
			zap.String("rate_limit", cfg.RateLimitBackend),
			zap.Bool("events", cfg.EventsEnabled),
		)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func newAuthService(cfg *config.Config, st authStore, security *service.SecurityLogger, logger *zap.Logger) *service.AuthService {
	tokens := tokenizer.NewJWTTokenizer(cfg.JWTSecret, cfg.Issuer, cfg.Audience)
	nonces := service.NewNonceService(st, cfg.NonceTTL, logger)
	sigVerifier := service.NewSignatureVerifier(nonces, cfg.Domain)
	sessions := service.NewSessionManager(st, tokens, security, cfg.SessionTTL, cfg.BlacklistTTL, logger)
	return service.NewAuthService(nonces, sigVerifier, sessions, tokens, security, logger).
		WithAdmins(cfg.AdminAddresses)
}

func buildBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *backends, err error) {
	b := &backends{limiters: make(map[ratelimit.Category]ports.RateLimiter)}
	defer func() {
		if err != nil {
			b.close(context.Background(), logger)
		}
	}()

	var redisClient *redis.Client
	if cfg.StoreBackend == config.BackendRedis || cfg.RateLimitBackend == config.BackendRedis || cfg.EventsEnabled {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		b.closers = append(b.closers, func(context.Context) error { return redisClient.Close() })
	}

	switch cfg.StoreBackend {
	case config.BackendRedis:
		b.store = store.NewRedisStore(redisClient)
	case config.BackendMongo:
		mongoStore, err := store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to set up mongo store: %w", err)
		}
		b.store = mongoStore
		b.closers = append(b.closers, mongoStore.Close)
	default:
		memoryStore := store.NewMemoryStore()
		b.store = memoryStore
		b.sweepers = append(b.sweepers, memoryStore.PurgeExpired)
	}

	for _, category := range transport.RoutedCategories() {
		policy := ratelimit.DefaultPolicies[category]
		if cfg.RateLimitBackend == config.BackendRedis {
			b.limiters[category] = ratelimit.NewRedisLimiter(redisClient, category, policy)
			continue
		}
		limiter := ratelimit.NewMemoryLimiter(policy)
		b.limiters[category] = limiter
		b.sweepers = append(b.sweepers, limiter.Sweep)
	}

	if cfg.EventsEnabled {
		streams, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redisClient},
			events.NewZapLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		publisher := events.NewWatermillPublisher(streams)
		b.publisher = publisher
		b.closers = append(b.closers, func(context.Context) error { return publisher.Close() })
	}
	return b, nil
}

// sweep drops expired in-process state so long-lived servers stay bounded
func sweep(ctx context.Context, sweepers []func(time.Time)) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			for _, fn := range sweepers {
				fn(now)
			}
		case <-ctx.Done():
			return
		}
	}
}
