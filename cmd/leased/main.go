package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/VenkatGGG/leasehold/internal/api"
	"github.com/VenkatGGG/leasehold/internal/config"
	"github.com/VenkatGGG/leasehold/internal/idempotency"
	"github.com/VenkatGGG/leasehold/internal/lease"
	"github.com/VenkatGGG/leasehold/internal/logging"
	"github.com/VenkatGGG/leasehold/internal/notify"
	"github.com/VenkatGGG/leasehold/internal/resource"
	"github.com/VenkatGGG/leasehold/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "leased: invalid configuration: %v\n", err)
		os.Exit(2)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "leased: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("leased stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(format, os.Stderr, level), nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	instanceID := "leased-" + uuid.NewString()[:8]
	logger = logger.With("instance", instanceID)
	logger.Info("config loaded",
		"store", cfg.StoreBackend,
		"sessions", cfg.SessionBackend,
		"notify_redis", cfg.NotifyRedis,
	)

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
	}

	store, closeStore, err := openStore(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeStore()

	sessions, closeSessions, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	var replay idempotency.Store = idempotency.NewInMemoryStore()
	if redisClient != nil {
		replay = idempotency.NewRedisStore(redisClient, cfg.RedisPrefix)
	}

	hub := notify.NewHub(cfg.WatchBuffer)
	var notifier lease.Notifier = hub
	if cfg.NotifyRedis {
		notifier = notify.NewMulti(hub, notify.NewRedisPublisher(redisClient, instanceID))
		relay := notify.NewRedisRelay(redisClient, hub, instanceID, logger.With("component", "relay"))
		go func() {
			if err := relay.Run(ctx, nil); err != nil {
				logger.Error("redis relay stopped", "error", err)
			}
		}()
	}

	manager := lease.NewManager(store, notifier, lease.WithLogger(logger.With("component", "lease")))
	server := api.NewServer(manager, sessions, hub, api.Options{
		APIKey:             cfg.APIKey,
		RateLimitPerWindow: cfg.RateLimitPerWindow,
		RateLimitWindow:    cfg.RateLimitWindow,
		Idempotency:        replay,
		IdempotencyTTL:     cfg.IdempotencyTTL,
		IdempotencyLockTTL: cfg.IdempotencyLockTTL,
		Logger:             logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("leased listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, redisClient *redis.Client) (resource.Store, func(), error) {
	noop := func() {}
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		store, err := resource.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres store: %w", err)
		}
		return store, store.Close, nil
	case config.BackendRedis:
		return resource.NewRedisStore(redisClient, cfg.RedisPrefix), noop, nil
	case config.BackendMongo:
		store, err := resource.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, noop, fmt.Errorf("open mongo store: %w", err)
		}
		return store, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Close(closeCtx)
		}, nil
	case config.BackendDocstore:
		store, err := resource.OpenDocstoreStore(ctx, cfg.DocstoreURL)
		if err != nil {
			return nil, noop, fmt.Errorf("open docstore store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return resource.NewInMemoryStore(), noop, nil
	}
}

func openSessions(ctx context.Context, cfg config.Config) (session.Service, func(), error) {
	if cfg.SessionBackend == config.BackendPostgres {
		svc, err := session.NewPostgresService(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, func() {}, fmt.Errorf("open postgres sessions: %w", err)
		}
		return svc, svc.Close, nil
	}
	return session.NewInMemoryService(), func() {}, nil
}
