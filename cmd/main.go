package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukepan/chatroom-gateway/internal/api"
	"github.com/dukepan/chatroom-gateway/internal/auth"
	"github.com/dukepan/chatroom-gateway/internal/cache"
	"github.com/dukepan/chatroom-gateway/internal/config"
	"github.com/dukepan/chatroom-gateway/internal/db"
	"github.com/dukepan/chatroom-gateway/internal/filestore"
	"github.com/dukepan/chatroom-gateway/internal/gateway"
	"github.com/dukepan/chatroom-gateway/internal/history"
	"github.com/dukepan/chatroom-gateway/internal/middleware"
	"github.com/dukepan/chatroom-gateway/internal/observability"
	"github.com/dukepan/chatroom-gateway/internal/relay"
	"github.com/dukepan/chatroom-gateway/internal/rooms"
	"github.com/dukepan/chatroom-gateway/internal/utils"
)

const (
	serviceName    = "chatroom-gateway"
	serviceVersion = "1.0.0"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logger
	logger := utils.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal(context.Background(), "Server error: %v", err)
	}
	logger.Info(context.Background(), "Application stopped.")
}

func run(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	hostname, _ := os.Hostname()

	// Initialize OpenTelemetry
	otelCleanup, err := observability.InitOpenTelemetry(observability.Settings{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		NodeID:         hostname,
	}, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := otelCleanup(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "OpenTelemetry shutdown error: %v", err)
		}
	}()

	// Initialize database
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Initialize history store
	store, err := openHistoryStore(cfg, database)
	if err != nil {
		return err
	}
	historyClient := history.NewClient(store, cfg.AppendTimeout, logger)
	defer func() {
		if err := historyClient.Close(); err != nil {
			logger.Error(context.Background(), "History store close error: %v", err)
		}
	}()

	jwtMgr, err := auth.NewFromConfig(cfg.JWTSecret, cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT manager: %w", err)
	}

	// Initialize Local File Store
	localFileStore, err := filestore.NewLocalFileStore(cfg.FileStoragePath, cfg.BaseFileURL)
	if err != nil {
		return fmt.Errorf("failed to initialize local file store: %w", err)
	}

	// The engine and the gateway reference each other; the delivery side is
	// set once both exist.
	engine := rooms.NewEngine(database, historyClient, nil, logger, cfg.JoinBackfillLimit)
	gw := gateway.New(engine, logger, gateway.Options{
		BufferSize:     cfg.ClientBufferSize,
		MaxMessageSize: cfg.MaxMessageSize,
	})
	engine.SetDelivery(gw)

	deps := api.Dependencies{
		Rooms:   database,
		History: historyClient,
		Engine:  engine,
		Gateway: gw,
		Auth:    jwtMgr,
		Files:   localFileStore,
		Health:  map[string]api.HealthChecker{"database": database},
		Logger:  logger,

		FileStoragePath: cfg.FileStoragePath,
		BaseFileURL:     cfg.BaseFileURL,
	}

	// Redis enables the cross-node relay, presence and rate limiting.
	var nodeRelay *relay.Relay
	if cfg.RedisURL != "" {
		redisCache, err := cache.New(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to initialize cache: %w", err)
		}
		defer func() {
			if err := redisCache.Close(); err != nil {
				logger.Error(context.Background(), "Redis cache close error: %v", err)
			}
		}()

		gw.SetPresence(redisCache)

		nodeRelay = relay.New(redisCache, logger)
		nodeRelay.SetSink(engine)
		engine.SetRelay(nodeRelay)
		nodeRelay.Start(ctx)
		logger.Info(ctx, "Relay started as node %s", nodeRelay.NodeID())

		deps.Presence = redisCache
		deps.RateLimiter = middleware.NewRateLimiter(redisCache.GetClient(), cfg.RateLimitCapacity, cfg.RateLimitPerSecond, logger)
		deps.Health["redis"] = redisCache
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	gw.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(gctx, "Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server.ListenAndServe: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		engine.RunReconciler(gctx, cfg.ReconcileInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return gracefulShutdown(logger, cfg.ShutdownTimeout, server, gw, nodeRelay)
	})

	return g.Wait()
}

func openHistoryStore(cfg *config.Config, database *db.Database) (history.Store, error) {
	switch cfg.HistoryBackend {
	case config.HistoryBackendBadger:
		store, err := history.OpenBadgerStore(cfg.BadgerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger history at %s: %w", cfg.BadgerPath, err)
		}
		return store, nil
	default:
		return history.NewPostgresStore(database), nil
	}
}

// gracefulShutdown stops accepting requests, closes every websocket with a
// going-away frame and stops the relay. Storage is closed by run's defers.
func gracefulShutdown(logger *utils.Logger, timeout time.Duration, server *http.Server, gw *gateway.Gateway, nodeRelay *relay.Relay) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logger.Info(ctx, "Shutting down server...")

	var errs []error

	// 1. Shut down HTTP server
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	} else {
		logger.Info(ctx, "HTTP server stopped.")
	}

	// 2. Stop the gateway (hijacked websocket connections outlive server.Shutdown)
	if err := gw.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("gateway stop: %w", err))
	} else {
		logger.Info(ctx, "Gateway stopped.")
	}

	// 3. Stop the relay
	if nodeRelay != nil {
		nodeRelay.Stop()
		logger.Info(ctx, "Relay stopped.")
	}

	return errors.Join(errs...)
}
