package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hugh/quanty/internal/analytics"
	"github.com/hugh/quanty/internal/api"
	"github.com/hugh/quanty/internal/api/handlers"
	"github.com/hugh/quanty/internal/api/middleware"
	"github.com/hugh/quanty/internal/audit"
	"github.com/hugh/quanty/internal/auth"
	"github.com/hugh/quanty/internal/database"
	"github.com/hugh/quanty/internal/invitation"
	"github.com/hugh/quanty/internal/isolation"
	"github.com/hugh/quanty/internal/llm"
	"github.com/hugh/quanty/internal/metrics"
	"github.com/hugh/quanty/internal/tables"
	"github.com/hugh/quanty/internal/tasks"
	"github.com/hugh/quanty/internal/workspace"
	"github.com/hugh/quanty/pkg/config"
	"github.com/hugh/quanty/pkg/crypto"
	"github.com/hugh/quanty/pkg/queue"
	"github.com/hugh/quanty/pkg/util"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	logger.Info("starting quanty server", "env", cfg.Server.Env, "identity_mode", cfg.Identity.Mode)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Redis is optional unless the rate limiter is configured to use it.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		redisClient.Close()
		redisClient = nil
	}
	pingCancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	asynqClient := queue.NewClient(&cfg.Redis)
	defer asynqClient.Close()

	var inspector handlers.QueueInspector
	if redisClient != nil {
		ins := queue.NewInspector(&cfg.Redis)
		defer ins.Close()
		inspector = ins
	}

	catalog, err := isolation.NewCatalog(db, cfg.Catalog.CacheSize, m)
	if err != nil {
		logger.Error("failed to create table catalog", "error", err)
		os.Exit(1)
	}
	filter := isolation.NewFilter(db, catalog, m, logger)
	builder := tables.NewBuilder(db, filter, logger)

	recorder := audit.NewRecorder(db, logger)
	directory := workspace.NewDirectory(db, recorder, m, logger, workspace.WithTableRemover(builder))
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry(), cfg.JWT.Issuer)

	verifier, err := newVerifier(cfg, jwtService)
	if err != nil {
		logger.Error("failed to configure identity verifier", "error", err)
		os.Exit(1)
	}
	resolver := auth.NewResolver(db, verifier, directory, m, logger)

	var authService auth.Authenticator
	if cfg.Identity.Mode == "local" {
		authService = auth.NewService(db, jwtService, directory)
	}

	taskOpts, err := taskOptions(cfg, logger)
	if err != nil {
		logger.Error("failed to configure queue encryption", "error", err)
		os.Exit(1)
	}
	notifier := tasks.NewInvitationNotifier(asynqClient, cfg.Invitation.AcceptBaseURL, taskOpts...)
	invitations := invitation.NewManager(db, recorder, notifier, m, logger,
		invitation.WithTTL(cfg.Invitation.TTL()),
	)

	provider, err := llm.New(cfg.LLM)
	if err != nil {
		logger.Error("failed to configure llm provider", "error", err)
		os.Exit(1)
	}
	var generator analytics.Generator
	if provider != nil {
		generator = provider
		logger.Info("llm provider configured", "provider", provider.Name())
	}
	analyticsService := analytics.NewService(filter, generator, logger)

	limiter, err := newLimiter(cfg, redisClient, logger)
	if err != nil {
		logger.Error("failed to configure rate limiter", "error", err)
		os.Exit(1)
	}
	csrfStore := middleware.NewCSRFStore()

	router := api.NewRouter(api.RouterConfig{
		DB:             db,
		Redis:          redisClient,
		Queue:          inspector,
		Logger:         logger,
		Metrics:        m,
		Resolver:       resolver,
		AuthService:    authService,
		TokenExpiry:    cfg.JWT.Expiry(),
		Directory:      directory,
		Invitations:    invitations,
		Filter:         filter,
		Builder:        builder,
		Analytics:      analyticsService,
		Limiter:        limiter,
		CSRF:           csrfStore,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SecureCookies:  !cfg.Server.IsDevelopment(),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	csrfStore.Close()
	if closer, ok := limiter.(interface{ Close() }); ok {
		closer.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("server stopped")
}

func newVerifier(cfg *config.Config, jwtService *auth.JWTService) (auth.Verifier, error) {
	switch cfg.Identity.Mode {
	case "local":
		return jwtService, nil
	case "http":
		return auth.NewHTTPVerifier(cfg.Identity.VerifyURL, cfg.Identity.APIKey, cfg.Identity.Timeout()), nil
	case "oidc":
		return auth.NewOIDCVerifier(context.Background(), cfg.Identity.OIDCIssuer, cfg.Identity.OIDCClientID, cfg.Identity.Timeout())
	default:
		return nil, fmt.Errorf("unknown identity mode %q", cfg.Identity.Mode)
	}
}

func newLimiter(cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) (middleware.Limiter, error) {
	switch cfg.RateLimit.Backend {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("rate limit backend redis requires a reachable redis")
		}
		return middleware.NewRedisLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window(), logger), nil
	default:
		return middleware.NewMemoryLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window()), nil
	}
}

func taskOptions(cfg *config.Config, logger *slog.Logger) ([]tasks.Option, error) {
	if cfg.Queue.EncryptionKey == "" {
		logger.Warn("QUEUE_ENCRYPTION_KEY not set, invitation links are queued in plaintext")
		return nil, nil
	}
	enc, err := crypto.NewEncryptor(cfg.Queue.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return []tasks.Option{tasks.WithSealer(enc)}, nil
}
