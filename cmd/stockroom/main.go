package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/stockroom-app/stockroom/internal/app"
	"github.com/stockroom-app/stockroom/internal/auth"
	"github.com/stockroom-app/stockroom/internal/items"
	"github.com/stockroom-app/stockroom/internal/observability"
	"github.com/stockroom-app/stockroom/internal/platform/cache"
	"github.com/stockroom-app/stockroom/internal/platform/db"
	"github.com/stockroom-app/stockroom/internal/shared"
	"github.com/stockroom-app/stockroom/internal/view"
	"github.com/stockroom-app/stockroom/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("stockroom exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	var (
		userRepo    auth.Repository         = auth.NewMemoryRepository()
		itemRepo    items.Repository        = items.NewMemoryRepository()
		store       shared.SessionStore     = shared.NewMemorySessionStore()
		idempotency shared.IdempotencyStore = shared.NewMemoryIdempotencyStore()
		audit       shared.AuditRecorder
		cleanup     items.CleanupQueue
		jobHandler  *jobs.Handler
	)

	if cfg.PGDSN != "" {
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
		if err != nil {
			return err
		}
		defer pool.Close()
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
		}
		userRepo = auth.NewRepository(pool)
		itemRepo = items.NewRepository(pool)
		idempotency = shared.NewIdempotencyStore(pool)
		audit = shared.NewAuditLogger(pool)
	} else {
		logger.Warn("PG_DSN not set, users and items are kept in memory")
	}

	if redisOpts, ok := cfg.RedisOptions(); ok {
		redisClient, err := cache.New(ctx, redisOpts)
		if err != nil {
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		store = shared.NewRedisSessionStore(redisClient)

		enqueuer := jobs.NewEnqueuer(redisOpts.AsynqOpts())
		defer func() {
			if err := enqueuer.Close(); err != nil {
				logger.Warn("enqueuer close", slog.Any("error", err))
			}
		}()
		cleanup = enqueuer

		inspector := asynq.NewInspector(redisOpts.AsynqOpts())
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	} else {
		logger.Warn("REDIS_ADDR not set, sessions are kept in memory and images are deleted inline")
	}

	images, uploadDir, err := app.NewImageStore(ctx, cfg)
	if err != nil {
		return err
	}

	templates, err := view.NewEngine()
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(store, "stockroom_session", cfg.SessionTTL, cfg.IsProduction(), shared.WithCookieSecret(cfg.SessionSecret))
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	authService := auth.NewService(userRepo, auth.NewHasher(cfg.BcryptCost), tokens)
	if audit != nil {
		authService.WithAudit(audit, logger)
	}
	sessionGuard := auth.NewSessionGuard("/login", logger)
	tokenGuard := auth.NewTokenGuard(tokens, logger)

	itemService := items.NewService(itemRepo, images, cleanup, logger, metrics)
	if audit != nil {
		itemService.WithAudit(audit)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		CSRFManager:     csrfManager,
		Metrics:         metrics,
		AuthHandler:     auth.NewHandler(logger, authService, templates, sessionManager, csrfManager, metrics, sessionGuard),
		AuthAPIHandler:  auth.NewAPIHandler(logger, authService, tokenGuard, metrics, cfg.IsProduction()),
		ItemsHandler:    items.NewHandler(logger, itemService, templates, csrfManager, sessionGuard),
		ItemsAPIHandler: items.NewAPIHandler(logger, itemService, tokenGuard, items.WithIdempotency(idempotency)),
		JobHandler:      jobHandler,
		UploadDir:       uploadDir,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
