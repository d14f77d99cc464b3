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

	"github.com/roleguard/roleguard/internal/app"
	"github.com/roleguard/roleguard/internal/auth"
	"github.com/roleguard/roleguard/internal/observability"
	"github.com/roleguard/roleguard/internal/platform/cache"
	"github.com/roleguard/roleguard/internal/platform/db"
	"github.com/roleguard/roleguard/internal/rbac"
	"github.com/roleguard/roleguard/internal/sections"
	"github.com/roleguard/roleguard/internal/shared"
	"github.com/roleguard/roleguard/internal/users"
	"github.com/roleguard/roleguard/jobs"
)

type welcomeNotifier struct {
	client *jobs.Client
}

func (n welcomeNotifier) UserCreated(ctx context.Context, user users.User, initialPassword string) error {
	_, err := n.client.EnqueueWelcomeMail(ctx, jobs.WelcomeMailPayload{
		UserID:            user.ID,
		Name:              user.Name,
		Email:             user.Email,
		Role:              user.Role.String(),
		TemporaryPassword: initialPassword != "",
	})
	return err
}

func loadRoleTable(path string) (*rbac.Table, error) {
	if path == "" {
		return rbac.DefaultTable(), nil
	}
	return rbac.LoadTable(path)
}

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
	slog.SetDefault(logger)

	table, err := loadRoleTable(cfg.RolesFile)
	if err != nil {
		logger.Error("load role table", slog.String("path", cfg.RolesFile), slog.Any("error", err))
		os.Exit(1)
	}
	evaluator, err := rbac.NewEvaluator(table)
	if err != nil {
		logger.Error("init evaluator", slog.Any("error", err))
		os.Exit(1)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()
	if err := db.EnsureSchema(ctx, dbpool); err != nil {
		logger.Error("ensure schema", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	redisOpt := jobs.RedisOpt(redisClient.Options())
	jobClient := jobs.NewClient(redisOpt)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo, evaluator, users.ServiceConfig{
		Audit:    auditLogger,
		Notifier: welcomeNotifier{client: jobClient},
		Logger:   logger,
	})

	rbacMiddleware := rbac.Middleware{
		Evaluator: evaluator,
		Resolver:  usersService,
		Logger:    logger,
		Recorder:  metrics,
	}

	authService := auth.NewService(usersRepo, auth.NewSessionStore(dbpool), auditLogger, logger)
	authHandler := auth.NewHandler(logger, authService, evaluator, sessionManager, csrfManager, rbacMiddleware)
	usersHandler := users.NewHandler(logger, usersService, evaluator, idempotencyStore, rbacMiddleware)
	rolesHandler := rbac.NewRolesHandler(logger, evaluator, rbacMiddleware)

	catalog, err := sections.NewCatalog(evaluator, sections.DefaultSections())
	if err != nil {
		logger.Error("build section catalog", slog.Any("error", err))
		os.Exit(1)
	}
	sectionsHandler := sections.NewHandler(logger, catalog, evaluator, rbacMiddleware)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		CSRFManager:     csrfManager,
		Evaluator:       evaluator,
		RBACMiddleware:  rbacMiddleware,
		AuthHandler:     authHandler,
		UsersHandler:    usersHandler,
		RolesHandler:    rolesHandler,
		SectionsHandler: sectionsHandler,
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
		Readiness: map[string]app.ReadinessCheck{
			"postgres": dbpool.Ping,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.Int("roles", len(table.Descriptors())))
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

	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
