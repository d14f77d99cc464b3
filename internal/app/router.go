package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/roleguard/roleguard/internal/auth"
	"github.com/roleguard/roleguard/internal/observability"
	"github.com/roleguard/roleguard/internal/platform/httpx"
	"github.com/roleguard/roleguard/internal/rbac"
	"github.com/roleguard/roleguard/internal/sections"
	"github.com/roleguard/roleguard/internal/shared"
	"github.com/roleguard/roleguard/internal/users"
	"github.com/roleguard/roleguard/jobs"
)

// ReadinessCheck reports whether a backing service is reachable.
type ReadinessCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	SessionManager  *shared.SessionManager
	CSRFManager     *shared.CSRFManager
	Evaluator       *rbac.Evaluator
	RBACMiddleware  rbac.Middleware
	AuthHandler     *auth.Handler
	UsersHandler    *users.Handler
	RolesHandler    *rbac.RolesHandler
	SectionsHandler *sections.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
	Readiness       map[string]ReadinessCheck
}

// NewRouter constructs the chi.Router with roleguard defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	r.NotFound(httpx.NotFound)
	r.MethodNotAllowed(httpx.MethodNotAllowed)

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.RequestLogger(&chimw.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(params.Logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readinessHandler(params.Logger, params.Readiness))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		roles := 0
		if params.Evaluator != nil {
			roles = len(params.Evaluator.Table().Descriptors())
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"message":         "Welcome to the roleguard API",
			"roles_available": roles,
		})
	})

	r.Route("/api", func(r chi.Router) {
		if params.AuthHandler != nil {
			params.AuthHandler.MountRoutes(r)
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.RolesHandler != nil {
			r.Route("/roles", params.RolesHandler.MountRoutes)
		}
		if params.SectionsHandler != nil {
			r.Route("/sections", params.SectionsHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireRoles(rbac.RoleAdmin, rbac.RoleSuperAdmin))
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

func readinessHandler(logger *slog.Logger, checks map[string]ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := make(map[string]string, len(checks))
		ready := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
				status[name] = "down"
				ready = false
				continue
			}
			status[name] = "up"
		}
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		httpx.JSON(w, code, map[string]any{"ready": ready, "checks": status})
	}
}
