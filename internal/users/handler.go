package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roleguard/roleguard/internal/platform/httpx"
	"github.com/roleguard/roleguard/internal/rbac"
	"github.com/roleguard/roleguard/internal/shared"
)

const idempotencyModule = "users.create"

// Handler manages user management endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	evaluator   *rbac.Evaluator
	idempotency shared.IdempotencyGuard
	rbac        rbac.Middleware
}

// NewHandler builds Handler instance. idempotency may be nil.
func NewHandler(logger *slog.Logger, service *Service, evaluator *rbac.Evaluator, idempotency shared.IdempotencyGuard, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, evaluator: evaluator, idempotency: idempotency, rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRoles(rbac.AllowedFrom(rbac.RoleManager)...))
		r.Get("/", h.listUsers)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRoles(rbac.AllowedFrom(rbac.RoleUser)...))
		r.Get("/{id}", h.getUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(PermManageUsers))
		r.Post("/", h.createUser)
	})
}

// View is the JSON shape of a user.
type View struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Role        rbac.Role `json:"role"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewView converts u for responses. The password hash never leaves the service.
func NewView(u User) View {
	perms := u.Permissions
	if perms == nil {
		perms = []string{}
	}
	return View{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, Permissions: perms, CreatedAt: u.CreatedAt}
}

type createdView struct {
	View
	InitialPassword string `json:"initial_password,omitempty"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	page := shared.PaginationFromRequest(r, len(users))
	start, end := page.Bounds()
	views := make([]View, 0, end-start)
	for _, u := range users[start:end] {
		views = append(views, NewView(u))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": views, "pagination": page})
}

// getUser lets anyone read their own record and managers and above read any.
func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	p, _ := rbac.PrincipalFromContext(r.Context())
	if p.ID != id {
		decision, err := h.evaluator.Evaluate(p.Role, rbac.AllowedFrom(rbac.RoleManager))
		if err != nil {
			h.logger.Error("get user evaluate", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		if !decision.Allowed {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "only managers and above may read other users")
			return
		}
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "user not found")
			return
		}
		h.logger.Error("get user failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewView(user))
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var in CreateUserInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}

	key := r.Header.Get(shared.IdempotencyHeader)
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
				return
			}
			h.logger.Error("idempotency check", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
	}

	actor, _ := rbac.PrincipalFromContext(r.Context())
	created, err := h.service.CreateUser(r.Context(), actor, in)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(r.Context(), key, idempotencyModule); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		if !isClientError(err) {
			h.logger.Error("create user failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, createdView{View: NewView(created.User), InitialPassword: created.InitialPassword})
}

func isClientError(err error) bool {
	return errors.Is(err, httpx.ErrValidation) || errors.Is(err, httpx.ErrDuplicate) || errors.Is(err, httpx.ErrForbidden)
}
