package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/roleguard/roleguard/internal/platform/httpx"
	"github.com/roleguard/roleguard/internal/rbac"
	"github.com/roleguard/roleguard/internal/shared"
	"github.com/roleguard/roleguard/internal/users"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	evaluator      *rbac.Evaluator
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	rbac           rbac.Middleware
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, evaluator *rbac.Evaluator, sessions *shared.SessionManager, csrf *shared.CSRFManager, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		evaluator:      evaluator,
		sessionManager: sessions,
		csrfManager:    csrf,
		rbac:           rbac,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.handleCSRF)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.With(h.rbac.Authenticate).Get("/me", h.handleMe)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	User      users.View `json:"user"`
	CSRFToken string     `json:"csrf_token"`
}

type meResponse struct {
	User            rbac.Principal `json:"user"`
	Label           string         `json:"label"`
	Level           int            `json:"level"`
	Permissions     []string       `json:"permissions"`
	ImpliedRoles    []rbac.Role    `json:"implied_roles"`
	AssignableRoles []rbac.Role    `json:"assignable_roles"`
}

func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrfManager.EnsureToken(shared.SessionFromContext(r.Context()))
	if err != nil {
		h.logger.Error("csrf token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "email and password are required")
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Invalid email or password")
			return
		}
		h.logger.Error("authenticate", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	h.sessionManager.Renew(sess)
	shared.SignIn(sess, user.ID)
	sess.Delete(shared.CSRFSessionKey)
	token, err := h.csrfManager.EnsureToken(sess)
	if err != nil {
		h.logger.Error("csrf token after login", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	h.logger.Info("login", slog.Int64("user_id", user.ID), slog.String("role", user.Role.String()))
	httpx.JSON(w, http.StatusOK, loginResponse{User: users.NewView(user), CSRFToken: token})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if userID, err := shared.UserIDFromContext(r.Context()); err == nil {
			if err := h.service.RemoveSession(r.Context(), sess.ID, userID); err != nil {
				h.logger.Warn("remove session", slog.Any("error", err))
			}
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	if p.IsAnonymous() {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	descriptor, err := h.evaluator.Table().Descriptor(p.Role)
	if err != nil {
		h.logger.Error("me descriptor", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	assignable, err := h.evaluator.AssignableRoles(p.Role)
	if err != nil {
		h.logger.Error("me assignable roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if assignable == nil {
		assignable = []rbac.Role{}
	}
	httpx.JSON(w, http.StatusOK, meResponse{
		User:            p,
		Label:           descriptor.Label,
		Level:           descriptor.Level,
		Permissions:     descriptor.Permissions,
		ImpliedRoles:    descriptor.ImpliedRoles,
		AssignableRoles: assignable,
	})
}
