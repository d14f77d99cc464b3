package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/roleguard/roleguard/internal/platform/httpx"
)

// RolesHandler exposes the role table and ad-hoc guard checks.
type RolesHandler struct {
	logger    *slog.Logger
	evaluator *Evaluator
	rbac      Middleware
	validator *validator.Validate
}

// NewRolesHandler builds RolesHandler instance.
func NewRolesHandler(logger *slog.Logger, evaluator *Evaluator, rbac Middleware) *RolesHandler {
	return &RolesHandler{logger: logger, evaluator: evaluator, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers role routes.
func (h *RolesHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.listRoles)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Authenticate)
		r.Post("/evaluate", h.evaluate)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRoles(AllowedFrom(RoleUser)...))
		r.Get("/assignable", h.assignable)
	})
}

type roleView struct {
	Name         string   `json:"name"`
	Label        string   `json:"label"`
	Level        int      `json:"level"`
	Permissions  []string `json:"permissions"`
	ImpliedRoles []Role   `json:"implied_roles"`
}

type evaluateRequest struct {
	AllowedRoles []string `json:"allowed_roles" validate:"required,min=1,dive,required"`
}

type decisionView struct {
	Allowed       bool   `json:"allowed"`
	Reason        Reason `json:"reason"`
	UserLevel     int    `json:"user_level"`
	RequiredLevel int    `json:"required_level"`
}

func (h *RolesHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	descriptors := h.evaluator.Table().Descriptors()
	views := make([]roleView, 0, len(descriptors))
	for _, d := range descriptors {
		views = append(views, roleView{
			Name:         d.Role.String(),
			Label:        d.Label,
			Level:        d.Level,
			Permissions:  d.Permissions,
			ImpliedRoles: d.ImpliedRoles,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": views})
}

func (h *RolesHandler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "allowed_roles must list at least one role")
		return
	}
	allowed, err := ParseRoles(req.AllowedRoles...)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	p, _ := PrincipalFromContext(r.Context())
	decision, err := h.evaluator.Evaluate(p.Role, allowed)
	if err != nil {
		if errors.Is(err, ErrInvalidPolicy) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		h.logger.Error("evaluate", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, decisionView{
		Allowed:       decision.Allowed,
		Reason:        decision.Reason,
		UserLevel:     decision.UserLevel,
		RequiredLevel: decision.RequiredLevel,
	})
}

func (h *RolesHandler) assignable(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	roles, err := h.evaluator.AssignableRoles(p.Role)
	if err != nil {
		h.logger.Error("assignable roles", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}
