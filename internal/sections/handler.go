package sections

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roleguard/roleguard/internal/platform/httpx"
	"github.com/roleguard/roleguard/internal/rbac"
)

// Handler serves the section catalog.
type Handler struct {
	logger    *slog.Logger
	catalog   *Catalog
	evaluator *rbac.Evaluator
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, catalog *Catalog, evaluator *rbac.Evaluator, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, catalog: catalog, evaluator: evaluator, rbac: rbac}
}

// MountRoutes registers the listing and the guarded section pages.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.Authenticate).Get("/", h.list)
	r.Get("/{slug}", h.page)
}

type sectionPage struct {
	Section Section        `json:"section"`
	Viewer  rbac.Principal `json:"viewer"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	visible, err := h.catalog.Visible(h.evaluator, p.Role)
	if err != nil {
		h.logger.Error("list sections", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sections": visible})
}

// page resolves the slug, then applies that section's allow-list before
// rendering it.
func (h *Handler) page(w http.ResponseWriter, r *http.Request) {
	s, err := h.catalog.Lookup(chi.URLParam(r, "slug"))
	if errors.Is(err, ErrUnknownSection) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "section not found")
		return
	}
	if err != nil {
		h.logger.Error("lookup section", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	h.rbac.RequireRoles(s.Allowed...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := rbac.PrincipalFromContext(r.Context())
		httpx.JSON(w, http.StatusOK, sectionPage{Section: s, Viewer: p})
	})).ServeHTTP(w, r)
}
