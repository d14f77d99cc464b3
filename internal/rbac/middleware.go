package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/roleguard/roleguard/internal/platform/httpx"
	"github.com/roleguard/roleguard/internal/shared"
)

// PrincipalResolver loads the principal for a signed-in user id.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, userID int64) (Principal, error)
}

// DecisionRecorder observes guard outcomes.
type DecisionRecorder interface {
	RecordDecision(gate string, allowed bool)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Evaluator *Evaluator
	Resolver  PrincipalResolver
	Logger    *slog.Logger
	Recorder  DecisionRecorder
}

type principalContextKey struct{}

// ContextWithPrincipal stores the resolved principal in ctx.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal stored by the middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// Authenticate resolves the current principal and stores it in the request
// context. Requests without a signed-in user continue as Anonymous.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.principal(r)
		if err != nil {
			m.fail(w, "rbac authenticate", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}

// RequireRoles admits principals whose level reaches the lowest level in roles.
// It panics on an empty allow-list.
func (m Middleware) RequireRoles(roles ...Role) func(http.Handler) http.Handler {
	if len(roles) == 0 {
		panic(ErrInvalidPolicy)
	}
	gate := "roles:" + joinRoles(roles)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := m.principal(r)
			if err != nil {
				m.fail(w, "rbac require roles", err)
				return
			}
			decision, err := m.Evaluator.Evaluate(p.Role, roles)
			if err != nil {
				m.fail(w, "rbac require roles", err)
				return
			}
			m.record(gate, decision.Allowed)
			if !decision.Allowed {
				m.deny(w, r, p, gate, fmt.Sprintf("user level %d below required level %d", decision.UserLevel, decision.RequiredLevel))
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
		})
	}
}

// RequirePermission admits principals whose role holds perm.
func (m Middleware) RequirePermission(perm string) func(http.Handler) http.Handler {
	gate := "permission:" + normalizePermission(perm)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := m.principal(r)
			if err != nil {
				m.fail(w, "rbac require permission", err)
				return
			}
			ok, err := m.Evaluator.HasPermission(p.Role, perm)
			if err != nil {
				m.fail(w, "rbac require permission", err)
				return
			}
			m.record(gate, ok)
			if !ok {
				m.deny(w, r, p, gate, "missing permission "+perm)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
		})
	}
}

func (m Middleware) principal(r *http.Request) (Principal, error) {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return p, nil
	}
	userID, ok := m.currentUserID(r)
	if !ok {
		return Anonymous(), nil
	}
	p, err := m.Resolver.ResolvePrincipal(r.Context(), userID)
	if errors.Is(err, shared.ErrNotFound) {
		return Anonymous(), nil
	}
	return p, err
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	id, err := shared.UserIDFromContext(r.Context())
	if err != nil {
		if errors.Is(err, shared.ErrInvalidSessionUser) && m.Logger != nil {
			m.Logger.Error("rbac session user", slog.Any("error", err))
		}
		return 0, false
	}
	return id, true
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, p Principal, gate, detail string) {
	if p.IsAnonymous() {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	if m.Logger != nil {
		m.Logger.Info("access denied",
			slog.Int64("user_id", p.ID),
			slog.String("role", p.Role.String()),
			slog.String("gate", gate),
			slog.String("path", r.URL.Path))
	}
	httpx.Problem(w, http.StatusForbidden, "Forbidden", detail)
}

func (m Middleware) fail(w http.ResponseWriter, op string, err error) {
	if m.Logger != nil {
		m.Logger.Error(op, slog.Any("error", err))
	}
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

func (m Middleware) record(gate string, allowed bool) {
	if m.Recorder != nil {
		m.Recorder.RecordDecision(gate, allowed)
	}
}

func joinRoles(roles []Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ",")
}
