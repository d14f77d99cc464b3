package shared

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// UserIDFromContext returns the signed-in user bound to the request session.
func UserIDFromContext(ctx context.Context) (int64, error) {
	sess := SessionFromContext(ctx)
	if sess == nil {
		return 0, ErrSessionMissing
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, ErrNotSignedIn
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSessionUser, raw)
	}
	return id, nil
}

// SignIn binds the session to userID.
func SignIn(sess *Session, userID int64) {
	sess.SetUser(strconv.FormatInt(userID, 10))
}
