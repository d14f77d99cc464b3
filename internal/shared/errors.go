package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials covers every login failure, so callers cannot tell
	// an unknown email from a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionMissing occurs when a handler runs outside the session middleware.
	ErrSessionMissing = errors.New("session missing")
	// ErrNotSignedIn means the session carries no user.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrInvalidSessionUser means the session holds a user id that does not parse.
	ErrInvalidSessionUser = errors.New("invalid session user")
	ErrCSRFTokenMissing   = errors.New("csrf token missing")
	ErrCSRFTokenMismatch  = errors.New("csrf token mismatch")
	// ErrIdempotencyConflict indicates a duplicate key.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
)
