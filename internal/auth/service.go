package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/roleguard/roleguard/internal/shared"
	"github.com/roleguard/roleguard/internal/users"
)

// Service wraps authentication business rules.
type Service struct {
	users    UserFinder
	sessions SessionStore
	audit    shared.AuditRecorder
	logger   *slog.Logger
}

// NewService constructs a new Service. audit may be nil.
func NewService(finder UserFinder, sessions SessionStore, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: finder, sessions: sessions, audit: audit, logger: logger}
}

// Authenticate validates email/password credentials. An unknown email, an
// inactive account and a wrong password all yield shared.ErrInvalidCredentials;
// lookup failures such as an unknown stored role are returned wrapped.
func (s *Service) Authenticate(ctx context.Context, email, password string) (users.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, shared.ErrNotFound) {
		s.record(ctx, shared.AuditLog{Action: shared.AuditLoginFailure, Entity: "user", EntityID: email})
		return users.User{}, shared.ErrInvalidCredentials
	}
	if err != nil {
		return users.User{}, fmt.Errorf("auth: find user: %w", err)
	}
	if !user.IsActive {
		s.record(ctx, shared.AuditLog{Action: shared.AuditLoginFailure, Entity: "user", EntityID: email, Meta: map[string]any{"reason": "inactive"}})
		return users.User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.record(ctx, shared.AuditLog{ActorID: user.ID, Action: shared.AuditLoginFailure, Entity: "user", EntityID: email})
		return users.User{}, shared.ErrInvalidCredentials
	}
	s.record(ctx, shared.AuditLog{ActorID: user.ID, Action: shared.AuditLoginSuccess, Entity: "user", EntityID: strconv.FormatInt(user.ID, 10)})
	return user, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.sessions.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record and audits the logout.
func (s *Service) RemoveSession(ctx context.Context, id string, userID int64) error {
	s.record(ctx, shared.AuditLog{ActorID: userID, Action: shared.AuditLogout, Entity: "user", EntityID: strconv.FormatInt(userID, 10)})
	return s.sessions.DeleteSession(ctx, id)
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit", slog.String("action", log.Action), slog.Any("error", err))
	}
}
