package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/roleguard/roleguard/internal/platform/httpx"
	"github.com/roleguard/roleguard/internal/rbac"
	"github.com/roleguard/roleguard/internal/shared"
)

// maxPasswordBytes is bcrypt's input limit.
const maxPasswordBytes = 72

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	Create(ctx context.Context, in NewUser) (User, error)
	FindByID(ctx context.Context, id int64) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context) ([]User, error)
}

// Notifier is told about freshly created accounts.
type Notifier interface {
	UserCreated(ctx context.Context, user User, initialPassword string) error
}

// Service handles user business logic.
type Service struct {
	repo      RepositoryPort
	evaluator *rbac.Evaluator
	audit     shared.AuditRecorder
	notifier  Notifier
	logger    *slog.Logger
	validator *validator.Validate
	lookups   singleflight.Group
}

// ServiceConfig groups optional collaborators of Service.
type ServiceConfig struct {
	Audit    shared.AuditRecorder
	Notifier Notifier
	Logger   *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, evaluator *rbac.Evaluator, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		evaluator: evaluator,
		audit:     cfg.Audit,
		notifier:  cfg.Notifier,
		logger:    logger,
		validator: validator.New(),
	}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// GetUser returns a single user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// CreateUser validates in, checks that actor may grant the requested role and
// stores the account with a snapshot of the role's permissions.
func (s *Service) CreateUser(ctx context.Context, actor rbac.Principal, in CreateUserInput) (CreatedUser, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.validator.Struct(in); err != nil {
		return CreatedUser{}, validationError(err)
	}

	role, err := rbac.ParseRole(in.Role)
	if err != nil {
		return CreatedUser{}, ErrInvalidRole
	}
	ok, err := s.evaluator.CanAssign(actor.Role, role)
	if err != nil {
		return CreatedUser{}, err
	}
	if !ok {
		return CreatedUser{}, ErrRoleNotAssignable
	}
	descriptor, err := s.evaluator.Table().Descriptor(role)
	if err != nil {
		return CreatedUser{}, err
	}

	if len(in.Password) > maxPasswordBytes {
		return CreatedUser{}, fmt.Errorf("%w: password exceeds %d bytes", httpx.ErrValidation, maxPasswordBytes)
	}

	password, generated := in.Password, false
	if password == "" {
		password, generated = generatePassword(), true
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return CreatedUser{}, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	if err != nil {
		return CreatedUser{}, fmt.Errorf("users: hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, NewUser{
		Name:         in.Name,
		Email:        in.Email,
		Role:         role,
		Permissions:  descriptor.Permissions,
		PasswordHash: string(hash),
	})
	if err != nil {
		return CreatedUser{}, err
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   shared.AuditUserCreated,
			Entity:   "user",
			EntityID: strconv.FormatInt(user.ID, 10),
			Meta:     map[string]any{"role": role.String()},
		}); err != nil {
			s.logger.Warn("audit user created", slog.Any("error", err))
		}
	}

	created := CreatedUser{User: user}
	if generated {
		created.InitialPassword = password
	}
	if s.notifier != nil {
		if err := s.notifier.UserCreated(ctx, user, created.InitialPassword); err != nil {
			s.logger.Warn("notify user created", slog.Int64("user_id", user.ID), slog.Any("error", err))
		}
	}
	return created, nil
}

// ResolvePrincipal loads the principal for userID. Concurrent lookups of the
// same id share one query. Inactive users resolve to shared.ErrNotFound.
func (s *Service) ResolvePrincipal(ctx context.Context, userID int64) (rbac.Principal, error) {
	v, err, _ := s.lookups.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		// Shared by every waiter, so one caller's cancellation must not fail the rest.
		user, err := s.repo.FindByID(context.WithoutCancel(ctx), userID)
		if err != nil {
			return nil, err
		}
		if !user.IsActive {
			return nil, shared.ErrNotFound
		}
		return user.Principal(), nil
	})
	if err != nil {
		return rbac.Principal{}, err
	}
	return v.(rbac.Principal), nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("%w: %s failed %s", httpx.ErrValidation, strings.ToLower(verrs[0].Field()), verrs[0].Tag())
	}
	return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
}

func generatePassword() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

var _ rbac.PrincipalResolver = (*Service)(nil)
