package users

import (
	"fmt"
	"time"

	"github.com/roleguard/roleguard/internal/platform/httpx"
	"github.com/roleguard/roleguard/internal/rbac"
)

// PermManageUsers gates user creation.
const PermManageUsers = "manage:users"

var (
	// ErrEmailTaken is returned when the email already belongs to a user.
	ErrEmailTaken = fmt.Errorf("email already exists: %w", httpx.ErrDuplicate)
	// ErrInvalidRole is returned when the requested role is not in the role table.
	ErrInvalidRole = fmt.Errorf("invalid role selected: %w", httpx.ErrValidation)
	// ErrRoleNotAssignable is returned when the actor may not grant the requested role.
	ErrRoleNotAssignable = fmt.Errorf("role not assignable: %w", httpx.ErrForbidden)
)

// User represents a user account.
type User struct {
	ID           int64
	Name         string
	Email        string
	Role         rbac.Role
	Permissions  []string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal converts u into the identity used by access checks.
func (u User) Principal() rbac.Principal {
	return rbac.Principal{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// NewUser carries the fields persisted on creation.
type NewUser struct {
	Name         string
	Email        string
	Role         rbac.Role
	Permissions  []string
	PasswordHash string
}

// CreateUserInput is the payload accepted by CreateUser.
type CreateUserInput struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Role     string `json:"role" validate:"required"`
	Password string `json:"password,omitempty" validate:"omitempty,min=8,max=72"`
}

// CreatedUser is the outcome of CreateUser. InitialPassword is only set when
// the password was generated by the service.
type CreatedUser struct {
	User            User
	InitialPassword string
}
