package rbac

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrUnknownRole indicates a role name that is not part of the role table.
	ErrUnknownRole = errors.New("rbac: unknown role")
	// ErrInvalidPolicy indicates a malformed allow-list, e.g. an empty one.
	ErrInvalidPolicy = errors.New("rbac: invalid policy")
	// ErrInvalidTable indicates a role table that violates the level ordering rules.
	ErrInvalidTable = errors.New("rbac: invalid role table")
)

// Role is a named privilege tier.
type Role string

// Known roles, lowest privilege first.
const (
	RoleGuest      Role = "guest"
	RoleUser       Role = "user"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

var privilegeOrder = []Role{RoleGuest, RoleUser, RoleManager, RoleAdmin, RoleSuperAdmin}

// Roles returns every known role in privilege order.
func Roles() []Role {
	return slices.Clone(privilegeOrder)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return slices.Contains(privilegeOrder, r)
}

func (r Role) String() string {
	return string(r)
}

// ParseRole converts a role name into a Role. Surrounding whitespace is
// trimmed; the name itself must match exactly.
func ParseRole(name string) (Role, error) {
	role := Role(strings.TrimSpace(name))
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
	return role, nil
}

// ParseRoles parses every name, failing on the first unknown one.
func ParseRoles(names ...string) ([]Role, error) {
	roles := make([]Role, 0, len(names))
	for _, name := range names {
		role, err := ParseRole(name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// Principal describes the authenticated actor.
type Principal struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Anonymous is the principal used for requests without a signed-in user.
func Anonymous() Principal {
	return Principal{Role: RoleGuest}
}

// IsAnonymous reports whether p carries no user identity.
func (p Principal) IsAnonymous() bool {
	return p.ID == 0
}
