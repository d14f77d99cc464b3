package rbac

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Descriptor holds the static configuration of a single role.
type Descriptor struct {
	Role        Role
	Label       string
	Level       int
	Permissions []string
	// ImpliedRoles lists every role at or below Level. It is derived by NewTable;
	// values supplied by callers are ignored.
	ImpliedRoles []Role
}

// Table is the immutable role configuration shared by all evaluators.
type Table struct {
	byRole  map[Role]Descriptor
	ordered []Descriptor
}

// NewTable validates descriptors and builds a Table.
//
// Every known role must appear exactly once and levels must strictly increase in
// privilege order.
func NewTable(descriptors []Descriptor) (*Table, error) {
	byRole := make(map[Role]Descriptor, len(descriptors))
	for _, d := range descriptors {
		if !d.Role.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, d.Role)
		}
		if _, dup := byRole[d.Role]; dup {
			return nil, fmt.Errorf("%w: role %s declared twice", ErrInvalidTable, d.Role)
		}
		d.Permissions = normalizePermissions(d.Permissions)
		if d.Label == "" {
			d.Label = defaultLabel(d.Role)
		}
		byRole[d.Role] = d
	}

	ordered := make([]Descriptor, 0, len(privilegeOrder))
	for i, role := range privilegeOrder {
		d, ok := byRole[role]
		if !ok {
			return nil, fmt.Errorf("%w: role %s missing", ErrInvalidTable, role)
		}
		if i > 0 {
			prev := ordered[i-1]
			if d.Level <= prev.Level {
				return nil, fmt.Errorf("%w: level of %s (%d) must exceed level of %s (%d)", ErrInvalidTable, role, d.Level, prev.Role, prev.Level)
			}
		}
		ordered = append(ordered, d)
	}

	for i := range ordered {
		implied := make([]Role, 0, i+1)
		for _, lower := range ordered[:i+1] {
			implied = append(implied, lower.Role)
		}
		ordered[i].ImpliedRoles = implied
		byRole[ordered[i].Role] = ordered[i]
	}

	return &Table{byRole: byRole, ordered: ordered}, nil
}

// DefaultTable returns the built-in role table.
func DefaultTable() *Table {
	table, err := NewTable([]Descriptor{
		{Role: RoleGuest, Label: "Guest", Level: 0, Permissions: []string{"read:public"}},
		{Role: RoleUser, Label: "User", Level: 1, Permissions: []string{"read:public", "read:self", "write:self"}},
		{Role: RoleManager, Label: "Manager", Level: 2, Permissions: []string{"read:public", "read:team", "write:team", "approve:requests"}},
		{Role: RoleAdmin, Label: "Admin", Level: 3, Permissions: []string{"read:*", "write:*", "delete:*", "manage:users", "manage:settings"}},
		{Role: RoleSuperAdmin, Label: "Super Admin (System owner)", Level: 4, Permissions: []string{"admin:*", "system:*", "**"}},
	})
	if err != nil {
		panic(err)
	}
	return table
}

// Descriptor returns a copy of the descriptor for role.
func (t *Table) Descriptor(role Role) (Descriptor, error) {
	d, ok := t.byRole[role]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return cloneDescriptor(d), nil
}

// Level returns the privilege level of role.
func (t *Table) Level(role Role) (int, error) {
	d, ok := t.byRole[role]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return d.Level, nil
}

// ImpliedRoles returns the roles whose gates role also satisfies.
func (t *Table) ImpliedRoles(role Role) ([]Role, error) {
	d, ok := t.byRole[role]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return slices.Clone(d.ImpliedRoles), nil
}

// Descriptors returns copies of all descriptors in privilege order.
func (t *Table) Descriptors() []Descriptor {
	out := make([]Descriptor, len(t.ordered))
	for i, d := range t.ordered {
		out[i] = cloneDescriptor(d)
	}
	return out
}

func (t *Table) permissions(role Role) ([]string, bool) {
	d, ok := t.byRole[role]
	return d.Permissions, ok
}

func cloneDescriptor(d Descriptor) Descriptor {
	d.Permissions = slices.Clone(d.Permissions)
	d.ImpliedRoles = slices.Clone(d.ImpliedRoles)
	return d
}

// defaultLabel turns super_admin into "Super Admin".
func defaultLabel(role Role) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(role), "_", " "))
}
