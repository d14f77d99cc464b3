// Package sections guards the application pages on the server side.
package sections

import (
	"errors"
	"fmt"

	"github.com/roleguard/roleguard/internal/rbac"
)

// ErrUnknownSection is returned for slugs missing from the catalog.
var ErrUnknownSection = errors.New("sections: unknown section")

// Section is one guarded page of the application.
type Section struct {
	Slug        string      `json:"slug"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Allowed     []rbac.Role `json:"allowed_roles"`
}

// Catalog is an ordered, validated set of sections.
type Catalog struct {
	sections []Section
	bySlug   map[string]int
}

// NewCatalog validates sections against evaluator: slugs must be unique and
// every allow-list must be non-empty and name known roles.
func NewCatalog(evaluator *rbac.Evaluator, sections []Section) (*Catalog, error) {
	c := &Catalog{bySlug: make(map[string]int, len(sections))}
	for _, s := range sections {
		if s.Slug == "" {
			return nil, errors.New("sections: empty slug")
		}
		if _, dup := c.bySlug[s.Slug]; dup {
			return nil, fmt.Errorf("sections: duplicate slug %q", s.Slug)
		}
		// evaluating the floor role surfaces empty and unknown allow-lists
		if _, err := evaluator.Evaluate(rbac.RoleGuest, s.Allowed); err != nil {
			return nil, fmt.Errorf("sections: %s: %w", s.Slug, err)
		}
		c.bySlug[s.Slug] = len(c.sections)
		c.sections = append(c.sections, s)
	}
	return c, nil
}

// DefaultSections lists the built-in pages in sidebar order.
func DefaultSections() []Section {
	return []Section{
		{Slug: "dashboard", Title: "Dashboard", Description: "Overview of the signed-in account.", Allowed: rbac.AllowedFrom(rbac.RoleUser)},
		{Slug: "super-admin", Title: "Super Admin", Description: "System owner console and account creation.", Allowed: []rbac.Role{rbac.RoleSuperAdmin}},
		{Slug: "admin", Title: "Admin", Description: "Settings and user administration.", Allowed: []rbac.Role{rbac.RoleAdmin, rbac.RoleSuperAdmin}},
		{Slug: "manager", Title: "Manager", Description: "Team reports and request approvals.", Allowed: []rbac.Role{rbac.RoleManager, rbac.RoleAdmin, rbac.RoleSuperAdmin}},
		{Slug: "moderation", Title: "Content Moderation", Description: "Moderators and above can manage content.", Allowed: []rbac.Role{rbac.RoleAdmin, rbac.RoleSuperAdmin}},
		{Slug: "users", Title: "Users", Description: "Personal area for every member.", Allowed: []rbac.Role{rbac.RoleUser, rbac.RoleManager, rbac.RoleAdmin, rbac.RoleSuperAdmin}},
		{Slug: "guest", Title: "Guest", Description: "Public landing content.", Allowed: rbac.AllowedFrom(rbac.RoleGuest)},
	}
}

// All returns the sections in catalog order.
func (c *Catalog) All() []Section {
	out := make([]Section, len(c.sections))
	copy(out, c.sections)
	return out
}

// Lookup finds a section by slug.
func (c *Catalog) Lookup(slug string) (Section, error) {
	i, ok := c.bySlug[slug]
	if !ok {
		return Section{}, fmt.Errorf("%w: %q", ErrUnknownSection, slug)
	}
	return c.sections[i], nil
}

// Visible returns the sections role may open. The list drives navigation
// only; every section route re-checks access.
func (c *Catalog) Visible(evaluator *rbac.Evaluator, role rbac.Role) ([]Section, error) {
	out := make([]Section, 0, len(c.sections))
	for _, s := range c.sections {
		decision, err := evaluator.Evaluate(role, s.Allowed)
		if err != nil {
			return nil, err
		}
		if decision.Allowed {
			out = append(out, s)
		}
	}
	return out, nil
}
