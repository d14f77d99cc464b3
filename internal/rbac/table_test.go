package rbac

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultDescriptors() []Descriptor {
	return DefaultTable().Descriptors()
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("  super_admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleSuperAdmin, role)

	for _, name := range []string{"ADMIN", "Super_Admin", "Guest"} {
		_, err = ParseRole(name)
		assert.ErrorIs(t, err, ErrUnknownRole, name)
	}

	_, err = ParseRole("moderator")
	assert.ErrorIs(t, err, ErrUnknownRole)

	_, err = ParseRole("")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestNewTableDerivesImpliedRoles(t *testing.T) {
	descs := defaultDescriptors()
	descs[2].ImpliedRoles = []Role{RoleSuperAdmin}

	table, err := NewTable(descs)
	require.NoError(t, err)

	implied, err := table.ImpliedRoles(RoleManager)
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleGuest, RoleUser, RoleManager}, implied)

	implied, err = table.ImpliedRoles(RoleGuest)
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleGuest}, implied)
}

func TestNewTableRejectsBadLevels(t *testing.T) {
	descs := defaultDescriptors()
	descs[3].Level = descs[2].Level
	_, err := NewTable(descs)
	assert.ErrorIs(t, err, ErrInvalidTable)

	descs = defaultDescriptors()
	descs[0].Level, descs[4].Level = descs[4].Level, descs[0].Level
	_, err = NewTable(descs)
	assert.ErrorIs(t, err, ErrInvalidTable)
}

func TestNewTableRejectsMissingDuplicateAndUnknown(t *testing.T) {
	descs := defaultDescriptors()
	_, err := NewTable(descs[:4])
	assert.ErrorIs(t, err, ErrInvalidTable)

	descs = defaultDescriptors()
	_, err = NewTable(append(descs, descs[1]))
	assert.ErrorIs(t, err, ErrInvalidTable)

	descs = defaultDescriptors()
	descs = append(descs, Descriptor{Role: "moderator", Level: 2})
	_, err = NewTable(descs)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestTableDescriptorsAreCopies(t *testing.T) {
	table := DefaultTable()
	d, err := table.Descriptor(RoleUser)
	require.NoError(t, err)
	d.Permissions[0] = "*"

	again, err := table.Descriptor(RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "read:public", again.Permissions[0])

	all := table.Descriptors()
	all[0].ImpliedRoles[0] = RoleSuperAdmin
	implied, err := table.ImpliedRoles(RoleGuest)
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleGuest}, implied)
}

func TestParseTable(t *testing.T) {
	data := []byte(`
roles:
  - name: guest
    label: Visitor
    level: 0
    permissions: [read:public]
  - name: user
    label: Member
    level: 10
    permissions: [read:public, " read:self"]
  - name: manager
    label: Lead
    level: 20
    permissions: [read:team]
  - name: admin
    label: Admin
    level: 30
    permissions: ["*"]
  - name: super_admin
    level: 40
    permissions: ["**"]
`)
	table, err := ParseTable(data)
	require.NoError(t, err)

	d, err := table.Descriptor(RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "Member", d.Label)
	assert.Equal(t, 10, d.Level)
	assert.Equal(t, []string{"read:public", "read:self"}, d.Permissions)

	owner, err := table.Descriptor(RoleSuperAdmin)
	require.NoError(t, err)
	assert.Equal(t, "Super Admin", owner.Label)
}

func TestParseTableErrors(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"no roles":      `roles: []`,
		"unknown field": "roles:\n  - name: guest\n    label: Guest\n    level: 0\n    rank: 1\n",
		"missing label": "roles:\n  - name: guest\n    level: 0\n",
		"negative":      "roles:\n  - name: guest\n    label: Guest\n    level: -1\n",
		"incomplete":    "roles:\n  - name: guest\n    label: Guest\n    level: 0\n",
	}
	for name, data := range cases {
		_, err := ParseTable([]byte(data))
		assert.ErrorIs(t, err, ErrInvalidTable, name)
	}

	_, err := ParseTable([]byte("roles:\n  - name: moderator\n    label: Mod\n    level: 2\n"))
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestLoadTableShippedConfig(t *testing.T) {
	table, err := LoadTable(filepath.Join("..", "..", "config", "roles.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTable().Descriptors(), table.Descriptors())
}

func TestLoadTableMissingFile(t *testing.T) {
	_, err := LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
