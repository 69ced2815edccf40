package model

import "fmt"

// Role is the fixed set of account roles. Values are stored verbatim in the
// users.role column and embedded in token claims.
type Role string

// Roles from lowest to highest privilege.
const (
	RoleViewer        Role = "viewer"
	RoleMediaManager  Role = "media_manager"
	RoleContentEditor Role = "content_editor"
	RoleTripAdmin     Role = "trip_admin"
	RoleSuperAdmin    Role = "super_admin"
)

// Roles lists every role in ascending order of privilege.
var Roles = []Role{
	RoleViewer,
	RoleMediaManager,
	RoleContentEditor,
	RoleTripAdmin,
	RoleSuperAdmin,
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// Rank returns the 1-based position of r in Roles, or 0 for an unknown role.
// Use it for ordering and display only; authorization decisions go through
// the per-operation policy table in package auth.
func (r Role) Rank() int {
	for i, known := range Roles {
		if r == known {
			return i + 1
		}
	}
	return 0
}

func (r Role) String() string {
	return string(r)
}

// ParseRole converts a raw string into a Role, rejecting unknown values.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("model: unknown role %q", s)
	}
	return r, nil
}
