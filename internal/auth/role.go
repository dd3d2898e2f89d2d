package auth

import "fmt"

// Role is a privilege level. Higher roles imply all lower ones, so a
// single comparison replaces the role-hierarchy expansion of a full
// security framework.
type Role int

const (
	// RoleAnon is an unauthenticated caller.
	RoleAnon Role = iota

	// RoleViewer may read but holds no user record.
	RoleViewer

	// RoleUser may write refs and holds access lists.
	RoleUser

	// RoleEditor may additionally retag public content.
	RoleEditor

	// RoleMod bypasses read and write restrictions.
	RoleMod

	// RoleAdmin is the highest privilege level.
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleAnon:   "anon",
	RoleViewer: "viewer",
	RoleUser:   "user",
	RoleEditor: "editor",
	RoleMod:    "mod",
	RoleAdmin:  "admin",
}

// String returns the lowercase role name.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// AtLeast reports whether the role meets or exceeds other.
func (r Role) AtLeast(other Role) bool {
	return r >= other
}

// ParseRole resolves a role name. Unknown names resolve to RoleAnon
// with ok=false.
func ParseRole(name string) (Role, bool) {
	for role, n := range roleNames {
		if n == name {
			return role, true
		}
	}
	return RoleAnon, false
}
