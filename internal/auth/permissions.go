package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermGPIORead    Permission = "gpio:read"
	PermGPIOWrite   Permission = "gpio:write"
	PermGPIONotify  Permission = "gpio:notify"
	PermSystemRead  Permission = "system:read"
	PermSystemAdmin Permission = "system:admin"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermGPIORead,
		PermSystemRead,
	},
	RoleOperator: {
		PermGPIORead,
		PermGPIOWrite,
		PermGPIONotify,
		PermSystemRead,
	},
	RoleAdmin: {
		PermGPIORead,
		PermGPIOWrite,
		PermGPIONotify,
		PermSystemRead,
		PermSystemAdmin,
	},
}

// HasPermission checks if a role has the given permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to role.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
