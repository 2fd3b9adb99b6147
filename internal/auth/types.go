package auth

import "errors"

// Role represents an authorisation tier.
type Role string

const (
	// RoleViewer may read pin levels, history and bridge status.
	RoleViewer Role = "viewer"

	// RoleOperator may additionally drive outputs and toggle notifications.
	RoleOperator Role = "operator"

	// RoleAdmin has full control, including raw daemon commands.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if v == r {
			return true
		}
	}
	return false
}

// Domain errors for the auth package.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("insufficient permissions")
)
