package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermGPIORead, true},
		{RoleViewer, PermSystemRead, true},
		{RoleViewer, PermGPIOWrite, false},
		{RoleViewer, PermGPIONotify, false},
		{RoleOperator, PermGPIOWrite, true},
		{RoleOperator, PermGPIONotify, true},
		{RoleOperator, PermSystemAdmin, false},
		{RoleAdmin, PermSystemAdmin, true},
		{Role("unknown"), PermGPIORead, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.perm), func(t *testing.T) {
			if got := HasPermission(tt.role, tt.perm); got != tt.want {
				t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
			}
		})
	}
}

func TestPermissionsForRoleReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleViewer)
	if len(perms) != 2 {
		t.Fatalf("len = %d, want 2", len(perms))
	}
	perms[0] = PermSystemAdmin
	if HasPermission(RoleViewer, PermSystemAdmin) {
		t.Error("mutating the returned slice changed the role mapping")
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range ValidRoles {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%q) = false", r)
		}
	}
	if IsValidRole("panel") {
		t.Error("IsValidRole(panel) = true")
	}
}
