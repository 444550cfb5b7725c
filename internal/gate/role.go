package gate

import (
	"fmt"
	"sort"
	"strings"
)

// Role is the closed set of principal roles.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleTenantAdmin   Role = "tenant_admin"
	RoleTeamMember    Role = "team_member"
	RoleClient        Role = "client"
)

var roles = map[Role]struct{}{
	RolePlatformAdmin: {},
	RoleTenantAdmin:   {},
	RoleTeamMember:    {},
	RoleClient:        {},
}

// ParseRole converts a claim value into a Role. Unknown values are an error.
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(s))
	if _, ok := roles[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Privileged reports whether the role bypasses tenant scoping.
func (r Role) Privileged() bool {
	return r == RolePlatformAdmin
}

func (r Role) String() string { return string(r) }

// Permission is the closed set of fine-grained capabilities a token may carry.
type Permission string

const (
	PermTenantsManage     Permission = "tenants:manage"
	PermTeamManage        Permission = "team:manage"
	PermClientsRead       Permission = "clients:read"
	PermClientsWrite      Permission = "clients:write"
	PermApplicationsRead  Permission = "applications:read"
	PermApplicationsWrite Permission = "applications:write"
	PermDocumentsRead     Permission = "documents:read"
	PermDocumentsWrite    Permission = "documents:write"
	PermReportsRead       Permission = "reports:read"
	PermPlansManage       Permission = "plans:manage"
)

var permissions = map[Permission]struct{}{
	PermTenantsManage:     {},
	PermTeamManage:        {},
	PermClientsRead:       {},
	PermClientsWrite:      {},
	PermApplicationsRead:  {},
	PermApplicationsWrite: {},
	PermDocumentsRead:     {},
	PermDocumentsWrite:    {},
	PermReportsRead:       {},
	PermPlansManage:       {},
}

// ParsePermission converts a claim value into a Permission.
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.TrimSpace(s))
	if _, ok := permissions[p]; !ok {
		return "", fmt.Errorf("unknown permission %q", s)
	}
	return p, nil
}

// PermissionSet is an immutable set of permissions.
type PermissionSet struct {
	m map[Permission]struct{}
}

// NewPermissionSet parses raw claim values; any unknown value fails the
// whole set.
func NewPermissionSet(raw []string) (PermissionSet, error) {
	m := make(map[Permission]struct{}, len(raw))
	for _, s := range raw {
		p, err := ParsePermission(s)
		if err != nil {
			return PermissionSet{}, err
		}
		m[p] = struct{}{}
	}
	return PermissionSet{m: m}, nil
}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s.m[p]
	return ok
}

func (s PermissionSet) Len() int { return len(s.m) }

// List returns the permissions sorted for stable output.
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s.m))
	for p := range s.m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
