package auth

import (
	"sort"
	"time"
)

// Permission names used across the platform. Checks against names not
// listed here are inert: they never match and never error.
const (
	PermOrdersCreate       = "orders:create"
	PermOrdersRead         = "orders:read"
	PermOrdersUpdate       = "orders:update"
	PermMenuRead           = "menu:read"
	PermMenuUpdate         = "menu:update"
	PermReservationsManage = "reservations:manage"
	PermInventoryRead      = "inventory:read"
	PermInventoryUpdate    = "inventory:update"
	PermWalletRead         = "wallet:read"
	PermWalletTransfer     = "wallet:transfer"
	PermReportsRead        = "reports:read"
)

// RoleTemplates maps a job role to its default permission set. The
// durable role_templates table is seeded from this map; changes there
// apply to resolution on the next template cache refresh.
var RoleTemplates = map[string][]string{
	"reception": {
		PermOrdersCreate,
		PermOrdersRead,
		PermReservationsManage,
		PermMenuRead,
	},
	"kitchen": {
		PermOrdersRead,
		PermOrdersUpdate,
		PermInventoryRead,
		PermMenuRead,
	},
	"bar": {
		PermOrdersCreate,
		PermOrdersRead,
		PermInventoryRead,
		PermMenuRead,
	},
	"accountant": {
		PermOrdersRead,
		PermReportsRead,
		PermWalletRead,
	},
}

// PermissionSet is a staff member's effective permissions. Derived,
// never stored.
type PermissionSet map[string]struct{}

// Resolve merges role defaults with per-staff overrides: defaults, then
// unexpired additive grants, then unexpired revocations. Revocations
// win regardless of grant ordering or timestamps, which also makes the
// result independent of the grant list's order.
func Resolve(defaults []string, grants []PermissionGrant, now time.Time) PermissionSet {
	set := make(PermissionSet, len(defaults))
	for _, p := range defaults {
		set[p] = struct{}{}
	}
	for _, g := range grants {
		if g.Granted && !g.Expired(now) {
			set[g.Permission] = struct{}{}
		}
	}
	for _, g := range grants {
		if !g.Granted && !g.Expired(now) {
			delete(set, g.Permission)
		}
	}
	return set
}

// Has reports membership of a single permission.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// HasAny reports whether at least one of the names is present.
func (s PermissionSet) HasAny(names ...string) bool {
	for _, n := range names {
		if s.Has(n) {
			return true
		}
	}
	return false
}

// HasAll reports whether every name is present.
func (s PermissionSet) HasAll(names ...string) bool {
	for _, n := range names {
		if !s.Has(n) {
			return false
		}
	}
	return len(names) > 0
}

// List returns the permissions in sorted order for stable responses.
func (s PermissionSet) List() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
