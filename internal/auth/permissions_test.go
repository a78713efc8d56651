package auth

import (
	"testing"
	"time"
)

func grantAt(perm string, granted bool, expires *time.Time) PermissionGrant {
	return PermissionGrant{
		StaffID:    "s1",
		BusinessID: "b1",
		Permission: perm,
		Granted:    granted,
		GrantedBy:  "admin-1",
		GrantedAt:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:  expires,
	}
}

func TestResolveDefaultsOnly(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	set := Resolve(RoleTemplates["kitchen"], nil, now)
	if !set.HasAll(PermOrdersRead, PermOrdersUpdate, PermInventoryRead, PermMenuRead) {
		t.Fatalf("kitchen defaults missing, got %v", set.List())
	}
	if set.Has(PermOrdersCreate) {
		t.Fatal("kitchen must not create orders by default")
	}
}

// A kitchen member given orders:create and stripped of inventory:read
// ends up with exactly that shape, whatever order the grants arrive in.
func TestResolveGrantAndRevocation(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	grants := []PermissionGrant{
		grantAt(PermOrdersCreate, true, nil),
		grantAt(PermInventoryRead, false, nil),
	}

	for name, ordered := range map[string][]PermissionGrant{
		"grant_first":  {grants[0], grants[1]},
		"revoke_first": {grants[1], grants[0]},
	} {
		set := Resolve(RoleTemplates["kitchen"], ordered, now)
		if !set.Has(PermOrdersCreate) {
			t.Fatalf("%s: additive grant missing", name)
		}
		if set.Has(PermInventoryRead) {
			t.Fatalf("%s: revocation must win over the role default", name)
		}
		if !set.Has(PermOrdersRead) {
			t.Fatalf("%s: untouched default lost", name)
		}
	}
}

func TestResolveRevocationBeatsGrantOfSamePermission(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	grants := []PermissionGrant{
		grantAt(PermWalletTransfer, true, nil),
		grantAt(PermWalletTransfer, false, nil),
	}
	set := Resolve(nil, grants, now)
	if set.Has(PermWalletTransfer) {
		t.Fatal("revocation must win regardless of position")
	}
}

func TestResolveExpiredGrantsAreInert(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	grants := []PermissionGrant{
		grantAt(PermOrdersCreate, true, &past),
		grantAt(PermMenuRead, false, &past),
	}
	set := Resolve(RoleTemplates["kitchen"], grants, now)
	if set.Has(PermOrdersCreate) {
		t.Fatal("expired additive grant must not apply")
	}
	if !set.Has(PermMenuRead) {
		t.Fatal("expired revocation must not apply")
	}
}

func TestResolveUnknownPermissionIsInert(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	set := Resolve(RoleTemplates["bar"], []PermissionGrant{
		grantAt("timetravel:manage", false, nil),
	}, now)
	if !set.HasAll(PermOrdersCreate, PermOrdersRead) {
		t.Fatal("unknown revocation must not disturb the rest of the set")
	}
	if set.Has("timetravel:manage") {
		t.Fatal("unknown permission appeared")
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	grants := []PermissionGrant{
		grantAt(PermOrdersCreate, true, nil),
		grantAt(PermInventoryRead, false, nil),
	}
	first := Resolve(RoleTemplates["kitchen"], grants, now).List()
	second := Resolve(RoleTemplates["kitchen"], grants, now).List()
	if len(first) != len(second) {
		t.Fatalf("resolution not stable: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("resolution not stable at %d: %v vs %v", i, first, second)
		}
	}
}

func TestPermissionSetQueries(t *testing.T) {
	set := PermissionSet{PermOrdersRead: {}, PermMenuRead: {}}
	if !set.HasAny(PermWalletRead, PermOrdersRead) {
		t.Fatal("HasAny missed a present permission")
	}
	if set.HasAll(PermOrdersRead, PermWalletRead) {
		t.Fatal("HasAll must require every name")
	}
	if set.HasAll() {
		t.Fatal("HasAll of nothing must be false")
	}
	list := set.List()
	if len(list) != 2 || list[0] != PermMenuRead || list[1] != PermOrdersRead {
		t.Fatalf("List must be sorted, got %v", list)
	}
}
