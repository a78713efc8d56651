package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations required by the engine.
// Implementations: PGStore (durable) and MemStore (in-process).
type Store interface {
	Owners(ctx context.Context) OwnerStore
	Staff(ctx context.Context) StaffStore
	AdminSessions(ctx context.Context) AdminSessionStore
	StaffSessions(ctx context.Context) StaffSessionStore
	Shifts(ctx context.Context) ShiftStore
	Grants(ctx context.Context) GrantStore
	RateLimits(ctx context.Context) RateLimitStore
	RoleTemplates(ctx context.Context) RoleTemplateStore
}

// OwnerStore manages business owner credentials.
type OwnerStore interface {
	Create(ctx context.Context, owner *BusinessOwner) error
	FindByEmail(ctx context.Context, businessID, email string) (*BusinessOwner, error)
}

// StaffStore manages staff members and their PIN hashes.
type StaffStore interface {
	Create(ctx context.Context, staff *StaffMember) error
	Find(ctx context.Context, businessID, staffID string) (*StaffMember, error)
}

// AdminSessionStore manages admin session records.
type AdminSessionStore interface {
	Create(ctx context.Context, s *AdminSession) error
	Find(ctx context.Context, token string) (*AdminSession, error)
	Revoke(ctx context.Context, token string, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) error
}

// StaffSessionStore manages staff session records. CreateInShift
// enforces the shift capacity bound atomically with the insert and
// returns ErrShiftCapacity when the shift is full, or ErrNoActiveShift
// when the shift closed between lookup and insert.
type StaffSessionStore interface {
	CreateInShift(ctx context.Context, s *StaffSession, maxSessions int) error
	Find(ctx context.Context, token string) (*StaffSession, error)
	Revoke(ctx context.Context, token string, at time.Time) error
	CountActiveForShift(ctx context.Context, shiftID string, now time.Time) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) error
}

// ShiftStore manages operating windows.
type ShiftStore interface {
	Open(ctx context.Context, shift *Shift) error
	Find(ctx context.Context, id string) (*Shift, error)
	ActiveForBusiness(ctx context.Context, businessID string) (*Shift, error)
	Close(ctx context.Context, id string, at time.Time) error
}

// GrantStore manages per-staff permission overrides. ForStaff must read
// fresh rows: grant expiry is time-sensitive, so no caching here.
type GrantStore interface {
	Upsert(ctx context.Context, grant *PermissionGrant) error
	ForStaff(ctx context.Context, businessID, staffID string) ([]PermissionGrant, error)
}

// RateLimitStore persists one row per identifier. Find returns
// (nil, nil) for an unknown identifier. RecordFailure must serialize
// the read-modify-write per identifier.
type RateLimitStore interface {
	Find(ctx context.Context, identifier string) (*RateLimitRecord, error)
	RecordFailure(ctx context.Context, identifier string, pol Policy, now time.Time) error
	Clear(ctx context.Context, identifier string) error
	Purge(ctx context.Context, cutoff time.Time) error
}

// RoleTemplateStore reads the role template table. It is read-only from
// this subsystem's perspective and safe to cache briefly.
type RoleTemplateStore interface {
	All(ctx context.Context) (map[string][]string, error)
}
