package auth

import "time"

// SessionKind distinguishes the two session variants issued by the engine.
type SessionKind string

const (
	KindAdmin SessionKind = "admin"
	KindStaff SessionKind = "staff"
)

// BusinessOwner is the password-authenticated account that owns a business.
type BusinessOwner struct {
	ID           string    `json:"id"`
	BusinessID   string    `json:"business_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// AdminSession is a session held by a business owner. It is bound to no
// shift and lives for a fixed policy duration unless revoked.
type AdminSession struct {
	Token      string     `json:"token,omitempty"`
	BusinessID string     `json:"business_id"`
	AdminID    string     `json:"admin_id"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// StaffMember is an employee able to sign in with a PIN under an open shift.
type StaffMember struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Name       string    `json:"name"`
	Role       string    `json:"role"`
	PINHash    string    `json:"-"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Shift is a bounded operating window. Active iff EndedAt is nil.
type Shift struct {
	ID               string     `json:"id"`
	BusinessID       string     `json:"business_id"`
	Name             string     `json:"name"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	MaxStaffSessions int        `json:"max_staff_sessions"`
	OpenedBy         string     `json:"opened_by"`
}

// Active reports whether the shift still admits staff sessions.
func (s *Shift) Active() bool {
	return s.EndedAt == nil
}

// StaffSession is a PIN-backed session bound to the shift that was
// active when it was created. Once that shift ends the session is
// administratively invalid even if individually unexpired.
type StaffSession struct {
	Token       string     `json:"token,omitempty"`
	StaffID     string     `json:"staff_id"`
	BusinessID  string     `json:"business_id"`
	ShiftID     string     `json:"shift_id"`
	SignedInBy  string     `json:"signed_in_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	IsActive    bool       `json:"is_active"`
	SignedOutAt *time.Time `json:"signed_out_at,omitempty"`
}

// PermissionGrant is an explicit per-staff permission override. One row
// exists per (staff, permission) pair; Granted=false is a revocation
// that wins over role defaults and additive grants. An expired grant is
// treated as absent.
type PermissionGrant struct {
	StaffID    string     `json:"staff_id"`
	BusinessID string     `json:"business_id"`
	Permission string     `json:"permission"`
	Granted    bool       `json:"is_granted"`
	GrantedBy  string     `json:"granted_by"`
	GrantedAt  time.Time  `json:"granted_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// Expired reports whether the grant has lapsed at the given instant.
func (g PermissionGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// RateLimitRecord tracks consecutive failures for one identifier.
type RateLimitRecord struct {
	Identifier  string
	Attempts    int
	LastAttempt time.Time
	LockedUntil *time.Time
}
