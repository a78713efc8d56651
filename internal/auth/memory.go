package auth

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore implements Store with in-process maps. It backs tests and
// single-process deployments; anything multi-process uses PGStore.
type MemStore struct {
	mu        sync.RWMutex
	owners    map[string]*BusinessOwner // id -> owner
	staff     map[string]*StaffMember   // businessID/staffID -> staff
	admins    map[string]*AdminSession  // token -> session
	staffSess map[string]*StaffSession  // token -> session
	shifts    map[string]*Shift         // id -> shift
	grants    map[string][]PermissionGrant
	limits    map[string]*RateLimitRecord
	templates map[string][]string
}

// NewMemStore creates an empty store pre-seeded with the built-in role
// templates.
func NewMemStore() *MemStore {
	templates := make(map[string][]string, len(RoleTemplates))
	for role, perms := range RoleTemplates {
		templates[role] = append([]string(nil), perms...)
	}
	return &MemStore{
		owners:    make(map[string]*BusinessOwner),
		staff:     make(map[string]*StaffMember),
		admins:    make(map[string]*AdminSession),
		staffSess: make(map[string]*StaffSession),
		shifts:    make(map[string]*Shift),
		grants:    make(map[string][]PermissionGrant),
		limits:    make(map[string]*RateLimitRecord),
		templates: templates,
	}
}

func (m *MemStore) Owners(ctx context.Context) OwnerStore               { return memOwners{m} }
func (m *MemStore) Staff(ctx context.Context) StaffStore                { return memStaff{m} }
func (m *MemStore) AdminSessions(ctx context.Context) AdminSessionStore { return memAdminSessions{m} }
func (m *MemStore) StaffSessions(ctx context.Context) StaffSessionStore { return memStaffSessions{m} }
func (m *MemStore) Shifts(ctx context.Context) ShiftStore               { return memShifts{m} }
func (m *MemStore) Grants(ctx context.Context) GrantStore               { return memGrants{m} }
func (m *MemStore) RateLimits(ctx context.Context) RateLimitStore       { return memRateLimits{m} }
func (m *MemStore) RoleTemplates(ctx context.Context) RoleTemplateStore { return memTemplates{m} }

func staffKey(businessID, staffID string) string {
	return businessID + "/" + staffID
}

// Owners ---------------------------------------------------------------

type memOwners struct{ m *MemStore }

func (s memOwners) Create(ctx context.Context, owner *BusinessOwner) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *owner
	s.m.owners[owner.ID] = &cp
	return nil
}

func (s memOwners) FindByEmail(ctx context.Context, businessID, email string) (*BusinessOwner, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, o := range s.m.owners {
		if o.BusinessID == businessID && o.Email == email {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// Staff ----------------------------------------------------------------

type memStaff struct{ m *MemStore }

func (s memStaff) Create(ctx context.Context, staff *StaffMember) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *staff
	s.m.staff[staffKey(staff.BusinessID, staff.ID)] = &cp
	return nil
}

func (s memStaff) Find(ctx context.Context, businessID, staffID string) (*StaffMember, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	st, ok := s.m.staff[staffKey(businessID, staffID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

// Admin sessions -------------------------------------------------------

type memAdminSessions struct{ m *MemStore }

func (s memAdminSessions) Create(ctx context.Context, sess *AdminSession) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *sess
	s.m.admins[sess.Token] = &cp
	return nil
}

func (s memAdminSessions) Find(ctx context.Context, token string) (*AdminSession, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	sess, ok := s.m.admins[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s memAdminSessions) Revoke(ctx context.Context, token string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sess, ok := s.m.admins[token]
	if !ok {
		return ErrNotFound
	}
	if sess.RevokedAt == nil {
		sess.RevokedAt = &at
	}
	return nil
}

func (s memAdminSessions) DeleteExpired(ctx context.Context, before time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for token, sess := range s.m.admins {
		if sess.ExpiresAt.Before(before) || sess.RevokedAt != nil && sess.RevokedAt.Before(before) {
			delete(s.m.admins, token)
		}
	}
	return nil
}

// Staff sessions -------------------------------------------------------

type memStaffSessions struct{ m *MemStore }

func (s memStaffSessions) CreateInShift(ctx context.Context, sess *StaffSession, maxSessions int) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	shift, ok := s.m.shifts[sess.ShiftID]
	if !ok || shift.EndedAt != nil {
		return ErrNoActiveShift
	}
	// The lock is held across count and insert, so capacity cannot be
	// oversubscribed by concurrent sign-ins.
	if s.countActiveLocked(sess.ShiftID, sess.CreatedAt) >= maxSessions {
		return ErrShiftCapacity
	}
	cp := *sess
	s.m.staffSess[sess.Token] = &cp
	return nil
}

func (s memStaffSessions) countActiveLocked(shiftID string, now time.Time) int {
	n := 0
	for _, sess := range s.m.staffSess {
		if sess.ShiftID == shiftID && sess.IsActive && now.Before(sess.ExpiresAt) {
			n++
		}
	}
	return n
}

func (s memStaffSessions) Find(ctx context.Context, token string) (*StaffSession, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	sess, ok := s.m.staffSess[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s memStaffSessions) Revoke(ctx context.Context, token string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sess, ok := s.m.staffSess[token]
	if !ok {
		return ErrNotFound
	}
	if sess.IsActive {
		sess.IsActive = false
		sess.SignedOutAt = &at
	}
	return nil
}

func (s memStaffSessions) CountActiveForShift(ctx context.Context, shiftID string, now time.Time) (int, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	return s.countActiveLocked(shiftID, now), nil
}

func (s memStaffSessions) DeleteExpired(ctx context.Context, before time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for token, sess := range s.m.staffSess {
		if sess.ExpiresAt.Before(before) || sess.SignedOutAt != nil && sess.SignedOutAt.Before(before) {
			delete(s.m.staffSess, token)
		}
	}
	return nil
}

// Shifts ---------------------------------------------------------------

type memShifts struct{ m *MemStore }

func (s memShifts) Open(ctx context.Context, shift *Shift) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *shift
	s.m.shifts[shift.ID] = &cp
	return nil
}

func (s memShifts) Find(ctx context.Context, id string) (*Shift, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	shift, ok := s.m.shifts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *shift
	return &cp, nil
}

func (s memShifts) ActiveForBusiness(ctx context.Context, businessID string) (*Shift, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var latest *Shift
	for _, shift := range s.m.shifts {
		if shift.BusinessID != businessID || shift.EndedAt != nil {
			continue
		}
		if latest == nil || shift.StartedAt.After(latest.StartedAt) {
			latest = shift
		}
	}
	if latest == nil {
		return nil, ErrNoActiveShift
	}
	cp := *latest
	return &cp, nil
}

func (s memShifts) Close(ctx context.Context, id string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	shift, ok := s.m.shifts[id]
	if !ok {
		return ErrNotFound
	}
	if shift.EndedAt == nil {
		shift.EndedAt = &at
	}
	return nil
}

// Grants ---------------------------------------------------------------

type memGrants struct{ m *MemStore }

func (s memGrants) Upsert(ctx context.Context, grant *PermissionGrant) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	key := staffKey(grant.BusinessID, grant.StaffID)
	list := s.m.grants[key]
	for i := range list {
		if list[i].Permission == grant.Permission {
			list[i] = *grant
			return nil
		}
	}
	s.m.grants[key] = append(list, *grant)
	return nil
}

func (s memGrants) ForStaff(ctx context.Context, businessID, staffID string) ([]PermissionGrant, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	list := s.m.grants[staffKey(businessID, staffID)]
	out := make([]PermissionGrant, len(list))
	copy(out, list)
	return out, nil
}

// Rate limits ----------------------------------------------------------

type memRateLimits struct{ m *MemStore }

func (s memRateLimits) Find(ctx context.Context, identifier string) (*RateLimitRecord, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	rec, ok := s.m.limits[identifier]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s memRateLimits) RecordFailure(ctx context.Context, identifier string, pol Policy, now time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.limits[identifier] = applyFailure(s.m.limits[identifier], identifier, pol, now)
	return nil
}

func (s memRateLimits) Clear(ctx context.Context, identifier string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.limits, identifier)
	return nil
}

func (s memRateLimits) Purge(ctx context.Context, cutoff time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for id, rec := range s.m.limits {
		switch {
		case rec.LockedUntil != nil && rec.LockedUntil.Before(cutoff):
			delete(s.m.limits, id)
		case rec.LockedUntil == nil && rec.LastAttempt.Before(cutoff):
			delete(s.m.limits, id)
		}
	}
	return nil
}

// Role templates -------------------------------------------------------

type memTemplates struct{ m *MemStore }

func (s memTemplates) All(ctx context.Context) (map[string][]string, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make(map[string][]string, len(s.m.templates))
	for role, perms := range s.m.templates {
		out[role] = append([]string(nil), perms...)
	}
	return out, nil
}
