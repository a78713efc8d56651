package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tably.app/internal/audit"
	"tably.app/internal/ids"
	"tably.app/internal/obs"
)

const (
	defaultAdminTTL = 24 * time.Hour
	defaultStaffTTL = 8 * time.Hour

	// Role templates change rarely and may be served slightly stale;
	// grants are always read fresh because expiry is time-sensitive.
	templateTTL = 30 * time.Second

	// Terminal session rows are kept around for a day before cleanup
	// removes them.
	sessionRetention = 24 * time.Hour
)

// Client carries request metadata recorded in audit events. Never a
// credential or token.
type Client struct {
	IP        string
	UserAgent string
}

// AdminLogin is a password credential presentation for a business owner.
type AdminLogin struct {
	Email      string
	Password   string
	BusinessID string
	Client     Client
}

// StaffLogin is a PIN credential presentation sponsored by a live admin
// session.
type StaffLogin struct {
	BusinessID string
	StaffID    string
	PIN        string
	AdminToken string
	Client     Client
}

// Service orchestrates the rate limiter, credential hasher, shift gate,
// session store and audit log. Its only side effects are rate-limit
// mutation, session mutation and audit appends.
type Service struct {
	store    Store
	limiter  Limiter
	recorder *audit.Recorder
	now      func() time.Time
	adminTTL time.Duration
	staffTTL time.Duration

	tmplMu      sync.Mutex
	tmplCache   map[string][]string
	tmplFetched time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAdminTTL configures admin session lifetime.
func WithAdminTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("auth: admin session TTL must be positive")
		}
		s.adminTTL = ttl
		return nil
	}
}

// WithStaffTTL configures staff session lifetime.
func WithStaffTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("auth: staff session TTL must be positive")
		}
		s.staffTTL = ttl
		return nil
	}
}

// NewService constructs the façade. A nil recorder audits to the log
// stream only.
func NewService(store Store, limiter Limiter, recorder *audit.Recorder, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if limiter == nil {
		return nil, errors.New("auth: limiter is required")
	}
	if recorder == nil {
		recorder = audit.NewRecorder(nil)
	}
	svc := &Service{
		store:    store,
		limiter:  limiter,
		recorder: recorder,
		now:      time.Now,
		adminTTL: defaultAdminTTL,
		staffTTL: defaultStaffTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AuthenticateAdmin verifies a business owner's password and issues an
// admin session. Lockout is scoped to the business.
func (s *Service) AuthenticateAdmin(ctx context.Context, req AdminLogin) (*AdminSession, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" || req.BusinessID == "" {
		return nil, fmt.Errorf("%w: email, password and business_id are required", ErrInvalidInput)
	}

	key := AdminPINKey(req.BusinessID)
	status, err := s.limiter.Check(ctx, key)
	if err != nil {
		return nil, storeErr(err)
	}
	if !status.Allowed {
		obs.AuthAttempt("admin", "rate_limited")
		obs.AuthLockout(AdminPINPolicy.Name)
		s.audit(ctx, &audit.Event{
			BusinessID:  req.BusinessID,
			Action:      audit.ActionAdminLoginFailed,
			PerformedBy: email,
			Details:     map[string]any{"reason": "rate_limited"},
			IPAddress:   req.Client.IP,
			UserAgent:   req.Client.UserAgent,
		})
		return nil, &RateLimitedError{RetryAfter: status.RetryAfter}
	}

	owner, err := s.store.Owners(ctx).FindByEmail(ctx, req.BusinessID, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, storeErr(err)
	}
	// Unknown email and wrong password are indistinguishable to the
	// caller and both count against the lockout.
	if owner == nil || !VerifySecret(owner.PasswordHash, req.Password) {
		if rerr := s.limiter.RecordFailure(ctx, key); rerr != nil {
			return nil, storeErr(rerr)
		}
		obs.AuthAttempt("admin", "invalid_credential")
		s.audit(ctx, &audit.Event{
			BusinessID:  req.BusinessID,
			Action:      audit.ActionAdminLoginFailed,
			PerformedBy: email,
			Details:     map[string]any{"reason": "invalid_credential"},
			IPAddress:   req.Client.IP,
			UserAgent:   req.Client.UserAgent,
		})
		return nil, ErrInvalidCredential
	}

	if err := s.limiter.Clear(ctx, key); err != nil {
		return nil, storeErr(err)
	}
	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess := &AdminSession{
		Token:      token,
		BusinessID: owner.BusinessID,
		AdminID:    owner.ID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.adminTTL),
	}
	if err := s.store.AdminSessions(ctx).Create(ctx, sess); err != nil {
		return nil, storeErr(err)
	}
	obs.AuthAttempt("admin", "success")
	s.audit(ctx, &audit.Event{
		BusinessID:  owner.BusinessID,
		Action:      audit.ActionAdminLoginSuccess,
		PerformedBy: owner.ID,
		IPAddress:   req.Client.IP,
		UserAgent:   req.Client.UserAgent,
	})
	return sess, nil
}

// AuthenticateStaff verifies a staff PIN under a sponsoring admin
// session and an open shift, and issues a staff session with a
// permission snapshot.
func (s *Service) AuthenticateStaff(ctx context.Context, req StaffLogin) (*StaffSession, *StaffMember, PermissionSet, error) {
	if req.BusinessID == "" || req.StaffID == "" || req.PIN == "" {
		return nil, nil, nil, fmt.Errorf("%w: business_id, staff_id and pin are required", ErrInvalidInput)
	}

	admin, err := s.ValidateAdminSession(ctx, req.AdminToken)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, nil, nil, err
		}
		s.failStaff(ctx, req, "", "unauthorized_sponsor")
		return nil, nil, nil, ErrUnauthorizedSponsor
	}
	if admin.BusinessID != req.BusinessID {
		s.failStaff(ctx, req, admin.AdminID, "unauthorized_sponsor")
		return nil, nil, nil, ErrUnauthorizedSponsor
	}

	key := StaffPINKey(req.BusinessID, req.StaffID)
	status, err := s.limiter.Check(ctx, key)
	if err != nil {
		return nil, nil, nil, storeErr(err)
	}
	if !status.Allowed {
		obs.AuthLockout(StaffPINPolicy.Name)
		s.failStaff(ctx, req, admin.AdminID, "rate_limited")
		return nil, nil, nil, &RateLimitedError{RetryAfter: status.RetryAfter}
	}

	staff, err := s.store.Staff(ctx).Find(ctx, req.BusinessID, req.StaffID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, nil, storeErr(err)
	}
	if staff == nil || !staff.Active || !VerifySecret(staff.PINHash, req.PIN) {
		if rerr := s.limiter.RecordFailure(ctx, key); rerr != nil {
			return nil, nil, nil, storeErr(rerr)
		}
		s.failStaff(ctx, req, admin.AdminID, "invalid_credential")
		return nil, nil, nil, ErrInvalidCredential
	}

	shift, err := s.store.Shifts(ctx).ActiveForBusiness(ctx, req.BusinessID)
	if err != nil {
		if errors.Is(err, ErrNoActiveShift) {
			s.failStaff(ctx, req, admin.AdminID, "no_active_shift")
			return nil, nil, nil, ErrNoActiveShift
		}
		return nil, nil, nil, storeErr(err)
	}

	token, err := NewToken()
	if err != nil {
		return nil, nil, nil, err
	}
	now := s.now().UTC()
	sess := &StaffSession{
		Token:      token,
		StaffID:    staff.ID,
		BusinessID: staff.BusinessID,
		ShiftID:    shift.ID,
		SignedInBy: admin.AdminID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.staffTTL),
		IsActive:   true,
	}
	if err := s.store.StaffSessions(ctx).CreateInShift(ctx, sess, shift.MaxStaffSessions); err != nil {
		switch {
		case errors.Is(err, ErrShiftCapacity):
			s.failStaff(ctx, req, admin.AdminID, "shift_capacity_exceeded")
			return nil, nil, nil, ErrShiftCapacity
		case errors.Is(err, ErrNoActiveShift):
			s.failStaff(ctx, req, admin.AdminID, "no_active_shift")
			return nil, nil, nil, ErrNoActiveShift
		}
		return nil, nil, nil, storeErr(err)
	}

	if err := s.limiter.Clear(ctx, key); err != nil {
		return nil, nil, nil, storeErr(err)
	}
	perms, _, err := s.EffectivePermissions(ctx, staff.BusinessID, staff.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	obs.AuthAttempt("staff", "success")
	s.audit(ctx, &audit.Event{
		BusinessID:    staff.BusinessID,
		Action:        audit.ActionStaffLoginSuccess,
		PerformedBy:   admin.AdminID,
		TargetStaffID: staff.ID,
		Details:       map[string]any{"shift_id": shift.ID},
		IPAddress:     req.Client.IP,
		UserAgent:     req.Client.UserAgent,
	})
	return sess, staff, perms, nil
}

func (s *Service) failStaff(ctx context.Context, req StaffLogin, adminID, reason string) {
	obs.AuthAttempt("staff", reason)
	performedBy := adminID
	if performedBy == "" {
		performedBy = "unknown"
	}
	s.audit(ctx, &audit.Event{
		BusinessID:    req.BusinessID,
		Action:        audit.ActionStaffLoginFailed,
		PerformedBy:   performedBy,
		TargetStaffID: req.StaffID,
		Details:       map[string]any{"reason": reason},
		IPAddress:     req.Client.IP,
		UserAgent:     req.Client.UserAgent,
	})
}

// ValidateAdminSession returns the session for a token if it is still
// usable. Terminal sessions report ErrExpired.
func (s *Service) ValidateAdminSession(ctx context.Context, token string) (*AdminSession, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	sess, err := s.store.AdminSessions(ctx).Find(ctx, token)
	if err != nil {
		return nil, storeErr(err)
	}
	if sess.RevokedAt != nil {
		return nil, ErrExpired
	}
	if s.now().After(sess.ExpiresAt) {
		return nil, ErrExpired
	}
	return sess, nil
}

// ValidateStaffSession returns the session for a token if it is still
// usable. A session whose sponsoring shift has ended reports
// ErrShiftEnded even when individually unexpired.
func (s *Service) ValidateStaffSession(ctx context.Context, token string) (*StaffSession, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	sess, err := s.store.StaffSessions(ctx).Find(ctx, token)
	if err != nil {
		return nil, storeErr(err)
	}
	if !sess.IsActive || sess.SignedOutAt != nil {
		return nil, ErrExpired
	}
	if s.now().After(sess.ExpiresAt) {
		return nil, ErrExpired
	}
	shift, err := s.store.Shifts(ctx).Find(ctx, sess.ShiftID)
	if err != nil {
		return nil, storeErr(err)
	}
	if shift.EndedAt != nil {
		return nil, ErrShiftEnded
	}
	return sess, nil
}

// RevokeAdminSession signs a business owner out. Revoking an already
// revoked session is a no-op success.
func (s *Service) RevokeAdminSession(ctx context.Context, token string, client Client) error {
	if token == "" {
		return ErrNotFound
	}
	sess, err := s.store.AdminSessions(ctx).Find(ctx, token)
	if err != nil {
		return storeErr(err)
	}
	if sess.RevokedAt != nil {
		return nil
	}
	if err := s.store.AdminSessions(ctx).Revoke(ctx, token, s.now().UTC()); err != nil {
		return storeErr(err)
	}
	s.audit(ctx, &audit.Event{
		BusinessID:  sess.BusinessID,
		Action:      audit.ActionAdminLogout,
		PerformedBy: sess.AdminID,
		IPAddress:   client.IP,
		UserAgent:   client.UserAgent,
	})
	return nil
}

// RevokeStaffSession signs a staff member out under a sponsoring admin
// session of the same business. Idempotent.
func (s *Service) RevokeStaffSession(ctx context.Context, staffToken, adminToken string, client Client) error {
	admin, err := s.ValidateAdminSession(ctx, adminToken)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return ErrUnauthorizedSponsor
	}
	if staffToken == "" {
		return ErrNotFound
	}
	sess, err := s.store.StaffSessions(ctx).Find(ctx, staffToken)
	if err != nil {
		return storeErr(err)
	}
	if sess.BusinessID != admin.BusinessID {
		return ErrUnauthorizedSponsor
	}
	if !sess.IsActive {
		return nil
	}
	if err := s.store.StaffSessions(ctx).Revoke(ctx, staffToken, s.now().UTC()); err != nil {
		return storeErr(err)
	}
	s.audit(ctx, &audit.Event{
		BusinessID:    sess.BusinessID,
		Action:        audit.ActionStaffLogout,
		PerformedBy:   admin.AdminID,
		TargetStaffID: sess.StaffID,
		IPAddress:     client.IP,
		UserAgent:     client.UserAgent,
	})
	return nil
}

// EffectivePermissions resolves a staff member's permission set and
// reports the source role. Grants are read fresh; templates may be
// served from a short-lived cache.
func (s *Service) EffectivePermissions(ctx context.Context, businessID, staffID string) (PermissionSet, string, error) {
	if businessID == "" || staffID == "" {
		return nil, "", fmt.Errorf("%w: business_id and staff_id are required", ErrInvalidInput)
	}
	staff, err := s.store.Staff(ctx).Find(ctx, businessID, staffID)
	if err != nil {
		return nil, "", storeErr(err)
	}
	grants, err := s.store.Grants(ctx).ForStaff(ctx, businessID, staffID)
	if err != nil {
		return nil, "", storeErr(err)
	}
	defaults := s.roleTemplate(ctx, staff.Role)
	return Resolve(defaults, grants, s.now().UTC()), staff.Role, nil
}

// roleTemplate serves a role's defaults from the template cache,
// refreshing it from the store when stale. The built-in table is the
// fallback when the store has nothing for the role.
func (s *Service) roleTemplate(ctx context.Context, role string) []string {
	s.tmplMu.Lock()
	defer s.tmplMu.Unlock()
	if s.tmplCache == nil || s.now().Sub(s.tmplFetched) > templateTTL {
		if all, err := s.store.RoleTemplates(ctx).All(ctx); err == nil {
			s.tmplCache = all
			s.tmplFetched = s.now()
		}
	}
	if perms, ok := s.tmplCache[role]; ok {
		return append([]string(nil), perms...)
	}
	return append([]string(nil), RoleTemplates[role]...)
}

// OpenShift starts an operating window for the admin's business. Only
// one shift may be open per business at a time.
func (s *Service) OpenShift(ctx context.Context, adminToken, name string, maxSessions int, client Client) (*Shift, error) {
	admin, err := s.ValidateAdminSession(ctx, adminToken)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, ErrUnauthorizedSponsor
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: shift name is required", ErrInvalidInput)
	}
	if maxSessions <= 0 {
		return nil, fmt.Errorf("%w: max_staff_sessions must be positive", ErrInvalidInput)
	}
	if _, err := s.store.Shifts(ctx).ActiveForBusiness(ctx, admin.BusinessID); err == nil {
		return nil, fmt.Errorf("%w: a shift is already open", ErrInvalidInput)
	} else if !errors.Is(err, ErrNoActiveShift) {
		return nil, storeErr(err)
	}

	shift := &Shift{
		ID:               ids.New(),
		BusinessID:       admin.BusinessID,
		Name:             name,
		StartedAt:        s.now().UTC(),
		MaxStaffSessions: maxSessions,
		OpenedBy:         admin.AdminID,
	}
	if err := s.store.Shifts(ctx).Open(ctx, shift); err != nil {
		return nil, storeErr(err)
	}
	s.audit(ctx, &audit.Event{
		BusinessID:  admin.BusinessID,
		Action:      audit.ActionShiftOpened,
		PerformedBy: admin.AdminID,
		Details:     map[string]any{"shift_id": shift.ID, "max_staff_sessions": maxSessions},
		IPAddress:   client.IP,
		UserAgent:   client.UserAgent,
	})
	return shift, nil
}

// CloseShift ends an operating window. Staff sessions bound to it
// become invalid at validation time. Idempotent.
func (s *Service) CloseShift(ctx context.Context, adminToken, shiftID string, client Client) error {
	admin, err := s.ValidateAdminSession(ctx, adminToken)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return ErrUnauthorizedSponsor
	}
	shift, err := s.store.Shifts(ctx).Find(ctx, shiftID)
	if err != nil {
		return storeErr(err)
	}
	if shift.BusinessID != admin.BusinessID {
		return ErrUnauthorizedSponsor
	}
	if shift.EndedAt != nil {
		return nil
	}
	if err := s.store.Shifts(ctx).Close(ctx, shiftID, s.now().UTC()); err != nil {
		return storeErr(err)
	}
	s.audit(ctx, &audit.Event{
		BusinessID:  admin.BusinessID,
		Action:      audit.ActionShiftClosed,
		PerformedBy: admin.AdminID,
		Details:     map[string]any{"shift_id": shiftID},
		IPAddress:   client.IP,
		UserAgent:   client.UserAgent,
	})
	return nil
}

// Cleanup purges rate-limit rows past their retention and terminal
// session rows past theirs. Safe to run concurrently with live traffic:
// it only removes rows already past their terminal boundary.
func (s *Service) Cleanup(ctx context.Context) error {
	now := s.now().UTC()
	if err := s.limiter.Purge(ctx, now); err != nil {
		return storeErr(err)
	}
	cutoff := now.Add(-sessionRetention)
	if err := s.store.AdminSessions(ctx).DeleteExpired(ctx, cutoff); err != nil {
		return storeErr(err)
	}
	if err := s.store.StaffSessions(ctx).DeleteExpired(ctx, cutoff); err != nil {
		return storeErr(err)
	}
	return nil
}

// audit records an event, never failing the calling operation.
func (s *Service) audit(ctx context.Context, ev *audit.Event) {
	_ = s.recorder.Record(ctx, ev)
}
