package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Policy describes one lockout regime. Policies are selected by the
// identifier's namespace prefix.
type Policy struct {
	Name        string
	MaxAttempts int
	Lockout     time.Duration
}

var (
	StaffPINPolicy = Policy{Name: "staff_pin", MaxAttempts: 3, Lockout: 15 * time.Minute}
	AdminPINPolicy = Policy{Name: "admin_pin", MaxAttempts: 5, Lockout: 30 * time.Minute}
)

// purgeGrace is how long a finished lockout is retained before it may
// be purged.
const purgeGrace = time.Hour

// StaffPINKey scopes staff lockouts to one staff member of one business
// so a lockout cannot block a colleague's sign-in.
func StaffPINKey(businessID, staffID string) string {
	return "staff_pin:" + businessID + ":" + staffID
}

// AdminPINKey scopes admin lockouts to the business.
func AdminPINKey(businessID string) string {
	return "admin_pin:" + businessID
}

// PolicyFor maps an identifier to its lockout policy by namespace.
func PolicyFor(identifier string) Policy {
	if strings.HasPrefix(identifier, "admin_pin:") {
		return AdminPINPolicy
	}
	return StaffPINPolicy
}

// LimitStatus is the read-only answer to a pre-flight check. It is not
// a gate: callers still surround the actual attempt with RecordFailure
// or Clear.
type LimitStatus struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter tracks failed-attempt counters per identifier and enforces
// lockout windows. The in-process and store-backed implementations
// produce identical observable transitions.
type Limiter interface {
	Check(ctx context.Context, identifier string) (LimitStatus, error)
	RecordFailure(ctx context.Context, identifier string) error
	Clear(ctx context.Context, identifier string) error
	Purge(ctx context.Context, now time.Time) error
}

// evaluate derives the status of a record without mutating it. A nil
// record is a fresh identifier. Remaining counts the failures still
// tolerated before lockout, excluding the attempt being made.
func evaluate(rec *RateLimitRecord, pol Policy, now time.Time) LimitStatus {
	if rec == nil {
		return LimitStatus{Allowed: true, Remaining: pol.MaxAttempts - 1}
	}
	if rec.LockedUntil != nil {
		if now.Before(*rec.LockedUntil) {
			return LimitStatus{RetryAfter: rec.LockedUntil.Sub(now)}
		}
		// Lockout elapsed: the identifier reads as fresh.
		return LimitStatus{Allowed: true, Remaining: pol.MaxAttempts - 1}
	}
	remaining := pol.MaxAttempts - rec.Attempts - 1
	if remaining < 0 {
		remaining = 0
	}
	return LimitStatus{Allowed: rec.Attempts < pol.MaxAttempts, Remaining: remaining}
}

// applyFailure advances the state machine for one recorded failure.
// A failure recorded during an active lockout must not move the
// lockout deadline; one recorded after the lockout elapsed restarts
// the count at one.
func applyFailure(rec *RateLimitRecord, identifier string, pol Policy, now time.Time) *RateLimitRecord {
	if rec == nil {
		rec = &RateLimitRecord{Identifier: identifier}
	}
	switch {
	case rec.LockedUntil != nil && now.Before(*rec.LockedUntil):
		rec.Attempts++
	case rec.LockedUntil != nil:
		rec.Attempts = 1
		rec.LockedUntil = nil
	default:
		rec.Attempts++
	}
	rec.LastAttempt = now
	if rec.LockedUntil == nil && rec.Attempts >= pol.MaxAttempts {
		until := now.Add(pol.Lockout)
		rec.LockedUntil = &until
	}
	return rec
}

// purgeable reports whether a record is past its retention boundary.
// Active lockouts are never purgeable.
func purgeable(rec *RateLimitRecord, now time.Time) bool {
	if rec.LockedUntil != nil {
		return now.Sub(*rec.LockedUntil) > purgeGrace
	}
	return now.Sub(rec.LastAttempt) > purgeGrace
}

// MemoryLimiter is the ephemeral in-process variant. It never blocks
// and is not safe across independent processes; multi-process
// deployments should prefer StoreLimiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	records map[string]*RateLimitRecord
	now     func() time.Time
}

// NewMemoryLimiter creates an empty in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		records: make(map[string]*RateLimitRecord),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Check(ctx context.Context, identifier string) (LimitStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return evaluate(l.records[identifier], PolicyFor(identifier), l.now()), nil
}

func (l *MemoryLimiter) RecordFailure(ctx context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[identifier] = applyFailure(l.records[identifier], identifier, PolicyFor(identifier), l.now())
	return nil
}

func (l *MemoryLimiter) Clear(ctx context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, identifier)
	return nil
}

func (l *MemoryLimiter) Purge(ctx context.Context, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, rec := range l.records {
		if purgeable(rec, now) {
			delete(l.records, id)
		}
	}
	return nil
}

// StoreLimiter is the durable variant: one row per identifier behind a
// RateLimitStore. The store serializes each read-modify-write per
// identifier (the Postgres implementation uses a single conditional
// upsert), so transitions stay linearizable across processes.
type StoreLimiter struct {
	store RateLimitStore
	now   func() time.Time
}

// NewStoreLimiter wraps a durable rate-limit store.
func NewStoreLimiter(store RateLimitStore) *StoreLimiter {
	return &StoreLimiter{store: store, now: time.Now}
}

func (l *StoreLimiter) Check(ctx context.Context, identifier string) (LimitStatus, error) {
	rec, err := l.store.Find(ctx, identifier)
	if err != nil {
		return LimitStatus{}, err
	}
	return evaluate(rec, PolicyFor(identifier), l.now()), nil
}

func (l *StoreLimiter) RecordFailure(ctx context.Context, identifier string) error {
	return l.store.RecordFailure(ctx, identifier, PolicyFor(identifier), l.now())
}

func (l *StoreLimiter) Clear(ctx context.Context, identifier string) error {
	return l.store.Clear(ctx, identifier)
}

func (l *StoreLimiter) Purge(ctx context.Context, now time.Time) error {
	return l.store.Purge(ctx, now.Add(-purgeGrace))
}
