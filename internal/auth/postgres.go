package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL via database/sql with the pgx
// stdlib driver. Schema lives in ops/migrations/sql.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Owners(ctx context.Context) OwnerStore               { return pgOwners{s.db} }
func (s *PGStore) Staff(ctx context.Context) StaffStore                { return pgStaff{s.db} }
func (s *PGStore) AdminSessions(ctx context.Context) AdminSessionStore { return pgAdminSessions{s.db} }
func (s *PGStore) StaffSessions(ctx context.Context) StaffSessionStore { return pgStaffSessions{s.db} }
func (s *PGStore) Shifts(ctx context.Context) ShiftStore               { return pgShifts{s.db} }
func (s *PGStore) Grants(ctx context.Context) GrantStore               { return pgGrants{s.db} }
func (s *PGStore) RateLimits(ctx context.Context) RateLimitStore       { return pgRateLimits{s.db} }
func (s *PGStore) RoleTemplates(ctx context.Context) RoleTemplateStore { return pgTemplates{s.db} }

// Owners ---------------------------------------------------------------

type pgOwners struct{ db *sql.DB }

func (s pgOwners) Create(ctx context.Context, owner *BusinessOwner) error {
	_, err := s.db.ExecContext(ctx,
		`insert into business_owners(id, business_id, email, password_hash)
		 values($1,$2,$3,$4)`,
		owner.ID, owner.BusinessID, owner.Email, owner.PasswordHash,
	)
	return err
}

func (s pgOwners) FindByEmail(ctx context.Context, businessID, email string) (*BusinessOwner, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, business_id, email, password_hash, created_at
		 from business_owners where business_id=$1 and email=$2`,
		businessID, email,
	)
	var o BusinessOwner
	if err := row.Scan(&o.ID, &o.BusinessID, &o.Email, &o.PasswordHash, &o.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// Staff ----------------------------------------------------------------

type pgStaff struct{ db *sql.DB }

func (s pgStaff) Create(ctx context.Context, staff *StaffMember) error {
	_, err := s.db.ExecContext(ctx,
		`insert into staff_members(id, business_id, name, role, pin_hash, active)
		 values($1,$2,$3,$4,$5,$6)`,
		staff.ID, staff.BusinessID, staff.Name, staff.Role, staff.PINHash, staff.Active,
	)
	return err
}

func (s pgStaff) Find(ctx context.Context, businessID, staffID string) (*StaffMember, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, business_id, name, role, pin_hash, active, created_at
		 from staff_members where business_id=$1 and id=$2`,
		businessID, staffID,
	)
	var m StaffMember
	if err := row.Scan(&m.ID, &m.BusinessID, &m.Name, &m.Role, &m.PINHash, &m.Active, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// Admin sessions -------------------------------------------------------

type pgAdminSessions struct{ db *sql.DB }

func (s pgAdminSessions) Create(ctx context.Context, sess *AdminSession) error {
	_, err := s.db.ExecContext(ctx,
		`insert into admin_sessions(token, business_id, admin_id, created_at, expires_at)
		 values($1,$2,$3,$4,$5)`,
		sess.Token, sess.BusinessID, sess.AdminID, sess.CreatedAt, sess.ExpiresAt,
	)
	return err
}

func (s pgAdminSessions) Find(ctx context.Context, token string) (*AdminSession, error) {
	row := s.db.QueryRowContext(ctx,
		`select token, business_id, admin_id, created_at, expires_at, revoked_at
		 from admin_sessions where token=$1`, token,
	)
	var sess AdminSession
	var revoked sql.NullTime
	if err := row.Scan(&sess.Token, &sess.BusinessID, &sess.AdminID, &sess.CreatedAt, &sess.ExpiresAt, &revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if revoked.Valid {
		sess.RevokedAt = &revoked.Time
	}
	return &sess, nil
}

func (s pgAdminSessions) Revoke(ctx context.Context, token string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update admin_sessions set revoked_at=$2 where token=$1 and revoked_at is null`,
		token, at,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Either already revoked (idempotent no-op) or unknown.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`select exists(select 1 from admin_sessions where token=$1)`, token,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (s pgAdminSessions) DeleteExpired(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`delete from admin_sessions
		 where expires_at < $1 or (revoked_at is not null and revoked_at < $1)`, before,
	)
	return err
}

// Staff sessions -------------------------------------------------------

type pgStaffSessions struct{ db *sql.DB }

func (s pgStaffSessions) CreateInShift(ctx context.Context, sess *StaffSession, maxSessions int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the shift row so concurrent sign-ins serialize on the
	// capacity check; a closed shift fails here rather than racing.
	var one int
	err = tx.QueryRowContext(ctx,
		`select 1 from shifts where id=$1 and ended_at is null for update`,
		sess.ShiftID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoActiveShift
	}
	if err != nil {
		return err
	}

	var active int
	err = tx.QueryRowContext(ctx,
		`select count(*) from staff_sessions
		 where shift_id=$1 and is_active and expires_at > $2`,
		sess.ShiftID, sess.CreatedAt,
	).Scan(&active)
	if err != nil {
		return err
	}
	if active >= maxSessions {
		return ErrShiftCapacity
	}

	_, err = tx.ExecContext(ctx,
		`insert into staff_sessions(token, staff_id, business_id, shift_id, signed_in_by, created_at, expires_at, is_active)
		 values($1,$2,$3,$4,$5,$6,$7,true)`,
		sess.Token, sess.StaffID, sess.BusinessID, sess.ShiftID, sess.SignedInBy, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s pgStaffSessions) Find(ctx context.Context, token string) (*StaffSession, error) {
	row := s.db.QueryRowContext(ctx,
		`select token, staff_id, business_id, shift_id, signed_in_by, created_at, expires_at, is_active, signed_out_at
		 from staff_sessions where token=$1`, token,
	)
	var sess StaffSession
	var signedOut sql.NullTime
	if err := row.Scan(&sess.Token, &sess.StaffID, &sess.BusinessID, &sess.ShiftID, &sess.SignedInBy,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.IsActive, &signedOut); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if signedOut.Valid {
		sess.SignedOutAt = &signedOut.Time
	}
	return &sess, nil
}

func (s pgStaffSessions) Revoke(ctx context.Context, token string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update staff_sessions set is_active=false, signed_out_at=$2
		 where token=$1 and is_active`, token, at,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`select exists(select 1 from staff_sessions where token=$1)`, token,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (s pgStaffSessions) CountActiveForShift(ctx context.Context, shiftID string, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from staff_sessions
		 where shift_id=$1 and is_active and expires_at > $2`, shiftID, now,
	).Scan(&n)
	return n, err
}

func (s pgStaffSessions) DeleteExpired(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`delete from staff_sessions
		 where expires_at < $1 or (signed_out_at is not null and signed_out_at < $1)`, before,
	)
	return err
}

// Shifts ---------------------------------------------------------------

type pgShifts struct{ db *sql.DB }

func (s pgShifts) Open(ctx context.Context, shift *Shift) error {
	_, err := s.db.ExecContext(ctx,
		`insert into shifts(id, business_id, name, started_at, max_staff_sessions, opened_by)
		 values($1,$2,$3,$4,$5,$6)`,
		shift.ID, shift.BusinessID, shift.Name, shift.StartedAt, shift.MaxStaffSessions, shift.OpenedBy,
	)
	return err
}

func (s pgShifts) Find(ctx context.Context, id string) (*Shift, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, business_id, name, started_at, ended_at, max_staff_sessions, opened_by
		 from shifts where id=$1`, id,
	)
	return scanShift(row)
}

func (s pgShifts) ActiveForBusiness(ctx context.Context, businessID string) (*Shift, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, business_id, name, started_at, ended_at, max_staff_sessions, opened_by
		 from shifts where business_id=$1 and ended_at is null
		 order by started_at desc limit 1`, businessID,
	)
	shift, err := scanShift(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoActiveShift
	}
	return shift, err
}

func scanShift(row *sql.Row) (*Shift, error) {
	var shift Shift
	var ended sql.NullTime
	if err := row.Scan(&shift.ID, &shift.BusinessID, &shift.Name, &shift.StartedAt,
		&ended, &shift.MaxStaffSessions, &shift.OpenedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if ended.Valid {
		shift.EndedAt = &ended.Time
	}
	return &shift, nil
}

func (s pgShifts) Close(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update shifts set ended_at=$2 where id=$1 and ended_at is null`, id, at,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`select exists(select 1 from shifts where id=$1)`, id,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// Grants ---------------------------------------------------------------

type pgGrants struct{ db *sql.DB }

func (s pgGrants) Upsert(ctx context.Context, grant *PermissionGrant) error {
	_, err := s.db.ExecContext(ctx,
		`insert into permission_grants(business_id, staff_id, permission, is_granted, granted_by, granted_at, expires_at, notes)
		 values($1,$2,$3,$4,$5,$6,$7,$8)
		 on conflict (business_id, staff_id, permission) do update set
		   is_granted = excluded.is_granted,
		   granted_by = excluded.granted_by,
		   granted_at = excluded.granted_at,
		   expires_at = excluded.expires_at,
		   notes      = excluded.notes`,
		grant.BusinessID, grant.StaffID, grant.Permission, grant.Granted,
		grant.GrantedBy, grant.GrantedAt, grant.ExpiresAt, grant.Notes,
	)
	return err
}

func (s pgGrants) ForStaff(ctx context.Context, businessID, staffID string) ([]PermissionGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`select business_id, staff_id, permission, is_granted, granted_by, granted_at, expires_at, notes
		 from permission_grants where business_id=$1 and staff_id=$2`,
		businessID, staffID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []PermissionGrant
	for rows.Next() {
		var g PermissionGrant
		var expires sql.NullTime
		if err := rows.Scan(&g.BusinessID, &g.StaffID, &g.Permission, &g.Granted,
			&g.GrantedBy, &g.GrantedAt, &expires, &g.Notes); err != nil {
			return nil, err
		}
		if expires.Valid {
			g.ExpiresAt = &expires.Time
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// Rate limits ----------------------------------------------------------

type pgRateLimits struct{ db *sql.DB }

func (s pgRateLimits) Find(ctx context.Context, identifier string) (*RateLimitRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select identifier, attempts, last_attempt, locked_until
		 from auth_rate_limits where identifier=$1`, identifier,
	)
	var rec RateLimitRecord
	var locked sql.NullTime
	if err := row.Scan(&rec.Identifier, &rec.Attempts, &rec.LastAttempt, &locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if locked.Valid {
		rec.LockedUntil = &locked.Time
	}
	return &rec, nil
}

// RecordFailure applies the whole transition in one conditional upsert,
// which serializes concurrent failures per identifier at the row level.
// The case arms mirror applyFailure: an active lockout keeps its
// deadline, an elapsed lockout restarts the count, and crossing the
// threshold sets locked_until.
func (s pgRateLimits) RecordFailure(ctx context.Context, identifier string, pol Policy, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`insert into auth_rate_limits(identifier, attempts, last_attempt, locked_until)
		 values ($1, 1, $2, case when $3 <= 1 then $2 + $4 * interval '1 second' end)
		 on conflict (identifier) do update set
		   attempts = case
		     when auth_rate_limits.locked_until is not null and auth_rate_limits.locked_until <= $2 then 1
		     else auth_rate_limits.attempts + 1
		   end,
		   last_attempt = $2,
		   locked_until = case
		     when auth_rate_limits.locked_until is not null and auth_rate_limits.locked_until > $2
		       then auth_rate_limits.locked_until
		     when auth_rate_limits.locked_until is not null and auth_rate_limits.locked_until <= $2
		       then case when $3 <= 1 then $2 + $4 * interval '1 second' end
		     when auth_rate_limits.attempts + 1 >= $3
		       then $2 + $4 * interval '1 second'
		   end`,
		identifier, now, pol.MaxAttempts, int64(pol.Lockout/time.Second),
	)
	return err
}

func (s pgRateLimits) Clear(ctx context.Context, identifier string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from auth_rate_limits where identifier=$1`, identifier,
	)
	return err
}

func (s pgRateLimits) Purge(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`delete from auth_rate_limits
		 where (locked_until is not null and locked_until < $1)
		    or (locked_until is null and last_attempt < $1)`, cutoff,
	)
	return err
}

// Role templates -------------------------------------------------------

type pgTemplates struct{ db *sql.DB }

func (s pgTemplates) All(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select role, permission from role_templates order by role, permission`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := make(map[string][]string)
	for rows.Next() {
		var role, perm string
		if err := rows.Scan(&role, &perm); err != nil {
			return nil, err
		}
		templates[role] = append(templates[role], perm)
	}
	return templates, rows.Err()
}
