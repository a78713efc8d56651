package auth

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestPGCreateInShiftCapacityExceeded(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	sess := &StaffSession{
		Token: "tok", StaffID: "staff-1", BusinessID: "biz-1", ShiftID: "shift-1",
		SignedInBy: "admin-1", CreatedAt: now, ExpiresAt: now.Add(8 * time.Hour), IsActive: true,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`select 1 from shifts where id=$1 and ended_at is null for update`)).
		WithArgs("shift-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`select count(*) from staff_sessions`)).
		WithArgs("shift-1", now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	err = NewPGStore(db).StaffSessions(context.Background()).CreateInShift(context.Background(), sess, 2)
	if !errors.Is(err, ErrShiftCapacity) {
		t.Fatalf("err = %v, want ErrShiftCapacity", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGCreateInShiftClosedShift(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	sess := &StaffSession{Token: "tok", ShiftID: "shift-1", CreatedAt: now, ExpiresAt: now.Add(8 * time.Hour)}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`select 1 from shifts where id=$1 and ended_at is null for update`)).
		WithArgs("shift-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectRollback()

	err = NewPGStore(db).StaffSessions(context.Background()).CreateInShift(context.Background(), sess, 5)
	if !errors.Is(err, ErrNoActiveShift) {
		t.Fatalf("err = %v, want ErrNoActiveShift", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGCreateInShiftInsertsUnderCapacity(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	sess := &StaffSession{
		Token: "tok", StaffID: "staff-1", BusinessID: "biz-1", ShiftID: "shift-1",
		SignedInBy: "admin-1", CreatedAt: now, ExpiresAt: now.Add(8 * time.Hour), IsActive: true,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`select 1 from shifts where id=$1 and ended_at is null for update`)).
		WithArgs("shift-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`select count(*) from staff_sessions`)).
		WithArgs("shift-1", now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta(`insert into staff_sessions`)).
		WithArgs("tok", "staff-1", "biz-1", "shift-1", "admin-1", now, now.Add(8*time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := NewPGStore(db).StaffSessions(context.Background()).CreateInShift(context.Background(), sess, 2); err != nil {
		t.Fatalf("CreateInShift: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRecordFailureArgs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	key := StaffPINKey("biz-1", "staff-1")

	mock.ExpectExec(regexp.QuoteMeta(`insert into auth_rate_limits`)).
		WithArgs(key, now, StaffPINPolicy.MaxAttempts, int64(StaffPINPolicy.Lockout/time.Second)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db).RateLimits(context.Background())
	if err := store.RecordFailure(context.Background(), key, StaffPINPolicy, now); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRateLimitFindAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`select identifier, attempts, last_attempt, locked_until`)).
		WithArgs("staff_pin:biz-1:ghost").
		WillReturnRows(sqlmock.NewRows([]string{"identifier", "attempts", "last_attempt", "locked_until"}))

	rec, err := NewPGStore(db).RateLimits(context.Background()).Find(context.Background(), "staff_pin:biz-1:ghost")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if rec != nil {
		t.Fatalf("absent identifier must yield nil record, got %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRevokeAdminSessionDistinguishesUnknown(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	at := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)

	// Unknown token: zero rows updated and no row exists.
	mock.ExpectExec(regexp.QuoteMeta(`update admin_sessions set revoked_at=$2`)).
		WithArgs("ghost", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`select exists(select 1 from admin_sessions where token=$1)`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	// Already revoked token: zero rows updated but the row exists.
	mock.ExpectExec(regexp.QuoteMeta(`update admin_sessions set revoked_at=$2`)).
		WithArgs("revoked", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`select exists(select 1 from admin_sessions where token=$1)`)).
		WithArgs("revoked").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	store := NewPGStore(db).AdminSessions(context.Background())
	if err := store.Revoke(context.Background(), "ghost", at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown token err = %v, want ErrNotFound", err)
	}
	if err := store.Revoke(context.Background(), "revoked", at); err != nil {
		t.Fatalf("already revoked token must be a no-op, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGActiveForBusinessNone(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`from shifts where business_id=$1 and ended_at is null`)).
		WithArgs("biz-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "business_id", "name", "started_at", "ended_at", "max_staff_sessions", "opened_by"}))

	_, err = NewPGStore(db).Shifts(context.Background()).ActiveForBusiness(context.Background(), "biz-1")
	if !errors.Is(err, ErrNoActiveShift) {
		t.Fatalf("err = %v, want ErrNoActiveShift", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
