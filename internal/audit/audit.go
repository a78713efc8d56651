// Package audit keeps the append-only record of authentication and
// authorization activity. Events are durable and queryable by business
// and time range; a JSON mirror goes to the service log. Nothing in
// this package ever mutates or deletes an event.
package audit

import (
	"context"
	"strings"
	"time"

	"tably.app/internal/ids"
	"tably.app/internal/obs"
)

// Actions emitted by the auth engine.
const (
	ActionAdminLoginSuccess = "admin_login_success"
	ActionAdminLoginFailed  = "admin_login_failed"
	ActionAdminLogout       = "admin_logout"
	ActionStaffLoginSuccess = "staff_login_success"
	ActionStaffLoginFailed  = "staff_login_failed"
	ActionStaffLogout       = "staff_logout"
	ActionShiftOpened       = "shift_opened"
	ActionShiftClosed       = "shift_closed"
)

// Event is one security-relevant occurrence. Details must never carry
// secrets or session tokens.
type Event struct {
	ID            string         `json:"id"`
	BusinessID    string         `json:"business_id"`
	Action        string         `json:"action"`
	Details       map[string]any `json:"details,omitempty"`
	PerformedBy   string         `json:"performed_by"`
	TargetStaffID string         `json:"target_staff_id,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Query filters the event log for reporting consumers.
type Query struct {
	BusinessID string
	From       time.Time
	To         time.Time
	Limit      int
}

// Store persists events append-only.
type Store interface {
	Append(ctx context.Context, ev *Event) error
	Find(ctx context.Context, q Query) ([]Event, error)
}

// Recorder fills in identity fields, appends to the store and mirrors
// the event as a JSON log line.
type Recorder struct {
	store Store
	now   func() time.Time
}

// NewRecorder wraps a store. A nil store records to the log only.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record stamps and persists one event. The JSON mirror is emitted
// even when the store append fails, so a storage outage still leaves a
// trace in the log stream.
func (r *Recorder) Record(ctx context.Context, ev *Event) error {
	if strings.TrimSpace(ev.Action) == "" {
		return errEmptyAction
	}
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now().UTC()
	}

	var storeErr error
	if r.store != nil {
		storeErr = r.store.Append(ctx, ev)
	}

	entry := map[string]any{
		"ts":           ev.CreatedAt.Format(time.RFC3339Nano),
		"type":         "audit",
		"event":        ev.Action,
		"business_id":  ev.BusinessID,
		"performed_by": ev.PerformedBy,
	}
	if ev.TargetStaffID != "" {
		entry["target_staff_id"] = ev.TargetStaffID
	}
	if len(ev.Details) > 0 {
		entry["details"] = ev.Details
	}
	obs.LogEntry(entry)

	return storeErr
}
