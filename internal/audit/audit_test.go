package audit

import (
	"context"
	"testing"
	"time"
)

func TestRecorderStampsAndAppends(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	rec := NewRecorder(store)

	ev := &Event{
		BusinessID:  "biz-1",
		Action:      ActionStaffLoginSuccess,
		PerformedBy: "admin-1",
		Details:     map[string]any{"shift_id": "shift-1"},
	}
	if err := rec.Record(ctx, ev); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if ev.ID == "" {
		t.Fatal("ID not assigned")
	}
	if ev.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not stamped")
	}

	events, err := store.Find(ctx, Query{
		BusinessID: "biz-1",
		From:       ev.CreatedAt.Add(-time.Minute),
		To:         ev.CreatedAt.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(events) != 1 || events[0].Action != ActionStaffLoginSuccess {
		t.Fatalf("stored events = %+v", events)
	}
}

func TestRecorderRejectsEmptyAction(t *testing.T) {
	rec := NewRecorder(NewMemStore())
	if err := rec.Record(context.Background(), &Event{BusinessID: "biz-1"}); err == nil {
		t.Fatal("empty action accepted")
	}
}

func TestRecorderWithoutStore(t *testing.T) {
	rec := NewRecorder(nil)
	err := rec.Record(context.Background(), &Event{
		BusinessID: "biz-1", Action: ActionAdminLogout, PerformedBy: "admin-1",
	})
	if err != nil {
		t.Fatalf("log-only recorder must not fail: %v", err)
	}
}

func TestMemStoreFindWindowAndLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_ = store.Append(ctx, &Event{
			ID:          string(rune('a' + i)),
			BusinessID:  "biz-1",
			Action:      ActionStaffLoginFailed,
			PerformedBy: "admin-1",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
	}
	_ = store.Append(ctx, &Event{
		ID: "other", BusinessID: "biz-2", Action: ActionAdminLoginSuccess,
		PerformedBy: "admin-9", CreatedAt: base,
	})

	// Half-open window [base+1m, base+4m) picks minutes 1, 2 and 3.
	events, err := store.Find(ctx, Query{
		BusinessID: "biz-1",
		From:       base.Add(time.Minute),
		To:         base.Add(4 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].CreatedAt.Before(events[i-1].CreatedAt) {
			t.Fatal("events must be ordered by time")
		}
	}

	limited, err := store.Find(ctx, Query{
		BusinessID: "biz-1",
		From:       base,
		To:         base.Add(time.Hour),
		Limit:      2,
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit ignored: got %d events", len(limited))
	}
}
