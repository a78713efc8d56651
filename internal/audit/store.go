package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

var errEmptyAction = errors.New("audit: action is required")

const defaultQueryLimit = 100

var _ Store = (*PGStore)(nil)

// PGStore persists events in the audit_events table.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, ev *Event) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into audit_events(id, business_id, action, details, performed_by, target_staff_id, ip_address, user_agent, created_at)
		 values($1,$2,$3,$4,$5,nullif($6,''),nullif($7,''),nullif($8,''),$9)`,
		ev.ID, ev.BusinessID, ev.Action, details, ev.PerformedBy,
		ev.TargetStaffID, ev.IPAddress, ev.UserAgent, ev.CreatedAt,
	)
	return err
}

func (s *PGStore) Find(ctx context.Context, q Query) ([]Event, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultQueryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`select id, business_id, action, details, performed_by,
		        coalesce(target_staff_id,''), coalesce(ip_address,''), coalesce(user_agent,''), created_at
		 from audit_events
		 where business_id=$1 and created_at >= $2 and created_at < $3
		 order by created_at asc
		 limit $4`,
		q.BusinessID, q.From, q.To, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var details []byte
		if err := rows.Scan(&ev.ID, &ev.BusinessID, &ev.Action, &details, &ev.PerformedBy,
			&ev.TargetStaffID, &ev.IPAddress, &ev.UserAgent, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &ev.Details)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

var _ Store = (*MemStore)(nil)

// MemStore is the in-process event log used by tests and DSN-less runs.
type MemStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemStore creates an empty log.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Append(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

func (s *MemStore) Find(ctx context.Context, q Query) ([]Event, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultQueryLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, ev := range s.events {
		if ev.BusinessID != q.BusinessID {
			continue
		}
		if ev.CreatedAt.Before(q.From) || !ev.CreatedAt.Before(q.To) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
