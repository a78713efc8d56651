// Package migrate applies on-disk SQL migrations and seed files against
// the auth database, tracking history in a single bookkeeping table.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const defaultHistoryTable = "tably_schema_history"

const (
	kindMigration = "migration"
	kindSeed      = "seed"
)

// Record is one applied migration or seed.
type Record struct {
	Name      string
	Kind      string
	AppliedAt time.Time
}

// Runner executes SQL files in lexical order, each file in its own
// transaction.
type Runner struct {
	db           *sql.DB
	migrationDir string
	seedDir      string
	historyTable string
}

// Option configures Runner.
type Option func(*Runner)

// WithHistoryTable overrides the bookkeeping table name.
func WithHistoryTable(name string) Option {
	return func(r *Runner) {
		if name != "" {
			r.historyTable = name
		}
	}
}

// NewRunner constructs a Runner over an open database handle.
func NewRunner(db *sql.DB, migrationDir, seedDir string, opts ...Option) *Runner {
	r := &Runner{
		db:           db,
		migrationDir: migrationDir,
		seedDir:      seedDir,
		historyTable: defaultHistoryTable,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply runs all pending *.up.sql migrations.
func (r *Runner) Apply(ctx context.Context) error {
	return r.run(ctx, r.migrationDir, ".up.sql", kindMigration)
}

// Seed runs all pending seed files. Seeds are tracked like migrations
// so re-running is a no-op.
func (r *Runner) Seed(ctx context.Context) error {
	return r.run(ctx, r.seedDir, ".sql", kindSeed)
}

// Rollback reverts the most recently applied migration using its
// *.down.sql counterpart.
func (r *Runner) Rollback(ctx context.Context) error {
	if err := r.ensureHistory(ctx); err != nil {
		return err
	}
	applied, err := r.Applied(ctx)
	if err != nil {
		return err
	}
	var last string
	for i := len(applied) - 1; i >= 0; i-- {
		if applied[i].Kind == kindMigration {
			last = applied[i].Name
			break
		}
	}
	if last == "" {
		return errors.New("migrate: nothing to roll back")
	}
	downPath := strings.TrimSuffix(filepath.Join(r.migrationDir, last), ".up.sql") + ".down.sql"
	if _, err := os.Stat(downPath); err != nil {
		return fmt.Errorf("migrate: missing down file for %s", last)
	}
	if err := r.execFile(ctx, downPath); err != nil {
		return fmt.Errorf("migrate: rollback %s: %w", last, err)
	}
	_, err = r.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name = $1 and kind = $2`, r.historyTable),
		last, kindMigration)
	return err
}

// Applied returns history in application order.
func (r *Runner) Applied(ctx context.Context) ([]Record, error) {
	if err := r.ensureHistory(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`select name, kind, applied_at from %s order by applied_at asc, name asc`, r.historyTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Name, &rec.Kind, &rec.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Runner) run(ctx context.Context, dir, suffix, kind string) error {
	if err := r.ensureHistory(ctx); err != nil {
		return err
	}
	done, err := r.appliedSet(ctx, kind)
	if err != nil {
		return err
	}
	files, err := listSQL(dir, suffix)
	if err != nil {
		return err
	}
	for _, f := range files {
		if done[f.name] {
			continue
		}
		if err := r.execFile(ctx, f.path); err != nil {
			return fmt.Errorf("migrate: apply %s: %w", f.name, err)
		}
		if _, err := r.db.ExecContext(ctx,
			fmt.Sprintf(`insert into %s(name, kind, applied_at) values ($1, $2, $3)`, r.historyTable),
			f.name, kind, time.Now().UTC()); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) ensureHistory(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name text not null,
			kind text not null,
			applied_at timestamptz not null default now(),
			primary key (name, kind)
		);`, r.historyTable))
	return err
}

func (r *Runner) appliedSet(ctx context.Context, kind string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`select name from %s where kind = $1`, r.historyTable), kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func (r *Runner) execFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type sqlFile struct {
	name string
	path string
}

func listSQL(dir, suffix string) ([]sqlFile, error) {
	if dir == "" {
		return nil, nil
	}
	var files []sqlFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		files = append(files, sqlFile{name: d.Name(), path: path})
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

// splitStatements breaks a file into statements on semicolons outside
// single-quoted strings. Enough for plain DDL and seed inserts; no
// dollar-quoted bodies.
func splitStatements(input string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	for _, r := range input {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
