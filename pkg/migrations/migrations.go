// Package migrations applies the embedded SQL schema.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/openctemio/scangate/pkg/logger"
)

//go:embed sql/*.sql
var files embed.FS

// Migration is one versioned schema change.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

func (m Migration) String() string {
	return m.Version + "_" + m.Name
}

// Load parses NNNNNN_name.{up,down}.sql files from fsys, sorted by version.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		name := e.Name()
		var direction string
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			direction = "up"
		case strings.HasSuffix(name, ".down.sql"):
			direction = "down"
		default:
			continue
		}
		version, rest, ok := strings.Cut(strings.TrimSuffix(name, "."+direction+".sql"), "_")
		if !ok {
			return nil, fmt.Errorf("invalid migration file name %q", name)
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: rest}
			byVersion[version] = m
		}
		if direction == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s has no up script", m)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Embedded returns the migrations compiled into the binary.
func Embedded() ([]Migration, error) {
	sub, err := fs.Sub(files, "sql")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// Runner applies migrations and records them in schema_migrations.
type Runner struct {
	db         *sql.DB
	migrations []Migration
	log        *logger.Logger
}

// NewRunner creates a runner over the embedded migrations.
func NewRunner(db *sql.DB, log *logger.Logger) (*Runner, error) {
	ms, err := Embedded()
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	return &Runner{db: db, migrations: ms, log: log}, nil
}

// ensureTable creates schema_migrations if missing.
func (r *Runner) ensureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    VARCHAR(14) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

func (r *Runner) applied(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var v string
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		out[v] = at
	}
	return out, rows.Err()
}

// Pending returns migrations that have not been applied.
func (r *Runner) Pending(ctx context.Context) ([]Migration, error) {
	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}
	done, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, m := range r.migrations {
		if _, ok := done[m.Version]; !ok {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Up applies every pending migration, each in its own transaction.
func (r *Runner) Up(ctx context.Context) error {
	pending, err := r.Pending(ctx)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := r.exec(ctx, m.Up, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version)
			return err
		}); err != nil {
			return fmt.Errorf("migration %s failed: %w", m, err)
		}
		r.log.Info("migration applied", "version", m.Version, "name", m.Name)
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (r *Runner) Down(ctx context.Context) error {
	if err := r.ensureTable(ctx); err != nil {
		return err
	}
	done, err := r.applied(ctx)
	if err != nil {
		return err
	}
	for i := len(r.migrations) - 1; i >= 0; i-- {
		m := r.migrations[i]
		if _, ok := done[m.Version]; !ok {
			continue
		}
		if m.Down == "" {
			return fmt.Errorf("migration %s has no down script", m)
		}
		if err := r.exec(ctx, m.Down, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
			return err
		}); err != nil {
			return fmt.Errorf("rollback %s failed: %w", m, err)
		}
		r.log.Info("migration rolled back", "version", m.Version, "name", m.Name)
		return nil
	}
	return nil
}

func (r *Runner) exec(ctx context.Context, script string, record func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}
