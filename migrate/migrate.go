package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/aquamarinepk/relaybus/log"
)

// Migrator applies embedded SQL migration files against a database once
// each, tracking what has already run in a migrations table.
type Migrator struct {
	assets embed.FS
	engine string
	path   string
	db     *sql.DB
	log    log.Logger
}

// New returns a Migrator for the given engine. SetDB and SetPath must be
// called before Run.
func New(assets embed.FS, engine string, logger log.Logger) *Migrator {
	return &Migrator{assets: assets, engine: engine, log: logger}
}

// SetDB assigns the database connection migrations run against.
func (m *Migrator) SetDB(db *sql.DB) {
	m.db = db
}

// SetPath sets the embedded-FS directory migration files are read from.
func (m *Migrator) SetPath(path string) {
	m.path = path
}

// Run creates the tracking table if needed and applies every migration
// file under path that has not already run, in filename order. It is
// idempotent: calling Run again applies nothing new.
func (m *Migrator) Run(ctx context.Context) error {
	if m.db == nil {
		return fmt.Errorf("migrate: no database configured")
	}

	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("migrate: create tracking table: %w", err)
	}

	names, err := m.pendingNames(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		body, err := fs.ReadFile(m.assets, m.path+"/"+name)
		if err != nil {
			return fmt.Errorf("migrate: read %s: %w", name, err)
		}

		if err := m.apply(ctx, name, string(body)); err != nil {
			return err
		}
	}

	return nil
}

func (m *Migrator) pendingNames(ctx context.Context) ([]string, error) {
	entries, err := fs.ReadDir(m.assets, m.path)
	if err != nil {
		return nil, fmt.Errorf("migrate: read dir %s: %w", m.path, err)
	}

	applied := make(map[string]bool)
	rows, err := m.db.QueryContext(ctx, "SELECT name FROM migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate: list applied: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("migrate: scan applied: %w", err)
		}
		applied[name] = true
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		if applied[e.Name()] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	return names, nil
}

func (m *Migrator) apply(ctx context.Context, name, body string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: begin %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("migrate: apply %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (name) VALUES ($1)", name); err != nil {
		return fmt.Errorf("migrate: record %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit %s: %w", name, err)
	}

	if m.log != nil {
		m.log.Infof("migrate: applied %s", name)
	}

	return nil
}
