// Package store persists plugin records in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lecternhq/lectern/internal/plugin"
	"github.com/lecternhq/lectern/internal/plugin/api"
)

const schema = `
CREATE TABLE IF NOT EXISTS plugins (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	version      TEXT NOT NULL,
	author       TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	entry_point  TEXT NOT NULL,
	permissions  TEXT NOT NULL DEFAULT '[]',
	enabled      INTEGER NOT NULL DEFAULT 0,
	installed_at TEXT NOT NULL
);
`

// SQLite implements plugin.Store over a single database file.
type SQLite struct {
	db *sql.DB
}

// Open creates or opens the plugin database at path and applies the schema.
func Open(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetPlugin returns the record for id; ok is false when no row exists.
func (s *SQLite) GetPlugin(ctx context.Context, id string) (*plugin.Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, author, description, entry_point, permissions, enabled, installed_at
		 FROM plugins WHERE id = ?`, id)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// GetAllPlugins returns every record, ordered by id for stable listings.
func (s *SQLite) GetAllPlugins(ctx context.Context) ([]*plugin.Record, error) {
	return s.queryRecords(ctx,
		`SELECT id, name, version, author, description, entry_point, permissions, enabled, installed_at
		 FROM plugins ORDER BY id`)
}

// GetEnabledPlugins returns the records whose enabled flag is set.
func (s *SQLite) GetEnabledPlugins(ctx context.Context) ([]*plugin.Record, error) {
	return s.queryRecords(ctx,
		`SELECT id, name, version, author, description, entry_point, permissions, enabled, installed_at
		 FROM plugins WHERE enabled = 1 ORDER BY id`)
}

// AddPlugin inserts a newly installed plugin's record.
func (s *SQLite) AddPlugin(ctx context.Context, record *plugin.Record) error {
	perms, err := json.Marshal(record.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plugins (id, name, version, author, description, entry_point, permissions, enabled, installed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Name, record.Version, record.Author, record.Description,
		record.EntryPoint, string(perms), boolToInt(record.Enabled),
		record.InstalledAt.Format(time.RFC3339Nano),
	)
	return err
}

// UpdatePluginStatus flips the enabled flag for id.
func (s *SQLite) UpdatePluginStatus(ctx context.Context, id string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE plugins SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	return err
}

// DeletePlugin removes the record for id.
func (s *SQLite) DeletePlugin(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM plugins WHERE id = ?`, id)
	return err
}

func (s *SQLite) queryRecords(ctx context.Context, query string) ([]*plugin.Record, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*plugin.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*plugin.Record, error) {
	var (
		record      plugin.Record
		perms       string
		enabled     int
		installedAt string
	)
	if err := sc.Scan(&record.ID, &record.Name, &record.Version, &record.Author,
		&record.Description, &record.EntryPoint, &perms, &enabled, &installedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(perms), &record.Permissions); err != nil {
		return nil, fmt.Errorf("corrupt permissions for plugin %s: %w", record.ID, err)
	}
	if record.Permissions == nil {
		record.Permissions = []api.Permission{}
	}
	record.Enabled = enabled != 0

	ts, err := time.Parse(time.RFC3339Nano, installedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt installed_at for plugin %s: %w", record.ID, err)
	}
	record.InstalledAt = ts

	return &record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
