// Package annotations provides a SQLite-backed annotation store for MPD
// servers running without a sticker database.
package annotations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

const (
	// CurrentSchemaVersion is the current database schema version.
	CurrentSchemaVersion = "1"

	// DefaultDBPath is the default path for the annotation database.
	DefaultDBPath = "data/annotations.db"
)

// ErrNotOpen is returned by every query before Open or after Close.
var ErrNotOpen = errors.New("database not open")

// DB stores integer annotations per song URI.
type DB struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewDB creates a new annotation database instance.
func NewDB(path string) *DB {
	if path == "" {
		path = DefaultDBPath
	}
	return &DB{
		path: path,
	}
}

// Open opens the database and initializes the schema.
func (d *DB) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create annotation directory: %w", err)
	}

	db, err := sql.Open("sqlite3", d.path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open annotation database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	d.db = db

	if err := d.initSchema(); err != nil {
		d.db.Close()
		d.db = nil
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", d.path).Msg("Annotation database opened")
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}

func (d *DB) initSchema() error {
	currentVersion := d.getSchemaVersion()

	if currentVersion == "" {
		if err := d.createSchema(); err != nil {
			return err
		}
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}

	if currentVersion != CurrentSchemaVersion {
		log.Info().
			Str("current", currentVersion).
			Str("target", CurrentSchemaVersion).
			Msg("Migrating annotation schema")
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}

	return nil
}

func (d *DB) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS annotations (
		uri TEXT NOT NULL,
		name TEXT NOT NULL,
		value INTEGER NOT NULL,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (uri, name)
	);

	CREATE TABLE IF NOT EXISTS annotation_meta (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_annotations_name ON annotations(name);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	log.Info().Msg("Annotation schema created")
	return nil
}

func (d *DB) getSchemaVersion() string {
	var version string
	err := d.db.QueryRow("SELECT value FROM annotation_meta WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		return ""
	}
	return version
}

func (d *DB) setMeta(key, value string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := d.db.Exec(`
		INSERT INTO annotation_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now)
	return err
}

// SchemaVersion returns the stored schema version.
func (d *DB) SchemaVersion() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return ""
	}
	return d.getSchemaVersion()
}

// conn returns the open handle (must hold lock).
func (d *DB) conn() (*sql.DB, error) {
	if d.db == nil {
		return nil, ErrNotOpen
	}
	return d.db, nil
}

// GetInt returns annotation name of uri.
func (d *DB) GetInt(ctx context.Context, uri, name string) (int64, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	db, err := d.conn()
	if err != nil {
		return 0, false, err
	}

	var value int64
	err = db.QueryRowContext(ctx, "SELECT value FROM annotations WHERE uri = ? AND name = ?", uri, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query %s of %s: %w", name, uri, err)
	}
	return value, true, nil
}

// IntSet returns every URI carrying annotation name.
func (d *DB) IntSet(ctx context.Context, name string) (map[string]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	db, err := d.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT uri, value FROM annotations WHERE name = ?", name)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var uri string
		var value int64
		if err := rows.Scan(&uri, &value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
		out[uri] = value
	}
	return out, rows.Err()
}

// RecencySet returns every URI carrying the unix timestamp annotation name.
func (d *DB) RecencySet(ctx context.Context, name string) (map[string]time.Time, error) {
	values, err := d.IntSet(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(values))
	for uri, v := range values {
		out[uri] = time.Unix(v, 0)
	}
	return out, nil
}

// Set writes annotation name of uri.
func (d *DB) Set(ctx context.Context, uri, name string, value int64) error {
	return d.exec(ctx, `
		INSERT INTO annotations (uri, name, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(uri, name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, uri, name, value, time.Now().Format(time.RFC3339))
}

// Increment adds delta to annotation name of uri, starting from 0.
func (d *DB) Increment(ctx context.Context, uri, name string, delta int64) error {
	return d.exec(ctx, `
		INSERT INTO annotations (uri, name, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(uri, name) DO UPDATE SET value = annotations.value + excluded.value, updated_at = excluded.updated_at
	`, uri, name, delta, time.Now().Format(time.RFC3339))
}

// Delete removes annotation name of uri.
func (d *DB) Delete(ctx context.Context, uri, name string) error {
	return d.exec(ctx, "DELETE FROM annotations WHERE uri = ? AND name = ?", uri, name)
}

// Count returns the number of stored annotations.
func (d *DB) Count(ctx context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	db, err := d.conn()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM annotations").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (d *DB) exec(ctx context.Context, query string, args ...any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	db, err := d.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write annotation: %w", err)
	}
	return nil
}
