// Package store provides persistent engine state backed by an embedded
// SQLite database: named presets, per-track setups, and engine settings. It
// owns the database lifecycle and exposes a minimal API used by the control
// surface and the maintenance goroutine — never the interrupt.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	_ "modernc.org/sqlite"

	"strata/internal/config"
)

// migrations holds the ordered list of DDL statements that bring the schema
// up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — settings key/value store
	`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	// v2 — presets as JSON documents keyed by name
	`CREATE TABLE IF NOT EXISTS presets (
		name       TEXT PRIMARY KEY,
		data       TEXT NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v3 — per-track setups
	`CREATE TABLE IF NOT EXISTS track_setups (
		track      INTEGER PRIMARY KEY,
		data       TEXT NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v4 — saved project registry
	`CREATE TABLE IF NOT EXISTS projects (
		name       TEXT PRIMARY KEY,
		dir        TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v5 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Store wraps a SQLite database and exposes engine-state operations.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and applies any pending
// migrations. Use ":memory:" for ephemeral in-process storage (tests).
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[store] busy_timeout: %v (non-fatal)", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		log.Printf("[store] applied migration v%d", v)
	}
	return nil
}

// GetSetting returns the value stored under key. The second return value is
// false when the key does not exist; an error is only returned for real I/O
// failures.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var val string
	err := s.db.QueryRow(
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&val)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetSetting upserts key → value in the settings table.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// SavePreset upserts a preset document under its name.
func (s *Store) SavePreset(p config.Preset) error {
	if p.Name == "" {
		return fmt.Errorf("preset needs a name")
	}
	data, err := json.Marshal(&p)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO presets(name, data, updated_at) VALUES(?, ?, unixepoch())
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = unixepoch()`,
		p.Name, string(data),
	)
	return err
}

// GetPreset returns the named preset; ok is false when absent.
func (s *Store) GetPreset(name string) (config.Preset, bool, error) {
	var data string
	err := s.db.QueryRow(
		`SELECT data FROM presets WHERE name = ?`, name,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return config.Preset{}, false, nil
	}
	if err != nil {
		return config.Preset{}, false, err
	}
	var p config.Preset
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return config.Preset{}, false, fmt.Errorf("preset %q: %w", name, err)
	}
	return p, true, nil
}

// GetPresets returns every stored preset ordered by name.
func (s *Store) GetPresets() ([]config.Preset, error) {
	rows, err := s.db.Query(`SELECT data FROM presets ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var presets []config.Preset
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p config.Preset
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			log.Printf("[store] skipping corrupt preset: %v", err)
			continue
		}
		presets = append(presets, p)
	}
	return presets, rows.Err()
}

// DeletePreset removes a preset by name.
func (s *Store) DeletePreset(name string) error {
	_, err := s.db.Exec(`DELETE FROM presets WHERE name = ?`, name)
	return err
}

// SaveTrackSetup upserts the setup for one track.
func (s *Store) SaveTrackSetup(track int, ts config.TrackSetup) error {
	data, err := json.Marshal(&ts)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO track_setups(track, data, updated_at) VALUES(?, ?, unixepoch())
		 ON CONFLICT(track) DO UPDATE SET data = excluded.data, updated_at = unixepoch()`,
		track, string(data),
	)
	return err
}

// GetTrackSetups returns stored setups keyed by track number.
func (s *Store) GetTrackSetups() (map[int]config.TrackSetup, error) {
	rows, err := s.db.Query(`SELECT track, data FROM track_setups`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	setups := map[int]config.TrackSetup{}
	for rows.Next() {
		var track int
		var data string
		if err := rows.Scan(&track, &data); err != nil {
			return nil, err
		}
		var ts config.TrackSetup
		if err := json.Unmarshal([]byte(data), &ts); err != nil {
			log.Printf("[store] skipping corrupt track setup %d: %v", track, err)
			continue
		}
		setups[track] = ts
	}
	return setups, rows.Err()
}

// RegisterProject records a saved project's location.
func (s *Store) RegisterProject(name, dir string) error {
	_, err := s.db.Exec(
		`INSERT INTO projects(name, dir) VALUES(?, ?)
		 ON CONFLICT(name) DO UPDATE SET dir = excluded.dir`,
		name, dir,
	)
	return err
}

// Project is one registered saved project.
type Project struct {
	Name string
	Dir  string
}

// GetProjects lists registered projects, newest first.
func (s *Store) GetProjects() ([]Project, error) {
	rows, err := s.db.Query(`SELECT name, dir FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.Name, &p.Dir); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
