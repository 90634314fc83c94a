// Package champdata maintains the Data Dragon champion catalog: a
// local SQLite copy for offline startup and an in-memory registry that
// resolves the numeric champion IDs carried by LCU payloads.
package champdata

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Champion is one entry of the champion catalog.
type Champion struct {
	ID   int    `json:"id"`   // numeric ID used by LCU payloads
	Key  string `json:"key"`  // Data Dragon identifier, e.g. "MonkeyKing"
	Name string `json:"name"` // display name, e.g. "Wukong"
}

// Store persists the champion catalog between runs.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the catalog database location under the user's
// config directory.
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = "."
	}
	return filepath.Join(configDir, "bocchi", "champions.db")
}

// Open opens the catalog database at path, creating it if necessary.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// init creates the schema
func (s *Store) init() error {
	schema := `
		CREATE TABLE IF NOT EXISTS data_version (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS champions (
			id INTEGER PRIMARY KEY,
			key TEXT NOT NULL,
			name TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Replace upserts a full catalog and its data version in a single
// transaction.
func (s *Store) Replace(champions []Champion, version string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after Commit()

	stmt, err := tx.Prepare(`
		INSERT INTO champions (id, key, name)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			key = excluded.key,
			name = excluded.name
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare champions statement: %w", err)
	}
	defer stmt.Close()

	for _, champ := range champions {
		if _, err := stmt.Exec(champ.ID, champ.Key, champ.Name); err != nil {
			return fmt.Errorf("failed to insert champion: %w", err)
		}
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO data_version (id, version, updated_at)
		VALUES (1, ?, datetime('now'))
	`, version); err != nil {
		return fmt.Errorf("failed to update version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// All returns every stored champion.
func (s *Store) All() ([]Champion, error) {
	rows, err := s.db.Query("SELECT id, key, name FROM champions ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query champions: %w", err)
	}
	defer rows.Close()

	var champions []Champion
	for rows.Next() {
		var champ Champion
		if err := rows.Scan(&champ.ID, &champ.Key, &champ.Name); err != nil {
			return nil, fmt.Errorf("failed to scan champion: %w", err)
		}
		champions = append(champions, champ)
	}
	return champions, rows.Err()
}

// Version returns the stored catalog version and when it was written.
// An empty version means the store has never been filled.
func (s *Store) Version() (string, time.Time, error) {
	var version, updatedAt string
	err := s.db.QueryRow("SELECT version, updated_at FROM data_version WHERE id = 1").Scan(&version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to read data version: %w", err)
	}

	// datetime('now') writes UTC as "2006-01-02 15:04:05"
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", updatedAt, time.UTC)
	if err != nil {
		return version, time.Time{}, nil
	}
	return version, ts, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
