// Package prefs is a small persistent key/value preference store. Values are
// strings; the front-end keeps its dark-mode flag here under "darkMode".
package prefs

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// DarkModeKey is the preference key for the dark-mode boolean ("true"/other).
const DarkModeKey = "darkMode"

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("preference not found")

const schema = `
CREATE TABLE IF NOT EXISTS preferences (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// Store wraps the sqlite-backed preference table.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the preference database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open preference store")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping preference store")
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize preference schema")
	}

	return &Store{db: db}, nil
}

// Get returns the stored value for key, or ErrNotFound.
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read preference %q", key)
	}
	return value, nil
}

// Set stores or replaces the value for key.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO preferences (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return errors.Wrapf(err, "failed to write preference %q", key)
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
