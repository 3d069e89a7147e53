// Package sqlite implements the route table of the proxy on an
// embedded SQLite database: a single table mapping a host to the one
// backend its requests are forwarded to.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Lookup when no route exists for a host.
var ErrNotFound = errors.New("no route for host")

const schema = `
CREATE TABLE IF NOT EXISTS routes (
	host TEXT PRIMARY KEY,
	backend TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// Route is one host to backend binding.
type Route struct {
	Host      string    `db:"host" json:"host"`
	Backend   string    `db:"backend" json:"backend"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Store is a handle on the route table. Safe for concurrent readers
// and writers; writes are serialized by the database.
type Store struct {
	db *sqlx.DB
}

// Open opens (and when necessary creates) the route database at path.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open route database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create routes table: %w", err)
	}

	return &Store{db: db}, nil
}

// NormalizeBackend validates a backend address and prefixes it with
// http:// when the scheme is missing.
func NormalizeBackend(backend string) (string, error) {
	if backend == "" {
		return "", errors.New("empty backend")
	}

	if !strings.Contains(backend, "://") {
		backend = "http://" + backend
	}

	u, err := url.Parse(backend)
	if err != nil {
		return "", fmt.Errorf("invalid backend %q: %w", backend, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported backend scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("backend %q has no host", backend)
	}

	return backend, nil
}

// Upsert stores a route. Adding a route for an existing host replaces
// its backend, last writer wins.
func (s *Store) Upsert(host, backend string) error {
	backend, err := NormalizeBackend(backend)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`
		INSERT INTO routes (host, backend, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET backend = excluded.backend, updated_at = excluded.updated_at`,
		strings.ToLower(host), backend, now, now,
	)

	if err != nil {
		return fmt.Errorf("upsert route for %s: %w", host, err)
	}

	return nil
}

// Delete removes the route of a host. Deleting a host without a route
// is a no-op.
func (s *Store) Delete(host string) error {
	if _, err := s.db.Exec(`DELETE FROM routes WHERE host = ?`, strings.ToLower(host)); err != nil {
		return fmt.Errorf("delete route for %s: %w", host, err)
	}

	return nil
}

// Lookup returns the backend of a host.
func (s *Store) Lookup(host string) (string, error) {
	var backend string
	err := s.db.Get(&backend, `SELECT backend FROM routes WHERE host = ?`, strings.ToLower(host))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}

	if err != nil {
		return "", fmt.Errorf("lookup route for %s: %w", host, err)
	}

	return backend, nil
}

// All returns every route, ordered by host.
func (s *Store) All() ([]Route, error) {
	var routes []Route
	if err := s.db.Select(&routes, `SELECT host, backend, created_at, updated_at FROM routes ORDER BY host`); err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}

	return routes, nil
}

// Backends returns the distinct backend URLs of the table, the set the
// health checker subscribes to.
func (s *Store) Backends() ([]string, error) {
	var backends []string
	if err := s.db.Select(&backends, `SELECT DISTINCT backend FROM routes ORDER BY backend`); err != nil {
		return nil, fmt.Errorf("list backends: %w", err)
	}

	return backends, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
