// Package dialect identifies the relational flavor of a data node and opens
// database/sql handles against node URIs. The directory layer never issues
// raw socket I/O itself; everything goes through the drivers registered here.
package dialect

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect is the SQL flavor spoken by a node.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// Parse converts a configuration string into a Dialect.
func Parse(s string) (Dialect, error) {
	switch Dialect(s) {
	case Postgres, MySQL:
		return Dialect(s), nil
	}
	return "", fmt.Errorf("unknown dialect %q", s)
}

// Valid reports whether d is a supported dialect.
func (d Dialect) Valid() bool {
	switch d {
	case Postgres, MySQL:
		return true
	}
	return false
}

// DriverName returns the database/sql driver registered for this dialect.
func (d Dialect) DriverName() string {
	switch d {
	case Postgres:
		return "pgx"
	case MySQL:
		return "mysql"
	}
	return ""
}

// Placeholder renders the parameter placeholder for the n-th (1-based)
// argument of a statement in this dialect.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Open opens a database handle for the given node URI.
func Open(d Dialect, uri string) (*sql.DB, error) {
	driver := d.DriverName()
	if driver == "" {
		return nil, fmt.Errorf("unknown dialect %q", string(d))
	}
	db, err := sql.Open(driver, uri)
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", string(d), err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Registry caches open database handles by node URI so that repeated
// directory operations against the same node reuse one pool.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*sql.DB
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*sql.DB)}
}

// DB returns the cached handle for uri, opening one if needed.
func (r *Registry) DB(d Dialect, uri string) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.handles[uri]; ok {
		return db, nil
	}
	db, err := Open(d, uri)
	if err != nil {
		return nil, err
	}
	r.handles[uri] = db
	return db, nil
}

// Close closes every cached handle. Safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for uri, db := range r.handles {
		db.Close()
		delete(r.handles, uri)
	}
}
