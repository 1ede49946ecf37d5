// Package store is the single durable-state owner for the control plane.
// It is the only package that opens the SQLite connection; every other
// component receives a *Store and nothing else. Modeled on the teacher's
// single-writer registries (core/redis_registry.go) but backed by SQLite
// instead of Redis, per the spec's single-process requirement.
package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"

	"github.com/browseragent/taskqueue/internal/logger"
)

// Store wraps the single SQLite connection used by the whole process.
// WAL mode plus a single *sql.DB lets readers proceed concurrently while
// writes are serialized by SQLite itself; callers never open their own
// handle.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

// Open creates (or reuses) the SQLite database at path, applies the pragma
// set the spec requires (WAL, busy_timeout=5000, synchronous=NORMAL,
// foreign_keys=ON), and idempotently runs the schema.
func Open(path string, log logger.Logger) (*Store, error) {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(on)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "synchronous(NORMAL)")

	dsn := fmt.Sprintf("file:%s?%s", path, params.Encode())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single logical writer: SQLite itself only allows one writer at a
	// time in WAL mode, but capping the pool avoids queueing goroutines on
	// a busy-timeout wait storm under concurrent test load.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, logger: log}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for components (e.g. router, memory)
// that need their own prepared statements against the shared connection.
// Nothing outside this package opens a second *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}
