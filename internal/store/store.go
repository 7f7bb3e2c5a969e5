// Package store implements the single-table storage engine: the three
// persistent relations (_data, _index, _indexes) backing one document
// table, and the CRUD/index-catalog operations layered over them.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/josiahcarlson/yogatable/internal/indexrow"
)

// SentinelMax is the last_indexed watermark meaning "fully caught up".
const SentinelMax = indexrow.SentinelMax

const schema = `
CREATE TABLE IF NOT EXISTS _data (
	rowid        INTEGER PRIMARY KEY,
	_id          TEXT NOT NULL UNIQUE,
	data         JSON NOT NULL,
	last_updated INTEGER NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS _index (
	rowid INTEGER PRIMARY KEY,
	idata BLOB NOT NULL,
	rowref TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS _index_idata ON _index(idata);
CREATE INDEX IF NOT EXISTS _index_rowref ON _index(rowref);
CREATE TABLE IF NOT EXISTS _indexes (
	index_id     INTEGER PRIMARY KEY,
	columns      TEXT NOT NULL UNIQUE,
	flags        INTEGER NOT NULL,
	last_indexed INTEGER NOT NULL
);
`

// dbExecutor is satisfied by both *sql.DB and *sql.Tx, letting helper
// functions run either standalone or inside a caller's transaction.
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store owns one table's database handle and in-memory catalog cache.
// Per §5, exactly one Store is meant to hold the handle for a given
// table at a time; lock guards that with an advisory file lock.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock

	mu      sync.RWMutex
	indexes []indexrow.Index
	dropKey string

	seq *timeSequence

	log *slog.Logger
}

// Open opens (creating if absent) the SQLite database at path, applies
// the schema, takes the advisory single-writer lock, and loads the
// index catalog cache.
func Open(ctx context.Context, path string) (*Store, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("store: lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("store: %s is locked by another worker", path)
	}

	db, err := sql.Open("sqlite3", path+"?_pragma=busy_timeout(30000)&_pragma=foreign_keys(ON)")
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA auto_vacuum = INCREMENTAL`); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("store: set auto_vacuum: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	s := &Store{
		db:   db,
		path: path,
		lock: lock,
		seq:  newTimeSequence(),
		log:  slog.With("component", "store", "path", path),
	}
	if err := s.refreshIndexCache(ctx); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle and the single-writer lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if lerr := s.lock.Unlock(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}

// Indexes returns a snapshot of the current index catalog. The backing
// slice must not be mutated by callers.
func (s *Store) Indexes() []indexrow.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]indexrow.Index, len(s.indexes))
	copy(out, s.indexes)
	return out
}

func (s *Store) refreshIndexCache(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT index_id, columns, flags, last_indexed FROM _indexes ORDER BY index_id`)
	if err != nil {
		return wrapDBError("load index catalog", err)
	}
	defer func() { _ = rows.Close() }()

	var loaded []indexrow.Index
	for rows.Next() {
		var id int
		var columns string
		var flags uint8
		var lastIndexed int64
		if err := rows.Scan(&id, &columns, &flags, &lastIndexed); err != nil {
			return wrapDBError("scan index catalog row", err)
		}
		cols, err := parseCanonical(columns)
		if err != nil {
			return fmt.Errorf("store: corrupt catalog entry %q: %w", columns, err)
		}
		loaded = append(loaded, indexrow.Index{ID: id, Columns: cols, Flags: flags, LastIndexed: lastIndexed})
	}
	if err := rows.Err(); err != nil {
		return wrapDBError("iterate index catalog", err)
	}

	s.mu.Lock()
	s.indexes = loaded
	s.mu.Unlock()
	return nil
}

// timeSequence generates the monotonically non-decreasing stamp §3
// requires for last_updated: a microsecond-resolution clock reading,
// bumped by one whenever two calls land in the same microsecond or
// the clock moves backward, so it never repeats or wraps within a
// process lifetime.
type timeSequence struct {
	mu   sync.Mutex
	last int64
}

func newTimeSequence() *timeSequence { return &timeSequence{} }

func (g *timeSequence) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now().UnixMicro()
	if now <= g.last {
		now = g.last + 1
	}
	g.last = now
	return now
}
