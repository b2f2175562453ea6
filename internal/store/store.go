// Package store implements the persistent relational package index: the
// sole owner of all of windnf's durable state.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"net/url"
	"runtime"
	"sync"

	_ "modernc.org/sqlite" // register the sqlite driver

	"github.com/windnf/windnf/internal/wlog"
)

//go:embed sql/schema.sql
var schemaSQL string

// Store is a handle to the windnf package index.
//
// A Store is single-writer/multi-reader: concurrent queries are safe, but
// a second ImportSnapshot of the same repository while one is in flight
// returns [werr.Busy] instead of blocking.
//
// The returned Store must have Close called, or the process will panic
// when it is garbage collected.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	busyIDs map[int64]struct{}
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	u := url.URL{
		Scheme: "file",
		Opaque: path,
		RawQuery: url.Values{
			"_pragma": {
				"foreign_keys(1)",
				"journal_mode(WAL)",
				"synchronous(NORMAL)",
			},
		}.Encode(),
	}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}

	s := &Store{db: db, busyIDs: make(map[int64]struct{})}
	_, file, line, _ := runtime.Caller(1)
	runtime.SetFinalizer(s, func(s *Store) {
		panic(fmt.Sprintf("%s:%d: store not closed", file, line))
	})
	slog.InfoContext(wlog.With(ctx, "path", path), "store opened")
	return s, nil
}

// Close releases held resources. Must be called exactly once.
func (s *Store) Close() error {
	runtime.SetFinalizer(s, nil)
	return s.db.Close()
}

// tryLock marks repoID as busy, returning false if it is already locked.
func (s *Store) tryLock(repoID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.busyIDs[repoID]; ok {
		return false
	}
	s.busyIDs[repoID] = struct{}{}
	return true
}

func (s *Store) unlock(repoID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busyIDs, repoID)
}
