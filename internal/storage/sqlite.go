package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:signalwatch.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{
		db:      db,
		driver:  "sqlite",
		rebind:  identity,
		timeArg: sqliteTime,
	}}, nil
}

func sqliteTime(t time.Time) any {
	return t.UTC().Format(sqliteTimeLayout)
}

func (s *sqliteStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS watch_lists (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			terms TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			watch_list_id TEXT NOT NULL REFERENCES watch_lists(id) ON DELETE CASCADE,
			raw_data TEXT NOT NULL,
			correlation_id TEXT,
			processed INTEGER NOT NULL DEFAULT 0,
			summary TEXT,
			severity TEXT,
			suggested_action TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_watch_list ON events(watch_list_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
