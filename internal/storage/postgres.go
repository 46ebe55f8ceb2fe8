package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/signalwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{
		db:      db,
		driver:  "postgres",
		rebind:  rebindDollar,
		timeArg: func(t time.Time) any { return t.UTC() },
	}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	// raw_data is JSON rather than JSONB so metadata key order survives.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS watch_lists (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			terms JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			watch_list_id TEXT NOT NULL REFERENCES watch_lists(id) ON DELETE CASCADE,
			raw_data JSON NOT NULL,
			correlation_id TEXT,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			summary TEXT,
			severity TEXT,
			suggested_action TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
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
