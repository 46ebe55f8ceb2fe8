package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"signalwatch/internal/config"
	"signalwatch/internal/model"
)

// ErrNotFound is returned when a watch list or event does not exist.
var ErrNotFound = errors.New("not found")

const DefaultEventLimit = 50

type EventFilter struct {
	WatchListID string
	Limit       int
}

// Store persists watch lists and events. Implementations are safe for
// concurrent use.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error
	Driver() string

	CreateWatchList(ctx context.Context, wl model.WatchList) (model.WatchList, error)
	GetWatchList(ctx context.Context, id string) (model.WatchList, error)
	ListWatchLists(ctx context.Context) ([]model.WatchListSummary, error)
	DeleteWatchList(ctx context.Context, id string) error

	CreateEvent(ctx context.Context, watchListID string, content model.EventContent, correlationID string) (model.Event, error)
	GetEvent(ctx context.Context, id string) (model.Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error)
	// UpdateEventAnalysis stores the analysis and marks the event processed.
	// It returns ErrNotFound when the event no longer exists.
	UpdateEventAnalysis(ctx context.Context, id string, analysis model.Analysis) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// baseStore carries the SQL shared by the sqlite and postgres drivers.
// Queries are written with ? placeholders and rebound per dialect.
type baseStore struct {
	db      *sql.DB
	driver  string
	rebind  func(string) string
	timeArg func(time.Time) any
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *baseStore) Driver() string {
	return b.driver
}

func newID() string {
	return uuid.NewString()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultEventLimit
	}
	return limit
}

func cloneTerms(terms []string) []string {
	out := make([]string, len(terms))
	copy(out, terms)
	return out
}
