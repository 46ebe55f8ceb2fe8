package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"signalwatch/internal/model"
)

const eventColumns = `e.id, e.watch_list_id, w.name, e.raw_data, e.correlation_id, e.processed,
	e.summary, e.severity, e.suggested_action, e.created_at, e.updated_at`

func (b *baseStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return b.db.ExecContext(ctx, b.rebind(query), args...)
}

func (b *baseStore) CreateWatchList(ctx context.Context, wl model.WatchList) (model.WatchList, error) {
	now := nowUTC()
	wl.ID = newID()
	wl.Terms = cloneTerms(wl.Terms)
	wl.CreatedAt = now
	wl.UpdatedAt = now
	_, err := b.exec(ctx,
		`INSERT INTO watch_lists (id, name, description, terms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		wl.ID,
		wl.Name,
		wl.Description,
		encodeJSON(wl.Terms),
		b.timeArg(now),
		b.timeArg(now),
	)
	if err != nil {
		return model.WatchList{}, fmt.Errorf("insert watch list: %w", err)
	}
	return wl, nil
}

func (b *baseStore) GetWatchList(ctx context.Context, id string) (model.WatchList, error) {
	row := b.db.QueryRowContext(ctx, b.rebind(
		`SELECT id, name, description, terms, created_at, updated_at FROM watch_lists WHERE id = ?`), id)
	wl, err := scanWatchList(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WatchList{}, ErrNotFound
	}
	return wl, err
}

func (b *baseStore) ListWatchLists(ctx context.Context) ([]model.WatchListSummary, error) {
	rows, err := b.db.QueryContext(ctx, b.rebind(
		`SELECT w.id, w.name, w.description, w.terms, w.created_at, w.updated_at,
			(SELECT COUNT(*) FROM events e WHERE e.watch_list_id = w.id)
		FROM watch_lists w
		ORDER BY w.created_at DESC`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.WatchListSummary, 0)
	for rows.Next() {
		var (
			sum      model.WatchListSummary
			desc     sql.NullString
			terms    string
			created  dbTime
			updated  dbTime
			rowCount int64
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &desc, &terms, &created, &updated, &rowCount); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(terms), &sum.Terms); err != nil {
			return nil, fmt.Errorf("decode terms of %s: %w", sum.ID, err)
		}
		sum.Description = desc.String
		sum.CreatedAt = created.Time
		sum.UpdatedAt = updated.Time
		sum.EventCount = int(rowCount)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteWatchList removes the list and its events in one transaction so the
// cascade does not depend on driver foreign key settings.
func (b *baseStore) DeleteWatchList(ctx context.Context, id string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, b.rebind(`DELETE FROM events WHERE watch_list_id = ?`), id); err != nil {
		_ = tx.Rollback()
		return err
	}
	res, err := tx.ExecContext(ctx, b.rebind(`DELETE FROM watch_lists WHERE id = ?`), id)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		_ = tx.Rollback()
		return ErrNotFound
	}
	return tx.Commit()
}

func (b *baseStore) CreateEvent(ctx context.Context, watchListID string, content model.EventContent, correlationID string) (model.Event, error) {
	wl, err := b.GetWatchList(ctx, watchListID)
	if err != nil {
		return model.Event{}, err
	}
	now := nowUTC()
	ev := model.Event{
		ID:            newID(),
		WatchListID:   wl.ID,
		WatchListName: wl.Name,
		Content:       content,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err = b.exec(ctx,
		`INSERT INTO events (id, watch_list_id, raw_data, correlation_id, processed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.WatchListID,
		string(content.Canonical()),
		correlationID,
		false,
		b.timeArg(now),
		b.timeArg(now),
	)
	if err != nil {
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

func (b *baseStore) GetEvent(ctx context.Context, id string) (model.Event, error) {
	row := b.db.QueryRowContext(ctx, b.rebind(
		`SELECT `+eventColumns+`
		FROM events e JOIN watch_lists w ON w.id = e.watch_list_id
		WHERE e.id = ?`), id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, ErrNotFound
	}
	return ev, err
}

func (b *baseStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events e JOIN watch_lists w ON w.id = e.watch_list_id`
	args := make([]any, 0, 2)
	if filter.WatchListID != "" {
		query += ` WHERE e.watch_list_id = ?`
		args = append(args, filter.WatchListID)
	}
	query += ` ORDER BY e.created_at DESC LIMIT ?`
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := b.db.QueryContext(ctx, b.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (b *baseStore) UpdateEventAnalysis(ctx context.Context, id string, analysis model.Analysis) error {
	res, err := b.exec(ctx,
		`UPDATE events SET summary = ?, severity = ?, suggested_action = ?, processed = ?, updated_at = ?
		WHERE id = ?`,
		analysis.Summary,
		string(analysis.Severity),
		analysis.SuggestedAction,
		true,
		b.timeArg(nowUTC()),
		id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWatchList(row rowScanner) (model.WatchList, error) {
	var (
		wl      model.WatchList
		desc    sql.NullString
		terms   string
		created dbTime
		updated dbTime
	)
	if err := row.Scan(&wl.ID, &wl.Name, &desc, &terms, &created, &updated); err != nil {
		return model.WatchList{}, err
	}
	if err := json.Unmarshal([]byte(terms), &wl.Terms); err != nil {
		return model.WatchList{}, fmt.Errorf("decode terms of %s: %w", wl.ID, err)
	}
	wl.Description = desc.String
	wl.CreatedAt = created.Time
	wl.UpdatedAt = updated.Time
	return wl, nil
}

func scanEvent(row rowScanner) (model.Event, error) {
	var (
		ev       model.Event
		raw      string
		corr     sql.NullString
		summary  sql.NullString
		severity sql.NullString
		action   sql.NullString
		created  dbTime
		updated  dbTime
	)
	if err := row.Scan(&ev.ID, &ev.WatchListID, &ev.WatchListName, &raw, &corr, &ev.Processed,
		&summary, &severity, &action, &created, &updated); err != nil {
		return model.Event{}, err
	}
	if err := json.Unmarshal([]byte(raw), &ev.Content); err != nil {
		return model.Event{}, fmt.Errorf("decode raw data of %s: %w", ev.ID, err)
	}
	ev.CorrelationID = corr.String
	ev.CreatedAt = created.Time
	ev.UpdatedAt = updated.Time
	if summary.Valid && severity.Valid && action.Valid {
		ev.Analysis = &model.Analysis{
			Summary:         summary.String,
			Severity:        model.Severity(severity.String),
			SuggestedAction: action.String,
		}
	}
	return ev, nil
}

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// dbTime scans timestamps stored natively or as text.
type dbTime struct {
	Time time.Time
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = v.UTC()
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case int64:
		t.Time = time.Unix(0, v).UTC()
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
	return nil
}

func (t *dbTime) parse(s string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// rebindDollar rewrites ? placeholders to $1, $2, ... for postgres.
func rebindDollar(query string) string {
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func identity(query string) string {
	return query
}
