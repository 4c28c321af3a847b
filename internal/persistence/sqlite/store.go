// Package sqlite provides the SQLite-backed activity store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/emohandesi/OutlineKeyGenerator/internal/domain"
	"github.com/emohandesi/OutlineKeyGenerator/internal/observability"
)

// timestampLayout is the stored encoding of last_seen.
const timestampLayout = time.RFC3339Nano

// Store persists activity records in a single SQLite database. Every
// operation runs under one mutex: the database handle is the only shared
// mutable resource in the process, and a single writer at a time sidesteps
// SQLITE_BUSY contention between concurrent requests.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

var _ domain.ActivityStore = (*Store)(nil)

// Open opens (or creates) the database at path and brings the schema up to
// date. Open fails rather than returning a store with a partial schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertIgnore inserts the record unless its (client, day, dimension) key is
// already present; duplicates are a silent no-op.
func (s *Store) InsertIgnore(ctx context.Context, rec domain.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const stmt = `INSERT OR IGNORE INTO user_activity (client_id, server, last_seen, day)
        VALUES (?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		rec.ClientID,
		rec.Dimension.Label(),
		rec.LastSeen.UTC().Format(timestampLayout),
		rec.Day.String(),
	)
	if err != nil {
		observability.RecordStoreError("insert")
		return fmt.Errorf("insert activity record: %w", err)
	}
	observability.RecordVisitPersisted(rec.LastSeen)
	return nil
}

// TouchLastSeen advances last_seen on the row with the given key. A missing
// row is not an error; the insert half of the upsert owns creation.
func (s *Store) TouchLastSeen(ctx context.Context, clientID string, dim domain.Dimension, day domain.Day, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const stmt = `UPDATE user_activity SET last_seen = ?
        WHERE client_id = ? AND day = ? AND server = ?`

	_, err := s.db.ExecContext(ctx, stmt,
		seenAt.UTC().Format(timestampLayout),
		clientID,
		day.String(),
		dim.Label(),
	)
	if err != nil {
		observability.RecordStoreError("touch")
		return fmt.Errorf("touch activity record: %w", err)
	}
	return nil
}

// CountDistinctClients counts distinct client tokens within the window.
func (s *Store) CountDistinctClients(ctx context.Context, window domain.DayWindow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	where, args := windowClause(window)
	query := `SELECT COUNT(DISTINCT client_id) FROM user_activity` + where

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		observability.RecordStoreError("count_distinct")
		return 0, fmt.Errorf("count distinct clients: %w", err)
	}
	return count, nil
}

// CountDistinctClientsByDimension groups the distinct-client count by
// dimension, ordered by count descending. Tie order within equal counts is
// whatever SQLite yields.
func (s *Store) CountDistinctClientsByDimension(ctx context.Context, window domain.DayWindow) ([]domain.DimensionCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	where, args := windowClause(window)
	query := `SELECT server, COUNT(DISTINCT client_id) AS clients FROM user_activity` +
		where + ` GROUP BY server ORDER BY clients DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		observability.RecordStoreError("count_by_dimension")
		return nil, fmt.Errorf("count clients by dimension: %w", err)
	}
	defer rows.Close()

	var out []domain.DimensionCount
	for rows.Next() {
		var (
			label string
			count int
		)
		if err := rows.Scan(&label, &count); err != nil {
			observability.RecordStoreError("count_by_dimension")
			return nil, fmt.Errorf("count clients by dimension: %w", err)
		}
		out = append(out, domain.DimensionCount{Dimension: domain.NamedDimension(label), Count: count})
	}
	if err := rows.Err(); err != nil {
		observability.RecordStoreError("count_by_dimension")
		return nil, fmt.Errorf("count clients by dimension: %w", err)
	}
	return out, nil
}

// DistinctClientsPerDay groups the distinct-client count by day, newest day
// first. Days without records do not appear.
func (s *Store) DistinctClientsPerDay(ctx context.Context, window domain.DayWindow) ([]domain.DayCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	where, args := windowClause(window)
	query := `SELECT day, COUNT(DISTINCT client_id) FROM user_activity` +
		where + ` GROUP BY day ORDER BY day DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		observability.RecordStoreError("count_per_day")
		return nil, fmt.Errorf("count clients per day: %w", err)
	}
	defer rows.Close()

	var out []domain.DayCount
	for rows.Next() {
		var (
			raw   string
			count int
		)
		if err := rows.Scan(&raw, &count); err != nil {
			observability.RecordStoreError("count_per_day")
			return nil, fmt.Errorf("count clients per day: %w", err)
		}
		day, err := domain.ParseDay(raw)
		if err != nil {
			observability.RecordStoreError("count_per_day")
			return nil, fmt.Errorf("count clients per day: parse %q: %w", raw, err)
		}
		out = append(out, domain.DayCount{Day: day, Count: count})
	}
	if err := rows.Err(); err != nil {
		observability.RecordStoreError("count_per_day")
		return nil, fmt.Errorf("count clients per day: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes every record dated strictly before cutoff and
// returns the exact number of rows removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff domain.Day) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM user_activity WHERE day < ?`, cutoff.String())
	if err != nil {
		observability.RecordStoreError("delete")
		return 0, fmt.Errorf("delete old activity records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		observability.RecordStoreError("delete")
		return 0, fmt.Errorf("delete old activity records: %w", err)
	}
	observability.RecordRecordsCleaned(deleted)
	return deleted, nil
}

// windowClause builds the WHERE clause for a day window. Day strings compare
// lexicographically in date order.
func windowClause(window domain.DayWindow) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !window.Since.IsZero() {
		conds = append(conds, "day >= ?")
		args = append(args, window.Since.String())
	}
	if !window.Until.IsZero() {
		conds = append(conds, "day <= ?")
		args = append(args, window.Until.String())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
