package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations run in order; PRAGMA user_version records how many have been
// applied. Each step runs inside its own transaction, so an interrupted
// migration leaves either the previous schema or the next one, never a
// half-built table.
var migrations = []func(ctx context.Context, tx *sql.Tx) error{
	createActivityTable,
	addServerDimension,
}

func (s *Store) migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build supports (%d)", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		if err := s.applyMigration(ctx, i); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, i int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := migrations[i](ctx, tx); err != nil {
		return err
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
		return err
	}
	return tx.Commit()
}

// createActivityTable is the original schema: one row per (client, day).
func createActivityTable(ctx context.Context, tx *sql.Tx) error {
	const stmt = `
	CREATE TABLE IF NOT EXISTS user_activity (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id TEXT NOT NULL,
		last_seen DATETIME NOT NULL,
		day DATE NOT NULL,
		UNIQUE(client_id, day)
	);

	CREATE INDEX IF NOT EXISTS idx_user_activity_client_id ON user_activity(client_id);
	CREATE INDEX IF NOT EXISTS idx_user_activity_day ON user_activity(day);
	CREATE INDEX IF NOT EXISTS idx_user_activity_last_seen ON user_activity(last_seen);
	`
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create user_activity table: %w", err)
	}
	return nil
}

// addServerDimension rebuilds user_activity with the server column and the
// widened uniqueness key. Every pre-existing row is carried over with the
// absent dimension (encoded as ''). The column is NOT NULL on purpose: SQLite
// treats NULLs as pairwise distinct inside UNIQUE constraints, which would
// let dimension-less visits duplicate.
func addServerDimension(ctx context.Context, tx *sql.Tx) error {
	// Databases that predate schema versioning may already carry the column.
	has, err := columnExists(ctx, tx, "user_activity", "server")
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	const stmt = `
	CREATE TABLE user_activity_new (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id TEXT NOT NULL,
		server TEXT NOT NULL DEFAULT '',
		last_seen DATETIME NOT NULL,
		day DATE NOT NULL,
		UNIQUE(client_id, day, server)
	);

	INSERT INTO user_activity_new (id, client_id, server, last_seen, day)
		SELECT id, client_id, '', last_seen, day FROM user_activity;

	DROP TABLE user_activity;
	ALTER TABLE user_activity_new RENAME TO user_activity;

	CREATE INDEX IF NOT EXISTS idx_user_activity_client_id ON user_activity(client_id);
	CREATE INDEX IF NOT EXISTS idx_user_activity_day ON user_activity(day);
	CREATE INDEX IF NOT EXISTS idx_user_activity_last_seen ON user_activity(last_seen);
	CREATE INDEX IF NOT EXISTS idx_user_activity_server ON user_activity(server);
	`
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("rebuild user_activity with server column: %w", err)
	}
	return nil
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("inspect %s columns: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &primaryKey); err != nil {
			return false, fmt.Errorf("inspect %s columns: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
