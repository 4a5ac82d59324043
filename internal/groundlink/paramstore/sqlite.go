package paramstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // register sqlite driver
)

const schemaVersion = 1

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS parameter_snapshots (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		link_id     TEXT    NOT NULL,
		received_at INTEGER NOT NULL,
		count       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_parameter_snapshots_link ON parameter_snapshots(link_id, id);
	CREATE TABLE IF NOT EXISTS parameter_values (
		snapshot_id INTEGER NOT NULL REFERENCES parameter_snapshots(id) ON DELETE CASCADE,
		name        TEXT    NOT NULL,
		value       REAL    NOT NULL,
		PRIMARY KEY (snapshot_id, name)
	);`,
}

// SQLiteStore keeps up to history snapshots per link.
type SQLiteStore struct {
	db      *sql.DB
	history int
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path. history <= 0
// keeps every snapshot.
func OpenSQLite(ctx context.Context, path string, history int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps PRAGMAs and transactions on the same handle.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &SQLiteStore{db: db, history: history}, nil
}

// migrate applies every migration above PRAGMA user_version.
func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		if _, err := db.ExecContext(ctx, migrations[v]); err != nil {
			return fmt.Errorf("apply migration %d: %w", v+1, err)
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, v+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", v+1, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) (id int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO parameter_snapshots (link_id, received_at, count) VALUES (?, ?, ?)`,
		snap.LinkID, timeToUnixMillis(snap.ReceivedAt), len(snap.Values))
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, fmt.Errorf("snapshot id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO parameter_values (snapshot_id, name, value) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare values: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for name, value := range snap.Values {
		if _, err = stmt.ExecContext(ctx, id, name, float64(value)); err != nil {
			return 0, fmt.Errorf("insert value %s: %w", name, err)
		}
	}

	if s.history > 0 {
		if _, err = tx.ExecContext(ctx, `
			DELETE FROM parameter_snapshots
			WHERE link_id = ? AND id NOT IN (
				SELECT id FROM parameter_snapshots WHERE link_id = ? ORDER BY id DESC LIMIT ?
			)`, snap.LinkID, snap.LinkID, s.history); err != nil {
			return 0, fmt.Errorf("prune snapshots: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) Latest(ctx context.Context, linkID string) (Snapshot, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM parameter_snapshots WHERE link_id = ? ORDER BY id DESC LIMIT 1`, linkID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("query latest snapshot: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (Snapshot, error) {
	snap := Snapshot{ID: id}
	var receivedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT link_id, received_at FROM parameter_snapshots WHERE id = ?`, id).Scan(&snap.LinkID, &receivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("query snapshot %d: %w", id, err)
	}
	snap.ReceivedAt = unixMillisToTime(receivedAt)

	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM parameter_values WHERE snapshot_id = ?`, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query values of %d: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	snap.Values = make(map[string]float32)
	for rows.Next() {
		var (
			name  string
			value float64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return Snapshot{}, fmt.Errorf("scan value: %w", err)
		}
		snap.Values[name] = float32(value)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate values: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) List(ctx context.Context, linkID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, link_id, received_at, count FROM parameter_snapshots
		WHERE link_id = ? ORDER BY id DESC LIMIT ?`, linkID, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		var (
			sum        Summary
			receivedAt int64
		)
		if err := rows.Scan(&sum.ID, &sum.LinkID, &receivedAt, &sum.Count); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		sum.ReceivedAt = unixMillisToTime(receivedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
