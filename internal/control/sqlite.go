package control

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"apisim/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS control_records (
	run_id          TEXT PRIMARY KEY,
	state           TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	completed       INTEGER NOT NULL DEFAULT 0,
	errors          INTEGER NOT NULL DEFAULT 0,
	target          INTEGER NOT NULL DEFAULT 0,
	stop_requested  INTEGER NOT NULL DEFAULT 0,
	pause_requested INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT NOT NULL DEFAULT ''
)`

const selectColumns = `SELECT run_id, state, created_at, updated_at, completed, errors, target,
	stop_requested, pause_requested, error_message FROM control_records`

// SQLiteStore keeps records in a sqlite database. Transactions begin with
// BEGIN IMMEDIATE so a read-modify-write holds the write lock throughout.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO control_records
		(run_id, state, created_at, updated_at, completed, errors, target, stop_requested, pause_requested, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, recordArgs(rec)...)
	if err != nil {
		return fmt.Errorf("failed to insert control record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, runID string) (Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE run_id = ?`, runID), runID)
}

func (s *SQLiteStore) Update(ctx context.Context, runID string, fn func(*Record) error) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx, selectColumns+` WHERE run_id = ?`, runID), runID)
	if err != nil {
		return Record{}, err
	}
	if err := fn(&rec); err != nil {
		return Record{}, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE control_records
		SET state = ?, updated_at = ?, completed = ?, errors = ?, target = ?,
		    stop_requested = ?, pause_requested = ?, error_message = ?
		WHERE run_id = ?
	`, string(rec.State), formatTime(rec.UpdatedAt), rec.Completed, rec.Errors, rec.Target,
		rec.StopRequested, rec.PauseRequested, rec.Error, rec.RunID)
	if err != nil {
		return Record{}, fmt.Errorf("failed to update control record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("failed to commit: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM control_records WHERE run_id = ?", runID)
	return err
}

func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, runID string) (Record, error) {
	var rec Record
	var state, created, updated string
	err := row.Scan(&rec.RunID, &state, &created, &updated, &rec.Completed, &rec.Errors, &rec.Target,
		&rec.StopRequested, &rec.PauseRequested, &rec.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read control record: %w", err)
	}
	rec.State = core.State(state)
	rec.CreatedAt, _ = time.Parse(timeLayout, created)
	rec.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return rec, nil
}

func recordArgs(rec Record) []any {
	return []any{
		rec.RunID, string(rec.State), formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
		rec.Completed, rec.Errors, rec.Target, rec.StopRequested, rec.PauseRequested, rec.Error,
	}
}

// timeLayout is fixed-width so that created_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
