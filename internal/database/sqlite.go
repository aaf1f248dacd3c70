package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dupefind/internal/database/migrations"
	"dupefind/internal/dupe"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteHistory implements dupe.History on a SQLite database.
type SQLiteHistory struct {
	db   *sql.DB
	path string
}

// NewSQLiteHistory opens the history database at path, which may be
// ":memory:", and brings its schema up to date.
func NewSQLiteHistory(path string) (*SQLiteHistory, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return &SQLiteHistory{db: db, path: path}, nil
}

// OpenConnection opens a SQLite connection with the PRAGMAs the history
// store relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Copy workers record concurrently. One connection serializes them and
	// keeps an in-memory database from splitting per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", p, err)
		}
	}
	return db, nil
}

func (s *SQLiteHistory) CreateOperation(op *dupe.Operation) error {
	res, err := s.db.Exec(`
		INSERT INTO operations (run_id, operation, parameters, status, started_at, summary)
		VALUES (?, ?, ?, ?, ?, ?)`,
		op.RunID, op.Operation, op.Parameters, op.Status, op.StartedAt.UTC(), op.Summary)
	if err != nil {
		return fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading operation id: %w", err)
	}
	op.ID = id
	return nil
}

func (s *SQLiteHistory) FinishOperation(id int64, status, summary string, finishedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE operations SET status = ?, summary = ?, finished_at = ?
		WHERE id = ?`,
		status, summary, finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing operation %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing operation %d: %w", id, sql.ErrNoRows)
	}
	return nil
}

func (s *SQLiteHistory) RecordCopyResult(operationID int64, result dupe.CopyResult, recordedAt time.Time) error {
	var errText string
	if result.Err != nil {
		errText = result.Err.Error()
	}
	_, err := s.db.Exec(`
		INSERT INTO copy_results (operation_id, source, destination, collision, bytes, dry_run, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		operationID, result.Source, result.Destination, result.Collision, result.Bytes, result.DryRun, errText, recordedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording copy of %s: %w", result.Source, err)
	}
	return nil
}

func (s *SQLiteHistory) ListOperations(limit int) ([]*dupe.Operation, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, operation, parameters, status, started_at, finished_at, summary
		FROM operations
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*dupe.Operation
	for rows.Next() {
		op := &dupe.Operation{}
		var finished sql.NullTime
		if err := rows.Scan(&op.ID, &op.RunID, &op.Operation, &op.Parameters, &op.Status, &op.StartedAt, &finished, &op.Summary); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if finished.Valid {
			op.FinishedAt = finished.Time
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

func (s *SQLiteHistory) ListCopyResults(operationID int64) ([]*dupe.CopyRecord, error) {
	rows, err := s.db.Query(`
		SELECT operation_id, source, destination, collision, bytes, dry_run, error, recorded_at
		FROM copy_results
		WHERE operation_id = ?
		ORDER BY id`, operationID)
	if err != nil {
		return nil, fmt.Errorf("listing copy results: %w", err)
	}
	defer rows.Close()

	var records []*dupe.CopyRecord
	for rows.Next() {
		r := &dupe.CopyRecord{}
		if err := rows.Scan(&r.OperationID, &r.Source, &r.Destination, &r.Collision, &r.Bytes, &r.DryRun, &r.Error, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning copy result: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing copy results: %w", err)
	}
	return records, nil
}

// FindOperationByRunID returns the operation with the given run ID, or nil
// if there is none.
func (s *SQLiteHistory) FindOperationByRunID(runID string) (*dupe.Operation, error) {
	op := &dupe.Operation{}
	var finished sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, run_id, operation, parameters, status, started_at, finished_at, summary
		FROM operations WHERE run_id = ?`, runID).
		Scan(&op.ID, &op.RunID, &op.Operation, &op.Parameters, &op.Status, &op.StartedAt, &finished, &op.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding operation %s: %w", runID, err)
	}
	if finished.Valid {
		op.FinishedAt = finished.Time
	}
	return op, nil
}

// Path returns the database file path, or ":memory:".
func (s *SQLiteHistory) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is at the version this binary expects.
func (s *SQLiteHistory) CheckMigrations() error {
	return migrations.Check(s.db)
}

// BackupTo writes a consistent copy of the database to destPath.
func (s *SQLiteHistory) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

func (s *SQLiteHistory) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ dupe.History = (*SQLiteHistory)(nil)
