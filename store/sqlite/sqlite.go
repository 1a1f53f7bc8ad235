// Package sqlite implements the durable work-item and log store using SQLite.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/model"
)

// Store persists panic work-items and structured log records.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path. Use ":memory:"
// for an ephemeral store in tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps :memory: stores coherent and serializes
	// writers; SQLite serializes them anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS work_items (
			panic_location TEXT PRIMARY KEY,
			panic_message  TEXT NOT NULL,
			sql_statements TEXT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'pending',
			branch_name    TEXT NOT NULL DEFAULT '',
			pr_url         TEXT NOT NULL DEFAULT '',
			retry_count    INTEGER NOT NULL DEFAULT 0,
			workflow_error TEXT NOT NULL DEFAULT '',
			created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_work_items_status
			ON work_items(status, created_at);

		CREATE TABLE IF NOT EXISTS logs (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			payload TEXT NOT NULL
		);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new work-item in the pending state. Inserting a duplicate
// panic_location returns an error.
func (s *Store) Create(panicLocation, panicMessage, sqlStatements string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO work_items (panic_location, panic_message, sql_statements, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		panicLocation, panicMessage, sqlStatements, model.StatusPending, now, now,
	)
	if err != nil {
		return fmt.Errorf("creating work item: %w", err)
	}
	return nil
}

// Get retrieves a single work-item by panic location.
func (s *Store) Get(panicLocation string) (*model.PanicWorkItem, error) {
	row := s.db.QueryRow(
		`SELECT panic_location, panic_message, sql_statements, status, branch_name,
		        pr_url, retry_count, workflow_error, created_at, updated_at
		 FROM work_items WHERE panic_location = ?`, panicLocation,
	)
	return scanItem(row)
}

// GetPending returns up to limit pending work-items, oldest first.
func (s *Store) GetPending(limit int) ([]*model.PanicWorkItem, error) {
	rows, err := s.db.Query(
		`SELECT panic_location, panic_message, sql_statements, status, branch_name,
		        pr_url, retry_count, workflow_error, created_at, updated_at
		 FROM work_items
		 WHERE status = ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		model.StatusPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*model.PanicWorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// List returns all work-items, newest first.
func (s *Store) List() ([]*model.PanicWorkItem, error) {
	rows, err := s.db.Query(
		`SELECT panic_location, panic_message, sql_statements, status, branch_name,
		        pr_url, retry_count, workflow_error, created_at, updated_at
		 FROM work_items
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*model.PanicWorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// StatusUpdate carries the optional fields persisted alongside a status
// transition. Empty fields leave the stored values unchanged.
type StatusUpdate struct {
	BranchName    string
	PRUrl         string
	WorkflowError *model.WorkflowError
}

// UpdateStatus transitions a work-item to the given status and refreshes
// updated_at. The update is a single statement, atomic with respect to
// readers.
func (s *Store) UpdateStatus(panicLocation string, status model.Status, upd StatusUpdate) error {
	errJSON := ""
	if upd.WorkflowError != nil {
		data, err := json.Marshal(upd.WorkflowError)
		if err != nil {
			return fmt.Errorf("encoding workflow error: %w", err)
		}
		errJSON = string(data)
	}

	res, err := s.db.Exec(
		`UPDATE work_items SET
			status = ?,
			branch_name = CASE WHEN ? != '' THEN ? ELSE branch_name END,
			pr_url = CASE WHEN ? != '' THEN ? ELSE pr_url END,
			workflow_error = CASE WHEN ? != '' THEN ? ELSE workflow_error END,
			updated_at = ?
		 WHERE panic_location = ?`,
		status,
		upd.BranchName, upd.BranchName,
		upd.PRUrl, upd.PRUrl,
		errJSON, errJSON,
		time.Now().UTC(), panicLocation,
	)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no work item for %q", panicLocation)
	}
	return nil
}

// MarkNeedsHumanReview transitions a work-item to the terminal error state.
func (s *Store) MarkNeedsHumanReview(panicLocation string, werr *model.WorkflowError) error {
	return s.UpdateStatus(panicLocation, model.StatusNeedsHumanReview, StatusUpdate{WorkflowError: werr})
}

// IncrementRetry bumps the retry counter.
func (s *Store) IncrementRetry(panicLocation string) error {
	_, err := s.db.Exec(
		`UPDATE work_items SET retry_count = retry_count + 1, updated_at = ? WHERE panic_location = ?`,
		time.Now().UTC(), panicLocation,
	)
	return err
}

// ResetRetry clears the retry counter.
func (s *Store) ResetRetry(panicLocation string) error {
	_, err := s.db.Exec(
		`UPDATE work_items SET retry_count = 0, updated_at = ? WHERE panic_location = ?`,
		time.Now().UTC(), panicLocation,
	)
	return err
}

// InsertLog appends a structured log record.
func (s *Store) InsertLog(rec *model.LogRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding log record: %w", err)
	}
	res, err := s.db.Exec(`INSERT INTO logs (payload) VALUES (?)`, string(payload))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

// GetLogs returns up to limit log records, newest first.
func (s *Store) GetLogs(limit int) ([]*model.LogRecord, error) {
	rows, err := s.db.Query(`SELECT id, payload FROM logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLogs(rows)
}

// GetLogsByLocation returns up to limit log records for one panic location,
// newest first.
func (s *Store) GetLogsByLocation(panicLocation string, limit int) ([]*model.LogRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, payload FROM logs
		 WHERE json_extract(payload, '$.panic_location') = ?
		 ORDER BY id DESC LIMIT ?`,
		panicLocation, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLogs(rows)
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (*model.PanicWorkItem, error) {
	item := &model.PanicWorkItem{}
	var status, errJSON string
	err := row.Scan(
		&item.PanicLocation, &item.PanicMessage, &item.SQLStatements,
		&status, &item.BranchName, &item.PRUrl, &item.RetryCount,
		&errJSON, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Status = model.Status(status)
	if errJSON != "" {
		werr := &model.WorkflowError{}
		if err := json.Unmarshal([]byte(errJSON), werr); err != nil {
			return nil, fmt.Errorf("decoding workflow error: %w", err)
		}
		item.WorkflowError = werr
	}
	return item, nil
}

func scanLogs(rows *sql.Rows) ([]*model.LogRecord, error) {
	var records []*model.LogRecord
	for rows.Next() {
		var id int64
		var payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		rec := &model.LogRecord{}
		if err := json.Unmarshal([]byte(payload), rec); err != nil {
			return nil, fmt.Errorf("decoding log record %d: %w", id, err)
		}
		rec.ID = id
		records = append(records, rec)
	}
	return records, rows.Err()
}
