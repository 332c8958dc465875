package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"llmcourier/internal/domain"
)

// Record is one persisted task outcome within a run.
type Record struct {
	RunID     string
	TaskID    string
	State     domain.TaskState
	Attempts  int
	Status    int
	Content   string
	Error     string
	CreatedAt time.Time
}

// SQLiteJournal persists dispatch results to a SQLite database so runs can
// be inspected after the fact.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) a SQLite database at dbPath and runs
// the schema migration.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS results (
			run_id      TEXT NOT NULL,
			task_id     TEXT NOT NULL,
			state       TEXT NOT NULL,
			attempts    INTEGER NOT NULL,
			http_status INTEGER NOT NULL DEFAULT 0,
			content     TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			PRIMARY KEY (run_id, task_id)
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// RecordRun stores every result of a dispatch run under runID in a single
// transaction.
func (j *SQLiteJournal) RecordRun(ctx context.Context, runID string, results []domain.TaskResult) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	stmt, err := tx.Prepare(
		"INSERT OR REPLACE INTO results (run_id, task_id, state, attempts, http_status, content, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("prepare journal insert: %w", err)
	}
	defer stmt.Close()

	for _, res := range results {
		errText := ""
		if res.Err != nil {
			errText = res.Err.Error()
		}
		if _, err := stmt.Exec(
			runID, res.ID, res.State.String(), res.AttemptsMade, res.Status,
			resultContent(res), errText, now,
		); err != nil {
			return fmt.Errorf("insert journal row: %w", err)
		}
	}
	return tx.Commit()
}

// ListRun returns every record of a run in task insertion order.
func (j *SQLiteJournal) ListRun(ctx context.Context, runID string) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT run_id, task_id, state, attempts, http_status, content, error, created_at FROM results WHERE run_id = ? ORDER BY rowid",
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var state, createdStr string
		if err := rows.Scan(&r.RunID, &r.TaskID, &state, &r.Attempts, &r.Status, &r.Content, &r.Error, &createdStr); err != nil {
			return nil, err
		}
		r.State = parseState(state)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, r)
	}
	return records, rows.Err()
}

func parseState(s string) domain.TaskState {
	switch s {
	case "pending":
		return domain.TaskPending
	case "in_flight":
		return domain.TaskInFlight
	case "retry_scheduled":
		return domain.TaskRetryScheduled
	case "succeeded":
		return domain.TaskSucceeded
	default:
		return domain.TaskFailed
	}
}

// resultContent flattens a result body for storage: the buffered response
// for plain tasks, the accumulated delta text for streamed ones.
func resultContent(res domain.TaskResult) string {
	if len(res.Body) > 0 {
		return string(res.Body)
	}
	var text string
	for _, ev := range res.Events {
		if ev.Kind == domain.EventDelta {
			text += ev.DeltaText
		}
	}
	return text
}
