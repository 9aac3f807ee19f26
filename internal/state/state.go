// Package state records run history in a SQLite database at the output
// directory root. The mailbox directories themselves stay the source of
// truth for what is downloaded; the run log is bookkeeping only and a
// failure here never fails the session.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const runDBFile = "sync.sqlite"

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	account     TEXT NOT NULL,
	mailbox     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	started_at  DATETIME,
	finished_at DATETIME,
	downloaded  INTEGER NOT NULL DEFAULT 0,
	error       TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_account ON runs(account, mailbox);
`

// RunStatus represents the state of a recorded run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

// Run is one client invocation against one mailbox.
type Run struct {
	ID         string
	Account    string
	Mailbox    string
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Downloaded int
	Error      string
}

// NewID generates a UUIDv7 (time-ordered) identifier.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// DB is the run-history database.
type DB struct {
	db *sql.DB
}

// Open opens or creates the run-history database under dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(dir, runDBFile)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open run db: %w", err)
	}
	if _, err := db.Exec(createTablesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init run db: %w", err)
	}
	return &DB{db: db}, nil
}

// Close releases the database connection.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// CreateRun inserts a new run record in the running state.
func (d *DB) CreateRun(account, mailbox string) (*Run, error) {
	run := Run{
		ID:        NewID(),
		Account:   account,
		Mailbox:   mailbox,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}
	_, err := d.db.Exec(
		`INSERT INTO runs (id, account, mailbox, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Account, run.Mailbox, run.Status, run.StartedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FinishRun records a run's outcome.
func (d *DB) FinishRun(run *Run, downloaded int, runErr error) error {
	now := time.Now()
	run.FinishedAt = &now
	run.Downloaded = downloaded
	if runErr != nil {
		run.Status = RunStatusFailed
		run.Error = runErr.Error()
	} else {
		run.Status = RunStatusDone
	}
	_, err := d.db.Exec(
		`UPDATE runs SET status = ?, finished_at = ?, downloaded = ?, error = ? WHERE id = ?`,
		run.Status, run.FinishedAt, run.Downloaded, run.Error, run.ID,
	)
	return err
}

// LastRun returns the most recent run for an account and mailbox.
func (d *DB) LastRun(account, mailbox string) (*Run, error) {
	row := d.db.QueryRow(
		`SELECT id, account, mailbox, status, started_at, finished_at, downloaded, error
		 FROM runs WHERE account = ? AND mailbox = ? ORDER BY started_at DESC LIMIT 1`,
		account, mailbox,
	)

	var run Run
	var errText sql.NullString
	err := row.Scan(&run.ID, &run.Account, &run.Mailbox, &run.Status,
		&run.StartedAt, &run.FinishedAt, &run.Downloaded, &errText)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.Error = errText.String
	return &run, nil
}
