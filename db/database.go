// db/database.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// InitDB opens the SQLite database at path, verifies the connection and
// ensures the schema exists.
func InitDB(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createSchema(database); err != nil {
		database.Close()
		return nil, err
	}

	log.Printf("Database initialized: %s", path)
	return database, nil
}

func createSchema(database *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		status      TEXT NOT NULL,
		step        TEXT NOT NULL,
		progress    INTEGER NOT NULL DEFAULT 0,
		folder_path TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	);`
	if _, err := database.Exec(schema); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}
	return nil
}

// RunRecord is one generation run as persisted between stages.
type RunRecord struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Step        string    `json:"step"`
	Progress    int       `json:"progress"`
	FolderPath  string    `json:"folder_path,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RunStore persists run progress so history survives the process.
type RunStore struct {
	db *sql.DB
}

func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// CreateRun inserts the initial record for a run. Re-creating an existing
// run is a no-op.
func (s *RunStore) CreateRun(ctx context.Context, id, description string) error {
	query := `INSERT OR IGNORE INTO runs (id, description, status, step, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query, id, description, "in_progress", "planning", now, now)
	if err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}
	return nil
}

// UpdateRun upserts the run's current state. Called once per stage
// transition, so a crashed run keeps its last completed stage on record.
func (s *RunStore) UpdateRun(ctx context.Context, rec RunRecord) error {
	query := `
	INSERT INTO runs (id, description, status, step, progress, folder_path, error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status      = excluded.status,
		step        = excluded.step,
		progress    = excluded.progress,
		folder_path = CASE WHEN excluded.folder_path != '' THEN excluded.folder_path ELSE runs.folder_path END,
		error       = excluded.error,
		updated_at  = excluded.updated_at;`
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Description, rec.Status, rec.Step, rec.Progress, rec.FolderPath, rec.Error, now, now)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", rec.ID, err)
	}
	return nil
}

// ListRuns returns the most recently updated runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, description, status, step, progress, folder_path, error, created_at, updated_at
		FROM runs ORDER BY updated_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.ID, &rec.Description, &rec.Status, &rec.Step, &rec.Progress,
			&rec.FolderPath, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
