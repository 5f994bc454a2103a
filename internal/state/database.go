package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database manages the SQLite database backing the persistent job registry.
type Database struct {
	db     *sql.DB
	dbPath string
}

// NewDatabase opens (creating if necessary) the job state database.
func NewDatabase(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	database := &Database{db: db, dbPath: dbPath}
	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return database, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// initSchema initializes the database schema.
func (d *Database) initSchema() error {
	schema := `
	-- Inference jobs table. Previews are deliberately not persisted:
	-- they are ephemeral and large, and a restarted process has no
	-- runner to refresh them.
	CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		current_frame INTEGER NOT NULL DEFAULT 0,
		total_frames INTEGER NOT NULL DEFAULT 0,
		fps REAL NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		video_path TEXT NOT NULL,
		output_path TEXT NOT NULL,
		model_type TEXT NOT NULL,
		cancel_requested BOOLEAN NOT NULL DEFAULT 0,
		result_file TEXT,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
