// Package journal persists the terminal outcome of every sync request to a
// SQLite database, feeding diagnostics and the history CLI command.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/cubelabs/stormsync/internal/updater"
	"github.com/cubelabs/stormsync/migrations"
)

// Entry is one journalled sync outcome.
type Entry struct {
	RequestID  string
	Kind       string
	Phase      string
	Error      string
	Bytes      int64
	BytesTotal int64
	StartedAt  time.Time
	FinishedAt time.Time
}

// Journal is a SQLite-backed sync history. It implements updater.Recorder.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at dbPath, applying WAL mode
// and pending migrations.
func Open(dbPath string) (*Journal, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Journal{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record implements updater.Recorder.
func (j *Journal) Record(ctx context.Context, rec updater.Record) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sync_history (id, kind, phase, error, bytes, bytes_total, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID,
		string(rec.Kind),
		rec.Phase.String(),
		rec.Error,
		rec.Bytes,
		rec.BytesTotal,
		rec.StartedAt.UTC().Format(time.RFC3339),
		rec.FinishedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert sync history: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first, capped at limit.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, kind, phase, error, bytes, bytes_total, started_at, finished_at
		FROM sync_history
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var startedAt, finishedAt string
		if err := rows.Scan(&e.RequestID, &e.Kind, &e.Phase, &e.Error, &e.Bytes, &e.BytesTotal, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan sync history row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
			e.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339, finishedAt); err == nil {
			e.FinishedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync history: %w", err)
	}
	return entries, nil
}
