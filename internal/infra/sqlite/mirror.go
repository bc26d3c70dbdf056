// Package sqlite keeps the client's pending progress queues in a local SQLite
// file so unsent work survives a restart.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"assessment-sync/internal/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS pending_progress (
	subject_id TEXT PRIMARY KEY,
	entries    TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// Mirror is a progress.Mirror backed by one row per subject.
type Mirror struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to the SQLite database at dsn and creates the table.
func Open(dsn string) (*Mirror, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Mirror{db: db, now: time.Now}, nil
}

func (m *Mirror) Close() error {
	return m.db.Close()
}

func (m *Mirror) Save(ctx context.Context, subjectID string, entries []domain.PendingEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO pending_progress (subject_id, entries, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(subject_id) DO UPDATE SET entries = excluded.entries, updated_at = excluded.updated_at`,
		subjectID, string(raw), m.now().UTC())
	if err != nil {
		return fmt.Errorf("save pending: %w", err)
	}
	return nil
}

func (m *Mirror) Load(ctx context.Context, subjectID string) ([]domain.PendingEntry, error) {
	var raw string
	err := m.db.QueryRowContext(ctx, `SELECT entries FROM pending_progress WHERE subject_id = ?`, subjectID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending: %w", err)
	}
	var entries []domain.PendingEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode pending: %w", err)
	}
	return entries, nil
}

func (m *Mirror) Discard(ctx context.Context, subjectID string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM pending_progress WHERE subject_id = ?`, subjectID)
	return err
}

// Subjects lists subjects with mirrored work, oldest first.
func (m *Mirror) Subjects(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT subject_id FROM pending_progress ORDER BY updated_at, subject_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// DefaultPath resolves the mirror file: $ASSESSMENT_SYNC_DB, then
// $XDG_DATA_HOME/assessment-sync/pending.db, then ~/.local/share.
func DefaultPath() (string, error) {
	if p := os.Getenv("ASSESSMENT_SYNC_DB"); p != "" {
		return p, ensureDir(p)
	}
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	p := filepath.Join(dataHome, "assessment-sync", "pending.db")
	return p, ensureDir(p)
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
