package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/termrun/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the database file; use ":memory:" for in-memory.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// A single connection avoids SQLITE_BUSY between the manager's
	// write-through upserts and concurrent List readers.
	d.SetMaxOpenConns(1)
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions(
			session_id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			log_file TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

// Upsert inserts or replaces the row for rec.SessionID. created_at is kept
// from the first insert; everything else reflects the latest call.
func (s *DB) Upsert(ctx context.Context, rec store.Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(session_id, command, status, created_at, updated_at, log_file)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			command=excluded.command,
			status=excluded.status,
			updated_at=excluded.updated_at,
			log_file=excluded.log_file;`,
		rec.SessionID, rec.Command, rec.Status, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(), rec.LogFile)
	return err
}

func (s *DB) GetByID(ctx context.Context, id string) (store.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, command, status, created_at, updated_at, log_file
		FROM sessions WHERE session_id=?;`, id)
	var r store.Record
	err := row.Scan(&r.SessionID, &r.Command, &r.Status, &r.CreatedAt, &r.UpdatedAt, &r.LogFile)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, err
	}
	return r, nil
}

func (s *DB) List(ctx context.Context) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, command, status, created_at, updated_at, log_file
		FROM sessions ORDER BY created_at;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	out := make([]store.Record, 0)
	for rows.Next() {
		var r store.Record
		if err := rows.Scan(&r.SessionID, &r.Command, &r.Status, &r.CreatedAt, &r.UpdatedAt, &r.LogFile); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
