// Package runlog 记录每次抓取运行的起止、状态与统计，便于排查。
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Status of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// Run is one extraction attempt.
type Run struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Status      Status     `json:"status"`
	Features    int        `json:"features"`
	Subfeatures int        `json:"subfeatures"`
	Failures    int        `json:"failures"`
	Skipped     int        `json:"skipped"`
	Orphans     int        `json:"orphans"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Outcome is what Finish writes back to a run.
type Outcome struct {
	Status      Status
	Features    int
	Subfeatures int
	Failures    int
	Skipped     int
	Orphans     int
	Err         error
}

// Store wraps the sqlite run ledger.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the ledger database.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("runlog path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

func ensureSchema(db *sql.DB) error {
	stmt := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		features INTEGER NOT NULL DEFAULT 0,
		subfeatures INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		orphans INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	_, err := db.Exec(stmt)
	return err
}

func (s *Store) handle() (*sql.DB, error) {
	if s == nil {
		return nil, fmt.Errorf("runlog 未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("runlog 已关闭")
	}
	return s.db, nil
}

// Start inserts a running row and returns its id.
func (s *Store) Start(ctx context.Context, source string) (string, error) {
	db, err := s.handle()
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = db.ExecContext(ctx,
		`INSERT INTO runs(id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		id, strings.TrimSpace(source), string(StatusRunning), s.now().UnixMilli())
	if err != nil {
		return "", err
	}
	return id, nil
}

// Finish closes a run with its outcome.
func (s *Store) Finish(ctx context.Context, id string, out Outcome) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if out.Status == "" || out.Status == StatusRunning {
		return fmt.Errorf("runlog: invalid final status %q", out.Status)
	}
	var msg any
	if out.Err != nil {
		msg = out.Err.Error()
	}
	res, err := db.ExecContext(ctx, `
		UPDATE runs SET status = ?, features = ?, subfeatures = ?, failures = ?,
			skipped = ?, orphans = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		string(out.Status), out.Features, out.Subfeatures, out.Failures,
		out.Skipped, out.Orphans, msg, s.now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("runlog: run %s not found", id)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, source, status, features, subfeatures, failures, skipped, orphans,
		       error, started_at, finished_at
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run      Run
			status   string
			msg      sql.NullString
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.Source, &status, &run.Features, &run.Subfeatures,
			&run.Failures, &run.Skipped, &run.Orphans, &msg, &started, &finished); err != nil {
			return nil, err
		}
		run.Status = Status(status)
		run.Error = msg.String
		run.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			t := time.UnixMilli(finished.Int64)
			run.FinishedAt = &t
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Close closes the underlying db.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
