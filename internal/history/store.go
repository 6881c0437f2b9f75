// Package history persists one row per executed command so past runs can be
// inspected via the CLI and status API. Writes are best-effort: the dispatcher
// treats a failed history write as a warning, never as a dispatch failure.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const maxStderrBytes = 64 * 1024

// Status is the terminal state of one executed command.
type Status string

const (
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timed_out"
	StatusSpawnError Status = "spawn_error"
)

// Run is one recorded command execution.
type Run struct {
	ID         string    `json:"id"`
	Rule       string    `json:"rule"`
	Command    string    `json:"command"`
	Path       string    `json:"path"`
	Status     Status    `json:"status"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Stderr     string    `json:"stderr,omitempty"`
}

// Store records and queries run history.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts one run row. The run's ID is assigned here and returned.
func (s *Store) Record(ctx context.Context, run Run) (string, error) {
	if run.Rule == "" {
		return "", fmt.Errorf("rule is empty")
	}
	if run.Command == "" {
		return "", fmt.Errorf("command is empty")
	}

	id := uuid.NewString()
	stderr := run.Stderr
	if len(stderr) > maxStderrBytes {
		stderr = stderr[:maxStderrBytes]
	}

	var exitCode any
	if run.ExitCode != nil {
		exitCode = *run.ExitCode
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO run_log(id, rule, command, path, status, exit_code, started_at, finished_at, stderr)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, run.Rule, run.Command, run.Path, string(run.Status), exitCode,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		stderr)
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	return id, nil
}

// Recent returns the most recent runs, newest first, capped at limit.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, rule, command, path, status, exit_code, started_at, finished_at, stderr
FROM run_log
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r          Run
			statusS    string
			exitCode   sql.NullInt64
			startedS   string
			finishedS  string
			stderrNull sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Rule, &r.Command, &r.Path, &statusS, &exitCode, &startedS, &finishedS, &stderrNull); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = Status(statusS)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			r.ExitCode = &code
		}
		if t, err := time.Parse(time.RFC3339Nano, startedS); err == nil {
			r.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finishedS); err == nil {
			r.FinishedAt = t
		}
		if stderrNull.Valid {
			r.Stderr = stderrNull.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Purge deletes runs older than retention. Returns the number of rows removed.
func (s *Store) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive")
	}

	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_log WHERE started_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
