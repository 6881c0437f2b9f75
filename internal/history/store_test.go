package history

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/vigil/internal/storage"
)

func setupStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewStore(db), db
}

func TestRecordAndRecent(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	code := 0
	now := time.Now()
	id, err := store.Record(ctx, Run{
		Rule:       "rust",
		Command:    "check",
		Path:       "src/main.rs",
		Status:     StatusSucceeded,
		ExitCode:   &code,
		StartedAt:  now,
		FinishedAt: now.Add(2 * time.Second),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id == "" {
		t.Fatal("Record returned empty id")
	}

	runs, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}

	r := runs[0]
	if r.ID != id || r.Rule != "rust" || r.Command != "check" || r.Path != "src/main.rs" {
		t.Errorf("unexpected run: %+v", r)
	}
	if r.Status != StatusSucceeded {
		t.Errorf("unexpected status: %s", r.Status)
	}
	if r.ExitCode == nil || *r.ExitCode != 0 {
		t.Errorf("unexpected exit code: %v", r.ExitCode)
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		_, err := store.Record(ctx, Run{
			Rule:       "r",
			Command:    "c",
			Path:       "p",
			Status:     StatusFailed,
			StartedAt:  base.Add(time.Duration(i) * time.Second),
			FinishedAt: base.Add(time.Duration(i+1) * time.Second),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	runs, err := store.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if !runs[0].StartedAt.After(runs[2].StartedAt) {
		t.Error("runs not ordered newest first")
	}
}

func TestRecordTruncatesStderr(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	big := strings.Repeat("x", maxStderrBytes+100)
	now := time.Now()
	_, err := store.Record(ctx, Run{
		Rule:       "r",
		Command:    "c",
		Path:       "p",
		Status:     StatusFailed,
		StartedAt:  now,
		FinishedAt: now,
		Stderr:     big,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	runs, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs[0].Stderr) != maxStderrBytes {
		t.Errorf("stderr not truncated: %d bytes", len(runs[0].Stderr))
	}
}

func TestRecordRejectsEmptyFields(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	if _, err := store.Record(ctx, Run{Command: "c"}); err == nil {
		t.Error("expected error for empty rule")
	}
	if _, err := store.Record(ctx, Run{Rule: "r"}); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestPurge(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()

	for _, started := range []time.Time{old, fresh} {
		_, err := store.Record(ctx, Run{
			Rule: "r", Command: "c", Path: "p",
			Status: StatusSucceeded, StartedAt: started, FinishedAt: started,
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	n, err := store.Purge(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged row, got %d", n)
	}

	runs, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 remaining run, got %d", len(runs))
	}
}
