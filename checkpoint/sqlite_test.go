package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestSQLiteManager(t *testing.T) *SQLiteManager {
	t.Helper()
	mgr, err := NewSQLiteManager(filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatalf("NewSQLiteManager failed: %v", err)
	}
	t.Cleanup(func() {
		if err := mgr.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return mgr
}

func TestSQLiteManager(t *testing.T) {
	managerContract(t, newTestSQLiteManager(t))
}

// TestSQLiteManager_Reopen verifies checkpoints survive closing and
// reopening the database file.
func TestSQLiteManager_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	mgr, err := NewSQLiteManager(path)
	if err != nil {
		t.Fatalf("NewSQLiteManager failed: %v", err)
	}
	info, err := mgr.Save(ctx, sampleSnapshot("run-durable", 1))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteManager(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	snap, err := reopened.Load(ctx, info)
	if err != nil {
		t.Fatalf("Load after reopen failed: %v", err)
	}
	if snap.RunID != "run-durable" || len(snap.Messages) != 1 {
		t.Errorf("snapshot lost across reopen: %+v", snap)
	}
	latest, err := reopened.Latest(ctx, "run-durable")
	if err != nil || latest.Step != 1 {
		t.Errorf("Latest after reopen = %+v (%v)", latest, err)
	}
}
