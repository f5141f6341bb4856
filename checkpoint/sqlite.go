package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteManager is a SQLite-backed Manager.
//
// It stores snapshots in a single-file database and is designed for:
//   - Development and testing with zero setup
//   - Single-process workflows that need durable resume points
//   - Prototyping before migrating to a server-backed manager
//
// The database uses WAL mode so readers never block on the writer, and
// every Save runs in a transaction. The schema is created on first use.
//
// Schema:
//   - run_checkpoints: one row per (run_id, step) with the serialized
//     snapshot; UNIQUE(run_id, step) enforces the append-only contract.
type SQLiteManager struct {
	db   *sql.DB
	path string
}

// NewSQLiteManager opens (or creates) a SQLite-backed checkpoint store.
//
// The path parameter specifies the database file location:
//   - "./checkpoints.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// Example:
//
//	mgr, err := checkpoint.NewSQLiteManager("./checkpoints.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close()
func NewSQLiteManager(path string) (*SQLiteManager, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	m := &SQLiteManager{db: db, path: path}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return m, nil
}

func (m *SQLiteManager) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS run_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			checkpoint_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			label TEXT DEFAULT '',
			snapshot TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(run_id, step)
		)
	`
	if _, err := m.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create run_checkpoints table: %w", err)
	}
	if _, err := m.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_run_checkpoints_run ON run_checkpoints(run_id, step)"); err != nil {
		return fmt.Errorf("failed to create idx_run_checkpoints_run: %w", err)
	}
	return nil
}

// Save implements Manager. The UNIQUE(run_id, step) constraint turns a
// duplicate commit into ErrAlreadyExists.
func (m *SQLiteManager) Save(ctx context.Context, snap Snapshot) (Info, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return Info{}, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	info := Info{
		ID:        snap.ComputeID(),
		RunID:     snap.RunID,
		Step:      snap.Step,
		Label:     snap.Label,
		Timestamp: time.Now().UTC(),
	}

	var exists int
	err = m.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM run_checkpoints WHERE run_id = ? AND step = ?",
		snap.RunID, snap.Step).Scan(&exists)
	if err != nil {
		return Info{}, fmt.Errorf("failed to check existing checkpoint: %w", err)
	}
	if exists > 0 {
		return Info{}, ErrAlreadyExists
	}

	_, err = m.db.ExecContext(ctx,
		`INSERT INTO run_checkpoints (checkpoint_id, run_id, step, label, snapshot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		info.ID, info.RunID, info.Step, info.Label, string(data), info.Timestamp)
	if err != nil {
		return Info{}, fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return info, nil
}

// Load implements Manager.
func (m *SQLiteManager) Load(ctx context.Context, info Info) (Snapshot, error) {
	var data string
	var storedID string
	err := m.db.QueryRowContext(ctx,
		"SELECT checkpoint_id, snapshot FROM run_checkpoints WHERE run_id = ? AND step = ?",
		info.RunID, info.Step).Scan(&storedID, &data)
	if err == sql.ErrNoRows {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query checkpoint: %w", err)
	}
	if info.ID != "" && info.ID != storedID {
		return Snapshot{}, ErrNotFound
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// List implements Manager.
func (m *SQLiteManager) List(ctx context.Context, runID string) ([]Info, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT checkpoint_id, run_id, step, label, created_at
		 FROM run_checkpoints WHERE run_id = ? ORDER BY step ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var infos []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.ID, &info.RunID, &info.Step, &info.Label, &info.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoint rows: %w", err)
	}
	if infos == nil {
		infos = []Info{}
	}
	return infos, nil
}

// Latest implements Manager.
func (m *SQLiteManager) Latest(ctx context.Context, runID string) (Info, error) {
	var info Info
	err := m.db.QueryRowContext(ctx,
		`SELECT checkpoint_id, run_id, step, label, created_at
		 FROM run_checkpoints WHERE run_id = ? ORDER BY step DESC LIMIT 1`, runID).
		Scan(&info.ID, &info.RunID, &info.Step, &info.Label, &info.Timestamp)
	if err == sql.ErrNoRows {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, fmt.Errorf("failed to query latest checkpoint: %w", err)
	}
	return info, nil
}

// Close releases the underlying database connection.
func (m *SQLiteManager) Close() error {
	return m.db.Close()
}
