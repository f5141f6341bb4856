package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLManager is a MySQL/MariaDB-backed Manager.
//
// Designed for:
//   - Production workflows requiring durable resume points
//   - Hosts running many workflow instances against one database
//   - Audit trails of step-granular execution history
//
// The manager uses connection pooling and relies on the UNIQUE(run_id,
// step) constraint for the append-only contract, so concurrent writers
// for distinct runs never interfere.
type MySQLManager struct {
	db *sql.DB
}

// NewMySQLManager creates a MySQL-backed checkpoint store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Security Warning:
//
//	NEVER hardcode credentials in your source code. Use environment
//	variables:
//	    dsn := os.Getenv("MYSQL_DSN")
//	    mgr, err := checkpoint.NewMySQLManager(dsn)
//
// The manager automatically creates required tables if they don't exist
// and configures connection pooling with sensible defaults.
//
// Example:
//
//	mgr, err := checkpoint.NewMySQLManager("user:pass@tcp(localhost:3306)/workflows?parseTime=true")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close()
func NewMySQLManager(dsn string) (*MySQLManager, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLManager{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return m, nil
}

func (m *MySQLManager) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS run_checkpoints (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			checkpoint_id VARCHAR(80) NOT NULL,
			run_id VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			label VARCHAR(255) NOT NULL DEFAULT '',
			snapshot LONGTEXT NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			UNIQUE KEY uniq_run_step (run_id, step),
			KEY idx_run (run_id)
		)
	`
	if _, err := m.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create run_checkpoints table: %w", err)
	}
	return nil
}

// Save implements Manager. A duplicate (run id, step) commit surfaces as
// ErrAlreadyExists via the unique key.
func (m *MySQLManager) Save(ctx context.Context, snap Snapshot) (Info, error) {
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

	_, err = m.db.ExecContext(ctx,
		`INSERT INTO run_checkpoints (checkpoint_id, run_id, step, label, snapshot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		info.ID, info.RunID, info.Step, info.Label, string(data), info.Timestamp)
	if err != nil {
		if isDuplicateKey(err) {
			return Info{}, ErrAlreadyExists
		}
		return Info{}, fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return info, nil
}

// isDuplicateKey detects MySQL error 1062 without depending on the
// driver's error type.
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Error 1062")
}

// Load implements Manager.
func (m *MySQLManager) Load(ctx context.Context, info Info) (Snapshot, error) {
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
func (m *MySQLManager) List(ctx context.Context, runID string) ([]Info, error) {
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
func (m *MySQLManager) Latest(ctx context.Context, runID string) (Info, error) {
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

// Close releases the underlying connection pool.
func (m *MySQLManager) Close() error {
	return m.db.Close()
}
