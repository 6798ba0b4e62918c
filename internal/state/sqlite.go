package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

// SQLiteStore persists snapshots in an append-only table. Each record gets
// a monotonic ULID so rows sort by commit order even across process
// restarts within the same millisecond.
type SQLiteStore struct {
	db   *sql.DB
	path string

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// OpenSQLite opens (creating if needed) the snapshot database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    path,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		record_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		payload_json TEXT NOT NULL,
		saved_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_seq ON snapshots(run_id, seq DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	s.mu.Lock()
	recordID, err := ulid.New(ulid.Timestamp(time.Now()), s.entropy)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("snapshot record id: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (record_id, run_id, seq, payload_json, saved_at)
		VALUES (?, ?, ?, ?, ?)
	`, recordID.String(), snap.RunID, snap.Seq, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Latest(ctx context.Context) (*Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload_json FROM snapshots ORDER BY record_id DESC LIMIT 1
	`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
