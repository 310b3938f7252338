package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"driftsync/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// SQLiteStore keeps the pending set in a one-row key/value table so a relaunch
// recovers exactly the last persisted state.
type SQLiteStore struct {
	db  *sql.DB
	key string
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to store database: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS sync_state (
        key TEXT PRIMARY KEY,
        value BLOB NOT NULL,
        updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sync_state table: %w", err)
	}

	return &SQLiteStore{db: db, key: StorageKey}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]models.PendingOperation, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, s.key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending operations: %w", err)
	}
	return decodeOps(blob)
}

func (s *SQLiteStore) Save(ctx context.Context, ops []models.PendingOperation) error {
	data, err := encodeOps(ops)
	if err != nil {
		return err
	}

	query := `INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, s.key, data); err != nil {
		return fmt.Errorf("failed to save pending operations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_state WHERE key = ?`, s.key); err != nil {
		return fmt.Errorf("failed to clear pending operations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
