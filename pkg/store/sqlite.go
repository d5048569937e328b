package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a SQLite-based implementation of the host ledger
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// - _journal_mode=WAL: readers do not block the writer
	// - _busy_timeout=10000: wait up to 10 seconds when the database is locked
	// - _synchronous=NORMAL: durable at WAL checkpoints
	// - _txlock=immediate: take the write lock at BEGIN
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dao_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		constructed BOOLEAN NOT NULL DEFAULT 0,
		constructed_by TEXT,
		constructed_at DATETIME,
		bootstrap_ref TEXT,
		last_proposal_id INTEGER NOT NULL DEFAULT 0,
		treasury_balance INTEGER NOT NULL DEFAULT 0
	);

	INSERT INTO dao_state (id) VALUES (1) ON CONFLICT (id) DO NOTHING;

	CREATE TABLE IF NOT EXISTS operators (
		address TEXT PRIMARY KEY,
		added_at DATETIME NOT NULL,
		proposal_id INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS extensions (
		ref TEXT PRIMARY KEY,
		registered_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS proposals (
		id INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		action_ref TEXT NOT NULL,
		proposer TEXT NOT NULL,
		executed BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		executed_at DATETIME,
		state_transitions TEXT
	);

	CREATE TABLE IF NOT EXISTS votes (
		proposal_id INTEGER NOT NULL REFERENCES proposals(id),
		voter TEXT NOT NULL,
		approve BOOLEAN NOT NULL,
		cast_at DATETIME NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (proposal_id, voter)
	);

	CREATE TABLE IF NOT EXISTS balances (
		address TEXT PRIMARY KEY,
		amount INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		proposal_id INTEGER NOT NULL,
		action_ref TEXT NOT NULL,
		recipient TEXT NOT NULL,
		amount INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_proposals_executed ON proposals(executed);
	CREATE INDEX IF NOT EXISTS idx_transfers_seq ON transfers(seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Update runs fn in an immediate transaction and commits if fn succeeds
func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx, rebind: noRebind}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// View runs fn in a transaction that is always rolled back
func (s *SQLiteStore) View(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	return fn(&sqlTx{tx: tx, rebind: noRebind, readOnly: true})
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies database connectivity
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}
