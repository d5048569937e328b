package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// PostgreSQLStore implements Store using PostgreSQL
type PostgreSQLStore struct {
	db *sql.DB
	mu sync.Mutex // Serializes Update across the pool
}

// NewPostgreSQLStore creates a new PostgreSQL store
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	dsn := config.DSN
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25) // Default
	}

	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5) // Default
	}

	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute) // Default
	}

	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(1 * time.Minute) // Default
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *PostgreSQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dao_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		constructed BOOLEAN NOT NULL DEFAULT FALSE,
		constructed_by TEXT,
		constructed_at TIMESTAMPTZ,
		bootstrap_ref TEXT,
		last_proposal_id BIGINT NOT NULL DEFAULT 0,
		treasury_balance BIGINT NOT NULL DEFAULT 0
	);

	INSERT INTO dao_state (id) VALUES (1) ON CONFLICT (id) DO NOTHING;

	CREATE TABLE IF NOT EXISTS operators (
		address TEXT PRIMARY KEY,
		added_at TIMESTAMPTZ NOT NULL,
		proposal_id BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS extensions (
		ref TEXT PRIMARY KEY,
		registered_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS proposals (
		id BIGINT PRIMARY KEY,
		description TEXT NOT NULL,
		action_ref TEXT NOT NULL,
		proposer TEXT NOT NULL,
		executed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		executed_at TIMESTAMPTZ,
		state_transitions TEXT
	);

	CREATE TABLE IF NOT EXISTS votes (
		proposal_id BIGINT NOT NULL REFERENCES proposals(id),
		voter TEXT NOT NULL,
		approve BOOLEAN NOT NULL,
		cast_at TIMESTAMPTZ NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (proposal_id, voter)
	);

	CREATE TABLE IF NOT EXISTS balances (
		address TEXT PRIMARY KEY,
		amount BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		proposal_id BIGINT NOT NULL,
		action_ref TEXT NOT NULL,
		recipient TEXT NOT NULL,
		amount BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_proposals_executed ON proposals(executed);
	CREATE INDEX IF NOT EXISTS idx_transfers_seq ON transfers(seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Update runs fn in a serializable transaction and commits if fn succeeds
func (s *PostgreSQLStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx, rebind: questionToDollar}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// View runs fn in a read-only repeatable-read transaction
func (s *PostgreSQLStore) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	return fn(&sqlTx{tx: tx, rebind: questionToDollar, readOnly: true})
}

// Close closes the database connection
func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies database connectivity
func (s *PostgreSQLStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}
