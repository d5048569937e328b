package store

import (
	"context"
	"errors"
	"time"

	"github.com/psantana5/operator-dao/pkg/models"
)

var (
	ErrProposalNotFound = errors.New("proposal not found")
	ErrDuplicateVote    = errors.New("vote already recorded")
	ErrReadOnly         = errors.New("write in read-only transaction")
)

// Store is the host ledger. Every mutation runs inside Update, which
// serializes callers and applies all writes of fn or none of them.
type Store interface {
	// Update runs fn in a read-write transaction.
	// If fn returns an error every write it made is discarded.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn against a consistent snapshot; writes fail with ErrReadOnly
	View(ctx context.Context, fn func(Tx) error) error

	// Lifecycle
	Close() error
	HealthCheck() error
}

// Tx exposes ledger state inside a transaction
type Tx interface {
	// DAO core state
	DAOState() (models.DAOState, error)
	PutDAOState(state models.DAOState) error

	// Operator set
	IsOperator(addr models.Address) (bool, error)
	AddOperator(op models.Operator) (added bool, err error)
	RemoveOperator(addr models.Address) (removed bool, err error)
	ListOperators() ([]models.Operator, error)
	CountOperators() (int, error)

	// Registered extensions
	RegisterExtension(ext models.Extension) error
	IsExtension(ref string) (bool, error)
	ListExtensions() ([]models.Extension, error)

	// Proposals and votes
	NextProposalID() (uint64, error)
	InsertProposal(p *models.Proposal) error
	GetProposal(id uint64) (*models.Proposal, error)
	ListProposals() ([]*models.Proposal, error)
	PutVote(proposalID uint64, vote models.Vote) error
	UpdateProposal(p *models.Proposal) error

	// Treasury and accounts
	TreasuryBalance() (uint64, error)
	SetTreasuryBalance(amount uint64) error
	Balance(addr models.Address) (uint64, error)
	Credit(addr models.Address, amount uint64) error
	InsertTransfer(r *models.TransferReceipt) error
	ListTransfers() ([]models.TransferReceipt, error)
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // Connection string

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// SQLite specific
	Path string
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "dao.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}

var (
	ErrUnsupportedDatabase = NewError("unsupported database type")
)

// NewError creates a new error with message
func NewError(message string) error {
	return &storeError{message: message}
}

type storeError struct {
	message string
}

func (e *storeError) Error() string {
	return e.message
}
