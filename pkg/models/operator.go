package models

import (
	"math"
	"time"
)

// MaxAmount is the largest balance or transfer the ledger can hold
const MaxAmount = math.MaxInt64

// Operator is a member of the operator set.
// ProposalID is 0 for operators seeded by the bootstrap action.
type Operator struct {
	Address    Address   `json:"address"`
	AddedAt    time.Time `json:"added_at"`
	ProposalID uint64    `json:"proposal_id,omitempty"`
}

// Extension is an action reference authorized to run privileged operations
type Extension struct {
	Ref          string    `json:"ref"`
	RegisteredAt time.Time `json:"registered_at"`
}
