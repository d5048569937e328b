package models

import (
	"time"
)

// DAOState guards the one-time bootstrap and the proposal id counter (last id allocated, 0 before any)
type DAOState struct {
	Constructed    bool       `json:"constructed"`
	ConstructedBy  Address    `json:"constructed_by,omitempty"`
	ConstructedAt  *time.Time `json:"constructed_at,omitempty"`
	BootstrapRef   string     `json:"bootstrap_ref,omitempty"`
	LastProposalID uint64     `json:"last_proposal_id"`
}

// TreasuryAccount is the custodial balance
type TreasuryAccount struct {
	Balance uint64 `json:"balance"`
}

// TransferReceipt records one treasury release
type TransferReceipt struct {
	ID         string    `json:"id"`
	ProposalID uint64    `json:"proposal_id"`
	ActionRef  string    `json:"action_ref"`
	Recipient  Address   `json:"recipient"`
	Amount     uint64    `json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
}
