package api

import "github.com/psantana5/operator-dao/pkg/models"

// ConstructRequest is the body of POST /construct
type ConstructRequest struct {
	BootstrapRef string `json:"bootstrap_ref"`
}

// CreateProposalRequest is the body of POST /proposals
type CreateProposalRequest struct {
	Description string `json:"description"`
	ActionRef   string `json:"action_ref"`
}

// SignalRequest is the body of POST /proposals/{id}/signal. Approve is
// required; a vote is permanent, so a missing field is never read as reject.
type SignalRequest struct {
	Approve   *bool  `json:"approve"`
	ActionRef string `json:"action_ref"`
}

func NewSignalRequest(approve bool, actionRef string) SignalRequest {
	return SignalRequest{Approve: &approve, ActionRef: actionRef}
}

// DepositRequest is the body of POST /treasury/deposit
type DepositRequest struct {
	Amount uint64 `json:"amount"`
}

type ConstructResponse struct {
	Constructed bool `json:"constructed"`
}

type CreateProposalResponse struct {
	ID uint64 `json:"id"`
}

// SignalResponse reports the vote and whether it executed the proposal
type SignalResponse struct {
	Recorded  bool   `json:"recorded"`
	Executed  bool   `json:"executed"`
	Approvals int    `json:"approvals"`
	Rejects   int    `json:"rejects"`
	ID        uint64 `json:"id"`
}

// ProposalResponse is a proposal plus its derived tallies
type ProposalResponse struct {
	*models.Proposal
	Status    models.ProposalStatus `json:"status"`
	Approvals int                   `json:"approvals"`
	Rejects   int                   `json:"rejects"`
}

type ApprovedResponse struct {
	ID       uint64 `json:"id"`
	Approved bool   `json:"approved"`
}

type OperatorCheckResponse struct {
	Address    models.Address `json:"address"`
	IsOperator bool           `json:"is_operator"`
}

type TreasuryResponse struct {
	Balance uint64 `json:"balance"`
}

type BalanceResponse struct {
	Address models.Address `json:"address"`
	Balance uint64         `json:"balance"`
}

// ErrorResponse is the body of every non-2xx reply. Code is the
// governance error code, or 0 for transport and internal failures.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func toProposalResponse(p *models.Proposal) ProposalResponse {
	return ProposalResponse{
		Proposal:  p,
		Status:    p.Status(),
		Approvals: p.ApproveCount(),
		Rejects:   p.RejectCount(),
	}
}
