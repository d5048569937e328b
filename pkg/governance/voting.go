package governance

import (
	"context"

	"github.com/psantana5/operator-dao/pkg/models"
	"github.com/psantana5/operator-dao/pkg/store"
)

// signalOutcome is what a committed signal did
type signalOutcome struct {
	proposal *models.Proposal
	executed bool
	kind     models.ActionKind
}

// signal records a vote and, when the approve-count reaches the threshold,
// executes the proposal's action in the same transaction.
func (e *Engine) signal(ctx context.Context, tx store.Tx, caller models.Address, id uint64, approve bool, actionRef string) (*signalOutcome, error) {
	member, err := tx.IsOperator(caller)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotOperator.withMessage("%s", caller)
	}

	p, err := e.getProposal(tx, id)
	if err != nil {
		return nil, err
	}
	if !models.AcceptsVotes(p.Status()) {
		return nil, ErrAlreadyExecuted.withMessage("proposal %d", id)
	}
	if p.HasVoted(caller) {
		return nil, ErrAlreadyVoted.withMessage("%s on proposal %d", caller, id)
	}
	if actionRef != p.ActionRef {
		return nil, ErrActionMismatch.withMessage("proposal %d runs %s, not %s", id, p.ActionRef, actionRef)
	}

	vote := models.Vote{Voter: caller, Approve: approve, CastAt: e.now()}
	if err := tx.PutVote(id, vote); err != nil {
		return nil, err
	}
	p.Votes = append(p.Votes, vote)

	out := &signalOutcome{proposal: p}
	if p.ApproveCount() < e.threshold {
		return out, nil
	}

	approval := withFrame(ctx, frame{origin: originProposal, proposalID: id, ref: p.ActionRef})
	kind, err := e.dispatcher.ExecuteExtension(approval, tx, p.ActionRef)
	if err != nil {
		return nil, err
	}

	if err := models.ValidateTransition(p.Status(), models.ProposalStatusExecuted); err != nil {
		return nil, err
	}
	now := e.now()
	p.StateTransitions = append(p.StateTransitions, models.StateTransition{
		From:      models.ProposalStatusPending,
		To:        models.ProposalStatusExecuted,
		Timestamp: now,
		Reason:    "approve threshold reached",
	})
	p.Executed = true
	p.ExecutedAt = &now
	if err := tx.UpdateProposal(p); err != nil {
		return nil, err
	}

	out.executed = true
	out.kind = kind
	return out, nil
}
