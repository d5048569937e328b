package governance

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/psantana5/operator-dao/pkg/models"
	"github.com/psantana5/operator-dao/pkg/store"
)

func validateDescription(description string) error {
	if description == "" {
		return ErrInvalidDescription.withMessage("empty")
	}
	if !utf8.ValidString(description) {
		return ErrInvalidDescription.withMessage("not valid UTF-8")
	}
	if n := utf8.RuneCountInString(description); n > models.MaxDescriptionLength {
		return ErrInvalidDescription.withMessage("%d characters, limit %d", n, models.MaxDescriptionLength)
	}
	return nil
}

// createProposal stores a new pending proposal and returns it
func (e *Engine) createProposal(ctx context.Context, tx store.Tx, caller models.Address, description, actionRef string) (*models.Proposal, error) {
	state, err := tx.DAOState()
	if err != nil {
		return nil, err
	}
	if !state.Constructed {
		return nil, ErrNotConstructed
	}

	member, err := tx.IsOperator(caller)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotOperator.withMessage("%s", caller)
	}

	if err := validateDescription(description); err != nil {
		return nil, err
	}
	if _, ok := e.catalog.Lookup(actionRef); !ok {
		return nil, ErrUnknownAction.withMessage("%s", actionRef)
	}

	id, err := tx.NextProposalID()
	if err != nil {
		return nil, err
	}
	p := &models.Proposal{
		ID:          id,
		Description: description,
		ActionRef:   actionRef,
		Proposer:    caller,
		CreatedAt:   e.now(),
	}
	if err := tx.InsertProposal(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Engine) getProposal(tx store.Tx, id uint64) (*models.Proposal, error) {
	p, err := tx.GetProposal(id)
	if errors.Is(err, store.ErrProposalNotFound) {
		return nil, ErrNotFound.withMessage("proposal %d", id)
	}
	return p, err
}
