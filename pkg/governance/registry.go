package governance

import (
	"context"
	"time"

	"github.com/psantana5/operator-dao/pkg/models"
	"github.com/psantana5/operator-dao/pkg/store"
)

// Registry is the operator set as seen from one transaction.
// Lookups are open to anyone; membership changes need an active
// execution frame.
type Registry struct {
	tx  store.Tx
	now func() time.Time
}

// IsOperator never fails for an unknown address; it returns false
func (r *Registry) IsOperator(addr models.Address) (bool, error) {
	return r.tx.IsOperator(addr)
}

// Count returns the current operator-set size
func (r *Registry) Count() (int, error) {
	return r.tx.CountOperators()
}

// Add grants membership. It reports false when addr was already a member.
func (r *Registry) Add(ctx context.Context, addr models.Address) (bool, error) {
	f, ok := frameFrom(ctx)
	if !ok || !f.active {
		return false, ErrUnauthorized.withMessage("operator set changes only inside an executing action")
	}
	if !addr.Valid() {
		return false, ErrInvalidAddress.withMessage("%q", addr)
	}
	return r.tx.AddOperator(models.Operator{
		Address:    addr,
		AddedAt:    r.now(),
		ProposalID: f.proposalID,
	})
}

// Remove revokes membership. It reports false when addr was not a member.
func (r *Registry) Remove(ctx context.Context, addr models.Address) (bool, error) {
	if !InExecution(ctx) {
		return false, ErrUnauthorized.withMessage("operator set changes only inside an executing action")
	}
	return r.tx.RemoveOperator(addr)
}
