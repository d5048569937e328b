package governance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/psantana5/operator-dao/pkg/models"
	"github.com/psantana5/operator-dao/pkg/store"
)

// Treasury guards the custodial balance. Only an action applied on behalf
// of an executed proposal may debit it; anyone may deposit.
type Treasury struct {
	tx  store.Tx
	now func() time.Time
}

// Balance returns the custodial balance
func (t *Treasury) Balance() (uint64, error) {
	return t.tx.TreasuryBalance()
}

// Transfer debits the treasury and credits recipient on the host ledger
func (t *Treasury) Transfer(ctx context.Context, amount uint64, recipient models.Address) (*models.TransferReceipt, error) {
	f, ok := frameFrom(ctx)
	if !ok || !f.active || f.origin != originProposal {
		return nil, ErrUnauthorized.withMessage("treasury debits only from an executed proposal")
	}
	if amount == 0 || amount > models.MaxAmount {
		return nil, ErrInvalidAmount.withMessage("%d", amount)
	}
	if !recipient.Valid() {
		return nil, ErrInvalidAddress.withMessage("%q", recipient)
	}

	bal, err := t.tx.TreasuryBalance()
	if err != nil {
		return nil, err
	}
	if bal < amount {
		return nil, ErrInsufficientFunds.withMessage("balance %d, requested %d", bal, amount)
	}

	held, err := t.tx.Balance(recipient)
	if err != nil {
		return nil, err
	}
	if held > models.MaxAmount-amount {
		return nil, ErrInvalidAmount.withMessage("recipient balance would overflow")
	}

	if err := t.tx.SetTreasuryBalance(bal - amount); err != nil {
		return nil, err
	}
	if err := t.tx.Credit(recipient, amount); err != nil {
		return nil, err
	}

	receipt := &models.TransferReceipt{
		ID:         uuid.New().String(),
		ProposalID: f.proposalID,
		ActionRef:  f.ref,
		Recipient:  recipient,
		Amount:     amount,
		CreatedAt:  t.now(),
	}
	if err := t.tx.InsertTransfer(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// Deposit credits the treasury from outside governance and returns the new balance
func (t *Treasury) Deposit(amount uint64) (uint64, error) {
	if amount == 0 || amount > models.MaxAmount {
		return 0, ErrInvalidAmount.withMessage("%d", amount)
	}
	bal, err := t.tx.TreasuryBalance()
	if err != nil {
		return 0, err
	}
	if bal > models.MaxAmount-amount {
		return 0, ErrInvalidAmount.withMessage("treasury balance would overflow")
	}
	if err := t.tx.SetTreasuryBalance(bal + amount); err != nil {
		return 0, err
	}
	return bal + amount, nil
}
