package governance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/operator-dao/pkg/models"
	"github.com/psantana5/operator-dao/pkg/store"
)

// nestedCall is an action that calls back into the engine while applying
type nestedCall struct {
	call func(ctx context.Context) error
}

func (n nestedCall) Kind() models.ActionKind { return "nested" }

func (n nestedCall) Apply(ctx context.Context, env *Env) error {
	return n.call(ctx)
}

// newNestedEngine registers a nested action under "nested" and constructs
func newNestedEngine(t *testing.T, call func(e *Engine, ctx context.Context) error) *Engine {
	t.Helper()
	specs := DefaultActionSpecs()
	specs[0].Extensions = append(specs[0].Extensions, "nested")
	catalog, err := NewCatalog(specs)
	require.NoError(t, err)

	var e *Engine
	require.NoError(t, catalog.Register("nested", nestedCall{call: func(ctx context.Context) error {
		return call(e, ctx)
	}}))
	e = newConstructedEngine(t, catalog)
	return e
}

func TestNestedGovernanceCallsAreRefused(t *testing.T) {
	tests := []struct {
		name string
		call func(e *Engine, ctx context.Context) error
	}{
		{"signal", func(e *Engine, ctx context.Context) error {
			_, err := e.Signal(ctx, op3, 1, true, "nested")
			return err
		}},
		{"create-proposal", func(e *Engine, ctx context.Context) error {
			_, err := e.CreateProposal(ctx, op3, "nested proposal", RefAddOperator)
			return err
		}},
		{"construct", func(e *Engine, ctx context.Context) error {
			_, err := e.Construct(ctx, op3, RefBootstrap)
			return err
		}},
		{"read", func(e *Engine, ctx context.Context) error {
			_, err := e.IsOperator(ctx, op3)
			return err
		}},
		{"fund-treasury", func(e *Engine, ctx context.Context) error {
			_, err := e.FundTreasury(ctx, op3, 10)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := newNestedEngine(t, tt.call)

			id, err := e.CreateProposal(ctx, op1, "Run nested action", "nested")
			require.NoError(t, err)
			_, err = e.Signal(ctx, op1, id, true, "nested")
			require.NoError(t, err)

			_, err = e.Signal(ctx, op2, id, true, "nested")
			assert.ErrorIs(t, err, ErrReentrantCall)
			assert.Equal(t, 4009, CodeOf(err))

			p, err := e.Proposal(ctx, id)
			require.NoError(t, err)
			assert.False(t, p.Executed)
			assert.Len(t, p.Votes, 1)
		})
	}
}

func TestNestedCallRefusedWithoutAbortingAction(t *testing.T) {
	ctx := context.Background()
	var nestedErr error
	e := newNestedEngine(t, func(e *Engine, ctx context.Context) error {
		_, nestedErr = e.CreateProposal(ctx, op3, "nested proposal", RefAddOperator)
		return nil
	})

	id, err := e.CreateProposal(ctx, op1, "Run nested action", "nested")
	require.NoError(t, err)
	approve(t, e, id, "nested", op1, op2)

	assert.ErrorIs(t, nestedErr, ErrReentrantCall)
	proposals, err := e.Proposals(ctx)
	require.NoError(t, err)
	assert.Len(t, proposals, 1, "the nested proposal must not exist")
}

func TestPrivilegedCallsOutsideExecution(t *testing.T) {
	ctx := context.Background()
	e := newConstructedEngine(t, nil)
	_, err := e.FundTreasury(ctx, outsider, 100)
	require.NoError(t, err)

	err = e.store.Update(ctx, func(tx store.Tx) error {
		_, err := e.dispatcher.ExecuteExtension(ctx, tx, RefAddOperator)
		assert.ErrorIs(t, err, ErrUnauthorized, "no frame")

		other := withFrame(ctx, frame{origin: originProposal, proposalID: 1, ref: RefTransferFunds})
		_, err = e.dispatcher.ExecuteExtension(other, tx, RefAddOperator)
		assert.ErrorIs(t, err, ErrUnauthorized, "frame for a different action")

		boot := withFrame(ctx, frame{origin: originBootstrap, ref: RefAddOperator})
		_, err = e.dispatcher.ExecuteExtension(boot, tx, RefAddOperator)
		assert.ErrorIs(t, err, ErrUnauthorized, "bootstrap frame")

		active := withFrame(ctx, frame{origin: originProposal, proposalID: 1, ref: RefAddOperator, active: true})
		_, err = e.dispatcher.ExecuteExtension(active, tx, RefAddOperator)
		assert.ErrorIs(t, err, ErrUnauthorized, "nested dispatch from an applying action")

		registry := &Registry{tx: tx, now: time.Now}
		_, err = registry.Add(ctx, outsider)
		assert.ErrorIs(t, err, ErrUnauthorized)
		_, err = registry.Remove(ctx, op1)
		assert.ErrorIs(t, err, ErrUnauthorized)

		treasury := &Treasury{tx: tx, now: time.Now}
		_, err = treasury.Transfer(ctx, 1, outsider)
		assert.ErrorIs(t, err, ErrUnauthorized, "no frame")
		bootActive := withFrame(ctx, frame{origin: originBootstrap, active: true})
		_, err = treasury.Transfer(bootActive, 1, outsider)
		assert.ErrorIs(t, err, ErrUnauthorized, "bootstrap may not debit the treasury")

		exts := &Extensions{tx: tx, catalog: e.catalog, now: time.Now}
		assert.ErrorIs(t, exts.Register(ctx, RefAddOperator), ErrUnauthorized)
		return nil
	})
	require.NoError(t, err)

	member, err := e.IsOperator(ctx, outsider)
	require.NoError(t, err)
	assert.False(t, member)
	bal, err := e.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal)
}

func TestTreasuryTransferValidation(t *testing.T) {
	ctx := withFrame(context.Background(), frame{origin: originProposal, proposalID: 1, ref: RefTransferFunds, active: true})
	st := store.NewMemoryStore()

	err := st.Update(ctx, func(tx store.Tx) error {
		treasury := &Treasury{tx: tx, now: time.Now}
		_, err := treasury.Deposit(50)
		require.NoError(t, err)

		_, err = treasury.Transfer(ctx, 0, outsider)
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = treasury.Transfer(ctx, 10, "bad address!")
		assert.ErrorIs(t, err, ErrInvalidAddress)
		_, err = treasury.Transfer(ctx, 51, outsider)
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		receipt, err := treasury.Transfer(ctx, 50, outsider)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), receipt.ProposalID)
		assert.Equal(t, RefTransferFunds, receipt.ActionRef)
		return nil
	})
	require.NoError(t, err)
}

func TestExtensionsRegisterRequiresCatalogEntry(t *testing.T) {
	ctx := withFrame(context.Background(), frame{origin: originBootstrap, active: true})
	st := store.NewMemoryStore()

	err := st.Update(ctx, func(tx store.Tx) error {
		exts := &Extensions{tx: tx, catalog: DefaultCatalog(), now: time.Now}
		assert.ErrorIs(t, exts.Register(ctx, "dp404"), ErrUnknownAction)
		assert.ErrorIs(t, exts.Register(ctx, RefBootstrap), ErrUnauthorized)
		require.NoError(t, exts.Register(ctx, RefAddOperator))

		ok, err := exts.IsRegistered(RefAddOperator)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestCatalog(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t, []string{RefBootstrap, RefAddOperator, RefRemoveOperator, RefTransferFunds}, c.Refs())

	a, ok := c.Lookup(RefTransferFunds)
	require.True(t, ok)
	assert.Equal(t, TransferFunds{Amount: 1000000, Recipient: DefaultGrantRecipient}, a)

	assert.Error(t, c.Register(RefAddOperator, AddOperator{Operator: op1}), "duplicate ref")
	assert.Error(t, c.Register("", AddOperator{Operator: op1}))

	_, err := NewCatalog([]models.ActionSpec{{Ref: "x", Kind: "mint"}})
	assert.ErrorIs(t, err, models.ErrInvalidActionSpec)
}
