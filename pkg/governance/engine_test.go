package governance

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/operator-dao/pkg/models"
	"github.com/psantana5/operator-dao/pkg/store"
)

const (
	op1      = DefaultOperator1
	op2      = DefaultOperator2
	op3      = DefaultOperator3
	outsider = models.Address("ST3AM1A56AK2C1XAFJ4115ZSV26EB49BVQ10MGCS0")
	deployer = models.Address("ST1SJ3DTE5DN7X54YDH5D64R3BCB6A2AG2ZQ8YPD5")
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newEngine(t testing.TB, catalog *Catalog, opts ...Option) *Engine {
	t.Helper()
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	opts = append([]Option{WithClock(fixedClock())}, opts...)
	e, err := New(store.NewMemoryStore(), catalog, opts...)
	require.NoError(t, err)
	return e
}

// newConstructedEngine returns an engine bootstrapped with dp000
func newConstructedEngine(t testing.TB, catalog *Catalog, opts ...Option) *Engine {
	t.Helper()
	e := newEngine(t, catalog, opts...)
	ok, err := e.Construct(context.Background(), deployer, RefBootstrap)
	require.NoError(t, err)
	require.True(t, ok)
	return e
}

// approve drives proposal id to execution with the first threshold operators
func approve(t *testing.T, e *Engine, id uint64, ref string, voters ...models.Address) {
	t.Helper()
	ctx := context.Background()
	for i, v := range voters {
		res, err := e.Signal(ctx, v, id, true, ref)
		require.NoError(t, err)
		assert.Equal(t, i == len(voters)-1, res.Executed, "vote %d by %s", i+1, v)
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, DefaultCatalog())
	assert.Error(t, err)

	_, err = New(store.NewMemoryStore(), nil)
	assert.Error(t, err)

	_, err = New(store.NewMemoryStore(), DefaultCatalog(), WithThreshold(0))
	assert.Error(t, err)
}

func TestConstruct(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)

	st, err := e.State(ctx)
	require.NoError(t, err)
	assert.False(t, st.Constructed)

	ok, err := e.Construct(ctx, deployer, RefBootstrap)
	require.NoError(t, err)
	assert.True(t, ok)

	for _, op := range []models.Address{op1, op2, op3} {
		member, err := e.IsOperator(ctx, op)
		require.NoError(t, err)
		assert.True(t, member, "%s should be a bootstrap operator", op)
	}

	exts, err := e.Extensions(ctx)
	require.NoError(t, err)
	refs := make([]string, 0, len(exts))
	for _, x := range exts {
		refs = append(refs, x.Ref)
	}
	assert.Equal(t, []string{RefAddOperator, RefRemoveOperator, RefTransferFunds}, refs)

	st, err = e.State(ctx)
	require.NoError(t, err)
	assert.True(t, st.Constructed)
	assert.Equal(t, deployer, st.ConstructedBy)
	assert.Equal(t, RefBootstrap, st.BootstrapRef)
	require.NotNil(t, st.ConstructedAt)
}

func TestConstructTwiceLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	e := newConstructedEngine(t, nil)

	before, err := e.State(ctx)
	require.NoError(t, err)
	opsBefore, err := e.Operators(ctx)
	require.NoError(t, err)

	ok, err := e.Construct(ctx, op1, RefBootstrap)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrAlreadyConstructed)
	assert.Equal(t, 4005, CodeOf(err))

	after, err := e.State(ctx)
	require.NoError(t, err)
	opsAfter, err := e.Operators(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, opsBefore, opsAfter)
}

func TestConstructRejectsBadReference(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)

	_, err := e.Construct(ctx, deployer, "dp999-missing")
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = e.Construct(ctx, deployer, RefAddOperator)
	assert.ErrorIs(t, err, ErrUnauthorized)

	st, err := e.State(ctx)
	require.NoError(t, err)
	assert.False(t, st.Constructed, "failed construct must not mark the DAO constructed")
}

func TestConstructBelowThreshold(t *testing.T) {
	specs := []models.ActionSpec{
		{Ref: "solo-bootstrap", Kind: models.ActionBootstrap, Operators: []models.Address{op1}},
	}
	catalog, err := NewCatalog(specs)
	require.NoError(t, err)
	e := newEngine(t, catalog)

	_, err = e.Construct(context.Background(), deployer, "solo-bootstrap")
	assert.ErrorIs(t, err, ErrQuorumUnreachable)

	member, err := e.IsOperator(context.Background(), op1)
	require.NoError(t, err)
	assert.False(t, member, "failed bootstrap must not leave operators behind")
}

func TestCreateProposalSequentialIDs(t *testing.T) {
	ctx := context.Background()
	e := newConstructedEngine(t, nil)

	id, err := e.CreateProposal(ctx, op1, "Add a new operator", RefAddOperator)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	id, err = e.CreateProposal(ctx, op2, "Transfer funds", RefTransferFunds)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)

	p, err := e.Proposal(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, op2, p.Proposer)
	assert.Equal(t, RefTransferFunds, p.ActionRef)
	assert.Empty(t, p.Votes)
	assert.False(t, p.Executed)
}

func TestCreateProposalRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("not constructed", func(t *testing.T) {
		e := newEngine(t, nil)
		_, err := e.CreateProposal(ctx, op1, "too early", RefAddOperator)
		assert.ErrorIs(t, err, ErrNotConstructed)
	})

	e := newConstructedEngine(t, nil)
	tests := []struct {
		name        string
		caller      models.Address
		description string
		ref         string
		want        *Error
	}{
		{"non-operator", outsider, "Unauthorized proposal", RefAddOperator, ErrNotOperator},
		{"empty description", op1, "", RefAddOperator, ErrInvalidDescription},
		{"long description", op1, strings.Repeat("x", models.MaxDescriptionLength+1), RefAddOperator, ErrInvalidDescription},
		{"unknown action", op1, "Mystery", "dp404-missing", ErrUnknownAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.CreateProposal(ctx, tt.caller, tt.description, tt.ref)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// Rejections do not consume ids
	id, err := e.CreateProposal(ctx, op1, strings.Repeat("x", models.MaxDescriptionLength), RefAddOperator)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
}

func TestSignalReachesThreshold(t *testing.T) {
	ctx := context.Background()
	e := newConstructedEngine(t, nil)

	id, err := e.CreateProposal(ctx, op1, "Add operator 4", RefAddOperator)
	require.NoError(t, err)

	res, err := e.Signal(ctx, op1, id, true, RefAddOperator)
	require.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Equal(t, 1, res.Approvals)

	approved, err := e.IsProposalApproved(ctx, id)
	require.NoError(t, err)
	assert.False(t, approved)

	res, err = e.Signal(ctx, op2, id, true, RefAddOperator)
	require.NoError(t, err)
	assert.True(t, res.Executed)
	assert.Equal(t, SignalResult{Executed: true, Approvals: 2}, res)

	approved, err = e.IsProposalApproved(ctx, id)
	require.NoError(t, err)
	assert.True(t, approved)

	_, err = e.Signal(ctx, op3, id, true, RefAddOperator)
	assert.ErrorIs(t, err, ErrAlreadyExecuted)
	assert.Equal(t, 4001, CodeOf(err))

	member, err := e.IsOperator(ctx, DefaultNewOperator)
	require.NoError(t, err)
	assert.True(t, member)

	p, err := e.Proposal(ctx, id)
	require.NoError(t, err)
	require.Len(t, p.StateTransitions, 1)
	assert.Equal(t, models.ProposalStatusExecuted, p.StateTransitions[0].To)
	require.NotNil(t, p.ExecutedAt)
	assert.Len(t, p.Votes, 2, "the rejected late vote must not be recorded")

	ops, err := e.Operators(ctx)
	require.NoError(t, err)
	for _, op := range ops {
		if op.Address == DefaultNewOperator {
			assert.Equal(t, id, op.ProposalID)
		}
	}
}

func TestSignalDuplicateVote(t *testing.T) {
	ctx := context.Background()
	e := newConstructedEngine(t, nil)

	id, err := e.CreateProposal(ctx, op1, "Add operator 4", RefAddOperator)
	require.NoError(t, err)

	_, err = e.Signal(ctx, op1, id, false, RefAddOperator)
	require.NoError(t, err)

	for _, value := range []bool{true, false} {
		_, err = e.Signal(ctx, op1, id, value, RefAddOperator)
		assert.ErrorIs(t, err, ErrAlreadyVoted)
		assert.Equal(t, 4003, CodeOf(err))
	}
}

func TestSignalRejectVotesNeverExecute(t *testing.T) {
	ctx := context.Background()
	e := newConstructedEngine(t, nil)

	id, err := e.CreateProposal(ctx, op1, "Add operator 4", RefAddOperator)
	require.NoError(t, err)

	for _, op := range []models.Address{op1, op2} {
		res, err := e.Signal(ctx, op, id, false, RefAddOperator)
		require.NoError(t, err)
		assert.False(t, res.Executed)
	}
	res, err := e.Signal(ctx, op3, id, true, RefAddOperator)
	require.NoError(t, err)
	assert.False(t, res.Executed, "one approval is below the threshold")

	p, err := e.Proposal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, p.ApproveCount())
	assert.Equal(t, 2, p.RejectCount())
	assert.Equal(t, models.ProposalStatusPending, p.Status())
}

func TestSignalRejections(t *testing.T) {
	ctx := context.Background()
	e := newConstructedEngine(t, nil)

	id, err := e.CreateProposal(ctx, op1, "Add operator 4", RefAddOperator)
	require.NoError(t, err)

	_, err = e.Signal(ctx, outsider, id, true, RefAddOperator)
	assert.ErrorIs(t, err, ErrNotOperator)
	assert.Equal(t, 4004, CodeOf(err))

	_, err = e.Signal(ctx, op1, 42, true, RefAddOperator)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Signal(ctx, op1, id, true, RefTransferFunds)
	assert.ErrorIs(t, err, ErrActionMismatch)

	// None of the rejections recorded a vote
	p, err := e.Proposal(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, p.Votes)
}

func TestIsProposalApprovedUnknown(t *testing.T) {
	e := newConstructedEngine(t, nil)
	_, err := e.IsProposalApproved(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIsOperatorUnknownIsFalse(t *testing.T) {
	e := newConstructedEngine(t, nil)
	member, err := e.IsOperator(context.Background(), outsider)
	require.NoError(t, err)
	assert.False(t, member)
}

func TestAddExistingOperatorIsNoop(t *testing.T) {
	ctx := context.Background()
	specs := append(DefaultActionSpecs(), models.ActionSpec{Ref: "readd-op2", Kind: models.ActionAddOperator, Operator: op2})
	specs[0].Extensions = append(specs[0].Extensions, "readd-op2")
	catalog, err := NewCatalog(specs)
	require.NoError(t, err)
	e := newConstructedEngine(t, catalog)

	id, err := e.CreateProposal(ctx, op1, "Re-add operator 2", "readd-op2")
	require.NoError(t, err)
	approve(t, e, id, "readd-op2", op1, op3)

	ops, err := e.Operators(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 3)
}

func TestRemoveOperator(t *testing.T) {
	ctx := context.Background()
	e := newConstructedEngine(t, nil)

	id, err := e.CreateProposal(ctx, op2, "Remove operator 1", RefRemoveOperator)
	require.NoError(t, err)
	approve(t, e, id, RefRemoveOperator, op1, op2)

	member, err := e.IsOperator(ctx, op1)
	require.NoError(t, err)
	assert.False(t, member)

	// operator 3 is still a member, so the late vote sees the executed flag
	_, err = e.Signal(ctx, op3, id, true, RefRemoveOperator)
	assert.ErrorIs(t, err, ErrAlreadyExecuted)

	// the removed operator has lost its rights
	_, err = e.CreateProposal(ctx, op1, "Come back", RefAddOperator)
	assert.ErrorIs(t, err, ErrNotOperator)
}

func TestRemoveOperatorFailuresRollBackTheVote(t *testing.T) {
	ctx := context.Background()

	t.Run("quorum unreachable", func(t *testing.T) {
		e := newConstructedEngine(t, nil, WithThreshold(3))
		id, err := e.CreateProposal(ctx, op1, "Remove operator 1", RefRemoveOperator)
		require.NoError(t, err)

		for _, op := range []models.Address{op1, op2} {
			res, err := e.Signal(ctx, op, id, true, RefRemoveOperator)
			require.NoError(t, err)
			assert.False(t, res.Executed)
		}
		_, err = e.Signal(ctx, op3, id, true, RefRemoveOperator)
		assert.ErrorIs(t, err, ErrQuorumUnreachable)

		p, err := e.Proposal(ctx, id)
		require.NoError(t, err)
		assert.False(t, p.Executed)
		assert.False(t, p.HasVoted(op3), "vote of the failed execution must be discarded")

		member, err := e.IsOperator(ctx, op1)
		require.NoError(t, err)
		assert.True(t, member)
	})

	t.Run("not a member", func(t *testing.T) {
		specs := append(DefaultActionSpecs(), models.ActionSpec{Ref: "remove-stranger", Kind: models.ActionRemoveOperator, Operator: outsider})
		specs[0].Extensions = append(specs[0].Extensions, "remove-stranger")
		catalog, err := NewCatalog(specs)
		require.NoError(t, err)
		e := newConstructedEngine(t, catalog)

		id, err := e.CreateProposal(ctx, op1, "Remove a stranger", "remove-stranger")
		require.NoError(t, err)
		_, err = e.Signal(ctx, op1, id, true, "remove-stranger")
		require.NoError(t, err)

		_, err = e.Signal(ctx, op2, id, true, "remove-stranger")
		assert.ErrorIs(t, err, ErrOperatorNotFound)

		p, err := e.Proposal(ctx, id)
		require.NoError(t, err)
		assert.Len(t, p.Votes, 1)
		assert.False(t, p.Executed)
	})
}

func TestTransferFunds(t *testing.T) {
	ctx := context.Background()
	e := newConstructedEngine(t, nil)

	balance, err := e.FundTreasury(ctx, outsider, 5000000)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000000), balance)

	id, err := e.CreateProposal(ctx, op1, "Grant", RefTransferFunds)
	require.NoError(t, err)
	approve(t, e, id, RefTransferFunds, op2, op3)

	treasury, err := e.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4000000), treasury)

	received, err := e.Balance(ctx, DefaultGrantRecipient)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000000), received)

	transfers, err := e.Transfers(ctx)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, id, transfers[0].ProposalID)
	assert.Equal(t, RefTransferFunds, transfers[0].ActionRef)
	assert.NotEmpty(t, transfers[0].ID)
}

func TestTransferInsufficientFundsThenRetry(t *testing.T) {
	ctx := context.Background()
	e := newConstructedEngine(t, nil)

	id, err := e.CreateProposal(ctx, op1, "Grant", RefTransferFunds)
	require.NoError(t, err)

	_, err = e.Signal(ctx, op1, id, true, RefTransferFunds)
	require.NoError(t, err)
	_, err = e.Signal(ctx, op2, id, true, RefTransferFunds)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	approved, err := e.IsProposalApproved(ctx, id)
	require.NoError(t, err)
	assert.False(t, approved)

	_, err = e.FundTreasury(ctx, outsider, 1000000)
	require.NoError(t, err)

	// op2's vote was rolled back, so op2 can vote again
	res, err := e.Signal(ctx, op2, id, true, RefTransferFunds)
	require.NoError(t, err)
	assert.True(t, res.Executed)

	treasury, err := e.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Zero(t, treasury)
}

func TestFundTreasuryValidation(t *testing.T) {
	ctx := context.Background()
	e := newConstructedEngine(t, nil)

	_, err := e.FundTreasury(ctx, outsider, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = e.FundTreasury(ctx, "not an address", 10)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = e.FundTreasury(ctx, outsider, models.MaxAmount)
	require.NoError(t, err)
	_, err = e.FundTreasury(ctx, outsider, 1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestExtensionAllowlist(t *testing.T) {
	ctx := context.Background()
	specs := append(DefaultActionSpecs(), models.ActionSpec{Ref: "dp100-unregistered", Kind: models.ActionAddOperator, Operator: outsider})

	t.Run("enforced", func(t *testing.T) {
		catalog, err := NewCatalog(specs)
		require.NoError(t, err)
		e := newConstructedEngine(t, catalog)

		id, err := e.CreateProposal(ctx, op1, "Sneak in", "dp100-unregistered")
		require.NoError(t, err)
		_, err = e.Signal(ctx, op1, id, true, "dp100-unregistered")
		require.NoError(t, err)
		_, err = e.Signal(ctx, op2, id, true, "dp100-unregistered")
		assert.ErrorIs(t, err, ErrUnauthorized)

		member, err := e.IsOperator(ctx, outsider)
		require.NoError(t, err)
		assert.False(t, member)
	})

	t.Run("disabled", func(t *testing.T) {
		catalog, err := NewCatalog(specs)
		require.NoError(t, err)
		e := newConstructedEngine(t, catalog, WithExtensionAllowlist(false))

		id, err := e.CreateProposal(ctx, op1, "Let in", "dp100-unregistered")
		require.NoError(t, err)
		approve(t, e, id, "dp100-unregistered", op1, op2)

		member, err := e.IsOperator(ctx, outsider)
		require.NoError(t, err)
		assert.True(t, member)
	})
}

func TestBootstrapCannotRunThroughAProposal(t *testing.T) {
	ctx := context.Background()
	e := newConstructedEngine(t, nil, WithExtensionAllowlist(false))

	id, err := e.CreateProposal(ctx, op1, "Bootstrap again", RefBootstrap)
	require.NoError(t, err)
	_, err = e.Signal(ctx, op1, id, true, RefBootstrap)
	require.NoError(t, err)
	_, err = e.Signal(ctx, op2, id, true, RefBootstrap)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestThresholdIsFixed(t *testing.T) {
	ctx := context.Background()
	e := newConstructedEngine(t, nil)

	// Growing the set to four does not raise the bar
	id, err := e.CreateProposal(ctx, op1, "Add operator 4", RefAddOperator)
	require.NoError(t, err)
	approve(t, e, id, RefAddOperator, op1, op2)

	id, err = e.CreateProposal(ctx, DefaultNewOperator, "Remove operator 1", RefRemoveOperator)
	require.NoError(t, err)
	approve(t, e, id, RefRemoveOperator, DefaultNewOperator, op3)
	assert.Equal(t, DefaultThreshold, e.Threshold())
}

func TestCanceledContext(t *testing.T) {
	e := newConstructedEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.CreateProposal(ctx, op1, "late", RefAddOperator)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, CodeOf(err))
}

func TestSQLiteBackedRollback(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dao.db"))
	require.NoError(t, err)
	defer st.Close()

	e, err := New(st, DefaultCatalog(), WithClock(fixedClock()))
	require.NoError(t, err)
	_, err = e.Construct(ctx, deployer, RefBootstrap)
	require.NoError(t, err)

	id, err := e.CreateProposal(ctx, op1, "Grant", RefTransferFunds)
	require.NoError(t, err)
	_, err = e.Signal(ctx, op1, id, true, RefTransferFunds)
	require.NoError(t, err)

	_, err = e.Signal(ctx, op2, id, true, RefTransferFunds)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	p, err := e.Proposal(ctx, id)
	require.NoError(t, err)
	assert.Len(t, p.Votes, 1)
	assert.False(t, p.Executed)

	_, err = e.FundTreasury(ctx, outsider, 2000000)
	require.NoError(t, err)
	res, err := e.Signal(ctx, op2, id, true, RefTransferFunds)
	require.NoError(t, err)
	assert.True(t, res.Executed)

	_, err = e.Signal(ctx, op3, id, false, RefTransferFunds)
	assert.ErrorIs(t, err, ErrAlreadyExecuted)

	bal, err := e.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000000), bal)
}
