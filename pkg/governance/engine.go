package governance

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/operator-dao/pkg/logging"
	"github.com/psantana5/operator-dao/pkg/models"
	"github.com/psantana5/operator-dao/pkg/store"
)

const tracerName = "github.com/psantana5/operator-dao/pkg/governance"

// MetricsRecorder receives committed governance events
type MetricsRecorder interface {
	Constructed()
	ProposalCreated()
	VoteRecorded(approve bool)
	ProposalExecuted(kind models.ActionKind)
	Rejected(operation string, code int)
	OperatorCount(n int)
	TreasuryBalance(amount uint64)
}

type noopRecorder struct{}

func (noopRecorder) Constructed() {}
func (noopRecorder) ProposalCreated() {}
func (noopRecorder) VoteRecorded(bool) {}
func (noopRecorder) ProposalExecuted(models.ActionKind) {}
func (noopRecorder) Rejected(string, int) {}
func (noopRecorder) OperatorCount(int) {}
func (noopRecorder) TreasuryBalance(uint64) {}

// Engine runs the governance operations. Each state-changing call is one
// store transaction: it either commits in full, including any action it
// executes, or leaves no trace.
type Engine struct {
	store      store.Store
	catalog    *Catalog
	dispatcher *Dispatcher
	threshold  int
	enforce    bool
	now        func() time.Time
	logger     *logging.Logger
	metrics    MetricsRecorder
	tracer     trace.Tracer
}

// Option configures an Engine
type Option func(*Engine)

// WithThreshold sets the approve-count that executes a proposal
func WithThreshold(n int) Option {
	return func(e *Engine) { e.threshold = n }
}

// WithClock replaces the ledger timestamp source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer used for operation spans
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithExtensionAllowlist toggles the registered_extensions check
func WithExtensionAllowlist(enforce bool) Option {
	return func(e *Engine) { e.enforce = enforce }
}

// New creates an engine over st using the actions in catalog
func New(st store.Store, catalog *Catalog, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("governance: store is required")
	}
	if catalog == nil {
		return nil, errors.New("governance: catalog is required")
	}

	e := &Engine{
		store:     st,
		catalog:   catalog,
		threshold: DefaultThreshold,
		enforce:   true,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logging.NewNopLogger(),
		metrics:   noopRecorder{},
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.threshold < 1 {
		return nil, errors.New("governance: threshold must be at least 1")
	}

	e.dispatcher = &Dispatcher{
		catalog:   catalog,
		enforce:   e.enforce,
		threshold: e.threshold,
		now:       e.now,
	}
	return e, nil
}

// Threshold returns the configured approve-count
func (e *Engine) Threshold() int { return e.threshold }

// Catalog returns the action catalog
func (e *Engine) Catalog() *Catalog { return e.catalog }

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// reject records a failed operation and returns err unchanged
func (e *Engine) reject(span trace.Span, operation string, err error, fields logging.Fields) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	code := CodeOf(err)
	e.metrics.Rejected(operation, code)

	f := logging.Fields{"operation": operation, "error": err.Error()}
	for k, v := range fields {
		f[k] = v
	}
	if code == 0 {
		e.logger.Error(operation+" failed", f)
	} else {
		f["code"] = code
		e.logger.Debug(operation+" rejected", f)
	}
	return err
}

// Construct runs the bootstrap action once. Any caller may construct; the
// second and later calls fail already-constructed and change nothing.
func (e *Engine) Construct(ctx context.Context, caller models.Address, bootstrapRef string) (bool, error) {
	ctx, span := e.startSpan(ctx, "governance.Construct",
		attribute.String("dao.caller", caller.String()),
		attribute.String("dao.action_ref", bootstrapRef))
	defer span.End()

	fields := logging.Fields{"caller": caller, "action_ref": bootstrapRef}
	if err := guardEntry(ctx); err != nil {
		return false, e.reject(span, "construct", err, fields)
	}

	var operators int
	err := e.store.Update(ctx, func(tx store.Tx) error {
		if err := e.dispatcher.construct(ctx, tx, caller, bootstrapRef); err != nil {
			return err
		}
		n, err := tx.CountOperators()
		operators = n
		return err
	})
	if err != nil {
		return false, e.reject(span, "construct", err, fields)
	}

	e.metrics.Constructed()
	e.metrics.OperatorCount(operators)
	fields["operators"] = operators
	e.logger.Info("DAO constructed", fields)
	return true, nil
}

// CreateProposal stores a pending proposal for actionRef and returns its id
func (e *Engine) CreateProposal(ctx context.Context, caller models.Address, description, actionRef string) (uint64, error) {
	ctx, span := e.startSpan(ctx, "governance.CreateProposal",
		attribute.String("dao.caller", caller.String()),
		attribute.String("dao.action_ref", actionRef))
	defer span.End()

	fields := logging.Fields{"caller": caller, "action_ref": actionRef}
	if err := guardEntry(ctx); err != nil {
		return 0, e.reject(span, "create-proposal", err, fields)
	}

	var p *models.Proposal
	err := e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		p, err = e.createProposal(ctx, tx, caller, description, actionRef)
		return err
	})
	if err != nil {
		return 0, e.reject(span, "create-proposal", err, fields)
	}

	span.SetAttributes(attribute.Int64("dao.proposal_id", int64(p.ID)))
	e.metrics.ProposalCreated()
	fields["proposal_id"] = p.ID
	e.logger.Info("Proposal created", fields)
	return p.ID, nil
}

// SignalResult is what one committed vote did. The tallies are the
// proposal's counts as of that vote's transaction.
type SignalResult struct {
	Executed  bool
	Approvals int
	Rejects   int
}

// Signal records caller's vote on proposal id. Executed is set when this
// vote brought the approve-count to the threshold and the proposal's
// action ran.
func (e *Engine) Signal(ctx context.Context, caller models.Address, id uint64, approve bool, actionRef string) (SignalResult, error) {
	ctx, span := e.startSpan(ctx, "governance.Signal",
		attribute.String("dao.caller", caller.String()),
		attribute.Int64("dao.proposal_id", int64(id)),
		attribute.Bool("dao.approve", approve),
		attribute.String("dao.action_ref", actionRef))
	defer span.End()

	fields := logging.Fields{"caller": caller, "proposal_id": id, "approve": approve}
	if err := guardEntry(ctx); err != nil {
		return SignalResult{}, e.reject(span, "signal", err, fields)
	}

	var (
		out       *signalOutcome
		operators int
		treasury  uint64
	)
	err := e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		if out, err = e.signal(ctx, tx, caller, id, approve, actionRef); err != nil {
			return err
		}
		if !out.executed {
			return nil
		}
		if operators, err = tx.CountOperators(); err != nil {
			return err
		}
		treasury, err = tx.TreasuryBalance()
		return err
	})
	if err != nil {
		return SignalResult{}, e.reject(span, "signal", err, fields)
	}

	span.SetAttributes(attribute.Bool("dao.executed", out.executed))
	e.metrics.VoteRecorded(approve)
	fields["approvals"] = out.proposal.ApproveCount()
	e.logger.Debug("Vote recorded", fields)

	if out.executed {
		e.metrics.ProposalExecuted(out.kind)
		e.metrics.OperatorCount(operators)
		e.metrics.TreasuryBalance(treasury)
		fields["kind"] = out.kind
		e.logger.Info("Proposal executed", fields)
	}
	return SignalResult{
		Executed:  out.executed,
		Approvals: out.proposal.ApproveCount(),
		Rejects:   out.proposal.RejectCount(),
	}, nil
}

// FundTreasury deposits amount into the treasury from outside governance
func (e *Engine) FundTreasury(ctx context.Context, from models.Address, amount uint64) (uint64, error) {
	ctx, span := e.startSpan(ctx, "governance.FundTreasury",
		attribute.String("dao.caller", from.String()),
		attribute.Int64("dao.amount", int64(amount)))
	defer span.End()

	fields := logging.Fields{"from": from, "amount": amount}
	if err := guardEntry(ctx); err != nil {
		return 0, e.reject(span, "fund-treasury", err, fields)
	}
	if !from.Valid() {
		return 0, e.reject(span, "fund-treasury", ErrInvalidAddress.withMessage("%q", from), fields)
	}

	var balance uint64
	err := e.store.Update(ctx, func(tx store.Tx) error {
		var err error
		balance, err = (&Treasury{tx: tx, now: e.now}).Deposit(amount)
		return err
	})
	if err != nil {
		return 0, e.reject(span, "fund-treasury", err, fields)
	}

	e.metrics.TreasuryBalance(balance)
	fields["balance"] = balance
	e.logger.Info("Treasury funded", fields)
	return balance, nil
}

// view runs a read-only query. Reads from inside an executing action are
// refused: the writing transaction holds the ledger.
func (e *Engine) view(ctx context.Context, fn func(store.Tx) error) error {
	if err := guardEntry(ctx); err != nil {
		return err
	}
	return e.store.View(ctx, fn)
}

// IsOperator reports membership; unknown addresses yield false
func (e *Engine) IsOperator(ctx context.Context, addr models.Address) (bool, error) {
	var ok bool
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		ok, err = tx.IsOperator(addr)
		return err
	})
	return ok, err
}

// IsProposalApproved returns the executed flag of proposal id
func (e *Engine) IsProposalApproved(ctx context.Context, id uint64) (bool, error) {
	p, err := e.Proposal(ctx, id)
	if err != nil {
		return false, err
	}
	return p.Executed, nil
}

// Proposal returns proposal id with its votes
func (e *Engine) Proposal(ctx context.Context, id uint64) (*models.Proposal, error) {
	var p *models.Proposal
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		p, err = e.getProposal(tx, id)
		return err
	})
	return p, err
}

// Proposals returns every proposal in id order
func (e *Engine) Proposals(ctx context.Context) ([]*models.Proposal, error) {
	var out []*models.Proposal
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListProposals()
		return err
	})
	return out, err
}

// Operators returns the operator set sorted by address
func (e *Engine) Operators(ctx context.Context) ([]models.Operator, error) {
	var out []models.Operator
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListOperators()
		return err
	})
	return out, err
}

// Extensions returns the registered extensions
func (e *Engine) Extensions(ctx context.Context) ([]models.Extension, error) {
	var out []models.Extension
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListExtensions()
		return err
	})
	return out, err
}

// State returns the DAO core state
func (e *Engine) State(ctx context.Context) (models.DAOState, error) {
	var st models.DAOState
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		st, err = tx.DAOState()
		return err
	})
	return st, err
}

// TreasuryBalance returns the custodial balance
func (e *Engine) TreasuryBalance(ctx context.Context) (uint64, error) {
	var bal uint64
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		bal, err = tx.TreasuryBalance()
		return err
	})
	return bal, err
}

// Balance returns the host-ledger balance of addr
func (e *Engine) Balance(ctx context.Context, addr models.Address) (uint64, error) {
	var bal uint64
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		bal, err = tx.Balance(addr)
		return err
	})
	return bal, err
}

// Transfers returns every treasury release in commit order
func (e *Engine) Transfers(ctx context.Context) ([]models.TransferReceipt, error) {
	var out []models.TransferReceipt
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListTransfers()
		return err
	})
	return out, err
}
