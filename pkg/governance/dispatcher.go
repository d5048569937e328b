package governance

import (
	"context"
	"time"

	"github.com/psantana5/operator-dao/pkg/models"
	"github.com/psantana5/operator-dao/pkg/store"
)

// Extensions is the registered_extensions set: the action references the
// dispatcher accepts on behalf of a proposal.
type Extensions struct {
	tx      store.Tx
	catalog *Catalog
	now     func() time.Time
}

// IsRegistered reports whether ref is allow-listed
func (x *Extensions) IsRegistered(ref string) (bool, error) {
	return x.tx.IsExtension(ref)
}

// Register allow-lists ref; it must resolve in the catalog
func (x *Extensions) Register(ctx context.Context, ref string) error {
	if !InExecution(ctx) {
		return ErrUnauthorized.withMessage("extensions are registered only inside an executing action")
	}
	a, ok := x.catalog.Lookup(ref)
	if !ok {
		return ErrUnknownAction.withMessage("%s", ref)
	}
	if a.Kind() == models.ActionBootstrap {
		return ErrUnauthorized.withMessage("bootstrap action %s cannot be registered as an extension", ref)
	}
	return x.tx.RegisterExtension(models.Extension{Ref: ref, RegisteredAt: x.now()})
}

// Dispatcher is the single entry point that applies actions: once through
// construct, then only on behalf of a proposal crossing the threshold.
type Dispatcher struct {
	catalog   *Catalog
	enforce   bool
	threshold int
	now       func() time.Time
}

func (d *Dispatcher) env(tx store.Tx, proposalID uint64) *Env {
	return &Env{
		ProposalID: proposalID,
		Threshold:  d.threshold,
		Registry:   &Registry{tx: tx, now: d.now},
		Treasury:   &Treasury{tx: tx, now: d.now},
		Extensions: &Extensions{tx: tx, catalog: d.catalog, now: d.now},
	}
}

// construct runs the bootstrap action and marks the DAO constructed
func (d *Dispatcher) construct(ctx context.Context, tx store.Tx, caller models.Address, ref string) error {
	state, err := tx.DAOState()
	if err != nil {
		return err
	}
	if state.Constructed {
		return ErrAlreadyConstructed
	}

	action, ok := d.catalog.Lookup(ref)
	if !ok {
		return ErrUnknownAction.withMessage("%s", ref)
	}
	if action.Kind() != models.ActionBootstrap {
		return ErrUnauthorized.withMessage("%s is not a bootstrap action", ref)
	}

	f := frame{origin: originBootstrap, ref: ref, active: true}
	if err := action.Apply(withFrame(ctx, f), d.env(tx, 0)); err != nil {
		return err
	}

	n, err := tx.CountOperators()
	if err != nil {
		return err
	}
	if n < d.threshold {
		return ErrQuorumUnreachable.withMessage("bootstrap seeds %d operators, threshold is %d", n, d.threshold)
	}

	now := d.now()
	state.Constructed = true
	state.ConstructedBy = caller
	state.ConstructedAt = &now
	state.BootstrapRef = ref
	return tx.PutDAOState(state)
}

// ExecuteExtension applies the action behind ref. ctx must carry the
// approval frame the voting engine opens for the proposal that owns ref;
// any other call fails unauthorized.
func (d *Dispatcher) ExecuteExtension(ctx context.Context, tx store.Tx, ref string) (models.ActionKind, error) {
	f, ok := frameFrom(ctx)
	if !ok || f.origin != originProposal || f.active || f.ref != ref {
		return "", ErrUnauthorized.withMessage("%s invoked outside an executed proposal", ref)
	}

	if d.enforce {
		registered, err := tx.IsExtension(ref)
		if err != nil {
			return "", err
		}
		if !registered {
			return "", ErrUnauthorized.withMessage("%s is not a registered extension", ref)
		}
	}

	action, ok := d.catalog.Lookup(ref)
	if !ok {
		return "", ErrUnknownAction.withMessage("%s", ref)
	}
	if action.Kind() == models.ActionBootstrap {
		return "", ErrUnauthorized.withMessage("bootstrap runs only through construct")
	}

	f.active = true
	if err := action.Apply(withFrame(ctx, f), d.env(tx, f.proposalID)); err != nil {
		return "", err
	}
	return action.Kind(), nil
}
