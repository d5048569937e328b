package governance

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/psantana5/operator-dao/pkg/models"
)

// Action is one privileged unit of logic the dispatcher can apply.
// Apply runs inside the caller's transaction; returning an error aborts
// the whole governance operation that triggered it.
type Action interface {
	Kind() models.ActionKind
	Apply(ctx context.Context, env *Env) error
}

// Env is what an applying action may touch
type Env struct {
	ProposalID uint64 // 0 during bootstrap
	Threshold  int
	Registry   *Registry
	Treasury   *Treasury
	Extensions *Extensions
}

// AddOperator grants membership; adding a current member changes nothing
type AddOperator struct {
	Operator models.Address
}

func (a AddOperator) Kind() models.ActionKind { return models.ActionAddOperator }

func (a AddOperator) Apply(ctx context.Context, env *Env) error {
	_, err := env.Registry.Add(ctx, a.Operator)
	return err
}

// RemoveOperator revokes membership. It refuses to shrink the set below
// the approval threshold, which would leave no proposal able to execute.
type RemoveOperator struct {
	Operator models.Address
}

func (a RemoveOperator) Kind() models.ActionKind { return models.ActionRemoveOperator }

func (a RemoveOperator) Apply(ctx context.Context, env *Env) error {
	member, err := env.Registry.IsOperator(a.Operator)
	if err != nil {
		return err
	}
	if !member {
		return ErrOperatorNotFound.withMessage("%s", a.Operator)
	}
	n, err := env.Registry.Count()
	if err != nil {
		return err
	}
	if n-1 < env.Threshold {
		return ErrQuorumUnreachable.withMessage("%d operators would remain, threshold is %d", n-1, env.Threshold)
	}
	_, err = env.Registry.Remove(ctx, a.Operator)
	return err
}

// TransferFunds releases treasury funds to a recipient
type TransferFunds struct {
	Amount    uint64
	Recipient models.Address
}

func (a TransferFunds) Kind() models.ActionKind { return models.ActionTransferFunds }

func (a TransferFunds) Apply(ctx context.Context, env *Env) error {
	_, err := env.Treasury.Transfer(ctx, a.Amount, a.Recipient)
	return err
}

// Bootstrap seeds the operator set and the registered extensions
type Bootstrap struct {
	Operators  []models.Address
	Extensions []string
}

func (a Bootstrap) Kind() models.ActionKind { return models.ActionBootstrap }

func (a Bootstrap) Apply(ctx context.Context, env *Env) error {
	for _, op := range a.Operators {
		if _, err := env.Registry.Add(ctx, op); err != nil {
			return err
		}
	}
	for _, ref := range a.Extensions {
		if err := env.Extensions.Register(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// BuildAction turns a declarative spec into its Action
func BuildAction(spec models.ActionSpec) (Action, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Kind {
	case models.ActionAddOperator:
		return AddOperator{Operator: spec.Operator}, nil
	case models.ActionRemoveOperator:
		return RemoveOperator{Operator: spec.Operator}, nil
	case models.ActionTransferFunds:
		return TransferFunds{Amount: spec.Amount, Recipient: spec.Recipient}, nil
	case models.ActionBootstrap:
		return Bootstrap{
			Operators:  append([]models.Address(nil), spec.Operators...),
			Extensions: append([]string(nil), spec.Extensions...),
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", models.ErrInvalidActionSpec, spec.Kind)
}

// Catalog resolves action references. It is the set of actions this
// deployment knows how to run; registered extensions in the ledger decide
// which of them the dispatcher will accept.
type Catalog struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewCatalog builds a catalog from specs; refs must be unique
func NewCatalog(specs []models.ActionSpec) (*Catalog, error) {
	c := &Catalog{actions: make(map[string]Action, len(specs))}
	for _, spec := range specs {
		a, err := BuildAction(spec)
		if err != nil {
			return nil, err
		}
		if err := c.Register(spec.Ref, a); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds an action under ref
func (c *Catalog) Register(ref string, a Action) error {
	if ref == "" || a == nil {
		return fmt.Errorf("%w: empty ref or nil action", models.ErrInvalidActionSpec)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.actions[ref]; dup {
		return fmt.Errorf("%w: duplicate ref %s", models.ErrInvalidActionSpec, ref)
	}
	c.actions[ref] = a
	return nil
}

// Lookup returns the action for ref
func (c *Catalog) Lookup(ref string) (Action, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.actions[ref]
	return a, ok
}

// Refs returns every known reference, sorted
func (c *Catalog) Refs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	refs := make([]string, 0, len(c.actions))
	for ref := range c.actions {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
