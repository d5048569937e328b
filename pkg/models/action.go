package models

import (
	"errors"
	"fmt"
)

// ActionKind tags the closed set of action extensions
type ActionKind string

const (
	ActionBootstrap      ActionKind = "bootstrap"       // Initial operator set and extensions
	ActionAddOperator    ActionKind = "add-operator"    // Grant operator membership
	ActionRemoveOperator ActionKind = "remove-operator" // Revoke operator membership
	ActionTransferFunds  ActionKind = "transfer-funds"  // Release treasury funds
)

// ErrInvalidActionSpec is returned by ActionSpec.Validate
var ErrInvalidActionSpec = errors.New("invalid action spec")

// ActionSpec declares one action extension in the catalog.
// Which fields are used depends on Kind.
type ActionSpec struct {
	Ref        string     `json:"ref" yaml:"ref" mapstructure:"ref"`
	Kind       ActionKind `json:"kind" yaml:"kind" mapstructure:"kind"`
	Operator   Address    `json:"operator,omitempty" yaml:"operator,omitempty" mapstructure:"operator"`
	Amount     uint64     `json:"amount,omitempty" yaml:"amount,omitempty" mapstructure:"amount"`
	Recipient  Address    `json:"recipient,omitempty" yaml:"recipient,omitempty" mapstructure:"recipient"`
	Operators  []Address  `json:"operators,omitempty" yaml:"operators,omitempty" mapstructure:"operators"`
	Extensions []string   `json:"extensions,omitempty" yaml:"extensions,omitempty" mapstructure:"extensions"`
}

// Validate checks that the fields required by Kind are present
func (s ActionSpec) Validate() error {
	if s.Ref == "" {
		return fmt.Errorf("%w: empty ref", ErrInvalidActionSpec)
	}
	switch s.Kind {
	case ActionAddOperator, ActionRemoveOperator:
		if !s.Operator.Valid() {
			return fmt.Errorf("%w: %s: operator %q", ErrInvalidActionSpec, s.Ref, s.Operator)
		}
	case ActionTransferFunds:
		if s.Amount == 0 {
			return fmt.Errorf("%w: %s: amount must be positive", ErrInvalidActionSpec, s.Ref)
		}
		if !s.Recipient.Valid() {
			return fmt.Errorf("%w: %s: recipient %q", ErrInvalidActionSpec, s.Ref, s.Recipient)
		}
	case ActionBootstrap:
		if len(s.Operators) == 0 {
			return fmt.Errorf("%w: %s: bootstrap needs at least one operator", ErrInvalidActionSpec, s.Ref)
		}
		for _, op := range s.Operators {
			if !op.Valid() {
				return fmt.Errorf("%w: %s: operator %q", ErrInvalidActionSpec, s.Ref, op)
			}
		}
		for _, ext := range s.Extensions {
			if ext == "" || ext == s.Ref {
				return fmt.Errorf("%w: %s: bad extension %q", ErrInvalidActionSpec, s.Ref, ext)
			}
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidActionSpec, s.Ref, s.Kind)
	}
	return nil
}
