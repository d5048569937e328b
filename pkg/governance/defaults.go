package governance

import "github.com/psantana5/operator-dao/pkg/models"

// DefaultThreshold is the approve-count that executes a proposal
const DefaultThreshold = 2

// Reference deployment: three operators and one action of each kind.
const (
	DefaultOperator1 models.Address = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"
	DefaultOperator2 models.Address = "ST2REHHS5J3CERCRBEPMGH7921Q6PYKAADT7JP2VB"
	DefaultOperator3 models.Address = "ST2NEB84ASENDXKYGJPQW86YXQCEFEX2ZQPG87ND"

	// DefaultNewOperator is the member dp001 adds
	DefaultNewOperator models.Address = "ST2JHG361ZXG51QTKY2NQCVBPPRRE2KZB1HR05NNC"
	// DefaultGrantRecipient receives the dp003 transfer
	DefaultGrantRecipient models.Address = "ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG"

	RefBootstrap      = "dp000-bootstrap"
	RefAddOperator    = "dp001-add-operator"
	RefRemoveOperator = "dp002-remove-operator"
	RefTransferFunds  = "dp003-transfer-stx"
)

// DefaultActionSpecs returns the reference catalog
func DefaultActionSpecs() []models.ActionSpec {
	return []models.ActionSpec{
		{
			Ref:        RefBootstrap,
			Kind:       models.ActionBootstrap,
			Operators:  []models.Address{DefaultOperator1, DefaultOperator2, DefaultOperator3},
			Extensions: []string{RefAddOperator, RefRemoveOperator, RefTransferFunds},
		},
		{Ref: RefAddOperator, Kind: models.ActionAddOperator, Operator: DefaultNewOperator},
		{Ref: RefRemoveOperator, Kind: models.ActionRemoveOperator, Operator: DefaultOperator1},
		{Ref: RefTransferFunds, Kind: models.ActionTransferFunds, Amount: 1000000, Recipient: DefaultGrantRecipient},
	}
}

// DefaultCatalog builds the reference catalog
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultActionSpecs())
	if err != nil {
		panic(err)
	}
	return c
}
