package models

import "fmt"

// ProposalStatus is the lifecycle state of a proposal
type ProposalStatus string

const (
	ProposalStatusPending  ProposalStatus = "pending"  // Collecting votes
	ProposalStatusExecuted ProposalStatus = "executed" // Action applied, terminal
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[ProposalStatus]map[ProposalStatus]bool{
	ProposalStatusPending: {
		ProposalStatusExecuted: true, // Pending → Executed (threshold reached)
	},
	// Terminal
	ProposalStatusExecuted: {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to ProposalStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if no further transitions exist
func IsTerminalState(state ProposalStatus) bool {
	allowed, exists := validTransitions[state]
	return exists && len(allowed) == 0
}

// AcceptsVotes returns true if votes may still be recorded in this state
func AcceptsVotes(state ProposalStatus) bool {
	_, known := validTransitions[state]
	return known && !IsTerminalState(state)
}
