package models

import (
	"time"
)

// MaxDescriptionLength bounds the proposal description text
const MaxDescriptionLength = 256

// Vote is a single operator's signal on a proposal
type Vote struct {
	Voter   Address   `json:"voter"`
	Approve bool      `json:"approve"`
	CastAt  time.Time `json:"cast_at"`
}

// Proposal is a request to perform a privileged action.
// Once Executed is true no field changes again.
type Proposal struct {
	ID               uint64            `json:"id"`
	Description      string            `json:"description"`
	ActionRef        string            `json:"action_ref"`
	Proposer         Address           `json:"proposer"`
	Votes            []Vote            `json:"votes"`
	Executed         bool              `json:"executed"`
	CreatedAt        time.Time         `json:"created_at"`
	ExecutedAt       *time.Time        `json:"executed_at,omitempty"`
	StateTransitions []StateTransition `json:"state_transitions,omitempty"`
}

// Status derives the FSM state from the executed flag
func (p *Proposal) Status() ProposalStatus {
	if p.Executed {
		return ProposalStatusExecuted
	}
	return ProposalStatusPending
}

// ApproveCount counts votes with Approve set
func (p *Proposal) ApproveCount() int {
	n := 0
	for _, v := range p.Votes {
		if v.Approve {
			n++
		}
	}
	return n
}

// RejectCount counts votes with Approve unset
func (p *Proposal) RejectCount() int {
	return len(p.Votes) - p.ApproveCount()
}

// HasVoted reports whether voter already signalled, regardless of direction
func (p *Proposal) HasVoted(voter Address) bool {
	for _, v := range p.Votes {
		if v.Voter == voter {
			return true
		}
	}
	return false
}

// Clone returns a deep copy
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	c := *p
	c.Votes = append([]Vote(nil), p.Votes...)
	c.StateTransitions = append([]StateTransition(nil), p.StateTransitions...)
	if p.ExecutedAt != nil {
		t := *p.ExecutedAt
		c.ExecutedAt = &t
	}
	return &c
}

// StateTransition tracks proposal state changes with timestamps
type StateTransition struct {
	From      ProposalStatus `json:"from"`
	To        ProposalStatus `json:"to"`
	Timestamp time.Time      `json:"timestamp"`
	Reason    string         `json:"reason,omitempty"`
}
