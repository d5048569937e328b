// Package governance implements threshold voting for a fixed group of
// operators.
//
// Operators create proposals that reference an action from the Catalog.
// Each operator may signal once per proposal. The vote that brings the
// approve-count to the threshold also executes the action, in the same
// store transaction, through the Dispatcher. If the action fails the vote
// is discarded along with everything else the call wrote.
//
// The Dispatcher marks the context it hands to an action with an
// execution frame. Registry and Treasury mutations require that frame;
// Construct, CreateProposal and Signal refuse it, so an action can never
// drive a nested governance call.
package governance
