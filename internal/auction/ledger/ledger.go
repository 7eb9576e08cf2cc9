// Package ledger provides read and administrative-write access to the
// on-ledger auction contracts. Reads are a refresh source only: a failed
// read must never erase known-good cached state, so callers are expected to
// keep their previous value when an error is returned.
package ledger

import (
	"context"
)

// Snapshot is the ledger truth for one auction handle.
type Snapshot struct {
	// EndTimeUnix is the contract's own expiry in Unix seconds. It is set at
	// deploy time and never changes on-chain; the server-side expiry may
	// supersede it after an unfreeze.
	EndTimeUnix int64
	// HighestBid is in ETH, rounded to 4 decimal places.
	HighestBid float64
	// HighestBidder is the bidder address, or models.NoBidder when the
	// contract reports the zero address.
	HighestBidder string
}

// Reader fetches auction state from the ledger. Stateless and safe for
// concurrent use; every call is a network round trip with no caching.
type Reader interface {
	ReadAuction(ctx context.Context, handle string) (Snapshot, error)
}

// TxOutcome tags the result of an administrative ledger call so callers can
// distinguish "nothing to do" from "failed and must be retried".
type TxOutcome string

const (
	// TxApplied means the transaction was mined and took effect.
	TxApplied TxOutcome = "APPLIED"
	// TxAlreadyInTargetState means the ledger was already where the call
	// wanted it; treated as success, not an error.
	TxAlreadyInTargetState TxOutcome = "ALREADY_IN_TARGET_STATE"
	// TxFailed means the call did not take effect and may be retried.
	TxFailed TxOutcome = "FAILED"
)

// TxResult is the outcome of a freeze/unfreeze/slash call.
type TxResult struct {
	Outcome TxOutcome
	TxHash  string
	Reason  string
}

// Succeeded reports whether the target state holds on the ledger.
func (r TxResult) Succeeded() bool {
	return r.Outcome == TxApplied || r.Outcome == TxAlreadyInTargetState
}

// ContractClient performs administrative ledger calls. All three operations
// are seconds-scale and must be bounded by the caller's context; a timed-out
// call is a failure, never an assumed success.
type ContractClient interface {
	Freeze(ctx context.Context, handle, reason string) (TxResult, error)
	Unfreeze(ctx context.Context, handle string) (TxResult, error)
	Slash(ctx context.Context, handle string) (TxResult, error)
}
