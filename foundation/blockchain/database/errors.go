package database

import (
	"errors"
	"fmt"
)

// Set of reasons a candidate block can be rejected by a replica.
const (
	ReasonStaleNumber  = "stale-number"   // The block number is not the next number for this replica.
	ReasonBadLinkage   = "bad-linkage"    // The parent hash does not match this replica's tip.
	ReasonHashMismatch = "hash-mismatch"  // A recomputed hash disagrees with what the block carries.
	ReasonPowNotMet    = "pow-not-met"    // The block hash does not satisfy the difficulty target.
	ReasonBadTimeStamp = "bad-timestamp"  // The block timestamp went backwards.
	ReasonBadSignature = "bad-signature"  // The signature does not recover the proposer identity.
)

// InvalidBlockError indicates a candidate block failed validation against
// a replica's tip. The rejection is local to the validating node and is
// never fatal, the replica simply does not advance.
type InvalidBlockError struct {
	Reason string
	Err    error
}

// NewInvalidBlockError constructs a rejection with the specified reason.
func NewInvalidBlockError(reason string, err error) error {
	return &InvalidBlockError{
		Reason: reason,
		Err:    err,
	}
}

// Error implements the error interface.
func (ibe *InvalidBlockError) Error() string {
	return fmt.Sprintf("invalid block: %s: %s", ibe.Reason, ibe.Err)
}

// Unwrap provides access to the underlying error.
func (ibe *InvalidBlockError) Unwrap() error {
	return ibe.Err
}

// Reason extracts the rejection reason from any error produced by the
// validation path. An empty string is returned for other errors.
func Reason(err error) string {
	var ibe *InvalidBlockError
	if errors.As(err, &ibe) {
		return ibe.Reason
	}

	return ""
}
