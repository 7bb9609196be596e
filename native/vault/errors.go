package vault

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrBusy                = errors.New("vault: operation already in flight for principal")
	ErrZeroAmount          = errors.New("vault: amount must be positive")
	ErrInsufficientBalance = errors.New("vault: insufficient staked balance")
	ErrNoShares            = errors.New("vault: no shares to distribute rewards to")
	ErrNothingToClaim      = errors.New("vault: nothing to claim")
	ErrTransferFailed      = errors.New("vault: transfer failed")
	ErrUserDoesNotExist    = errors.New("vault: user does not exist")
	ErrAnonymousCaller     = errors.New("vault: anonymous caller")
	ErrInvalidParams       = errors.New("vault: invalid parameters")
	ErrInvariant           = errors.New("vault: invariant violated")
	ErrInvalidSnapshot     = errors.New("vault: invalid snapshot")
)

// ErrTooManyConcurrentRequests is returned when the guard's concurrency
// ceiling is reached. It matches ErrBusy.
var ErrTooManyConcurrentRequests = fmt.Errorf("vault: too many concurrent requests: %w", ErrBusy)

// TransferError reports a settlement bucket whose transfer did not confirm. The
// bucket keeps its balance.
type TransferError struct {
	Bucket Bucket
	Amount *big.Int
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("vault: %s transfer of %s failed: %v", e.Bucket, e.Amount, e.Err)
}

// Unwrap exposes both ErrTransferFailed and the ledger cause.
func (e *TransferError) Unwrap() []error {
	return []error{ErrTransferFailed, e.Err}
}
