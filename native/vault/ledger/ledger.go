// Package ledger defines the boundary between the vault and the external token
// ledgers holding the staked and reward assets.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"stakevault/crypto"
)

var (
	ErrInsufficientFunds     = errors.New("ledger: insufficient funds")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	ErrRejected              = errors.New("ledger: call rejected")
	ErrInvalidAmount         = errors.New("ledger: amount must be positive")
	ErrUnavailable           = errors.New("ledger: unavailable")
)

// ReceiptID is the ledger's index of an applied transfer.
type ReceiptID uint64

// Subaccount distinguishes multiple balances owned by the same principal.
type Subaccount [32]byte

// Account is a ledger balance holder.
type Account struct {
	Owner      crypto.Address
	Subaccount *Subaccount
}

// Key returns a stable map key for the account. The nil subaccount and the
// all-zero subaccount refer to the same balance.
func (a Account) Key() string {
	var sub Subaccount
	if a.Subaccount != nil {
		sub = *a.Subaccount
	}
	return string(a.Owner[:]) + string(sub[:])
}

func (a Account) String() string {
	if a.Subaccount == nil || *a.Subaccount == (Subaccount{}) {
		return a.Owner.String()
	}
	return fmt.Sprintf("%s.%x", a.Owner, a.Subaccount[:])
}

// TransferArgs moves funds out of an account controlled by the caller.
type TransferArgs struct {
	From   Account
	To     Account
	Amount *big.Int
	// Memo lets the ledger reject a replay of an already applied transfer.
	Memo []byte
}

// TransferFromArgs pulls funds from an account that approved the vault.
type TransferFromArgs struct {
	Spender crypto.Address
	From    Account
	To      Account
	Amount  *big.Int
	Memo    []byte
}

// DuplicateError reports that an identical transfer was already applied. The
// caller lost the original result; the receipt identifies the earlier transfer.
type DuplicateError struct {
	Receipt ReceiptID
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("ledger: duplicate of transfer %d", e.Receipt)
}

// AsDuplicate extracts a DuplicateError from err.
func AsDuplicate(err error) (*DuplicateError, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup, true
	}
	return nil, false
}

// TokenLedger captures the functionality the vault requires from a token
// ledger. Both calls may fail or lose their result; the ledger itself applies
// every transfer at most once.
type TokenLedger interface {
	Transfer(ctx context.Context, args TransferArgs) (ReceiptID, error)
	TransferFrom(ctx context.Context, args TransferFromArgs) (ReceiptID, error)
}

// FuncLedger adapts callback functions to the TokenLedger interface.
type FuncLedger struct {
	TransferFunc     func(ctx context.Context, args TransferArgs) (ReceiptID, error)
	TransferFromFunc func(ctx context.Context, args TransferFromArgs) (ReceiptID, error)
}

// Transfer delegates to the configured callback.
func (l FuncLedger) Transfer(ctx context.Context, args TransferArgs) (ReceiptID, error) {
	if l.TransferFunc == nil {
		return 0, ErrUnavailable
	}
	return l.TransferFunc(ctx, args)
}

// TransferFrom delegates to the configured callback.
func (l FuncLedger) TransferFrom(ctx context.Context, args TransferFromArgs) (ReceiptID, error) {
	if l.TransferFromFunc == nil {
		return 0, ErrUnavailable
	}
	return l.TransferFromFunc(ctx, args)
}
