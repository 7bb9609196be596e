package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"stakevault/crypto"
)

func testAddr(b byte) crypto.Address {
	var raw [crypto.AddressLength]byte
	raw[crypto.AddressLength-1] = b
	return crypto.MustAddress(raw[:])
}

func TestMemLedgerTransferFromRequiresAllowance(t *testing.T) {
	l := NewMemLedger(testAddr(1))
	user := Account{Owner: testAddr(2)}
	vault := Account{Owner: testAddr(3)}
	l.Mint(user, big.NewInt(100))

	args := TransferFromArgs{Spender: vault.Owner, From: user, To: vault, Amount: big.NewInt(40)}
	if _, err := l.TransferFrom(context.Background(), args); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected allowance error, got %v", err)
	}
	l.Approve(user, vault.Owner, big.NewInt(50))
	if _, err := l.TransferFrom(context.Background(), args); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if got := l.BalanceOf(vault); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("vault balance: got %s want 40", got)
	}
	if _, err := l.TransferFrom(context.Background(), args); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("allowance should be consumed, got %v", err)
	}
}

func TestMemLedgerMemoDeduplicates(t *testing.T) {
	l := NewMemLedger(testAddr(1))
	vault := Account{Owner: testAddr(3)}
	user := Account{Owner: testAddr(2)}
	l.Mint(vault, big.NewInt(100))

	args := TransferArgs{From: vault, To: user, Amount: big.NewInt(10), Memo: []byte("m1")}
	receipt, err := l.Transfer(context.Background(), args)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	_, err = l.Transfer(context.Background(), args)
	dup, ok := AsDuplicate(err)
	if !ok {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if dup.Receipt != receipt {
		t.Fatalf("duplicate receipt: got %d want %d", dup.Receipt, receipt)
	}
	if got := l.BalanceOf(user); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("user balance: got %s want 10", got)
	}
}

func TestMemLedgerFaultInjection(t *testing.T) {
	l := NewMemLedger(testAddr(1))
	vault := Account{Owner: testAddr(3)}
	user := Account{Owner: testAddr(2)}
	l.Mint(vault, big.NewInt(100))
	args := TransferArgs{From: vault, To: user, Amount: big.NewInt(10)}

	l.FailNext(1, nil)
	if _, err := l.Transfer(context.Background(), args); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if got := l.BalanceOf(user); got.Sign() != 0 {
		t.Fatalf("failed transfer moved funds: %s", got)
	}

	l.LoseNextResult(1)
	if _, err := l.Transfer(context.Background(), args); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected lost result, got %v", err)
	}
	if got := l.BalanceOf(user); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("lost result should still apply: %s", got)
	}
	if len(l.Applied()) != 1 {
		t.Fatalf("expected one applied transfer, got %d", len(l.Applied()))
	}
}

func TestMemLedgerSubaccounts(t *testing.T) {
	l := NewMemLedger(testAddr(1))
	owner := testAddr(2)
	sub := Subaccount{1}
	main := Account{Owner: owner}
	side := Account{Owner: owner, Subaccount: &sub}
	zero := Account{Owner: owner, Subaccount: &Subaccount{}}
	l.Mint(side, big.NewInt(5))
	if l.BalanceOf(main).Sign() != 0 {
		t.Fatalf("subaccount balance leaked into main account")
	}
	l.Mint(zero, big.NewInt(7))
	if got := l.BalanceOf(main); got.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("zero subaccount must alias main account, got %s", got)
	}
}
