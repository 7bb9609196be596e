package ledger

import (
	"context"
	"encoding/hex"
	"math/big"
	"sync"

	"stakevault/crypto"
)

// MemLedger is an in-process token ledger for a single asset. It applies each
// memo at most once and supports fault injection so callers can exercise
// failed and ambiguous transfers.
type MemLedger struct {
	asset crypto.Address

	mu         sync.Mutex
	balances   map[string]*big.Int
	allowances map[string]*big.Int
	memos      map[string]ReceiptID
	next       ReceiptID

	failNext  int
	failErr   error
	loseNext  int
	hook      func(ctx context.Context) error
	transfers []Applied
}

// Applied is a transfer the ledger committed.
type Applied struct {
	Receipt ReceiptID
	From    Account
	To      Account
	Amount  *big.Int
}

// NewMemLedger constructs an empty ledger for asset.
func NewMemLedger(asset crypto.Address) *MemLedger {
	return &MemLedger{
		asset:      asset,
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
		memos:      make(map[string]ReceiptID),
		next:       1,
	}
}

// Asset returns the ledger's token identity.
func (l *MemLedger) Asset() crypto.Address { return l.asset }

// Mint credits amount to account.
func (l *MemLedger) Mint(account Account, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(account, amount)
}

// Approve sets the amount spender may pull from owner.
func (l *MemLedger) Approve(owner Account, spender crypto.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey(owner, spender)] = new(big.Int).Set(amount)
}

// BalanceOf returns a copy of the account balance.
func (l *MemLedger) BalanceOf(account Account) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.balances[account.Key()]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Applied returns the committed transfers in order.
func (l *MemLedger) Applied() []Applied {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Applied, len(l.transfers))
	copy(out, l.transfers)
	return out
}

// FailNext makes the next n calls fail with err without touching balances.
func (l *MemLedger) FailNext(n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		err = ErrRejected
	}
	l.failNext = n
	l.failErr = err
}

// LoseNextResult makes the next n calls apply the transfer but report
// ErrUnavailable, as if the response was lost in transit.
func (l *MemLedger) LoseNextResult(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loseNext = n
}

// SetHook installs fn to run before every call, outside the ledger lock. A
// non-nil error fails the call. Tests use it to hold a call in flight.
func (l *MemLedger) SetHook(fn func(ctx context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = fn
}

// Transfer implements TokenLedger.
func (l *MemLedger) Transfer(ctx context.Context, args TransferArgs) (ReceiptID, error) {
	return l.apply(ctx, nil, args.From, args.To, args.Amount, args.Memo)
}

// TransferFrom implements TokenLedger.
func (l *MemLedger) TransferFrom(ctx context.Context, args TransferFromArgs) (ReceiptID, error) {
	spender := args.Spender
	return l.apply(ctx, &spender, args.From, args.To, args.Amount, args.Memo)
}

func (l *MemLedger) apply(ctx context.Context, spender *crypto.Address, from, to Account, amount *big.Int, memo []byte) (ReceiptID, error) {
	l.mu.Lock()
	hook := l.hook
	l.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return 0, err
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext > 0 {
		l.failNext--
		return 0, l.failErr
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	memoKey := ""
	if len(memo) > 0 {
		memoKey = from.Key() + hex.EncodeToString(memo)
		if receipt, seen := l.memos[memoKey]; seen {
			return 0, &DuplicateError{Receipt: receipt}
		}
	}
	bal := l.balances[from.Key()]
	if bal == nil || bal.Cmp(amount) < 0 {
		return 0, ErrInsufficientFunds
	}
	if spender != nil {
		key := allowanceKey(from, *spender)
		allowance := l.allowances[key]
		if allowance == nil || allowance.Cmp(amount) < 0 {
			return 0, ErrInsufficientAllowance
		}
		allowance.Sub(allowance, amount)
	}
	bal.Sub(bal, amount)
	l.credit(to, amount)

	receipt := l.next
	l.next++
	if memoKey != "" {
		l.memos[memoKey] = receipt
	}
	l.transfers = append(l.transfers, Applied{Receipt: receipt, From: from, To: to, Amount: new(big.Int).Set(amount)})

	if l.loseNext > 0 {
		l.loseNext--
		return 0, ErrUnavailable
	}
	return receipt, nil
}

func (l *MemLedger) credit(account Account, amount *big.Int) {
	key := account.Key()
	bal, ok := l.balances[key]
	if !ok {
		bal = big.NewInt(0)
		l.balances[key] = bal
	}
	bal.Add(bal, amount)
}

func allowanceKey(owner Account, spender crypto.Address) string {
	return owner.Key() + string(spender[:])
}
