package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"stakevault/crypto"
	nativecommon "stakevault/native/common"
	"stakevault/native/vault/ledger"
)

const moduleName = "vault"

// Metrics receives vault instrumentation. observability.VaultMetrics
// implements it.
type Metrics interface {
	RecordOperation(op, outcome string, d time.Duration)
	RecordGuardRejection(op, reason string)
	RecordSettlement(bucket, outcome string, d time.Duration)
	RecordState(totalShares *big.Int, outstanding map[string]*big.Int)
	SetPaused(paused bool)
}

type noopMetrics struct{}

func (noopMetrics) RecordOperation(string, string, time.Duration)  {}
func (noopMetrics) RecordGuardRejection(string, string)            {}
func (noopMetrics) RecordSettlement(string, string, time.Duration) {}
func (noopMetrics) RecordState(*big.Int, map[string]*big.Int)      {}
func (noopMetrics) SetPaused(bool)                                 {}

// Vault serves the staking operations against a single LedgerState. The state
// mutex is never held across a ledger call; the guard lease is.
type Vault struct {
	address      crypto.Address
	stakeLedger  ledger.TokenLedger
	rewardLedger ledger.TokenLedger

	guard   *Guard
	pauses  nativecommon.PauseView
	paused  atomic.Bool
	metrics Metrics
	journal Journal
	store   *SnapshotStore
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	state *LedgerState
}

// Option customises a Vault.
type Option func(*Vault)

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(v *Vault) { v.now = clock }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// WithMetrics installs the instrumentation sink.
func WithMetrics(m Metrics) Option {
	return func(v *Vault) { v.metrics = m }
}

// WithJournal records every settlement attempt.
func WithJournal(j Journal) Option {
	return func(v *Vault) { v.journal = j }
}

// WithStore persists a snapshot after every operation.
func WithStore(s *SnapshotStore) Option {
	return func(v *Vault) { v.store = s }
}

// WithGuard configures admission limits.
func WithGuard(cfg GuardConfig) Option {
	return func(v *Vault) { v.guard = NewGuard(cfg) }
}

// WithPauses delegates the pause check to an external view. By default the
// vault answers from its own Pause/Resume switch.
func WithPauses(p nativecommon.PauseView) Option {
	return func(v *Vault) { v.pauses = p }
}

// New constructs a vault at address owning state.
func New(address crypto.Address, state *LedgerState, stake, reward ledger.TokenLedger, opts ...Option) (*Vault, error) {
	if address.IsAnonymous() {
		return nil, fmt.Errorf("%w: vault address required", ErrInvalidParams)
	}
	if state == nil {
		return nil, fmt.Errorf("%w: state required", ErrInvalidParams)
	}
	if stake == nil || reward == nil {
		return nil, fmt.Errorf("%w: stake and reward ledgers required", ErrInvalidParams)
	}
	v := &Vault{
		address:      address,
		stakeLedger:  stake,
		rewardLedger: reward,
		guard:        NewGuard(GuardConfig{}),
		metrics:      noopMetrics{},
		logger:       slog.Default(),
		now:          time.Now,
		state:        state,
	}
	v.pauses = v
	for _, opt := range opts {
		opt(v)
	}
	if v.metrics == nil {
		v.metrics = noopMetrics{}
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	v.publishState()
	return v, nil
}

// Address returns the vault's ledger account owner.
func (v *Vault) Address() crypto.Address { return v.address }

// Guard exposes the admission guard.
func (v *Vault) Guard() *Guard { return v.guard }

// IsPaused implements nativecommon.PauseView.
func (v *Vault) IsPaused(module string) bool {
	return module == moduleName && v.paused.Load()
}

// Pause rejects new operations until Resume. In-flight operations finish.
func (v *Vault) Pause() {
	v.paused.Store(true)
	v.metrics.SetPaused(true)
	v.logger.Warn("vault paused")
}

// Resume lifts a Pause.
func (v *Vault) Resume() {
	v.paused.Store(false)
	v.metrics.SetPaused(false)
	v.logger.Info("vault resumed")
}

// Paused reports the local pause switch.
func (v *Vault) Paused() bool { return v.paused.Load() }

// enter runs the admission checks shared by every handler.
func (v *Vault) enter(op string, caller crypto.Address, amount *big.Int, needsAmount bool) (*Lease, error) {
	if caller.IsAnonymous() {
		return nil, ErrAnonymousCaller
	}
	if needsAmount && (amount == nil || amount.Sign() <= 0) {
		return nil, ErrZeroAmount
	}
	if err := nativecommon.Guard(v.pauses, moduleName); err != nil {
		return nil, err
	}
	lease, err := v.guard.Acquire(caller)
	if err != nil {
		reason := "principal"
		if errors.Is(err, ErrTooManyConcurrentRequests) {
			reason = "ceiling"
		} else if v.guard.cfg.Exclusive {
			reason = "exclusive"
		}
		v.metrics.RecordGuardRejection(op, reason)
		return nil, err
	}
	return lease, nil
}

// exit records the outcome of a handler and persists the state.
func (v *Vault) exit(ctx context.Context, op string, caller crypto.Address, start time.Time, err error) {
	v.metrics.RecordOperation(op, Outcome(err), v.now().Sub(start))
	v.persist(ctx)
	if err != nil {
		v.logger.Warn("vault operation failed",
			slog.String("op", op),
			slog.String("caller", caller.String()),
			slog.Any("error", err))
		return
	}
	v.logger.Debug("vault operation", slog.String("op", op), slog.String("caller", caller.String()))
}

// Stake pulls amount from the caller's account (or subaccount) and credits it
// as shares. Rewards accrued on an existing stake are crystallized first.
func (v *Vault) Stake(ctx context.Context, caller crypto.Address, amount *big.Int, from *ledger.Subaccount) (err error) {
	start := v.now()
	lease, err := v.enter("stake", caller, amount, true)
	if err != nil {
		v.metrics.RecordOperation("stake", Outcome(err), 0)
		return err
	}
	defer lease.Release()
	defer func() { v.exit(ctx, "stake", caller, start, err) }()

	amount = new(big.Int).Set(amount)
	if err := v.pull(ctx, v.stakeLedger, "stake", caller, from, amount); err != nil {
		return fmt.Errorf("%w: stake transfer in: %w", ErrTransferFailed, err)
	}

	v.mu.Lock()
	acct, ok := v.state.Users[caller]
	if !ok {
		acct = newUserAccount()
		v.state.Users[caller] = acct
	}
	v.state.crystallizeRewards(acct)
	acct.Amount = new(big.Int).Add(acct.Amount, amount)
	v.state.TotalShares = new(big.Int).Add(v.state.TotalShares, amount)
	acct.UnlockAt = unixNanos(v.now().Add(v.state.LockDuration))
	v.state.syncUser(acct)
	v.mu.Unlock()
	v.publishState()
	return nil
}

// Withdraw removes amount of the caller's shares and settles the stake minus
// any early exit fee to the caller and the fee to the fee recipient.
func (v *Vault) Withdraw(ctx context.Context, caller crypto.Address, amount *big.Int) (err error) {
	start := v.now()
	lease, err := v.enter("withdraw", caller, amount, true)
	if err != nil {
		v.metrics.RecordOperation("withdraw", Outcome(err), 0)
		return err
	}
	defer lease.Release()
	defer func() { v.exit(ctx, "withdraw", caller, start, err) }()

	v.mu.Lock()
	acct, ok := v.state.Users[caller]
	if !ok || acct.Amount.Cmp(amount) < 0 {
		v.mu.Unlock()
		return ErrInsufficientBalance
	}
	v.state.crystallizeRewards(acct)
	fee := v.state.earlyExitFee(acct, amount, unixNanos(v.now()))
	acct.Amount = new(big.Int).Sub(acct.Amount, amount)
	v.state.TotalShares = new(big.Int).Sub(v.state.TotalShares, amount)
	v.state.syncUser(acct)
	net := new(big.Int).Sub(amount, fee)
	acct.PendingStakeClaim = new(big.Int).Add(acct.PendingStakeClaim, net)
	acct.PendingFeeClaim = new(big.Int).Add(acct.PendingFeeClaim, fee)
	v.mu.Unlock()

	return v.settle(ctx, caller)
}

// ClaimRewards crystallizes the caller's accrued reward and settles it.
func (v *Vault) ClaimRewards(ctx context.Context, caller crypto.Address) (err error) {
	start := v.now()
	lease, err := v.enter("claim", caller, nil, false)
	if err != nil {
		v.metrics.RecordOperation("claim", Outcome(err), 0)
		return err
	}
	defer lease.Release()
	defer func() { v.exit(ctx, "claim", caller, start, err) }()

	v.mu.Lock()
	acct, ok := v.state.Users[caller]
	if !ok {
		v.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrNothingToClaim, ErrUserDoesNotExist)
	}
	moved := v.state.crystallizeRewards(acct)
	empty := moved.Sign() == 0 && acct.PendingRewardClaim.Sign() == 0
	v.mu.Unlock()
	if empty {
		return ErrNothingToClaim
	}
	return v.settle(ctx, caller)
}

// Settle retries every pending bucket of the caller.
func (v *Vault) Settle(ctx context.Context, caller crypto.Address) (err error) {
	start := v.now()
	lease, err := v.enter("settle", caller, nil, false)
	if err != nil {
		v.metrics.RecordOperation("settle", Outcome(err), 0)
		return err
	}
	defer lease.Release()
	defer func() { v.exit(ctx, "settle", caller, start, err) }()

	v.mu.Lock()
	acct, ok := v.state.Users[caller]
	pending := ok && acct.HasPending()
	v.mu.Unlock()
	if !pending {
		return ErrNothingToClaim
	}
	return v.settle(ctx, caller)
}

// DepositRewards pulls amount of the reward asset from the caller and
// distributes it over the current shares.
func (v *Vault) DepositRewards(ctx context.Context, caller crypto.Address, amount *big.Int, from *ledger.Subaccount) (err error) {
	start := v.now()
	lease, err := v.enter("deposit", caller, amount, true)
	if err != nil {
		v.metrics.RecordOperation("deposit", Outcome(err), 0)
		return err
	}
	defer lease.Release()
	defer func() { v.exit(ctx, "deposit", caller, start, err) }()

	v.mu.Lock()
	noShares := v.state.TotalShares.Sign() == 0
	v.mu.Unlock()
	if noShares {
		return ErrNoShares
	}

	amount = new(big.Int).Set(amount)
	if err := v.pull(ctx, v.rewardLedger, "deposit", caller, from, amount); err != nil {
		return fmt.Errorf("%w: reward transfer in: %w", ErrTransferFailed, err)
	}

	v.mu.Lock()
	if err := v.state.depositReward(amount); errors.Is(err, ErrNoShares) {
		// Every staker left while the transfer was in flight.
		v.state.holdReward(amount)
		v.logger.Warn("vault reward held until shares exist", slog.String("amount", amount.String()))
	}
	v.mu.Unlock()
	return nil
}

func (v *Vault) TotalSupply() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.TotalSupply()
}

func (v *Vault) BalanceOf(user crypto.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.BalanceOf(user)
}

func (v *Vault) TotalRewards() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.TotalRewards()
}

func (v *Vault) PendingRewards(user crypto.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.PendingRewards(user)
}

func (v *Vault) Metadata() Metadata {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.Metadata()
}

// Account returns a copy of the user's record.
func (v *Vault) Account(user crypto.Address) (*UserAccount, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.Account(user)
}

// TimeUntilUnlock returns the remaining lock period of user.
func (v *Vault) TimeUntilUnlock(user crypto.Address) time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.TimeUntilUnlock(user, v.now())
}

// Status summarises the vault for operators.
type Status struct {
	Paused                bool
	Stakers               int
	Users                 int
	ActiveLeases          int
	TotalShares           *big.Int
	TotalRewardsDeposited *big.Int
	UndistributedRewards  *big.Int
	Outstanding           map[Bucket]*big.Int
}

func (v *Vault) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Status{
		Paused:                v.paused.Load(),
		Stakers:               v.state.Stakers(),
		Users:                 len(v.state.Users),
		ActiveLeases:          v.guard.Active(),
		TotalShares:           v.state.TotalSupply(),
		TotalRewardsDeposited: v.state.TotalRewards(),
		UndistributedRewards:  cloneInt(v.state.UndistributedRewards),
		Outstanding:           v.state.Outstanding(),
	}
}

// State returns a deep copy of the ledger state.
func (v *Vault) State() *LedgerState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.Clone()
}

// CheckInvariants verifies the live state.
func (v *Vault) CheckInvariants() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.CheckInvariants()
}

func (v *Vault) publishState() {
	v.mu.Lock()
	shares := v.state.TotalSupply()
	outstanding := make(map[string]*big.Int, len(settlementOrder))
	for bucket, total := range v.state.Outstanding() {
		outstanding[bucket.String()] = total
	}
	v.mu.Unlock()
	v.metrics.RecordState(shares, outstanding)
}

// Outcome maps a handler error to a stable label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	case errors.Is(err, ErrAnonymousCaller):
		return "anonymous"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrZeroAmount),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrNoShares),
		errors.Is(err, ErrNothingToClaim):
		return "rejected"
	default:
		return "error"
	}
}
