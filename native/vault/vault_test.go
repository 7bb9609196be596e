package vault

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"stakevault/crypto"
	nativecommon "stakevault/native/common"
	"stakevault/native/vault/ledger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	vaultAddr    = makeAddr(0xF0)
	stakeAsset   = makeAddr(0xA1)
	rewardAsset  = makeAddr(0xA2)
	feeRecipient = makeAddr(0xFE)
	alice        = makeAddr(0x01)
	bob          = makeAddr(0x02)
	carol        = makeAddr(0x03)
)

var unlimited = new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)

func makeAddr(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = 0x5a
	raw[crypto.AddressLength-1] = b
	return crypto.MustAddress(raw)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	t      *testing.T
	vault  *Vault
	stake  *ledger.MemLedger
	reward *ledger.MemLedger
	clock  *testClock
}

func defaultParams() Params {
	return Params{
		LockDuration: 1000 * time.Nanosecond,
		EarlyExitFee: big.NewInt(10),
		FeeRecipient: feeRecipient,
		StakeAsset:   stakeAsset,
		RewardAsset:  rewardAsset,
	}
}

func newFixture(t *testing.T, params Params, opts ...Option) *fixture {
	t.Helper()
	state, err := NewLedgerState(params)
	if err != nil {
		t.Fatalf("new ledger state: %v", err)
	}
	f := &fixture{
		t:      t,
		stake:  ledger.NewMemLedger(stakeAsset),
		reward: ledger.NewMemLedger(rewardAsset),
		clock:  &testClock{now: time.Unix(1_700_000_000, 0)},
	}
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.vault, err = New(vaultAddr, state, f.stake, f.reward, opts...)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	return f
}

func (f *fixture) fundStake(user crypto.Address, amount int64) {
	f.stake.Mint(ledger.Account{Owner: user}, big.NewInt(amount))
	f.stake.Approve(ledger.Account{Owner: user}, vaultAddr, unlimited)
}

func (f *fixture) fundReward(user crypto.Address, amount int64) {
	f.reward.Mint(ledger.Account{Owner: user}, big.NewInt(amount))
	f.reward.Approve(ledger.Account{Owner: user}, vaultAddr, unlimited)
}

func (f *fixture) mustStake(user crypto.Address, amount int64) {
	f.t.Helper()
	f.fundStake(user, amount)
	if err := f.vault.Stake(context.Background(), user, big.NewInt(amount), nil); err != nil {
		f.t.Fatalf("stake %d: %v", amount, err)
	}
}

func (f *fixture) mustDeposit(amount int64) {
	f.t.Helper()
	f.fundReward(carol, amount)
	if err := f.vault.DepositRewards(context.Background(), carol, big.NewInt(amount), nil); err != nil {
		f.t.Fatalf("deposit %d: %v", amount, err)
	}
}

func (f *fixture) account(user crypto.Address) *UserAccount {
	f.t.Helper()
	acct, ok := f.vault.Account(user)
	if !ok {
		f.t.Fatalf("account %s missing", user)
	}
	return acct
}

func expectInt(t *testing.T, label string, got *big.Int, want int64) {
	t.Helper()
	if got == nil || got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s: got %v want %d", label, got, want)
	}
}

func TestEqualStakesShareRewardEqually(t *testing.T) {
	f := newFixture(t, defaultParams())
	f.mustStake(alice, 100)
	f.mustStake(bob, 100)
	expectInt(t, "total supply", f.vault.TotalSupply(), 200)

	f.mustDeposit(10)
	state := f.vault.State()
	wantCRPS := new(big.Int).Mul(big.NewInt(10), Precision())
	wantCRPS.Quo(wantCRPS, big.NewInt(200))
	if state.CumulativeRewardPerShare.Cmp(wantCRPS) != 0 {
		t.Fatalf("reward per share: got %s want %s", state.CumulativeRewardPerShare, wantCRPS)
	}
	expectInt(t, "alice pending", f.vault.PendingRewards(alice), 5)
	expectInt(t, "bob pending", f.vault.PendingRewards(bob), 5)
	expectInt(t, "total rewards", f.vault.TotalRewards(), 10)
}

func TestRewardsProportionalToShares(t *testing.T) {
	cases := []struct {
		s1, s2, reward int64
		want1, want2   int64
	}{
		{30, 70, 1000, 300, 700},
		{1, 2, 10, 3, 6},
		{3, 3, 1, 0, 0},
	}
	for _, tc := range cases {
		f := newFixture(t, defaultParams())
		f.mustStake(alice, tc.s1)
		f.mustStake(bob, tc.s2)
		f.mustDeposit(tc.reward)
		expectInt(t, "first staker", f.vault.PendingRewards(alice), tc.want1)
		expectInt(t, "second staker", f.vault.PendingRewards(bob), tc.want2)
	}
}

func TestEarlyWithdrawChargesFee(t *testing.T) {
	f := newFixture(t, defaultParams())
	f.mustStake(alice, 100)
	f.clock.Advance(500 * time.Nanosecond)

	if err := f.vault.Withdraw(context.Background(), alice, big.NewInt(50)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectInt(t, "user received", f.stake.BalanceOf(ledger.Account{Owner: alice}), 45)
	expectInt(t, "fee recipient", f.stake.BalanceOf(ledger.Account{Owner: feeRecipient}), 5)
	expectInt(t, "vault custody", f.stake.BalanceOf(ledger.Account{Owner: vaultAddr}), 50)
	acct := f.account(alice)
	expectInt(t, "remaining stake", acct.Amount, 50)
	if acct.HasPending() {
		t.Fatalf("expected settled buckets, got %+v", acct)
	}
}

func TestWithdrawAfterUnlockIsFeeFree(t *testing.T) {
	f := newFixture(t, defaultParams())
	f.mustStake(alice, 100)
	f.clock.Advance(1000 * time.Nanosecond)
	if got := f.vault.TimeUntilUnlock(alice); got != 0 {
		t.Fatalf("expected unlocked, got %s", got)
	}
	if err := f.vault.Withdraw(context.Background(), alice, big.NewInt(100)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectInt(t, "user received", f.stake.BalanceOf(ledger.Account{Owner: alice}), 100)
	expectInt(t, "fee recipient", f.stake.BalanceOf(ledger.Account{Owner: feeRecipient}), 0)
	expectInt(t, "total supply", f.vault.TotalSupply(), 0)
}

func TestFailedWithdrawKeepsBucketsForRetry(t *testing.T) {
	f := newFixture(t, defaultParams())
	f.mustStake(alice, 100)
	f.clock.Advance(500 * time.Nanosecond)

	f.stake.FailNext(2, nil)
	err := f.vault.Withdraw(context.Background(), alice, big.NewInt(50))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	var terr *TransferError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransferError, got %T", err)
	}
	acct := f.account(alice)
	expectInt(t, "pending fee", acct.PendingFeeClaim, 5)
	expectInt(t, "pending stake", acct.PendingStakeClaim, 45)
	expectInt(t, "staked", acct.Amount, 50)

	if err := f.vault.Settle(context.Background(), alice); err != nil {
		t.Fatalf("settle: %v", err)
	}
	expectInt(t, "user received", f.stake.BalanceOf(ledger.Account{Owner: alice}), 45)
	expectInt(t, "fee recipient", f.stake.BalanceOf(ledger.Account{Owner: feeRecipient}), 5)
	if err := f.vault.Settle(context.Background(), alice); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("expected nothing to claim, got %v", err)
	}
}

func TestPartialSettlementKeepsOnlyFailedBucket(t *testing.T) {
	f := newFixture(t, defaultParams())
	f.mustStake(alice, 100)
	f.clock.Advance(500 * time.Nanosecond)

	// fee is attempted first and fails; stake still goes through.
	f.stake.FailNext(1, nil)
	if err := f.vault.Withdraw(context.Background(), alice, big.NewInt(50)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	acct := f.account(alice)
	expectInt(t, "pending fee", acct.PendingFeeClaim, 5)
	expectInt(t, "pending stake", acct.PendingStakeClaim, 0)
	expectInt(t, "user received", f.stake.BalanceOf(ledger.Account{Owner: alice}), 45)
}

func TestStakeTransferFailureChangesNothing(t *testing.T) {
	f := newFixture(t, defaultParams())
	if err := f.vault.Stake(context.Background(), alice, big.NewInt(100), nil); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure without allowance, got %v", err)
	}
	if _, ok := f.vault.Account(alice); ok {
		t.Fatalf("account created on failed stake")
	}
	expectInt(t, "total supply", f.vault.TotalSupply(), 0)
}

func TestStakeFromSubaccount(t *testing.T) {
	f := newFixture(t, defaultParams())
	sub := ledger.Subaccount{7}
	from := ledger.Account{Owner: alice, Subaccount: &sub}
	f.stake.Mint(from, big.NewInt(40))
	f.stake.Approve(from, vaultAddr, unlimited)
	if err := f.vault.Stake(context.Background(), alice, big.NewInt(40), &sub); err != nil {
		t.Fatalf("stake: %v", err)
	}
	expectInt(t, "balance", f.vault.BalanceOf(alice), 40)
	expectInt(t, "subaccount drained", f.stake.BalanceOf(from), 0)
}

func TestTopUpCrystallizesEarnedRewards(t *testing.T) {
	f := newFixture(t, defaultParams())
	f.mustStake(alice, 100)
	f.mustStake(bob, 100)
	f.mustDeposit(10)
	f.mustStake(alice, 100)

	acct := f.account(alice)
	expectInt(t, "crystallized", acct.PendingRewardClaim, 5)
	expectInt(t, "accrued after top up", f.vault.PendingRewards(alice), 0)

	f.mustDeposit(30)
	expectInt(t, "alice accrued", f.vault.PendingRewards(alice), 20)
	expectInt(t, "bob accrued", f.vault.PendingRewards(bob), 15)
}

func TestPreconditionErrors(t *testing.T) {
	f := newFixture(t, defaultParams())
	ctx := context.Background()
	var anonymous crypto.Address

	if err := f.vault.Stake(ctx, alice, big.NewInt(0), nil); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("stake zero: %v", err)
	}
	if err := f.vault.Withdraw(ctx, alice, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("withdraw zero: %v", err)
	}
	if err := f.vault.Withdraw(ctx, alice, big.NewInt(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("withdraw without account: %v", err)
	}
	if err := f.vault.ClaimRewards(ctx, alice); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("claim without account: %v", err)
	}
	if err := f.vault.DepositRewards(ctx, carol, big.NewInt(5), nil); !errors.Is(err, ErrNoShares) {
		t.Fatalf("deposit without shares: %v", err)
	}
	if err := f.vault.Stake(ctx, anonymous, big.NewInt(1), nil); !errors.Is(err, ErrAnonymousCaller) {
		t.Fatalf("anonymous stake: %v", err)
	}

	f.mustStake(alice, 10)
	if err := f.vault.Withdraw(ctx, alice, big.NewInt(11)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("over withdraw: %v", err)
	}
	if err := f.vault.ClaimRewards(ctx, alice); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("claim without rewards: %v", err)
	}
	if f.vault.Guard().Active() != 0 {
		t.Fatalf("leases leaked after errors")
	}
}

func TestClaimRetriesAfterFailureWithoutDoublePay(t *testing.T) {
	f := newFixture(t, defaultParams())
	f.mustStake(alice, 100)
	f.mustStake(bob, 100)
	f.mustDeposit(10)

	f.reward.FailNext(1, nil)
	if err := f.vault.ClaimRewards(context.Background(), alice); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	expectInt(t, "pending reward kept", f.account(alice).PendingRewardClaim, 5)

	if err := f.vault.ClaimRewards(context.Background(), alice); err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	expectInt(t, "user paid", f.reward.BalanceOf(ledger.Account{Owner: alice}), 5)
	applied := len(f.reward.Applied())

	if err := f.vault.ClaimRewards(context.Background(), alice); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("expected nothing to claim, got %v", err)
	}
	if len(f.reward.Applied()) != applied {
		t.Fatalf("replay transferred funds")
	}
	expectInt(t, "user paid once", f.reward.BalanceOf(ledger.Account{Owner: alice}), 5)
}

func TestLostTransferResultIsNotPaidTwice(t *testing.T) {
	f := newFixture(t, defaultParams())
	f.mustStake(alice, 100)
	f.mustStake(bob, 100)
	f.mustDeposit(10)

	f.reward.LoseNextResult(1)
	if err := f.vault.ClaimRewards(context.Background(), alice); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ambiguous failure, got %v", err)
	}
	expectInt(t, "ledger applied", f.reward.BalanceOf(ledger.Account{Owner: alice}), 5)
	acct := f.account(alice)
	expectInt(t, "pending kept", acct.PendingRewardClaim, 5)
	expectInt(t, "inflight", acct.InflightReward, 5)

	// More rewards arrive before the retry.
	f.mustDeposit(10)
	if err := f.vault.ClaimRewards(context.Background(), alice); err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	expectInt(t, "user paid", f.reward.BalanceOf(ledger.Account{Owner: alice}), 10)
	acct = f.account(alice)
	expectInt(t, "pending cleared", acct.PendingRewardClaim, 0)
	expectInt(t, "inflight cleared", acct.InflightReward, 0)
	if acct.SettleNonce != 2 {
		t.Fatalf("settle nonce: got %d want 2", acct.SettleNonce)
	}
}

func TestLostFeeResultIsNotPaidTwiceAfterStakeConfirms(t *testing.T) {
	journal := &recordingJournal{}
	f := newFixture(t, defaultParams(), WithJournal(journal))
	f.mustStake(alice, 100)
	f.mustStake(bob, 100)
	f.mustDeposit(10)

	// The fee transfer lands but its result is lost; the reward and stake
	// transfers that follow confirm and bump the settle nonce.
	f.stake.LoseNextResult(1)
	if err := f.vault.Withdraw(context.Background(), alice, big.NewInt(50)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ambiguous fee failure, got %v", err)
	}
	expectInt(t, "fee recipient", f.stake.BalanceOf(ledgerAccount(feeRecipient)), 5)
	expectInt(t, "user received", f.stake.BalanceOf(ledgerAccount(alice)), 45)
	expectInt(t, "reward received", f.reward.BalanceOf(ledgerAccount(alice)), 5)
	acct := f.account(alice)
	expectInt(t, "inflight fee", acct.InflightFee, 5)
	if acct.InflightFeeNonce != 0 || acct.SettleNonce != 2 {
		t.Fatalf("nonces: inflight fee %d settle %d", acct.InflightFeeNonce, acct.SettleNonce)
	}

	if err := f.vault.Settle(context.Background(), alice); err != nil {
		t.Fatalf("settle: %v", err)
	}
	expectInt(t, "fee paid once", f.stake.BalanceOf(ledgerAccount(feeRecipient)), 5)
	expectInt(t, "vault custody", f.stake.BalanceOf(ledgerAccount(vaultAddr)), 150)
	acct = f.account(alice)
	if acct.HasPending() {
		t.Fatalf("expected settled buckets, got %+v", acct)
	}
	last := journal.attempts[len(journal.attempts)-1]
	if last.Bucket != BucketFee || last.Status != AttemptDuplicate || last.Nonce != 0 {
		t.Fatalf("unexpected retry attempt %+v", last)
	}
	if string(last.Memo) != string(SettlementMemo(vaultAddr, alice, BucketFee, 0)) {
		t.Fatalf("fee retry must reuse its original memo")
	}
}

func TestLostStakePullIsNotChargedTwice(t *testing.T) {
	f := newFixture(t, defaultParams())
	f.fundStake(alice, 150)

	f.stake.LoseNextResult(1)
	err := f.vault.Stake(context.Background(), alice, big.NewInt(100), nil)
	if !errors.Is(err, ErrTransferFailed) || !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("expected ambiguous pull failure, got %v", err)
	}
	if _, ok := f.vault.Account(alice); ok {
		t.Fatalf("account created before the pull confirmed")
	}

	if err := f.vault.Stake(context.Background(), alice, big.NewInt(100), nil); err != nil {
		t.Fatalf("retry stake: %v", err)
	}
	expectInt(t, "user balance", f.stake.BalanceOf(ledgerAccount(alice)), 50)
	expectInt(t, "vault custody", f.stake.BalanceOf(ledgerAccount(vaultAddr)), 100)
	expectInt(t, "staked", f.vault.BalanceOf(alice), 100)

	// A confirmed pull moves the memo on, so an identical top-up is charged.
	if err := f.vault.Stake(context.Background(), alice, big.NewInt(50), nil); err != nil {
		t.Fatalf("top up: %v", err)
	}
	if err := f.vault.Stake(context.Background(), alice, big.NewInt(50), nil); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected insufficient funds once drained, got %v", err)
	}
	expectInt(t, "staked after top up", f.vault.BalanceOf(alice), 150)
	expectInt(t, "vault custody after top up", f.stake.BalanceOf(ledgerAccount(vaultAddr)), 150)
}

func TestLostDepositPullIsNotChargedTwice(t *testing.T) {
	f := newFixture(t, defaultParams())
	f.mustStake(alice, 100)
	f.fundReward(carol, 10)

	f.reward.LoseNextResult(1)
	if err := f.vault.DepositRewards(context.Background(), carol, big.NewInt(10), nil); !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("expected ambiguous deposit failure, got %v", err)
	}
	expectInt(t, "nothing accrued yet", f.vault.PendingRewards(alice), 0)

	if err := f.vault.DepositRewards(context.Background(), carol, big.NewInt(10), nil); err != nil {
		t.Fatalf("retry deposit: %v", err)
	}
	expectInt(t, "accrued", f.vault.PendingRewards(alice), 10)
	expectInt(t, "reward custody", f.reward.BalanceOf(ledgerAccount(vaultAddr)), 10)
	expectInt(t, "deposited", f.vault.State().TotalRewardsDeposited, 10)
}

func TestDepositHeldWhenAllStakersLeave(t *testing.T) {
	params := defaultParams()
	params.LockDuration = 0
	f := newFixture(t, params)
	f.mustStake(alice, 100)
	f.fundReward(carol, 10)

	var once sync.Once
	f.reward.SetHook(func(ctx context.Context) error {
		once.Do(func() {
			if err := f.vault.Withdraw(ctx, alice, big.NewInt(100)); err != nil {
				t.Errorf("withdraw during deposit: %v", err)
			}
		})
		return nil
	})
	if err := f.vault.DepositRewards(context.Background(), carol, big.NewInt(10), nil); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.reward.SetHook(nil)

	state := f.vault.State()
	expectInt(t, "undistributed", state.UndistributedRewards, 10)
	expectInt(t, "total rewards", state.TotalRewardsDeposited, 10)
	expectInt(t, "reward per share", state.CumulativeRewardPerShare, 0)

	f.mustStake(bob, 50)
	f.mustDeposit(20)
	expectInt(t, "bob accrues held rewards", f.vault.PendingRewards(bob), 30)
	expectInt(t, "undistributed cleared", f.vault.State().UndistributedRewards, 0)
	if err := f.vault.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestPausedVaultRejectsOperations(t *testing.T) {
	f := newFixture(t, defaultParams())
	f.fundStake(alice, 10)
	f.vault.Pause()
	if err := f.vault.Stake(context.Background(), alice, big.NewInt(10), nil); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	f.vault.Resume()
	if err := f.vault.Stake(context.Background(), alice, big.NewInt(10), nil); err != nil {
		t.Fatalf("stake after resume: %v", err)
	}
}

func TestNewLedgerStateValidatesParams(t *testing.T) {
	cases := map[string]func(*Params){
		"fee above 100":   func(p *Params) { p.EarlyExitFee = big.NewInt(101) },
		"negative fee":    func(p *Params) { p.EarlyExitFee = big.NewInt(-1) },
		"missing fee":     func(p *Params) { p.EarlyExitFee = nil },
		"same assets":     func(p *Params) { p.RewardAsset = p.StakeAsset },
		"anonymous asset": func(p *Params) { p.StakeAsset = crypto.Address{} },
		"negative lock":   func(p *Params) { p.LockDuration = -1 },
	}
	for name, mutate := range cases {
		p := defaultParams()
		mutate(&p)
		if _, err := NewLedgerState(p); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("%s: expected ErrInvalidParams, got %v", name, err)
		}
	}
}

func ledgerAccount(owner crypto.Address) ledger.Account {
	return ledger.Account{Owner: owner}
}

type recordingJournal struct {
	mu       sync.Mutex
	attempts []Attempt
	err      error
}

func (j *recordingJournal) Record(_ context.Context, a Attempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts = append(j.attempts, a)
	return j.err
}

func TestSettlementAttemptsAreJournaled(t *testing.T) {
	journal := &recordingJournal{err: errors.New("journal offline")}
	f := newFixture(t, defaultParams(), WithJournal(journal))
	f.mustStake(alice, 100)
	f.mustDeposit(10)

	f.reward.LoseNextResult(1)
	_ = f.vault.ClaimRewards(context.Background(), alice)
	if err := f.vault.ClaimRewards(context.Background(), alice); err != nil {
		t.Fatalf("retry claim: %v", err)
	}

	if len(journal.attempts) != 2 {
		t.Fatalf("expected two attempts, got %d", len(journal.attempts))
	}
	first, second := journal.attempts[0], journal.attempts[1]
	if first.Status != AttemptFailed || second.Status != AttemptDuplicate {
		t.Fatalf("unexpected statuses %s, %s", first.Status, second.Status)
	}
	want := SettlementMemo(vaultAddr, alice, BucketReward, 0)
	if string(first.Memo) != string(want) || string(second.Memo) != string(want) {
		t.Fatalf("retry must reuse the original memo")
	}
	if second.Receipt == 0 {
		t.Fatalf("duplicate should carry the original receipt")
	}
	if first.Recipient != alice || first.Asset != rewardAsset {
		t.Fatalf("unexpected routing %+v", first)
	}
	if string(SettlementMemo(vaultAddr, alice, BucketReward, 1)) == string(want) {
		t.Fatalf("memo must change with the nonce")
	}
}
