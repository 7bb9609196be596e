package vault

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"stakevault/crypto"
)

// precision scales the reward accumulator.
var precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var feeDenominator = big.NewInt(100)

// Precision returns the fixed scale of the reward-per-share accumulator.
func Precision() *big.Int { return new(big.Int).Set(precision) }

// Bucket identifies one of the pending claims settled for a user.
type Bucket uint8

const (
	BucketFee Bucket = iota + 1
	BucketReward
	BucketStake
)

// settlementOrder is the fixed order buckets are attempted in.
var settlementOrder = []Bucket{BucketFee, BucketReward, BucketStake}

func (b Bucket) String() string {
	switch b {
	case BucketFee:
		return "fee"
	case BucketReward:
		return "reward"
	case BucketStake:
		return "stake"
	default:
		return fmt.Sprintf("bucket(%d)", uint8(b))
	}
}

// Params are the one-time initialisation arguments of a vault.
type Params struct {
	LockDuration time.Duration
	// EarlyExitFee is charged per 100 units withdrawn before unlock.
	EarlyExitFee *big.Int
	FeeRecipient crypto.Address
	StakeAsset   crypto.Address
	RewardAsset  crypto.Address
}

// Validate checks the parameters can initialise a vault.
func (p Params) Validate() error {
	if p.LockDuration < 0 {
		return fmt.Errorf("%w: negative lock duration", ErrInvalidParams)
	}
	if p.EarlyExitFee == nil || p.EarlyExitFee.Sign() < 0 || p.EarlyExitFee.Cmp(feeDenominator) > 0 {
		return fmt.Errorf("%w: early exit fee must be between 0 and 100", ErrInvalidParams)
	}
	if p.StakeAsset.IsAnonymous() || p.RewardAsset.IsAnonymous() {
		return fmt.Errorf("%w: stake and reward assets are required", ErrInvalidParams)
	}
	if p.StakeAsset == p.RewardAsset {
		return fmt.Errorf("%w: stake and reward assets must differ", ErrInvalidParams)
	}
	if p.FeeRecipient.IsAnonymous() {
		return fmt.Errorf("%w: fee recipient is required", ErrInvalidParams)
	}
	return nil
}

// UserAccount is the per-staker record. Accounts are never deleted.
type UserAccount struct {
	Amount         *big.Int
	UnlockAt       uint64
	RewardBaseline *big.Int

	PendingStakeClaim  *big.Int
	PendingRewardClaim *big.Int
	PendingFeeClaim    *big.Int

	// Inflight holds the amount of an unconfirmed transfer per bucket. A
	// retry resends exactly that amount under the same memo.
	InflightFee    *big.Int
	InflightReward *big.Int
	InflightStake  *big.Int

	// The nonce each inflight transfer was first sent under. Only meaningful
	// while the matching inflight amount is non-zero.
	InflightFeeNonce    uint64
	InflightRewardNonce uint64
	InflightStakeNonce  uint64

	// SettleNonce counts confirmed outbound transfers.
	SettleNonce uint64
}

func newUserAccount() *UserAccount {
	return &UserAccount{
		Amount:             big.NewInt(0),
		RewardBaseline:     big.NewInt(0),
		PendingStakeClaim:  big.NewInt(0),
		PendingRewardClaim: big.NewInt(0),
		PendingFeeClaim:    big.NewInt(0),
		InflightFee:        big.NewInt(0),
		InflightReward:     big.NewInt(0),
		InflightStake:      big.NewInt(0),
	}
}

func (u *UserAccount) pending(b Bucket) *big.Int {
	switch b {
	case BucketFee:
		return u.PendingFeeClaim
	case BucketReward:
		return u.PendingRewardClaim
	case BucketStake:
		return u.PendingStakeClaim
	}
	panic(fmt.Sprintf("vault: unknown bucket %d", b))
}

func (u *UserAccount) inflight(b Bucket) *big.Int {
	switch b {
	case BucketFee:
		return u.InflightFee
	case BucketReward:
		return u.InflightReward
	case BucketStake:
		return u.InflightStake
	}
	panic(fmt.Sprintf("vault: unknown bucket %d", b))
}

func (u *UserAccount) inflightNonce(b Bucket) uint64 {
	switch b {
	case BucketFee:
		return u.InflightFeeNonce
	case BucketReward:
		return u.InflightRewardNonce
	case BucketStake:
		return u.InflightStakeNonce
	}
	panic(fmt.Sprintf("vault: unknown bucket %d", b))
}

// HasPending reports whether any bucket still awaits settlement.
func (u *UserAccount) HasPending() bool {
	return u.PendingFeeClaim.Sign() > 0 || u.PendingRewardClaim.Sign() > 0 || u.PendingStakeClaim.Sign() > 0
}

// Clone returns a deep copy.
func (u *UserAccount) Clone() *UserAccount {
	if u == nil {
		return nil
	}
	return &UserAccount{
		Amount:             cloneInt(u.Amount),
		UnlockAt:           u.UnlockAt,
		RewardBaseline:     cloneInt(u.RewardBaseline),
		PendingStakeClaim:  cloneInt(u.PendingStakeClaim),
		PendingRewardClaim: cloneInt(u.PendingRewardClaim),
		PendingFeeClaim:    cloneInt(u.PendingFeeClaim),
		InflightFee:        cloneInt(u.InflightFee),
		InflightReward:     cloneInt(u.InflightReward),
		InflightStake:      cloneInt(u.InflightStake),

		InflightFeeNonce:    u.InflightFeeNonce,
		InflightRewardNonce: u.InflightRewardNonce,
		InflightStakeNonce:  u.InflightStakeNonce,
		SettleNonce:         u.SettleNonce,
	}
}

// LedgerState is the vault's aggregate. It is not safe for concurrent use;
// a Vault serialises access to it.
type LedgerState struct {
	LockDuration time.Duration
	EarlyExitFee *big.Int
	FeeRecipient crypto.Address
	StakeAsset   crypto.Address
	RewardAsset  crypto.Address

	TotalShares              *big.Int
	CumulativeRewardPerShare *big.Int
	Precision                *big.Int
	TotalRewardsDeposited    *big.Int
	// UndistributedRewards holds rewards received while no shares existed.
	UndistributedRewards *big.Int

	Users map[crypto.Address]*UserAccount
	// PullNonces counts confirmed inbound pulls (stakes and reward deposits)
	// per principal. Depositors need not be stakers.
	PullNonces map[crypto.Address]uint64
}

// NewLedgerState initialises an empty ledger from validated params.
func NewLedgerState(p Params) (*LedgerState, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &LedgerState{
		LockDuration:             p.LockDuration,
		EarlyExitFee:             cloneInt(p.EarlyExitFee),
		FeeRecipient:             p.FeeRecipient,
		StakeAsset:               p.StakeAsset,
		RewardAsset:              p.RewardAsset,
		TotalShares:              big.NewInt(0),
		CumulativeRewardPerShare: big.NewInt(0),
		Precision:                Precision(),
		TotalRewardsDeposited:    big.NewInt(0),
		UndistributedRewards:     big.NewInt(0),
		Users:                    make(map[crypto.Address]*UserAccount),
		PullNonces:               make(map[crypto.Address]uint64),
	}, nil
}

// Metadata describes the vault configuration.
type Metadata struct {
	StakeAsset   crypto.Address `json:"stakeAsset"`
	RewardAsset  crypto.Address `json:"rewardAsset"`
	FeeRecipient crypto.Address `json:"feeRecipient"`
	EarlyExitFee *big.Int       `json:"earlyExitFee"`
	LockDuration time.Duration  `json:"lockDurationNanos"`
}

func (s *LedgerState) Metadata() Metadata {
	return Metadata{
		StakeAsset:   s.StakeAsset,
		RewardAsset:  s.RewardAsset,
		FeeRecipient: s.FeeRecipient,
		EarlyExitFee: cloneInt(s.EarlyExitFee),
		LockDuration: s.LockDuration,
	}
}

func (s *LedgerState) TotalSupply() *big.Int { return cloneInt(s.TotalShares) }

func (s *LedgerState) TotalRewards() *big.Int { return cloneInt(s.TotalRewardsDeposited) }

func (s *LedgerState) BalanceOf(user crypto.Address) *big.Int {
	if acct, ok := s.Users[user]; ok {
		return cloneInt(acct.Amount)
	}
	return big.NewInt(0)
}

// PendingRewards returns the accrued reward not yet crystallized for user.
func (s *LedgerState) PendingRewards(user crypto.Address) *big.Int {
	acct, ok := s.Users[user]
	if !ok {
		return big.NewInt(0)
	}
	return s.pendingRewards(acct)
}

// Account returns a copy of the user's record.
func (s *LedgerState) Account(user crypto.Address) (*UserAccount, bool) {
	acct, ok := s.Users[user]
	if !ok {
		return nil, false
	}
	return acct.Clone(), true
}

// TimeUntilUnlock returns how long until user can withdraw without a fee.
func (s *LedgerState) TimeUntilUnlock(user crypto.Address, now time.Time) time.Duration {
	acct, ok := s.Users[user]
	if !ok {
		return 0
	}
	current := unixNanos(now)
	if current >= acct.UnlockAt {
		return 0
	}
	return time.Duration(acct.UnlockAt - current)
}

// Stakers returns the number of accounts with a non-zero stake.
func (s *LedgerState) Stakers() int {
	n := 0
	for _, acct := range s.Users {
		if acct.Amount.Sign() > 0 {
			n++
		}
	}
	return n
}

// Outstanding sums each bucket across all users.
func (s *LedgerState) Outstanding() map[Bucket]*big.Int {
	out := map[Bucket]*big.Int{
		BucketFee:    big.NewInt(0),
		BucketReward: big.NewInt(0),
		BucketStake:  big.NewInt(0),
	}
	for _, acct := range s.Users {
		for _, b := range settlementOrder {
			out[b].Add(out[b], acct.pending(b))
		}
	}
	return out
}

// SortedUsers returns the user addresses in byte order.
func (s *LedgerState) SortedUsers() []crypto.Address {
	users := make([]crypto.Address, 0, len(s.Users))
	for addr := range s.Users {
		users = append(users, addr)
	}
	sort.Slice(users, func(i, j int) bool {
		return string(users[i][:]) < string(users[j][:])
	})
	return users
}

// CheckInvariants verifies share conservation, non-negative buckets and
// non-negative accrued rewards.
func (s *LedgerState) CheckInvariants() error {
	if s.Precision == nil || s.Precision.Cmp(precision) != 0 {
		return fmt.Errorf("%w: unexpected precision %v", ErrInvariant, s.Precision)
	}
	for name, v := range map[string]*big.Int{
		"total shares":          s.TotalShares,
		"reward per share":      s.CumulativeRewardPerShare,
		"total rewards":         s.TotalRewardsDeposited,
		"undistributed rewards": s.UndistributedRewards,
		"early exit fee":        s.EarlyExitFee,
	} {
		if v == nil || v.Sign() < 0 {
			return fmt.Errorf("%w: %s negative or missing", ErrInvariant, name)
		}
	}
	sum := big.NewInt(0)
	for addr, acct := range s.Users {
		for name, v := range map[string]*big.Int{
			"amount":          acct.Amount,
			"baseline":        acct.RewardBaseline,
			"pending stake":   acct.PendingStakeClaim,
			"pending reward":  acct.PendingRewardClaim,
			"pending fee":     acct.PendingFeeClaim,
			"inflight stake":  acct.InflightStake,
			"inflight reward": acct.InflightReward,
			"inflight fee":    acct.InflightFee,
		} {
			if v == nil || v.Sign() < 0 {
				return fmt.Errorf("%w: %s of %s negative or missing", ErrInvariant, name, addr)
			}
		}
		for _, b := range settlementOrder {
			if acct.inflight(b).Cmp(acct.pending(b)) > 0 {
				return fmt.Errorf("%w: inflight %s of %s exceeds pending", ErrInvariant, b, addr)
			}
			if acct.inflight(b).Sign() > 0 && acct.inflightNonce(b) > acct.SettleNonce {
				return fmt.Errorf("%w: inflight %s nonce of %s ahead of settle nonce", ErrInvariant, b, addr)
			}
		}
		if s.accrued(acct).Cmp(acct.RewardBaseline) < 0 {
			return fmt.Errorf("%w: baseline of %s exceeds accrued rewards", ErrInvariant, addr)
		}
		sum.Add(sum, acct.Amount)
	}
	if sum.Cmp(s.TotalShares) != 0 {
		return fmt.Errorf("%w: total shares %s != sum of stakes %s", ErrInvariant, s.TotalShares, sum)
	}
	return nil
}

// Clone returns a deep copy of the state.
func (s *LedgerState) Clone() *LedgerState {
	out := &LedgerState{
		LockDuration:             s.LockDuration,
		EarlyExitFee:             cloneInt(s.EarlyExitFee),
		FeeRecipient:             s.FeeRecipient,
		StakeAsset:               s.StakeAsset,
		RewardAsset:              s.RewardAsset,
		TotalShares:              cloneInt(s.TotalShares),
		CumulativeRewardPerShare: cloneInt(s.CumulativeRewardPerShare),
		Precision:                cloneInt(s.Precision),
		TotalRewardsDeposited:    cloneInt(s.TotalRewardsDeposited),
		UndistributedRewards:     cloneInt(s.UndistributedRewards),
		Users:                    make(map[crypto.Address]*UserAccount, len(s.Users)),
		PullNonces:               make(map[crypto.Address]uint64, len(s.PullNonces)),
	}
	for addr, acct := range s.Users {
		out.Users[addr] = acct.Clone()
	}
	for addr, n := range s.PullNonces {
		out.PullNonces[addr] = n
	}
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func unixNanos(t time.Time) uint64 {
	n := t.UnixNano()
	if n < 0 {
		return 0
	}
	return uint64(n)
}
