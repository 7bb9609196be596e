package vault

import "math/big"

// accrued is amount*CRPS/precision, the baseline a freshly synced user holds.
func (s *LedgerState) accrued(u *UserAccount) *big.Int {
	out := new(big.Int).Mul(u.Amount, s.CumulativeRewardPerShare)
	return out.Quo(out, s.Precision)
}

func (s *LedgerState) pendingRewards(u *UserAccount) *big.Int {
	out := s.accrued(u)
	out.Sub(out, u.RewardBaseline)
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

func (s *LedgerState) syncUser(u *UserAccount) {
	u.RewardBaseline = s.accrued(u)
}

// depositReward credits amount, plus any rewards held back while the vault
// had no shares, to every share.
func (s *LedgerState) depositReward(amount *big.Int) error {
	if s.TotalShares.Sign() == 0 {
		return ErrNoShares
	}
	distributable := new(big.Int).Add(amount, s.UndistributedRewards)
	delta := new(big.Int).Mul(distributable, s.Precision)
	delta.Quo(delta, s.TotalShares)
	s.CumulativeRewardPerShare = new(big.Int).Add(s.CumulativeRewardPerShare, delta)
	s.TotalRewardsDeposited = new(big.Int).Add(s.TotalRewardsDeposited, amount)
	s.UndistributedRewards = big.NewInt(0)
	return nil
}

// holdReward keeps a received deposit until shares exist again.
func (s *LedgerState) holdReward(amount *big.Int) {
	s.UndistributedRewards = new(big.Int).Add(s.UndistributedRewards, amount)
	s.TotalRewardsDeposited = new(big.Int).Add(s.TotalRewardsDeposited, amount)
}

// crystallizeRewards moves the user's accrued reward into the reward bucket
// and returns the amount moved.
func (s *LedgerState) crystallizeRewards(u *UserAccount) *big.Int {
	owed := s.pendingRewards(u)
	if owed.Sign() > 0 {
		u.PendingRewardClaim = new(big.Int).Add(u.PendingRewardClaim, owed)
	}
	s.syncUser(u)
	return owed
}

// earlyExitFee returns the fee charged on amount withdrawn at now.
func (s *LedgerState) earlyExitFee(u *UserAccount, amount *big.Int, now uint64) *big.Int {
	if now >= u.UnlockAt {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, s.EarlyExitFee)
	return fee.Quo(fee, feeDenominator)
}
