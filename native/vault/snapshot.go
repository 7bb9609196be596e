package vault

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"stakevault/crypto"
	"stakevault/native/vault/ledger"
)

// Version 2 added per-bucket inflight nonces and pull nonces. Version 1
// snapshots are still accepted.
const (
	snapshotVersion   uint64 = 2
	snapshotVersionV1 uint64 = 1
)

type snapshotEnvelope struct {
	Version  uint64
	Payload  []byte
	Checksum []byte
}

type storedState struct {
	LockDuration             uint64
	EarlyExitFee             *big.Int
	FeeRecipient             crypto.Address
	StakeAsset               crypto.Address
	RewardAsset              crypto.Address
	TotalShares              *big.Int
	CumulativeRewardPerShare *big.Int
	Precision                *big.Int
	TotalRewardsDeposited    *big.Int
	UndistributedRewards     *big.Int
	Users                    []storedUser
	Pulls                    []storedPull `rlp:"optional"`
}

type storedPull struct {
	Address crypto.Address
	Nonce   uint64
}

type storedUser struct {
	Address            crypto.Address
	Amount             *big.Int
	UnlockAt           uint64
	RewardBaseline     *big.Int
	PendingStakeClaim  *big.Int
	PendingRewardClaim *big.Int
	PendingFeeClaim    *big.Int
	InflightStake      *big.Int
	InflightReward     *big.Int
	InflightFee        *big.Int
	SettleNonce        uint64

	InflightStakeNonce  uint64 `rlp:"optional"`
	InflightRewardNonce uint64 `rlp:"optional"`
	InflightFeeNonce    uint64 `rlp:"optional"`
}

// EncodeSnapshot serialises state into a versioned, checksummed envelope.
// Users are written in address order so equal states encode identically.
func EncodeSnapshot(state *LedgerState) ([]byte, error) {
	stored := storedState{
		LockDuration:             uint64(state.LockDuration),
		EarlyExitFee:             cloneInt(state.EarlyExitFee),
		FeeRecipient:             state.FeeRecipient,
		StakeAsset:               state.StakeAsset,
		RewardAsset:              state.RewardAsset,
		TotalShares:              cloneInt(state.TotalShares),
		CumulativeRewardPerShare: cloneInt(state.CumulativeRewardPerShare),
		Precision:                cloneInt(state.Precision),
		TotalRewardsDeposited:    cloneInt(state.TotalRewardsDeposited),
		UndistributedRewards:     cloneInt(state.UndistributedRewards),
		Users:                    make([]storedUser, 0, len(state.Users)),
	}
	for _, addr := range state.SortedUsers() {
		acct := state.Users[addr]
		stored.Users = append(stored.Users, storedUser{
			Address:            addr,
			Amount:             cloneInt(acct.Amount),
			UnlockAt:           acct.UnlockAt,
			RewardBaseline:     cloneInt(acct.RewardBaseline),
			PendingStakeClaim:  cloneInt(acct.PendingStakeClaim),
			PendingRewardClaim: cloneInt(acct.PendingRewardClaim),
			PendingFeeClaim:    cloneInt(acct.PendingFeeClaim),
			InflightStake:      cloneInt(acct.InflightStake),
			InflightReward:     cloneInt(acct.InflightReward),
			InflightFee:        cloneInt(acct.InflightFee),
			SettleNonce:        acct.SettleNonce,

			InflightStakeNonce:  acct.InflightStakeNonce,
			InflightRewardNonce: acct.InflightRewardNonce,
			InflightFeeNonce:    acct.InflightFeeNonce,
		})
	}
	pulls := make([]crypto.Address, 0, len(state.PullNonces))
	for addr := range state.PullNonces {
		pulls = append(pulls, addr)
	}
	sort.Slice(pulls, func(i, j int) bool {
		return string(pulls[i][:]) < string(pulls[j][:])
	})
	for _, addr := range pulls {
		stored.Pulls = append(stored.Pulls, storedPull{Address: addr, Nonce: state.PullNonces[addr]})
	}
	payload, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return nil, fmt.Errorf("vault: encode state: %w", err)
	}
	sum := blake3.Sum256(payload)
	return rlp.EncodeToBytes(snapshotEnvelope{Version: snapshotVersion, Payload: payload, Checksum: sum[:]})
}

// DecodeSnapshot verifies and decodes a snapshot produced by EncodeSnapshot.
// The restored state must satisfy every invariant.
func DecodeSnapshot(data []byte) (*LedgerState, error) {
	var env snapshotEnvelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if env.Version != snapshotVersion && env.Version != snapshotVersionV1 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, env.Version)
	}
	sum := blake3.Sum256(env.Payload)
	if !bytes.Equal(sum[:], env.Checksum) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidSnapshot)
	}
	var stored storedState
	if err := rlp.DecodeBytes(env.Payload, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	state := &LedgerState{
		LockDuration:             time.Duration(stored.LockDuration),
		EarlyExitFee:             cloneInt(stored.EarlyExitFee),
		FeeRecipient:             stored.FeeRecipient,
		StakeAsset:               stored.StakeAsset,
		RewardAsset:              stored.RewardAsset,
		TotalShares:              cloneInt(stored.TotalShares),
		CumulativeRewardPerShare: cloneInt(stored.CumulativeRewardPerShare),
		Precision:                cloneInt(stored.Precision),
		TotalRewardsDeposited:    cloneInt(stored.TotalRewardsDeposited),
		UndistributedRewards:     cloneInt(stored.UndistributedRewards),
		Users:                    make(map[crypto.Address]*UserAccount, len(stored.Users)),
		PullNonces:               make(map[crypto.Address]uint64, len(stored.Pulls)),
	}
	for _, p := range stored.Pulls {
		if _, dup := state.PullNonces[p.Address]; dup {
			return nil, fmt.Errorf("%w: duplicate pull nonce %s", ErrInvalidSnapshot, p.Address)
		}
		state.PullNonces[p.Address] = p.Nonce
	}
	for _, u := range stored.Users {
		if _, dup := state.Users[u.Address]; dup {
			return nil, fmt.Errorf("%w: duplicate user %s", ErrInvalidSnapshot, u.Address)
		}
		acct := &UserAccount{
			Amount:             cloneInt(u.Amount),
			UnlockAt:           u.UnlockAt,
			RewardBaseline:     cloneInt(u.RewardBaseline),
			PendingStakeClaim:  cloneInt(u.PendingStakeClaim),
			PendingRewardClaim: cloneInt(u.PendingRewardClaim),
			PendingFeeClaim:    cloneInt(u.PendingFeeClaim),
			InflightStake:      cloneInt(u.InflightStake),
			InflightReward:     cloneInt(u.InflightReward),
			InflightFee:        cloneInt(u.InflightFee),
			SettleNonce:        u.SettleNonce,

			InflightStakeNonce:  u.InflightStakeNonce,
			InflightRewardNonce: u.InflightRewardNonce,
			InflightFeeNonce:    u.InflightFeeNonce,
		}
		if env.Version == snapshotVersionV1 {
			// v1 shared one nonce across buckets.
			for _, b := range settlementOrder {
				if acct.inflight(b).Sign() > 0 {
					setInflight(acct, b, acct.inflight(b), acct.SettleNonce)
				}
			}
		}
		state.Users[u.Address] = acct
	}
	if err := state.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	return state, nil
}

// Snapshot encodes the current state.
func (v *Vault) Snapshot() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return EncodeSnapshot(v.state)
}

// NewFromSnapshot restores a vault from data.
func NewFromSnapshot(address crypto.Address, data []byte, stake, reward ledger.TokenLedger, opts ...Option) (*Vault, error) {
	state, err := DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	return New(address, state, stake, reward, opts...)
}
