package vault

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"lukechampine.com/blake3"

	"stakevault/crypto"
	"stakevault/native/vault/ledger"
)

const (
	memoDomain     = "stakevault/settle/v1"
	pullMemoDomain = "stakevault/pull/v1"
)

// AttemptStatus classifies the result of one settlement transfer.
type AttemptStatus string

const (
	AttemptConfirmed AttemptStatus = "confirmed"
	// AttemptDuplicate means the ledger had already applied the transfer and
	// the vault recovered the lost receipt.
	AttemptDuplicate AttemptStatus = "duplicate"
	AttemptFailed    AttemptStatus = "failed"
)

// Attempt records one outbound transfer made while settling a bucket.
type Attempt struct {
	User      crypto.Address
	Bucket    Bucket
	Asset     crypto.Address
	Recipient crypto.Address
	Amount    *big.Int
	Memo      []byte
	Nonce     uint64
	Receipt   ledger.ReceiptID
	Status    AttemptStatus
	Error     string
	At        time.Time
	Duration  time.Duration
}

// Journal persists settlement attempts for audit and export.
type Journal interface {
	Record(ctx context.Context, attempt Attempt) error
}

// SettlementMemo derives the idempotency memo attached to a settlement
// transfer. A bucket's inflight transfer keeps the nonce it was first sent
// under, so confirmations in other buckets never change its memo.
func SettlementMemo(vault, user crypto.Address, bucket Bucket, nonce uint64) []byte {
	h := blake3.New(32, nil)
	h.Write([]byte(memoDomain))
	h.Write(vault[:])
	h.Write(user[:])
	h.Write([]byte{byte(bucket)})
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	h.Write(n[:])
	return h.Sum(nil)
}

// PullMemo derives the idempotency memo for an inbound pull. It is stable
// until a pull by principal confirms, so retrying the same op with the same
// source and amount after a lost result is recognised by the ledger.
func PullMemo(vault, principal crypto.Address, op string, from *ledger.Subaccount, amount *big.Int, nonce uint64) []byte {
	h := blake3.New(32, nil)
	h.Write([]byte(pullMemoDomain))
	h.Write(vault[:])
	h.Write(principal[:])
	h.Write([]byte(op))
	var sub ledger.Subaccount
	if from != nil {
		sub = *from
	}
	h.Write(sub[:])
	h.Write(amount.Bytes())
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	h.Write(n[:])
	return h.Sum(nil)
}

// pull moves amount from the principal into vault custody. A DuplicateError
// means an earlier identical pull already landed and counts as success.
func (v *Vault) pull(ctx context.Context, tokens ledger.TokenLedger, op string, principal crypto.Address, from *ledger.Subaccount, amount *big.Int) error {
	v.mu.Lock()
	nonce := v.state.PullNonces[principal]
	v.mu.Unlock()

	_, err := tokens.TransferFrom(ctx, ledger.TransferFromArgs{
		Spender: v.address,
		From:    ledger.Account{Owner: principal, Subaccount: from},
		To:      ledger.Account{Owner: v.address},
		Amount:  new(big.Int).Set(amount),
		Memo:    PullMemo(v.address, principal, op, from, amount, nonce),
	})
	if dup, isDup := ledger.AsDuplicate(err); isDup {
		v.logger.Info("vault pull recovered",
			slog.String("op", op),
			slog.String("caller", principal.String()),
			slog.Uint64("nonce", nonce),
			slog.Uint64("receipt", uint64(dup.Receipt)))
		err = nil
	}
	if err != nil {
		return err
	}
	v.mu.Lock()
	if v.state.PullNonces == nil {
		v.state.PullNonces = make(map[crypto.Address]uint64)
	}
	v.state.PullNonces[principal] = nonce + 1
	v.mu.Unlock()
	return nil
}

// settle attempts every non-zero bucket of user in order. Failures are
// collected and do not stop later buckets.
func (v *Vault) settle(ctx context.Context, user crypto.Address) error {
	var errs []error
	for _, bucket := range settlementOrder {
		if err := v.settleBucket(ctx, user, bucket); err != nil {
			errs = append(errs, err)
		}
	}
	v.publishState()
	return errors.Join(errs...)
}

// settleBucket drains one bucket. An unconfirmed inflight amount is resent
// first under its original memo; once it resolves the remainder follows under
// a fresh memo.
func (v *Vault) settleBucket(ctx context.Context, user crypto.Address, bucket Bucket) error {
	for {
		v.mu.Lock()
		acct, ok := v.state.Users[user]
		if !ok {
			v.mu.Unlock()
			return nil
		}
		amount := cloneInt(acct.inflight(bucket))
		nonce := acct.inflightNonce(bucket)
		if amount.Sign() == 0 {
			amount = cloneInt(acct.pending(bucket))
			if amount.Sign() == 0 {
				v.mu.Unlock()
				return nil
			}
			nonce = acct.SettleNonce
			setInflight(acct, bucket, cloneInt(amount), nonce)
		}
		asset, recipient, tokens := v.route(user, bucket)
		v.mu.Unlock()

		attempt := Attempt{
			User:      user,
			Bucket:    bucket,
			Asset:     asset,
			Recipient: recipient,
			Amount:    amount,
			Memo:      SettlementMemo(v.address, user, bucket, nonce),
			Nonce:     nonce,
			At:        v.now(),
		}
		receipt, err := tokens.Transfer(ctx, ledger.TransferArgs{
			From:   ledger.Account{Owner: v.address},
			To:     ledger.Account{Owner: recipient},
			Amount: new(big.Int).Set(amount),
			Memo:   attempt.Memo,
		})
		attempt.Duration = v.now().Sub(attempt.At)
		attempt.Status = AttemptConfirmed
		if dup, isDup := ledger.AsDuplicate(err); isDup {
			receipt, err = dup.Receipt, nil
			attempt.Status = AttemptDuplicate
		}
		attempt.Receipt = receipt
		if err != nil {
			attempt.Status = AttemptFailed
			attempt.Error = err.Error()
			v.record(ctx, attempt)
			return &TransferError{Bucket: bucket, Amount: amount, Err: err}
		}

		v.mu.Lock()
		pending := new(big.Int).Sub(acct.pending(bucket), amount)
		if pending.Sign() < 0 {
			pending.SetInt64(0)
		}
		setPending(acct, bucket, pending)
		setInflight(acct, bucket, big.NewInt(0), 0)
		acct.SettleNonce++
		v.mu.Unlock()
		v.record(ctx, attempt)
	}
}

// route returns the asset, recipient and ledger a bucket settles through. Fees
// are paid in the stake asset.
func (v *Vault) route(user crypto.Address, bucket Bucket) (crypto.Address, crypto.Address, ledger.TokenLedger) {
	switch bucket {
	case BucketFee:
		return v.state.StakeAsset, v.state.FeeRecipient, v.stakeLedger
	case BucketReward:
		return v.state.RewardAsset, user, v.rewardLedger
	default:
		return v.state.StakeAsset, user, v.stakeLedger
	}
}

func (v *Vault) record(ctx context.Context, attempt Attempt) {
	v.metrics.RecordSettlement(attempt.Bucket.String(), string(attempt.Status), attempt.Duration)
	level := slog.LevelInfo
	if attempt.Status == AttemptFailed {
		level = slog.LevelWarn
	}
	v.logger.Log(ctx, level, "vault settlement attempt",
		slog.String("user", attempt.User.String()),
		slog.String("bucket", attempt.Bucket.String()),
		slog.String("amount", attempt.Amount.String()),
		slog.Uint64("nonce", attempt.Nonce),
		slog.Uint64("receipt", uint64(attempt.Receipt)),
		slog.String("status", string(attempt.Status)),
		slog.String("error", attempt.Error))
	if v.journal == nil {
		return
	}
	if err := v.journal.Record(context.WithoutCancel(ctx), attempt); err != nil {
		v.logger.Error("vault journal write failed",
			slog.String("user", attempt.User.String()),
			slog.String("bucket", attempt.Bucket.String()),
			slog.Any("error", err))
	}
}

func setPending(u *UserAccount, b Bucket, v *big.Int) {
	switch b {
	case BucketFee:
		u.PendingFeeClaim = v
	case BucketReward:
		u.PendingRewardClaim = v
	case BucketStake:
		u.PendingStakeClaim = v
	}
}

func setInflight(u *UserAccount, b Bucket, v *big.Int, nonce uint64) {
	switch b {
	case BucketFee:
		u.InflightFee, u.InflightFeeNonce = v, nonce
	case BucketReward:
		u.InflightReward, u.InflightRewardNonce = v, nonce
	case BucketStake:
		u.InflightStake, u.InflightStakeNonce = v, nonce
	}
}
