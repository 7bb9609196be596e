package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cli "gopkg.in/urfave/cli.v1"

	"stakevault/cmd/internal/passphrase"
	"stakevault/crypto"
	"stakevault/gateway/middleware"
	"stakevault/integrations/exports"
	"stakevault/native/vault"
	"stakevault/native/vault/ledger"
	"stakevault/services/vaultd/journal"
	"stakevault/storage"
)

var unlimitedAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// passphrases is swapped in tests.
var passphrases = func(env string) *passphrase.Source {
	return passphrase.NewSource(env)
}

func genKey(ctx *cli.Context) error {
	path := ctx.String(keystoreFlag.Name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("keystore %s already exists", path)
	}
	pass, err := passphrases(ctx.String(passphraseEnvFlag.Name)).Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	var opts []crypto.KeystoreOption
	if ctx.Bool(lightScryptFlag.Name) {
		opts = append(opts, crypto.WithLightScrypt())
	}
	if err := crypto.SaveToKeystore(path, key, pass, opts...); err != nil {
		return err
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(ctx.App.Writer, "address: %s\nhex:     %s\nkeystore: %s\n", addr, addr.Hex(), path)
	return nil
}

func issueToken(ctx *cli.Context) error {
	secret := strings.TrimSpace(ctx.String(secretFlag.Name))
	if secret == "" {
		return errors.New("--secret is required")
	}
	caller, err := crypto.ParseAddress(ctx.String(callerFlag.Name))
	if err != nil {
		return fmt.Errorf("--caller: %w", err)
	}
	if caller.IsAnonymous() {
		return errors.New("--caller must not be the anonymous address")
	}
	token, err := middleware.IssueToken(secret, caller, ctx.String(issuerFlag.Name), ctx.String(audienceFlag.Name), ctx.Duration(ttlFlag.Name), time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, token)
	return nil
}

type snapshotSummary struct {
	Users                 int               `json:"users"`
	Stakers               int               `json:"stakers"`
	TotalShares           string            `json:"totalShares"`
	TotalRewardsDeposited string            `json:"totalRewardsDeposited"`
	UndistributedRewards  string            `json:"undistributedRewards"`
	Outstanding           map[string]string `json:"outstanding"`
	Metadata              vault.Metadata    `json:"metadata"`
	Invariants            string            `json:"invariants"`
}

func inspectSnapshot(ctx *cli.Context) error {
	path := ctx.String(pathFlag.Name)
	if path == "" {
		return errors.New("--path is required")
	}
	data, err := readSnapshot(ctx.String(backendFlag.Name), path)
	if err != nil {
		return err
	}
	state, err := vault.DecodeSnapshot(data)
	if err != nil {
		return err
	}
	summary := snapshotSummary{
		Users:                 len(state.Users),
		Stakers:               state.Stakers(),
		TotalShares:           state.TotalSupply().String(),
		TotalRewardsDeposited: state.TotalRewards().String(),
		UndistributedRewards:  state.UndistributedRewards.String(),
		Outstanding:           make(map[string]string),
		Metadata:              state.Metadata(),
		Invariants:            "ok",
	}
	for bucket, total := range state.Outstanding() {
		summary.Outstanding[bucket.String()] = total.String()
	}
	enc := json.NewEncoder(ctx.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func readSnapshot(backend, path string) ([]byte, error) {
	if backend == "file" {
		return os.ReadFile(path)
	}
	db, err := storage.Open(backend, path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return vault.NewSnapshotStore(db).Load()
}

func exportJournal(ctx *cli.Context) error {
	dsn := ctx.String(dsnFlag.Name)
	if dsn == "" {
		return errors.New("--dsn is required")
	}
	format, err := exports.ParseFormat(ctx.String(formatFlag.Name))
	if err != nil {
		return err
	}
	var since time.Time
	if raw := ctx.String(sinceFlag.Name); raw != "" {
		if since, err = time.Parse(time.RFC3339, raw); err != nil {
			return fmt.Errorf("--since: %w", err)
		}
	}
	j, err := journal.Open(ctx.String(driverFlag.Name), dsn)
	if err != nil {
		return err
	}
	defer j.Close()

	records, err := j.List(context.Background(), since)
	if err != nil {
		return err
	}
	data, checksum, err := exports.Render(format, records)
	if err != nil {
		return err
	}
	if out := ctx.String(outFlag.Name); out != "" {
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "wrote %d attempts to %s (sha256 %s)\n", len(records), out, checksum)
		return nil
	}
	_, err = ctx.App.Writer.Write(data)
	return err
}

func ledgerServe(ctx *cli.Context) error {
	asset, err := crypto.ParseAddress(ctx.String(assetFlag.Name))
	if err != nil {
		return fmt.Errorf("--asset: %w", err)
	}
	var spender *crypto.Address
	if raw := ctx.String(approveFlag.Name); raw != "" {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return fmt.Errorf("--approve: %w", err)
		}
		spender = &addr
	}
	mem, err := devLedger(asset, ctx.StringSlice(mintFlag.Name), spender)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ctx.String(listenFlag.Name),
		Handler:           ledger.NewHandler(mem, ctx.String(tokenFlag.Name)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	errs := make(chan error, 1)
	go func() {
		slog.Info("dev ledger listening", slog.String("addr", srv.Addr), slog.String("asset", asset.String()))
		errs <- srv.ListenAndServe()
	}()
	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// devLedger builds a MemLedger seeded from address=amount pairs.
func devLedger(asset crypto.Address, mints []string, spender *crypto.Address) (*ledger.MemLedger, error) {
	mem := ledger.NewMemLedger(asset)
	for _, entry := range mints {
		rawAddr, rawAmount, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("--mint %q: want address=amount", entry)
		}
		owner, err := crypto.ParseAddress(strings.TrimSpace(rawAddr))
		if err != nil {
			return nil, fmt.Errorf("--mint %q: %w", entry, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(rawAmount), 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("--mint %q: amount must be a positive integer", entry)
		}
		account := ledger.Account{Owner: owner}
		mem.Mint(account, amount)
		if spender != nil {
			mem.Approve(account, *spender, unlimitedAllowance)
		}
	}
	return mem, nil
}
