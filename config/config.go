package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"stakevault/crypto"
	"stakevault/native/vault"
)

// VaultParams is the on-disk form of the vault's initialisation arguments.
type VaultParams struct {
	StakeAsset   string `toml:"StakeAsset"`
	RewardAsset  string `toml:"RewardAsset"`
	FeeRecipient string `toml:"FeeRecipient"`
	// EarlyExitFee is charged per 100 units withdrawn before unlock.
	EarlyExitFee uint64 `toml:"EarlyExitFee"`
	LockDuration string `toml:"LockDuration"`
	// KeystorePath holds the key controlling the vault's ledger account.
	KeystorePath string `toml:"KeystorePath"`
}

// Load loads the vault parameters from path, creating a development default
// with a fresh vault key when the file does not exist.
func Load(path, passphrase string) (*VaultParams, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, passphrase)
	}

	cfg := &VaultParams{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown keys: %v", path, undecoded)
	}
	if strings.TrimSpace(cfg.KeystorePath) == "" {
		cfg.KeystorePath = defaultKeystorePath(path)
	} else if !filepath.IsAbs(cfg.KeystorePath) {
		cfg.KeystorePath = filepath.Join(filepath.Dir(path), cfg.KeystorePath)
	}
	if _, err := cfg.Params(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Params converts the file values into validated vault parameters.
func (c *VaultParams) Params() (vault.Params, error) {
	stake, err := crypto.ParseAddress(c.StakeAsset)
	if err != nil {
		return vault.Params{}, fmt.Errorf("StakeAsset: %w", err)
	}
	reward, err := crypto.ParseAddress(c.RewardAsset)
	if err != nil {
		return vault.Params{}, fmt.Errorf("RewardAsset: %w", err)
	}
	recipient, err := crypto.ParseAddress(c.FeeRecipient)
	if err != nil {
		return vault.Params{}, fmt.Errorf("FeeRecipient: %w", err)
	}
	var lock time.Duration
	if raw := strings.TrimSpace(c.LockDuration); raw != "" {
		lock, err = time.ParseDuration(raw)
		if err != nil {
			return vault.Params{}, fmt.Errorf("LockDuration: %w", err)
		}
	}
	params := vault.Params{
		LockDuration: lock,
		EarlyExitFee: new(big.Int).SetUint64(c.EarlyExitFee),
		FeeRecipient: recipient,
		StakeAsset:   stake,
		RewardAsset:  reward,
	}
	if err := params.Validate(); err != nil {
		return vault.Params{}, err
	}
	return params, nil
}

// VaultAddress unlocks the keystore and returns the vault's account owner.
func (c *VaultParams) VaultAddress(passphrase string) (crypto.Address, error) {
	key, err := crypto.LoadFromKeystore(c.KeystorePath, passphrase)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("load vault keystore: %w", err)
	}
	return key.PubKey().Address(), nil
}

// createDefault writes a development configuration. The assets are throwaway
// identities suitable only for the in-memory ledgers.
func createDefault(path, passphrase string) (*VaultParams, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}
	stake, err := randomAddress()
	if err != nil {
		return nil, err
	}
	reward, err := randomAddress()
	if err != nil {
		return nil, err
	}

	cfg := &VaultParams{
		StakeAsset:   stake.String(),
		RewardAsset:  reward.String(),
		FeeRecipient: key.PubKey().Address().String(),
		EarlyExitFee: 10,
		LockDuration: (7 * 24 * time.Hour).String(),
		KeystorePath: keystorePath,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func randomAddress() (crypto.Address, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return crypto.Address{}, err
	}
	return key.PubKey().Address(), nil
}

func persist(path string, cfg *VaultParams) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "vault.keystore")
}
