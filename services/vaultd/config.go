package vaultd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stakevault/native/vault"
	"stakevault/observability/logging"
	telemetry "stakevault/observability/otel"
)

// MemoryLedger selects the in-process development ledger.
const MemoryLedger = "memory"

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for vaultd.
type Config struct {
	ListenAddress      string            `yaml:"listen"`
	Environment        string            `yaml:"environment"`
	ParamsPath         string            `yaml:"params"`
	PauseOnStart       bool              `yaml:"pause"`
	CheckpointInterval Duration          `yaml:"checkpoint_interval"`
	Ledgers            LedgersConfig     `yaml:"ledgers"`
	Storage            StorageConfig     `yaml:"storage"`
	Guard              vault.GuardConfig `yaml:"guard"`
	Auth               AuthConfig        `yaml:"auth"`
	RateLimit          RateLimitConfig   `yaml:"rate_limit"`
	CORS               CORSConfig        `yaml:"cors"`
	Journal            JournalConfig     `yaml:"journal"`
	Webhook            WebhookConfig     `yaml:"webhook"`
	Admin              AdminConfig       `yaml:"admin"`
	Log                LogConfig         `yaml:"log"`
	Telemetry          telemetry.Config  `yaml:"telemetry"`
}

// LedgersConfig points at the stake and reward token ledgers.
type LedgersConfig struct {
	Stake  LedgerEndpoint `yaml:"stake"`
	Reward LedgerEndpoint `yaml:"reward"`
}

// LedgerEndpoint configures one JSON-RPC ledger. Endpoint "memory" runs an
// in-process ledger for development.
type LedgerEndpoint struct {
	Endpoint  string   `yaml:"endpoint"`
	Token     string   `yaml:"token"`
	TokenFile string   `yaml:"token_file"`
	Timeout   Duration `yaml:"timeout"`
}

// StorageConfig selects the snapshot backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// AuthConfig controls caller authentication on the public API.
type AuthConfig struct {
	Disable        bool     `yaml:"disable"`
	HMACSecret     string   `yaml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file"`
	HMACSecretEnv  string   `yaml:"hmac_secret_env"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	ClockSkew      Duration `yaml:"clock_skew"`
}

// RateLimitConfig throttles each caller. Mutating requests cost
// MutationCost tokens, queries cost one.
type RateLimitConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	MutationCost  int     `yaml:"mutation_cost"`
}

// CORSConfig lists browser origins allowed to call the public API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// JournalConfig selects the settlement journal database. An empty driver
// disables journaling.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// WebhookConfig enables signed settlement notifications.
type WebhookConfig struct {
	URL        string `yaml:"url"`
	Secret     string `yaml:"secret"`
	SecretFile string `yaml:"secret_file"`
}

// AdminConfig captures security settings for the admin API.
type AdminConfig struct {
	ListenAddress   string `yaml:"listen"`
	BearerToken     string `yaml:"bearer_token"`
	BearerTokenFile string `yaml:"bearer_token_file"`
}

// LogConfig selects verbosity and optional file output.
type LogConfig struct {
	Level string             `yaml:"level"`
	File  logging.FileConfig `yaml:"file"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.normalise(); err != nil {
		return cfg, err
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Admin.ListenAddress == "" {
		cfg.Admin.ListenAddress = "127.0.0.1:7091"
	}
	if cfg.ParamsPath == "" {
		cfg.ParamsPath = "services/vaultd/vault.toml"
	}
	if cfg.CheckpointInterval.Duration == 0 {
		cfg.CheckpointInterval.Duration = 30 * time.Second
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "leveldb"
	}
	if cfg.Storage.Path == "" && cfg.Storage.Backend != "memory" {
		cfg.Storage.Path = "data/vaultd"
	}
	for _, ep := range []*LedgerEndpoint{&cfg.Ledgers.Stake, &cfg.Ledgers.Reward} {
		if ep.Endpoint == "" {
			ep.Endpoint = MemoryLedger
		}
		if ep.Timeout.Duration == 0 {
			ep.Timeout.Duration = 10 * time.Second
		}
	}
	if cfg.RateLimit.RatePerSecond == 0 {
		cfg.RateLimit.RatePerSecond = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 40
	}
	if cfg.RateLimit.MutationCost == 0 {
		cfg.RateLimit.MutationCost = 5
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "vaultd"
	}
	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = cfg.Environment
	}
}

func (c *Config) normalise() error {
	var err error
	if c.Auth.HMACSecret, err = resolveSecret(c.Auth.HMACSecret, c.Auth.HMACSecretFile, c.Auth.HMACSecretEnv); err != nil {
		return fmt.Errorf("auth secret: %w", err)
	}
	if c.Admin.BearerToken, err = resolveSecret(c.Admin.BearerToken, c.Admin.BearerTokenFile, ""); err != nil {
		return fmt.Errorf("admin security: %w", err)
	}
	if c.Webhook.Secret, err = resolveSecret(c.Webhook.Secret, c.Webhook.SecretFile, ""); err != nil {
		return fmt.Errorf("webhook secret: %w", err)
	}
	for name, ep := range map[string]*LedgerEndpoint{"stake": &c.Ledgers.Stake, "reward": &c.Ledgers.Reward} {
		ep.Endpoint = strings.TrimSpace(ep.Endpoint)
		if ep.Token, err = resolveSecret(ep.Token, ep.TokenFile, ""); err != nil {
			return fmt.Errorf("%s ledger token: %w", name, err)
		}
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Journal.Driver = strings.ToLower(strings.TrimSpace(c.Journal.Driver))
	return nil
}

func validateConfig(cfg Config) error {
	if !cfg.Auth.Disable && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth hmac_secret must be configured unless auth.disable is set")
	}
	if cfg.Admin.BearerToken == "" {
		return fmt.Errorf("admin bearer_token must be configured")
	}
	switch cfg.Storage.Backend {
	case "memory", "leveldb", "bolt", "bbolt":
	default:
		return fmt.Errorf("storage backend %q is not supported", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend != "memory" && strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage path must be configured")
	}
	switch cfg.Journal.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("journal driver %q is not supported", cfg.Journal.Driver)
	}
	if cfg.Journal.Driver != "" && strings.TrimSpace(cfg.Journal.DSN) == "" {
		return fmt.Errorf("journal dsn must be configured")
	}
	if cfg.Webhook.URL != "" && cfg.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret must be configured with webhook url")
	}
	if cfg.RateLimit.MutationCost > cfg.RateLimit.Burst {
		return fmt.Errorf("rate_limit mutation_cost must not exceed burst")
	}
	if cfg.Guard.MaxConcurrent < 0 {
		return fmt.Errorf("guard max_concurrent must not be negative")
	}
	if cfg.CheckpointInterval.Duration < 0 {
		return fmt.Errorf("checkpoint_interval must not be negative")
	}
	return nil
}

func resolveSecret(value, file, env string) (string, error) {
	value = strings.TrimSpace(value)
	if value != "" {
		return value, nil
	}
	if env = strings.TrimSpace(env); env != "" {
		v := strings.TrimSpace(os.Getenv(env))
		if v == "" {
			return "", fmt.Errorf("%s is empty", env)
		}
		return v, nil
	}
	if file = strings.TrimSpace(file); file != "" {
		contents, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return strings.TrimSpace(string(contents)), nil
	}
	return "", nil
}
