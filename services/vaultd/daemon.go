package vaultd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakevault/config"
	"stakevault/crypto"
	"stakevault/gateway/middleware"
	"stakevault/integrations/webhooks"
	"stakevault/native/vault"
	"stakevault/native/vault/ledger"
	"stakevault/observability"
	"stakevault/observability/logging"
	"stakevault/services/vaultd/journal"
	"stakevault/storage"
)

// PassphraseSource yields the vault keystore passphrase.
type PassphraseSource interface {
	Get() (string, error)
}

// Daemon holds the assembled vault service.
type Daemon struct {
	Vault        *vault.Vault
	StakeLedger  ledger.TokenLedger
	RewardLedger ledger.TokenLedger
	Public       http.Handler
	Admin        http.Handler

	cfg     Config
	logger  *slog.Logger
	closers []func() error
}

// NewDaemon builds every component described by cfg. It restores the vault
// from the snapshot store when one exists and otherwise initialises a fresh
// vault from the TOML parameters.
func NewDaemon(cfg Config, pass PassphraseSource, logger *slog.Logger) (_ *Daemon, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	passphrase, err := pass.Get()
	if err != nil {
		return nil, fmt.Errorf("keystore passphrase: %w", err)
	}
	vp, err := config.Load(cfg.ParamsPath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("load vault params: %w", err)
	}
	params, err := vp.Params()
	if err != nil {
		return nil, fmt.Errorf("vault params: %w", err)
	}
	address, err := vp.VaultAddress(passphrase)
	if err != nil {
		return nil, err
	}

	d.StakeLedger = buildLedger(cfg.Ledgers.Stake, params.StakeAsset)
	d.RewardLedger = buildLedger(cfg.Ledgers.Reward, params.RewardAsset)
	for name, ep := range map[string]LedgerEndpoint{"stake": cfg.Ledgers.Stake, "reward": cfg.Ledgers.Reward} {
		logger.Info("ledger configured",
			slog.String("component", name),
			slog.String("endpoint", logging.MaskURL(ep.Endpoint)),
			logging.MaskField("token", ep.Token))
	}

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	d.closers = append(d.closers, db.Close)
	store := vault.NewSnapshotStore(db)

	var (
		lister   AttemptLister
		journals []vault.Journal
	)
	if cfg.Journal.Driver != "" {
		j, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, j.Close)
		logger.Info("settlement journal opened",
			slog.String("driver", cfg.Journal.Driver),
			slog.String("dsn", logging.MaskURL(cfg.Journal.DSN)))
		lister = j
		journals = append(journals, j)
	}
	if cfg.Webhook.URL != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.URL, []byte(cfg.Webhook.Secret), webhooks.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() error { dispatcher.Close(); return nil })
		logger.Info("settlement webhook enabled",
			slog.String("url", logging.MaskURL(cfg.Webhook.URL)),
			logging.MaskField("secret", cfg.Webhook.Secret))
		journals = append(journals, dispatcher)
	}

	opts := []vault.Option{
		vault.WithLogger(logger),
		vault.WithMetrics(observability.Vault()),
		vault.WithStore(store),
		vault.WithGuard(cfg.Guard),
	}
	if len(journals) > 0 {
		opts = append(opts, vault.WithJournal(fanout(journals)))
	}
	d.Vault, err = openVault(address, params, store, d.StakeLedger, d.RewardLedger, logger, opts)
	if err != nil {
		return nil, err
	}
	if cfg.PauseOnStart {
		d.Vault.Pause()
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "vaultd",
		Enabled:     true,
		LogRequests: true,
	}, logger)
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		rateGroup: {
			RatePerSecond: cfg.RateLimit.RatePerSecond,
			Burst:         cfg.RateLimit.Burst,
			DefaultTokens: 1,
			Tokens:        mutationCosts(cfg.RateLimit.MutationCost),
		},
	}, logger)
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:       !cfg.Auth.Disable,
		HMACSecret:    cfg.Auth.HMACSecret,
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
		OptionalPaths: OptionalPaths(),
		ClockSkew:     cfg.Auth.ClockSkew.Duration,
	}, logger)
	server := NewServer(ServerConfig{
		Vault:         d.Vault,
		Auth:          auth,
		Limiter:       limiter,
		Observability: obs,
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		Logger:        logger,
	})
	d.Public = otelhttp.NewHandler(server.Handler(), "vaultd")

	metrics := promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, obs.Registry()}, promhttp.HandlerOpts{})
	d.Admin = NewAdminServer(d.Vault, lister, cfg.Admin.BearerToken, metrics, logger)
	return d, nil
}

func openVault(address crypto.Address, params vault.Params, store *vault.SnapshotStore, stake, reward ledger.TokenLedger, logger *slog.Logger, opts []vault.Option) (*vault.Vault, error) {
	data, err := store.Load()
	switch {
	case errors.Is(err, vault.ErrNoSnapshot):
		state, err := vault.NewLedgerState(params)
		if err != nil {
			return nil, err
		}
		logger.Info("initialised new vault", slog.String("address", address.String()))
		return vault.New(address, state, stake, reward, opts...)
	case err != nil:
		return nil, err
	}
	v, err := vault.NewFromSnapshot(address, data, stake, reward, opts...)
	if err != nil {
		return nil, fmt.Errorf("restore vault: %w", err)
	}
	meta := v.Metadata()
	if meta.StakeAsset != params.StakeAsset || meta.RewardAsset != params.RewardAsset {
		return nil, fmt.Errorf("%w: snapshot assets differ from configured params", vault.ErrInvalidParams)
	}
	logger.Info("restored vault from snapshot",
		slog.String("address", address.String()),
		slog.String("total_shares", v.TotalSupply().String()))
	return v, nil
}

func buildLedger(ep LedgerEndpoint, asset crypto.Address) ledger.TokenLedger {
	if ep.Endpoint == MemoryLedger {
		return ledger.NewMemLedger(asset)
	}
	client := &http.Client{
		Timeout:   ep.Timeout.Duration,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return ledger.NewHTTPLedger(ep.Endpoint, ledger.WithHTTPClient(client), ledger.WithBearerToken(ep.Token))
}

func mutationCosts(cost int) map[string]int {
	return map[string]int{
		"POST /v1/stake":           cost,
		"POST /v1/withdraw":        cost,
		"POST /v1/claim":           cost,
		"POST /v1/settle":          cost,
		"POST /v1/rewards/deposit": cost,
	}
}

// Run serves the public and admin APIs and the checkpoint worker until ctx is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	public := &http.Server{
		Addr:         d.cfg.ListenAddress,
		Handler:      d.Public,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	admin := &http.Server{
		Addr:         d.cfg.Admin.ListenAddress,
		Handler:      d.Admin,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		RunCheckpoints(workerCtx, d.Vault, d.cfg.CheckpointInterval.Duration, d.logger)
	}()

	errs := make(chan error, 2)
	for _, srv := range []*http.Server{public, admin} {
		go func() {
			d.logger.Info("vaultd listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{public, admin} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			runErr = errors.Join(runErr, err)
		}
	}
	stopWorker()
	<-workerDone
	return runErr
}

// Close releases storage, the journal and webhook workers.
func (d *Daemon) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// fanout records each attempt to every journal and joins their errors.
type fanout []vault.Journal

func (f fanout) Record(ctx context.Context, attempt vault.Attempt) error {
	var errs []error
	for _, j := range f {
		if err := j.Record(ctx, attempt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
