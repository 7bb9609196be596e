package vaultd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"stakevault/observability/logging"
	telemetry "stakevault/observability/otel"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// Main initialises and runs the vault daemon.
func Main(pass PassphraseSource) error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/vaultd/config.yaml", "path to vaultd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("VAULT_ENV"))
	}
	logger := logging.Setup("vaultd", env,
		logging.WithLevel(logging.ParseLevel(cfg.Log.Level)),
		logging.WithFile(cfg.Log.File))

	if cfg.Telemetry.Enabled() {
		cfg.Telemetry.Version = Version
		shutdownTelemetry, err := telemetry.Init(context.Background(), cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			_ = shutdownTelemetry(context.Background())
		}()
	}

	daemon, err := NewDaemon(cfg, pass, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := daemon.Close(); err != nil {
			logger.Error("vaultd shutdown", slog.Any("error", err))
		}
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return daemon.Run(stopCtx)
}
