package vaultd

import (
	"context"
	"log/slog"
	"time"
)

// Checkpointer is satisfied by *vault.Vault.
type Checkpointer interface {
	Checkpoint() error
}

// RunCheckpoints saves a snapshot every interval until ctx is cancelled, then
// writes a final one before returning.
func RunCheckpoints(ctx context.Context, c Checkpointer, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		<-ctx.Done()
		save(c, logger, "shutdown")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			save(c, logger, "shutdown")
			return
		case <-ticker.C:
			save(c, logger, "interval")
		}
	}
}

func save(c Checkpointer, logger *slog.Logger, reason string) {
	start := time.Now()
	if err := c.Checkpoint(); err != nil {
		logger.Error("vault checkpoint failed", slog.String("reason", reason), slog.Any("error", err))
		return
	}
	logger.Debug("vault checkpoint saved", slog.String("reason", reason), slog.Duration("duration", time.Since(start)))
}
