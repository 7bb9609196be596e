package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stakevault/storage"
)

var snapshotKey = []byte("vault/snapshot")

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("vault: no snapshot stored")

// SnapshotStore keeps the latest snapshot in a key/value database.
type SnapshotStore struct {
	db storage.Database
}

func NewSnapshotStore(db storage.Database) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save replaces the stored snapshot.
func (s *SnapshotStore) Save(data []byte) error {
	if err := s.db.Put(snapshotKey, data); err != nil {
		return fmt.Errorf("vault: save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot or ErrNoSnapshot.
func (s *SnapshotStore) Load() ([]byte, error) {
	data, err := s.db.Get(snapshotKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("vault: load snapshot: %w", err)
	}
	return data, nil
}

// Checkpoint writes the current state to the configured store. It is a no-op
// without a store.
func (v *Vault) Checkpoint() error {
	if v.store == nil {
		return nil
	}
	data, err := v.Snapshot()
	if err != nil {
		return err
	}
	return v.store.Save(data)
}

func (v *Vault) persist(ctx context.Context) {
	if err := v.Checkpoint(); err != nil {
		v.logger.ErrorContext(ctx, "vault snapshot persist failed", slog.Any("error", err))
	}
}
