package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmcleod/arbor/internal/config"
	"github.com/jmcleod/arbor/storage"
	bboltstorage "github.com/jmcleod/arbor/storage/bbolt"
	"github.com/jmcleod/arbor/storage/memory"
	"github.com/jmcleod/arbor/storage/postgres"
)

// boltFile is the credential store file inside the data directory.
const boltFile = "arbor.db"

// openRepository opens the configured credential store. The returned func
// releases it.
func openRepository(ctx context.Context, cfg config.Config) (storage.Repository, func(), error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return memory.NewRepository(), func() {}, nil
	case config.StoragePostgres:
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return repo, repo.Close, nil
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, boltFile), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bbolt storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	}
}
