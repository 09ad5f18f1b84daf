package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/face-resolver/internal/config"
	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/database/objectstore"

	// Backends register themselves for their URL schemes.
	_ "github.com/kozaktomas/face-resolver/internal/database/mariadb"
	_ "github.com/kozaktomas/face-resolver/internal/database/postgres"
	_ "github.com/kozaktomas/face-resolver/internal/database/sqlite"
)

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore connects to the identity store selected by DATABASE_URL.
func openStore(ctx context.Context, cfg *config.Config) (database.IdentityStore, error) {
	store, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening identity store: %w", err)
	}
	return store, nil
}

// indexOptions selects snapshot storage: object storage when configured,
// the local index directory otherwise.
func indexOptions(ctx context.Context, cfg *config.Config) (database.IndexOptions, error) {
	opts := database.IndexOptions{
		Dimension:    cfg.Index.Dimension,
		SnapshotName: cfg.Index.SnapshotName,
		WALDir:       cfg.Index.WALDir,
		Logger:       slog.Default(),
	}
	if cfg.Index.S3.Enabled() {
		store, err := objectstore.NewFromConfig(ctx, cfg.Index.S3)
		if err != nil {
			return opts, fmt.Errorf("connecting to snapshot storage: %w", err)
		}
		opts.Storage = store
		return opts, nil
	}
	opts.Storage = database.NewFileStore(cfg.Index.Dir)
	return opts, nil
}

// openIndex loads the persisted embedding index.
func openIndex(ctx context.Context, cfg *config.Config) (*database.EmbeddingIndex, error) {
	opts, err := indexOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	index, err := database.OpenEmbeddingIndex(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("loading embedding index: %w", err)
	}
	return index, nil
}

// openWritableIndex loads the index for a command that adds to it. The caller
// must hold the run lock.
func openWritableIndex(ctx context.Context, cfg *config.Config) (*database.EmbeddingIndex, error) {
	index, err := openIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := index.Recover(ctx); err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("recovering embedding index: %w", err)
	}
	return index, nil
}
