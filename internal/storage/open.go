package storage

import (
	"context"
	"fmt"

	"github.com/hyperjump/reunite/internal/config"
)

// Open builds the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite, "":
		return NewSQLiteStorage(cfg.DatabasePath)
	case config.BackendPostgres:
		return NewPostgresStorage(ctx, cfg.PostgresDSN)
	case config.BackendFirestore:
		return NewFirestoreStorage(ctx, cfg.FirestoreProject, cfg.CredentialsFile)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
