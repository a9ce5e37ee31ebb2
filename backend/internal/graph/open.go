package graph

import (
	"context"

	"edukg/backend/pkg/config"
	apperrors "edukg/backend/pkg/errors"
)

// Open returns the store selected by cfg.StoreBackend and a function that
// releases it. A Neo4j store is connected and has its constraints ensured.
func Open(ctx context.Context, cfg *config.Config) (Store, func() error, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return NewMemoryStore(), func() error { return nil }, nil
	case config.StoreNeo4j:
		repo, err := Connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		repo.EnsureSchema(ctx)
		return repo, repo.Close, nil
	default:
		return nil, nil, apperrors.NewConfigValidationFailed("STORE_BACKEND", "unknown backend "+cfg.StoreBackend)
	}
}
