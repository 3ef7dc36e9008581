package common

import (
	"context"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/store"
)

// AppConfigs resuelve la config de storage de una app.
type AppConfigs interface {
	AdapterConfig(appID string) (store.AdapterConfig, error)
}

// StorageResolver resuelve el storage (user pool) de una app.
type StorageResolver interface {
	StorageFor(ctx context.Context, appID string) (repository.Storage, error)
}

type storageResolver struct {
	apps     AppConfigs
	storages *store.StorageCache
}

// NewStorageResolver resuelve storages via el StorageCache compartido.
func NewStorageResolver(apps AppConfigs, storages *store.StorageCache) StorageResolver {
	return &storageResolver{apps: apps, storages: storages}
}

func (r *storageResolver) StorageFor(ctx context.Context, appID string) (repository.Storage, error) {
	cfg, err := r.apps.AdapterConfig(appID)
	if err != nil {
		return nil, err
	}
	return r.storages.Get(ctx, cfg)
}
