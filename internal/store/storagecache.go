package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

// StorageCache mantiene un storage abierto por user pool.
// Thread-safe, usa singleflight para evitar aperturas duplicadas del mismo pool.
// Lo usa el procesador de bulk import: cada lote abre los pools que necesita
// y los cierra con CloseAll al terminar.
type StorageCache struct {
	// storages mapa de userPoolID → entrada activa
	storages sync.Map

	sf singleflight.Group

	// open crea un storage nuevo (default: store.Open)
	open OpenFunc

	cfg CacheConfig
}

// OpenFunc abre un storage para la config dada.
type OpenFunc func(ctx context.Context, cfg AdapterConfig) (repository.Storage, error)

// CacheConfig configuración del cache.
type CacheConfig struct {
	// OnOpen callback cuando se abre un storage nuevo
	OnOpen func(poolID string, s repository.Storage)

	// OnClose callback cuando se cierra un storage
	OnClose func(poolID string)
}

type cacheEntry struct {
	storage    repository.Storage
	openedAt   time.Time
	lastUsedAt time.Time
	mu         sync.Mutex
}

func (e *cacheEntry) touch() {
	e.mu.Lock()
	e.lastUsedAt = time.Now()
	e.mu.Unlock()
}

// NewStorageCache crea un cache vacío. Si open es nil se usa store.Open.
func NewStorageCache(open OpenFunc, cfg CacheConfig) *StorageCache {
	if open == nil {
		open = Open
	}
	return &StorageCache{open: open, cfg: cfg}
}

// Get obtiene el storage del pool o lo abre.
func (c *StorageCache) Get(ctx context.Context, adapterCfg AdapterConfig) (repository.Storage, error) {
	poolID := adapterCfg.PoolID()

	if val, ok := c.storages.Load(poolID); ok {
		entry := val.(*cacheEntry)
		entry.touch()
		return entry.storage, nil
	}

	result, err, _ := c.sf.Do(poolID, func() (interface{}, error) {
		// Double-check dentro del singleflight
		if val, ok := c.storages.Load(poolID); ok {
			return val.(*cacheEntry).storage, nil
		}

		s, err := c.open(ctx, adapterCfg)
		if err != nil {
			return nil, fmt.Errorf("open storage %s: %w", poolID, err)
		}

		now := time.Now()
		c.storages.Store(poolID, &cacheEntry{storage: s, openedAt: now, lastUsedAt: now})

		if c.cfg.OnOpen != nil {
			c.cfg.OnOpen(poolID, s)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(repository.Storage), nil
}

// Has verifica si el pool está abierto.
func (c *StorageCache) Has(poolID string) bool {
	_, ok := c.storages.Load(poolID)
	return ok
}

// Close cierra el storage de un pool.
func (c *StorageCache) Close(poolID string) error {
	val, ok := c.storages.LoadAndDelete(poolID)
	if !ok {
		return nil
	}

	if c.cfg.OnClose != nil {
		c.cfg.OnClose(poolID)
	}
	return val.(*cacheEntry).storage.Close()
}

// CloseAll cierra todos los storages abiertos.
func (c *StorageCache) CloseAll() error {
	var errs []error

	c.storages.Range(func(key, value interface{}) bool {
		poolID := key.(string)
		entry := value.(*cacheEntry)

		if c.cfg.OnClose != nil {
			c.cfg.OnClose(poolID)
		}
		if err := entry.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", poolID, err))
		}

		c.storages.Delete(key)
		return true
	})

	return errors.Join(errs...)
}

// Stats retorna estadísticas del cache.
func (c *StorageCache) Stats() CacheStats {
	stats := CacheStats{}

	c.storages.Range(func(key, value interface{}) bool {
		entry := value.(*cacheEntry)

		entry.mu.Lock()
		stats.Storages = append(stats.Storages, StorageStats{
			PoolID:     key.(string),
			Driver:     entry.storage.Name(),
			OpenedAt:   entry.openedAt,
			LastUsedAt: entry.lastUsedAt,
		})
		entry.mu.Unlock()
		return true
	})

	sort.Slice(stats.Storages, func(i, j int) bool { return stats.Storages[i].PoolID < stats.Storages[j].PoolID })
	stats.TotalOpen = len(stats.Storages)
	return stats
}

// CacheStats estadísticas del cache.
type CacheStats struct {
	TotalOpen int
	Storages  []StorageStats
}

// StorageStats estadísticas de un storage abierto.
type StorageStats struct {
	PoolID     string
	Driver     string
	OpenedAt   time.Time
	LastUsedAt time.Time
}
