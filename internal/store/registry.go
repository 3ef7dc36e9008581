// Package store provee el registry de adaptadores de storage y el cache de
// conexiones por user pool.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
)

// Adapter abre un repository.Storage para un driver concreto.
type Adapter interface {
	// Name retorna el nombre del adapter (ej: "postgres", "memory").
	Name() string

	// Open establece la conexión y retorna el set de capacidades completo.
	Open(ctx context.Context, cfg AdapterConfig) (repository.Storage, error)
}

// AdapterConfig configuración para abrir un storage.
type AdapterConfig struct {
	// Name del adapter: "postgres", "memory"
	Name string

	// DSN connection string (para DBs)
	DSN string

	// UserPoolID identifica la base física. Si está vacío se usa el DSN.
	UserPoolID string

	// Pool settings (para DBs)
	MaxOpenConns int
	MaxIdleConns int

	// TxRetries reintentos ante fallos de serialización o deadlock.
	TxRetries int

	// TxRetryBackoff espera base entre reintentos.
	TxRetryBackoff time.Duration
}

// PoolID retorna el user pool efectivo de la config.
func (c AdapterConfig) PoolID() string {
	if c.UserPoolID != "" {
		return c.UserPoolID
	}
	return c.Name + ":" + c.DSN
}

// ─── Registry Global ───

var (
	registryMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// RegisterAdapter registra un adapter en el registry global.
// Llamar en init() de cada adapter.
func RegisterAdapter(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := a.Name()
	if _, exists := adapters[name]; exists {
		panic(fmt.Sprintf("adapter: %q already registered", name))
	}
	adapters[name] = a
}

// GetAdapter obtiene un adapter por nombre.
func GetAdapter(name string) (Adapter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := adapters[name]
	return a, ok
}

// ListAdapters retorna los nombres de todos los adapters registrados, ordenados.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open abre un storage usando el adapter especificado en la config.
func Open(ctx context.Context, cfg AdapterConfig) (repository.Storage, error) {
	a, ok := GetAdapter(cfg.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAdapterNotRegistered, cfg.Name)
	}
	return a.Open(ctx, cfg)
}
