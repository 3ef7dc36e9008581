// Package services es el composition root de los services HTTP.
//
// Cada dominio vive en services/{dominio}/ con su Deps, su aggregator
// (services.go) y la implementación ({nombre}_service.go).
package services

import (
	"context"

	"github.com/dropDatabas3/hellojohn-identity/internal/accountlinking"
	"github.com/dropDatabas3/hellojohn-identity/internal/bulkimport"
	svclink "github.com/dropDatabas3/hellojohn-identity/internal/http/services/accountlinking"
	svcbulk "github.com/dropDatabas3/hellojohn-identity/internal/http/services/bulkimport"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/services/common"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/services/health"
)

// Deps contiene las dependencias base para crear los services.
type Deps struct {
	AppIDs     func() []string
	Storages   common.StorageResolver
	Linker     *accountlinking.Service
	Entries    *bulkimport.Entries
	Processor  *bulkimport.Processor
	CacheCheck func(ctx context.Context) error
}

// Services agrupa todos los sub-services por dominio.
type Services struct {
	AccountLinking svclink.Services
	BulkImport     svcbulk.Services
	Health         health.Services
}

// New crea todos los services.
func New(d Deps) Services {
	return Services{
		AccountLinking: svclink.NewServices(svclink.Deps{Storages: d.Storages, Linker: d.Linker}),
		BulkImport:     svcbulk.NewServices(svcbulk.Deps{Storages: d.Storages, Entries: d.Entries, Processor: d.Processor}),
		Health:         health.NewServices(health.Deps{AppIDs: d.AppIDs, Storages: d.Storages, CacheCheck: d.CacheCheck}),
	}
}
