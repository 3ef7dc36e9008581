// Package bulkimport contiene los services de la cola de bulk import.
package bulkimport

import (
	core "github.com/dropDatabas3/hellojohn-identity/internal/bulkimport"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/services/common"
)

// Deps dependencias del dominio.
type Deps struct {
	Storages  common.StorageResolver
	Entries   *core.Entries
	Processor *core.Processor
}

// Services agrupa los services del dominio.
type Services struct {
	BulkImport BulkImportService
}

func NewServices(d Deps) Services {
	return Services{
		BulkImport: NewBulkImportService(d),
	}
}
