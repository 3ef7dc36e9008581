// Package bulkimport contiene los controllers de /bulk-import.
package bulkimport

import svc "github.com/dropDatabas3/hellojohn-identity/internal/http/services/bulkimport"

// Controllers agrupa los controllers del dominio.
type Controllers struct {
	BulkImport *BulkImportController
}

func NewControllers(s svc.Services) *Controllers {
	return &Controllers{
		BulkImport: NewBulkImportController(s.BulkImport),
	}
}
