// Package controllers es el composition root de los controllers HTTP.
package controllers

import (
	"github.com/dropDatabas3/hellojohn-identity/internal/http/controllers/accountlinking"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/controllers/bulkimport"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/controllers/health"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/services"
)

// Controllers agrupa los controllers por dominio.
type Controllers struct {
	AccountLinking *accountlinking.Controllers
	BulkImport     *bulkimport.Controllers
	Health         *health.Controllers
}

// New crea todos los controllers a partir de los services.
func New(s services.Services) *Controllers {
	return &Controllers{
		AccountLinking: accountlinking.NewControllers(s.AccountLinking),
		BulkImport:     bulkimport.NewControllers(s.BulkImport),
		Health:         health.NewControllers(s.Health),
	}
}
