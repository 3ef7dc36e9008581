package router

import (
	"github.com/go-chi/chi/v5"

	ctrl "github.com/dropDatabas3/hellojohn-identity/internal/http/controllers/bulkimport"
)

// RegisterBulkImportRoutes registra las rutas de /bulk-import.
func RegisterBulkImportRoutes(r chi.Router, c *ctrl.Controllers) {
	r.Route("/bulk-import", func(r chi.Router) {
		r.Post("/users", c.BulkImport.AddUsers)
		r.Get("/users", c.BulkImport.ListUsers)
		r.Post("/users/remove", c.BulkImport.RemoveUsers)
		r.Get("/users/count", c.BulkImport.CountUsers)
		r.Post("/import", c.BulkImport.ImportUser)
	})
}
