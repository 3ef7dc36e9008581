package router

import (
	"github.com/go-chi/chi/v5"

	ctrl "github.com/dropDatabas3/hellojohn-identity/internal/http/controllers/accountlinking"
)

// RegisterAccountLinkingRoutes registra las rutas de linking y /user/remove.
func RegisterAccountLinkingRoutes(r chi.Router, c *ctrl.Controllers) {
	r.Route("/recipe/accountlinking/user", func(r chi.Router) {
		r.Get("/primary/check", c.Linking.CanCreatePrimary)
		r.Post("/primary", c.Linking.CreatePrimary)
		r.Get("/link/check", c.Linking.CanLink)
		r.Post("/link", c.Linking.Link)
		r.Post("/unlink", c.Linking.Unlink)
	})
	r.Post("/user/remove", c.Linking.RemoveUser)
}
