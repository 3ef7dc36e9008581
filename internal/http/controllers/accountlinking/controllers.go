// Package accountlinking contiene los controllers de account linking y borrado de usuarios.
package accountlinking

import svc "github.com/dropDatabas3/hellojohn-identity/internal/http/services/accountlinking"

// Controllers agrupa los controllers del dominio.
type Controllers struct {
	Linking *LinkingController
}

func NewControllers(s svc.Services) *Controllers {
	return &Controllers{
		Linking: NewLinkingController(s.Linking),
	}
}
