// Package accountlinking contiene los services de account linking y borrado de usuarios.
package accountlinking

import (
	core "github.com/dropDatabas3/hellojohn-identity/internal/accountlinking"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/services/common"
)

// Deps dependencias del dominio.
type Deps struct {
	Storages common.StorageResolver
	Linker   *core.Service
}

// Services agrupa los services del dominio.
type Services struct {
	Linking LinkingService
}

func NewServices(d Deps) Services {
	return Services{
		Linking: NewLinkingService(d),
	}
}
