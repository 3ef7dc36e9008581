// Package dal importa todos los adapters para auto-registro.
// Lo importa internal/app para que store.Open conozca memory y postgres.
//
// Uso:
//
//	import _ "github.com/dropDatabas3/hellojohn-identity/internal/store/adapters/dal"
package dal

import (
	_ "github.com/dropDatabas3/hellojohn-identity/internal/store/adapters/memory"
	_ "github.com/dropDatabas3/hellojohn-identity/internal/store/adapters/pg"
)
