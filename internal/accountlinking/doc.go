// Package accountlinking mantiene la consistencia de identidad entre login methods.
//
// Un recipe user es una credencial (emailpassword, thirdparty, passwordless,
// webauthn). Un primary user es un grupo de recipe users que representan a la
// misma persona. El paquete decide cuándo un recipe user puede promoverse o
// unirse a un grupo, separa y borra miembros, y garantiza que dos primary users
// nunca compartan email, teléfono, cuenta third-party o credencial webauthn en
// un tenant donde ambos sean visibles.
//
// Toda mutación corre dentro de una única transacción de storage
// (repository.Storage.InTx). La revocación de sesiones ocurre después del
// commit, así que existe una ventana corta en la que una sesión emitida antes
// del link sigue siendo válida.
//
// Componentes:
//   - model.go: lectura de grupos y helpers de tenant/account info
//   - conflict.go: Checker, detección de conflictos sobre la unión de tenants
//   - linking.go: Service (CreatePrimaryUser, LinkAccounts, UnlinkAccounts)
//   - delete.go: borrado en cascada (DeleteUser)
//   - bulk.go: linking por lotes para bulk import
package accountlinking
