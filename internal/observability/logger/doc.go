// Package logger provee un logger Zap singleton con scoping por contexto.
//
// # Decisiones
//
//   - Singleton: una sola instancia global inicializada con Init().
//   - Context Scoping: cada operación de linking / borrado / batch de bulk import
//     puede llevar su propio logger con campos (app_id, recipe_user_id, ...) sin
//     crear un nuevo core.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON.
//
// # Uso
//
// Inicialización (una vez en main.go):
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
// En services:
//
//	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("LinkAccounts"))
//	log.Info("accounts linked", logger.RecipeUserID(u), logger.PrimaryUserID(p))
package logger
