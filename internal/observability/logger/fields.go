package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field { return zap.String("request_id", v) }

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field { return zap.String("method", v) }

// Path crea un campo para el path del request.
func Path(v string) zap.Field { return zap.String("path", v) }

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field { return zap.Int("status", v) }

// Duration crea un campo para una duración.
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// =================================================================================
// CAMPOS ESTÁNDAR - IDENTIDAD
// =================================================================================

// AppID crea un campo para el ID de la aplicación (grupo de tenants).
func AppID(v string) zap.Field { return zap.String("app_id", v) }

// TenantID crea un campo para el ID del tenant.
func TenantID(v string) zap.Field { return zap.String("tenant_id", v) }

// UserID crea un campo para un ID de usuario sin calificar.
func UserID(v string) zap.Field { return zap.String("user_id", v) }

// RecipeUserID crea un campo para el ID de un recipe user.
func RecipeUserID(v string) zap.Field { return zap.String("recipe_user_id", v) }

// PrimaryUserID crea un campo para el ID de un primary user.
func PrimaryUserID(v string) zap.Field { return zap.String("primary_user_id", v) }

// BulkEntryID crea un campo para el ID de una entrada de bulk import.
func BulkEntryID(v string) zap.Field { return zap.String("bulk_entry_id", v) }

// Storage crea un campo para el nombre / pool del storage.
func Storage(v string) zap.Field { return zap.String("storage", v) }

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field { return zap.String("component", v) }

// Op crea un campo para la operación actual.
func Op(v string) zap.Field { return zap.String("op", v) }

// Layer crea un campo para la capa (handler, service, repository).
func Layer(v string) zap.Field { return zap.String("layer", v) }

// Err crea un campo para un error.
func Err(err error) zap.Field { return zap.Error(err) }

// Count crea un campo para un conteo.
func Count(v int) zap.Field { return zap.Int("count", v) }

// String crea un campo string genérico.
func String(key, v string) zap.Field { return zap.String(key, v) }

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field { return zap.Int(key, v) }

// Any para valores sin tipo conocido (panics, payloads).
func Any(key string, v any) zap.Field { return zap.Any(key, v) }
