package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS - HTTP SALIENTE
// =================================================================================

// RequestID crea un campo para el X-Request-ID del request saliente.
func RequestID(v string) zap.Field { return zap.String("request_id", v) }

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field { return zap.String("method", v) }

// Path crea un campo para el path del request.
func Path(v string) zap.Field { return zap.String("path", v) }

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field { return zap.Int("status", v) }

// DurationMs crea un campo para la duración en milisegundos.
func DurationMs(d time.Duration) zap.Field { return zap.Int64("duration_ms", d.Milliseconds()) }

// =================================================================================
// CAMPOS - CONTEXTO DE OPERACIÓN
// =================================================================================

// Component crea un campo para el componente que loguea (api.auth, kv.file...).
func Component(v string) zap.Field { return zap.String("component", v) }

// Op crea un campo para la operación en curso.
func Op(v string) zap.Field { return zap.String("op", v) }

// =================================================================================
// CAMPOS - SESIÓN
// =================================================================================

// Audience crea un campo para la audiencia de credenciales (user, admin, employee).
func Audience(v string) zap.Field { return zap.String("audience", v) }

// Surface crea un campo para la superficie activa de la app.
func Surface(v string) zap.Field { return zap.String("surface", v) }

// Outcome crea un campo para el resultado de una operación (ok, failed, shared...).
func Outcome(v string) zap.Field { return zap.String("outcome", v) }

// Attempt crea un campo para el número de intento de un request.
func Attempt(v int) zap.Field { return zap.Int("attempt", v) }

// Kind crea un campo para la clase de error.
func Kind(v string) zap.Field { return zap.String("kind", v) }

// Key crea un campo para una clave de storage.
func Key(v string) zap.Field { return zap.String("key", v) }

// Driver crea un campo para el backend de storage.
func Driver(v string) zap.Field { return zap.String("driver", v) }

// Err crea un campo para un error.
func Err(err error) zap.Field { return zap.Error(err) }

// String crea un campo string genérico.
func String(key, v string) zap.Field { return zap.String(key, v) }

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field { return zap.Any(key, v) }
