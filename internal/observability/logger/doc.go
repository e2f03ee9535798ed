// Package logger expone un logger zap único para el cliente de sesión.
//
// # Decisiones
//
//   - Singleton inicializado con Init(); L() crea uno por defecto si nadie lo hizo.
//   - Cada operación puede llevar su propio logger "scoped" en el contexto
//     (request_id, audience) sin reconstruir el core.
//   - "dev" escribe consola con colores, "prod" escribe JSON.
//   - Nunca se loguean valores de tokens: solo audiencias, rutas y estados.
//
// # Uso
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
//	log := logger.From(ctx)
//	log.Info("refresh settled", logger.Audience("admin"), logger.Outcome("ok"))
package logger
