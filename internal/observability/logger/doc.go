// Package logger provides a singleton Zap logger with context-based scoping.
//
// # Design Decisions
//
//   - Singleton: una sola instancia global inicializada con Init().
//   - Context scoping: cada request puede llevar su propio logger "scoped" con
//     campos adicionales (request_id, tenant_id, integration_id) sin crear un
//     nuevo core.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON.
//
// # Usage
//
// Inicialización (una vez en main.go):
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
//	defer logger.Sync()
//
// En services/gateway (con contexto):
//
//	log := logger.From(ctx)
//	log.Info("token refreshed", logger.IntegrationID(id))
//
// Nunca loguear tokens ni el header Authorization: usar los helpers tipados
// de fields.go, que no incluyen campos para secretos.
package logger
