// Package health contiene los controllers de health y readiness.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mercaflow/mercaflow/internal/observability/logger"
)

// Check es una dependencia verificable (db, cache).
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Controller maneja /healthz y /readyz.
type Controller struct {
	checks []Check
}

// NewController crea el controller con las dependencias a verificar.
func NewController(checks ...Check) *Controller {
	return &Controller{checks: checks}
}

// Healthz responde 200 si el proceso está vivo. No toca dependencias.
func (c *Controller) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Readyz verifica cada dependencia con un timeout corto. Cualquier fallo
// deja el pod fuera de rotación con 503.
func (c *Controller) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(c.checks))
	for _, ch := range c.checks {
		if err := ch.Ping(ctx); err != nil {
			logger.From(ctx).Warn("readiness check failed",
				logger.Component(ch.Name), logger.Err(err))
			results[ch.Name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		results[ch.Name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(results)
}
