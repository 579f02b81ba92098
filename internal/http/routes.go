// Package http arma el router del servicio: rutas chi, middlewares y el
// mapeo de controllers.
package http

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	healthctl "github.com/mercaflow/mercaflow/internal/http/controllers/health"
	integrationsctl "github.com/mercaflow/mercaflow/internal/http/controllers/integrations"
	melictl "github.com/mercaflow/mercaflow/internal/http/controllers/meli"
	httperrors "github.com/mercaflow/mercaflow/internal/http/errors"
	mw "github.com/mercaflow/mercaflow/internal/http/middlewares"
	"github.com/mercaflow/mercaflow/internal/rate"
)

// RouterDeps agrupa todo lo que el router necesita.
type RouterDeps struct {
	Meli         *melictl.Controllers
	Integrations *integrationsctl.Controller
	Health       *healthctl.Controller

	// SessionSecret firma los JWT de sesión del dashboard (HS256).
	SessionSecret []byte

	// CORSAllowedOrigins habilita CORS para el dashboard. Vacío = sin CORS.
	CORSAllowedOrigins []string

	// OAuthLimiter limita connect/callback; ProxyLimiter limita el proxy a
	// ML. nil = sin límite (dev).
	OAuthLimiter rate.Limiter
	ProxyLimiter rate.Limiter
}

// NewRouter construye el handler raíz.
func NewRouter(d RouterDeps) stdhttp.Handler {
	r := chi.NewRouter()

	r.Use(mw.WithRequestID())
	r.Use(mw.WithRecover())
	r.Use(mw.WithLogging())
	r.Use(mw.WithSecurityHeaders())
	if len(d.CORSAllowedOrigins) > 0 {
		r.Use(mw.WithCORS(d.CORSAllowedOrigins))
	}

	r.Get("/healthz", d.Health.Healthz)
	r.Get("/readyz", d.Health.Readyz)
	r.Method(stdhttp.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// El callback llega desde el browser sin sesión: el state valida el
		// origen. Rate limit por IP.
		r.Group(func(r chi.Router) {
			r.Use(mw.WithRateLimit(d.OAuthLimiter))
			r.Get("/meli/callback", d.Meli.Callback.Callback)
		})

		// Resto: requiere sesión del dashboard (tenant en el JWT).
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireTenant(d.SessionSecret))

			r.With(mw.WithRateLimit(d.OAuthLimiter)).Get("/meli/connect", d.Meli.Connect.Connect)

			r.Get("/integrations", d.Integrations.Current)
			r.Delete("/integrations/{id}", d.Integrations.Disconnect)

			r.Group(func(r chi.Router) {
				r.Use(mw.WithRateLimit(d.ProxyLimiter))
				r.Get("/meli/users/me", d.Meli.Proxy.Me)
				r.HandleFunc("/meli/proxy/*", d.Meli.Proxy.Proxy)
			})
		})
	})

	r.NotFound(func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		httperrors.WriteError(w, httperrors.ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	return r
}
