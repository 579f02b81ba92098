package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas Prometheus del ciclo de vida de tokens y del gateway ML.
// Viven en un paquete propio para evitar ciclos de import entre el token
// service, el gateway y las capas HTTP.

var (
	TokenRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mercaflow_token_refresh_total",
		Help: "Refreshes de token por resultado (ok|rejected|transient)",
	}, []string{"result"})

	GatewayRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mercaflow_gateway_requests_total",
		Help: "Requests al API de ML por método y status upstream",
	}, []string{"method", "status"})

	GatewayRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mercaflow_gateway_request_duration_seconds",
		Help:    "Duración de requests al API de ML",
		Buckets: prometheus.DefBuckets,
	})

	OAuthFlowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mercaflow_oauth_flows_total",
		Help: "Flujos de autorización por resultado (initiated|connected|invalid_state|exchange_failed)",
	}, []string{"result"})
)

// Register registra las métricas en el registry dado (o el default si nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		TokenRefreshTotal,
		GatewayRequestsTotal,
		GatewayRequestDuration,
		OAuthFlowsTotal,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
