package middlewares

import (
	"net"
	"net/http"
	"strconv"

	httperrors "github.com/mercaflow/mercaflow/internal/http/errors"
	"github.com/mercaflow/mercaflow/internal/observability/logger"
	"github.com/mercaflow/mercaflow/internal/rate"
)

// WithRateLimit limita por tenant autenticado, o por IP en endpoints
// públicos (el callback de ML llega sin sesión). Si el limiter falla
// (redis caído) el request pasa: rate limiting degradado antes que
// servicio caído.
func WithRateLimit(limiter rate.Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := GetTenantID(r.Context())
			if key == "" {
				key = clientIP(r)
			}

			res, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter unavailable", logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if !res.Allowed {
				httperrors.WriteError(w, httperrors.ErrRateLimitExceeded.WithRetryAfter(res.RetryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resuelve la IP real detrás del proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
