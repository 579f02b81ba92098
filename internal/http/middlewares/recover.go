package middlewares

import (
	"net/http"
	"runtime/debug"

	httperrors "github.com/mercaflow/mercaflow/internal/http/errors"
	"github.com/mercaflow/mercaflow/internal/observability/logger"
)

// WithRecover atrapa panics de handlers y responde 500 en vez de tirar
// abajo el proceso.
func WithRecover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.From(r.Context()).Error("panic recovered",
						logger.Any("panic", rec),
						logger.String("stack", string(debug.Stack())),
					)
					httperrors.WriteError(w, httperrors.ErrInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
