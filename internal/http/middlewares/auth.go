package middlewares

import (
	"net/http"
	"strings"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	httperrors "github.com/mercaflow/mercaflow/internal/http/errors"
)

// sessionClaims son las claims del token de sesión del dashboard.
// El tenant viaja en tenant_id; sub identifica al usuario (no se usa acá).
type sessionClaims struct {
	TenantID string `json:"tenant_id"`
	jwtv5.RegisteredClaims
}

// RequireTenant valida Authorization: Bearer <JWT> (HS256, secreto
// compartido con el dashboard) y guarda el tenant en el contexto.
// Todo endpoint de negocio pasa por acá: sin tenant no hay request.
func RequireTenant(secret []byte) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ah := strings.TrimSpace(r.Header.Get("Authorization"))
			if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token", error_description="missing bearer token"`)
				httperrors.WriteError(w, httperrors.ErrTokenMissing)
				return
			}
			raw := strings.TrimSpace(ah[len("Bearer "):])

			var claims sessionClaims
			tk, err := jwtv5.ParseWithClaims(raw, &claims, func(*jwtv5.Token) (any, error) {
				return secret, nil
			}, jwtv5.WithValidMethods([]string{"HS256"}))
			if err != nil || !tk.Valid {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
				httperrors.WriteError(w, httperrors.ErrTokenInvalid)
				return
			}

			tenantID := claims.TenantID
			if tenantID == "" {
				tenantID = claims.Subject
			}
			if tenantID == "" {
				httperrors.WriteError(w, httperrors.ErrTokenInvalid.WithDetail("token sin tenant"))
				return
			}

			ctx := setTenantID(r.Context(), tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
