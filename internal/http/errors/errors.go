package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// errorResponse estructura interna para la serialización JSON.
// Controla exactamente qué campos se envían al cliente.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe una respuesta HTTP basada en el error proporcionado.
// Acepta *AppError o cualquier error del dominio (pasa por FromDomain).
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromDomain(err)

	resp := errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if appErr.RetryAfter > 0 {
		secs := int(appErr.RetryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(resp)
}
