package errors

import (
	"fmt"
	"net/http"
	"time"
)

// AppError define la estructura estándar para errores de la aplicación
type AppError struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Detail     string        `json:"detail,omitempty"`
	HTTPStatus int           `json:"-"` // No se serializa, usado para el header
	RetryAfter time.Duration `json:"-"` // Si > 0, se emite el header Retry-After
	Err        error         `json:"-"` // Error original (causa), útil para logs, no se expone al cliente
}

// Error implementa la interfaz error
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap permite acceder al error original
func (e *AppError) Unwrap() error {
	return e.Err
}

// New crea un nuevo AppError
func New(status int, code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
	}
}

// WithDetail agrega detalles adicionales al error.
// Devuelve una COPIA del error para no mutar las variables globales base
func (e *AppError) WithDetail(detail string) *AppError {
	newErr := *e
	newErr.Detail = detail
	return &newErr
}

// WithCause agrega el error original (causa). Devuelve una COPIA del error
func (e *AppError) WithCause(err error) *AppError {
	newErr := *e
	newErr.Err = err
	return &newErr
}

// WithRetryAfter fija el Retry-After. Devuelve una COPIA del error
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	newErr := *e
	newErr.RetryAfter = d
	return &newErr
}

// =================================================================================
// LISTA DE ERRORES PREDEFINIDOS
// =================================================================================

var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "La solicitud contiene sintaxis inválida o parámetros faltantes.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		Message:    "El cuerpo de la solicitud no es un JSON válido.",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrInvalidState: state del callback ausente, vencido o ya usado.
	// El usuario debe reiniciar la conexión con ML desde el principio.
	ErrInvalidState = &AppError{
		Code:       "INVALID_STATE",
		Message:    "El state de autorización es inválido, expiró o ya fue utilizado.",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrExchangeFailed: ML rechazó el authorization code.
	ErrExchangeFailed = &AppError{
		Code:       "EXCHANGE_FAILED",
		Message:    "Mercado Livre rechazó el código de autorización.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "No autorizado. Se requiere autenticación.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenMissing = &AppError{
		Code:       "TOKEN_MISSING",
		Message:    "No se proporcionó token de autenticación.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenInvalid = &AppError{
		Code:       "TOKEN_INVALID",
		Message:    "El token de acceso es inválido o está malformado.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "No tiene permisos para realizar esta acción.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "El recurso solicitado no fue encontrado.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrIntegrationNotFound = &AppError{
		Code:       "INTEGRATION_NOT_FOUND",
		Message:    "No hay ninguna cuenta de Mercado Livre conectada.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrRouteNotFound = &AppError{
		Code:       "ROUTE_NOT_FOUND",
		Message:    "La ruta solicitada no existe.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrMethodNotAllowed = &AppError{
		Code:       "METHOD_NOT_ALLOWED",
		Message:    "El método HTTP no está permitido para este recurso.",
		HTTPStatus: http.StatusMethodNotAllowed,
	}

	// ErrReauthRequired: la integración quedó inutilizable (refresh token
	// revocado o credenciales ilegibles). Reconectar es la única salida.
	ErrReauthRequired = &AppError{
		Code:       "REAUTH_REQUIRED",
		Message:    "La conexión con Mercado Livre expiró. Reconecte su cuenta.",
		HTTPStatus: http.StatusConflict,
	}

	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Ha excedido el límite de solicitudes. Intente más tarde.",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrInternalServerError = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Ocurrió un error interno en el servidor.",
		HTTPStatus: http.StatusInternalServerError,
	}

	// ErrUpstream: ML respondió con un error que no podemos traducir a una
	// acción del cliente (5xx, red caída).
	ErrUpstream = &AppError{
		Code:       "UPSTREAM_ERROR",
		Message:    "Mercado Livre no está respondiendo correctamente.",
		HTTPStatus: http.StatusBadGateway,
	}

	ErrServiceUnavailable = &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "El servicio no está disponible temporalmente.",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)
