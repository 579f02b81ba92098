package meli

import (
	"errors"
	"fmt"
	"time"
)

// Taxonomía de errores del lado ML. Los services y el gateway nunca
// devuelven HTTP crudo hacia arriba: todo fallo upstream llega como uno de
// estos tipos.

var (
	// ErrRefreshRejected indica que ML rechazó el refresh token (400/401):
	// revocado o vencido. Fatal para la integración; nunca se reintenta.
	ErrRefreshRejected = errors.New("meli: refresh token rejected")

	// ErrExchangeRejected indica que ML rechazó el authorization code.
	// Terminal: el usuario debe reiniciar el flujo de autorización.
	ErrExchangeRejected = errors.New("meli: authorization code rejected")

	// ErrUnauthorized indica un access token rechazado incluso después del
	// refresh forzado + reintento del gateway.
	ErrUnauthorized = errors.New("meli: unauthorized after refresh")
)

// RateLimitError representa un HTTP 429 de ML. Transitorio: el caller puede
// reintentar con backoff, nunca se descarta en silencio.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("meli: rate limited, retry after %s", e.RetryAfter)
	}
	return "meli: rate limited"
}

// APIError representa cualquier otro 4xx/5xx de ML, con el status y mensaje
// upstream preservados.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("meli: api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Transient reporta si el error upstream amerita retry del caller
// (5xx o fallo de red). Los 4xx nunca son transitorios.
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500
}

// IsTransient reporta si err es un fallo transitorio de ML (red, 5xx, 429).
func IsTransient(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var api *APIError
	if errors.As(err, &api) {
		return api.Transient()
	}
	// errores de red (timeout, conexión) llegan envueltos sin tipo propio
	return errors.Is(err, ErrNetwork)
}

// ErrNetwork marca fallos de transporte hacia ML (timeout, DNS, conexión).
var ErrNetwork = errors.New("meli: network error")
