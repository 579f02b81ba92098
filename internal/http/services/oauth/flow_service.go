// Package oauth implementa la máquina de estados del flujo de conexión
// con Mercado Livre: initiate (redirect con PKCE + state CSRF) y callback
// (exchange + alta de la integración).
package oauth

import (
	"context"
	"errors"

	"github.com/mercaflow/mercaflow/internal/domain/repository"
	"github.com/mercaflow/mercaflow/internal/meli"
)

// Errores terminales del flujo. Ninguno se reintenta: el usuario reinicia
// la conexión desde el principio.
var (
	// ErrInvalidState indica un state ausente, vencido o ya consumido.
	// Cubre tanto el replay como el CSRF: en ambos casos no hay flujo válido.
	ErrInvalidState = errors.New("oauth: invalid or expired state")

	// ErrExchangeFailed indica que ML rechazó el authorization code.
	// No se escribe ninguna fila: la integración no existe hasta que el
	// exchange completo tiene éxito.
	ErrExchangeFailed = errors.New("oauth: code exchange failed")
)

// InitiateResult es el resultado de iniciar el flujo.
type InitiateResult struct {
	// RedirectURL es la URL de autorización de ML a la que se manda al
	// usuario. Incluye state y code_challenge; el verifier queda guardado
	// del lado del servidor, nunca viaja.
	RedirectURL string
}

// MLConnector es lo que el flujo necesita del cliente ML.
type MLConnector interface {
	AuthURL(state, verifier string) string
	ExchangeCode(ctx context.Context, code, verifier string) (*meli.TokenResponse, error)
	GetMe(ctx context.Context, accessToken string) (*meli.User, error)
}

// FlowService es la máquina de estados de conexión de una cuenta ML.
type FlowService interface {
	// Initiate arranca el flujo para el tenant y retorna la URL de
	// autorización. El state generado expira y es de un solo uso.
	Initiate(ctx context.Context, tenantID string) (*InitiateResult, error)

	// Callback procesa el retorno de ML. Consume el state (one-shot),
	// intercambia el code, resuelve la identidad del vendedor y da de alta
	// (o reconecta) la integración del tenant.
	Callback(ctx context.Context, state, code string) (*repository.Integration, error)
}
