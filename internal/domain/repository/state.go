package repository

import (
	"context"
	"time"
)

// OAuthState es el registro efímero del flujo de autorización.
// Vive una sola vez: se crea en initiate, se consume (y borra) en callback.
type OAuthState struct {
	// State es el token CSRF que viaja por el redirect de ML.
	State string
	// CodeVerifier es el verifier PKCE; nunca sale del servidor.
	CodeVerifier string
	TenantID     string
	ExpiresAt    time.Time
}

// StateStore define la persistencia one-shot del state de OAuth.
// Implementado sobre cache (memory/redis) con TTL.
type StateStore interface {
	// Save persiste el state con su TTL.
	Save(ctx context.Context, st OAuthState) error

	// Consume retorna y elimina el state en una sola operación.
	// Un state ausente, expirado o ya consumido retorna ErrStateNotFound:
	// el replay de un state debe fallar siempre.
	Consume(ctx context.Context, state string) (*OAuthState, error)
}
