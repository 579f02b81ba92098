package errors

import (
	stderrors "errors"

	"github.com/mercaflow/mercaflow/internal/domain/repository"
	oauthsvc "github.com/mercaflow/mercaflow/internal/http/services/oauth"
	"github.com/mercaflow/mercaflow/internal/meli"
	"github.com/mercaflow/mercaflow/internal/token"
)

// FromDomain traduce los errores tipados de las capas internas a AppError.
// Es la única tabla de mapeo dominio→HTTP: los controllers no inventan
// status codes por su cuenta.
func FromDomain(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	switch {
	case stderrors.Is(err, oauthsvc.ErrInvalidState):
		return ErrInvalidState.WithCause(err)
	case stderrors.Is(err, oauthsvc.ErrExchangeFailed):
		return ErrExchangeFailed.WithCause(err)
	case stderrors.Is(err, token.ErrIntegrationNotFound):
		return ErrIntegrationNotFound.WithCause(err)
	case stderrors.Is(err, token.ErrReauthRequired),
		stderrors.Is(err, meli.ErrUnauthorized):
		return ErrReauthRequired.WithCause(err)
	case stderrors.Is(err, repository.ErrNotFound):
		return ErrNotFound.WithCause(err)
	case stderrors.Is(err, repository.ErrInvalidInput):
		return ErrBadRequest.WithCause(err)
	}

	var rl *meli.RateLimitError
	if stderrors.As(err, &rl) {
		return ErrRateLimitExceeded.WithCause(err).WithRetryAfter(rl.RetryAfter)
	}

	var api *meli.APIError
	if stderrors.As(err, &api) {
		return ErrUpstream.WithCause(err)
	}
	if stderrors.Is(err, meli.ErrNetwork) {
		return ErrUpstream.WithCause(err)
	}

	return ErrInternalServerError.WithCause(err)
}
