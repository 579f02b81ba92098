package errors

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mercaflow/mercaflow/internal/domain/repository"
	oauthsvc "github.com/mercaflow/mercaflow/internal/http/services/oauth"
	"github.com/mercaflow/mercaflow/internal/meli"
	"github.com/mercaflow/mercaflow/internal/token"
)

func TestFromDomain_Table(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid state", oauthsvc.ErrInvalidState, http.StatusBadRequest, "INVALID_STATE"},
		{"exchange failed", fmt.Errorf("%w: bad code", oauthsvc.ErrExchangeFailed), http.StatusBadRequest, "EXCHANGE_FAILED"},
		{"integration missing", token.ErrIntegrationNotFound, http.StatusNotFound, "INTEGRATION_NOT_FOUND"},
		{"reauth required", fmt.Errorf("%w: revoked", token.ErrReauthRequired), http.StatusConflict, "REAUTH_REQUIRED"},
		{"unauthorized after retry", meli.ErrUnauthorized, http.StatusConflict, "REAUTH_REQUIRED"},
		{"repo not found", repository.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"upstream 5xx", &meli.APIError{StatusCode: 502, Code: "bad_gateway", Message: "x"}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"network", fmt.Errorf("%w: dial tcp", meli.ErrNetwork), http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"unknown", errors.New("surprise"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FromDomain(tc.err)
			assert.Equal(t, tc.status, got.HTTPStatus)
			assert.Equal(t, tc.code, got.Code)
		})
	}
}

func TestWriteError_RateLimitSetsRetryAfter(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	WriteError(rec, &meli.RateLimitError{RetryAfter: 7 * time.Second})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "7", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestWriteError_PassesAppErrorThrough(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	WriteError(rec, ErrTokenMissing)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "TOKEN_MISSING")
}
