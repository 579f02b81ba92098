package meli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New("APP123", "secret", "https://app.test/callback", 5*time.Second)
	c.APIBase = srv.URL
	c.AuthBase = srv.URL
	return c, srv
}

func tokenJSON() map[string]any {
	return map[string]any{
		"access_token":  "APP_USR-new-access",
		"token_type":    "Bearer",
		"expires_in":    21600,
		"scope":         "read write offline_access",
		"user_id":       123456,
		"refresh_token": "TG-new-refresh",
	}
}

func TestAuthURL_CarriesPKCEAndState(t *testing.T) {
	t.Parallel()
	c := New("APP123", "secret", "https://app.test/callback", 0)

	verifier, err := GenerateVerifier()
	require.NoError(t, err)

	raw := c.AuthURL("the-state", verifier)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "APP123", q.Get("client_id"))
	assert.Equal(t, "the-state", q.Get("state"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, Challenge(verifier), q.Get("code_challenge"))
	assert.Equal(t, "read write offline_access", q.Get("scope"))
	assert.Equal(t, "auth.mercadolivre.com.br", u.Host)
}

func TestExchangeCode_SendsVerifierAndParsesResponse(t *testing.T) {
	t.Parallel()
	var gotForm url.Values
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		_ = json.NewEncoder(w).Encode(tokenJSON())
	})

	tr, err := c.ExchangeCode(context.Background(), "the-code", "the-verifier")
	require.NoError(t, err)

	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "the-code", gotForm.Get("code"))
	assert.Equal(t, "the-verifier", gotForm.Get("code_verifier"))
	assert.Equal(t, "https://app.test/callback", gotForm.Get("redirect_uri"))

	assert.Equal(t, "APP_USR-new-access", tr.AccessToken)
	assert.Equal(t, int64(123456), tr.UserID)
	assert.Equal(t, "TG-new-refresh", tr.RefreshToken)
}

func TestExchangeCode_RejectedCode(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": "invalid_grant", "error": "invalid_grant", "status": 400,
		})
	})

	_, err := c.ExchangeCode(context.Background(), "bad", "v")
	assert.ErrorIs(t, err, ErrExchangeRejected)
}

func TestRefresh_RejectedIsFatal(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "invalid refresh token"})
	})

	_, err := c.Refresh(context.Background(), "TG-revoked")
	assert.ErrorIs(t, err, ErrRefreshRejected)
	assert.False(t, IsTransient(err))
}

func TestRefresh_RateLimited(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Refresh(context.Background(), "TG-x")
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
	assert.True(t, IsTransient(err))
}

func TestRefresh_ServerErrorIsTransient(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Refresh(context.Background(), "TG-x")
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, http.StatusBadGateway, api.StatusCode)
	assert.True(t, IsTransient(err))
	assert.NotErrorIs(t, err, ErrRefreshRejected)
}

func TestRefresh_RejectsIncompleteTokenPayload(t *testing.T) {
	t.Parallel()
	// Respuesta 200 pero sin refresh_token: no debe cruzar el boundary.
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := tokenJSON()
		delete(body, "refresh_token")
		_ = json.NewEncoder(w).Encode(body)
	})

	_, err := c.Refresh(context.Background(), "TG-x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token response")
}

func TestGetMe(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer APP_USR-access", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": 123456, "nickname": "LOJADOZE", "email": "loja@doze.com.br", "site_id": "MLB",
		})
	})

	u, err := c.GetMe(context.Background(), "APP_USR-access")
	require.NoError(t, err)
	assert.Equal(t, int64(123456), u.ID)
	assert.Equal(t, "LOJADOZE", u.Nickname)
}

func TestNetworkErrorIsTransient(t *testing.T) {
	t.Parallel()
	c := New("APP123", "secret", "https://app.test/callback", 100*time.Millisecond)
	c.APIBase = "http://127.0.0.1:1" // puerto cerrado

	_, err := c.Refresh(context.Background(), "TG-x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.True(t, IsTransient(err))
}

func TestPKCE_ChallengeIsDeterministic(t *testing.T) {
	t.Parallel()
	v, err := GenerateVerifier()
	require.NoError(t, err)
	assert.Equal(t, Challenge(v), Challenge(v))
	assert.NotEqual(t, v, Challenge(v))
}
