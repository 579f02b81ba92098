package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercaflow/mercaflow/internal/domain/repository"
	"github.com/mercaflow/mercaflow/internal/meli"
	"github.com/mercaflow/mercaflow/internal/store/memory"
)

// fakeTokens entrega tokens fijos y cuenta refreshes forzados.
type fakeTokens struct {
	current       atomic.Value // string
	refreshCalls  atomic.Int64
	refreshResult string
	refreshErr    error
}

func newFakeTokens(initial, afterRefresh string) *fakeTokens {
	f := &fakeTokens{refreshResult: afterRefresh}
	f.current.Store(initial)
	return f
}

func (f *fakeTokens) AccessToken(context.Context, string) (string, error) {
	return f.current.Load().(string), nil
}

func (f *fakeTokens) Refresh(context.Context, string, bool) (string, error) {
	f.refreshCalls.Add(1)
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	f.current.Store(f.refreshResult)
	return f.refreshResult, nil
}

func newGateway(t *testing.T, handler http.HandlerFunc, tokens TokenSource, repo repository.IntegrationRepository) (*Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{Tokens: tokens, Repo: repo, APIBase: srv.URL, Timeout: 5 * time.Second}), srv
}

func TestDo_AttachesBearer(t *testing.T) {
	t.Parallel()
	var gotAuth string
	tokens := newFakeTokens("tok-1", "tok-2")
	gw, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"id":123}`))
	}, tokens, nil)

	resp, err := gw.Do(context.Background(), "int-1", http.MethodGet, "/users/me", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.EqualValues(t, 0, tokens.refreshCalls.Load())
}

func TestDo_401RefreshesAndRetriesOnce(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	var secondAuth string
	tokens := newFakeTokens("stale", "fresh")
	gw, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		secondAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"ok":true}`))
	}, tokens, nil)

	resp, err := gw.Do(context.Background(), "int-1", http.MethodGet, "/users/me", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 1, tokens.refreshCalls.Load())
	assert.Equal(t, "Bearer fresh", secondAuth)
}

func TestDo_PersistentUnauthorizedNeverThirdCall(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var calls atomic.Int64
	tokens := newFakeTokens("stale", "fresh")

	store := memory.New()
	it, err := store.Create(ctx, repository.CreateIntegrationInput{
		TenantID:        "tenant-a",
		MLUserID:        123,
		AccessTokenEnc:  "enc:v1|a|b",
		RefreshTokenEnc: "enc:v1|c|d",
		TokenExpiresAt:  time.Now().Add(6 * time.Hour),
	})
	require.NoError(t, err)

	gw, _ := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}, tokens, store)

	_, err = gw.Do(ctx, it.ID, http.MethodGet, "/users/me", nil)
	assert.ErrorIs(t, err, meli.ErrUnauthorized)
	assert.EqualValues(t, 2, calls.Load(), "never a third upstream call")

	stored, err := store.GetByID(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusRevoked, stored.Status)
}

func TestDo_RefreshFailureSurfaces(t *testing.T) {
	t.Parallel()
	refreshErr := errors.New("token: reauthorization required")
	tokens := newFakeTokens("stale", "fresh")
	tokens.refreshErr = refreshErr
	var calls atomic.Int64
	gw, _ := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}, tokens, nil)

	_, err := gw.Do(context.Background(), "int-1", http.MethodGet, "/users/me", nil)
	assert.ErrorIs(t, err, refreshErr)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDo_RateLimited(t *testing.T) {
	t.Parallel()
	tokens := newFakeTokens("tok", "tok")
	gw, _ := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "9")
		w.WriteHeader(http.StatusTooManyRequests)
	}, tokens, nil)

	_, err := gw.Do(context.Background(), "int-1", http.MethodGet, "/items", nil)
	var rl *meli.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 9*time.Second, rl.RetryAfter)
	assert.True(t, meli.IsTransient(err))
}

func TestDo_UpstreamErrorMapped(t *testing.T) {
	t.Parallel()
	tokens := newFakeTokens("tok", "tok")
	gw, _ := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"message":"oops","error":"bad_gateway","status":502}`))
	}, tokens, nil)

	_, err := gw.Do(context.Background(), "int-1", http.MethodGet, "/items", nil)
	var api *meli.APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, http.StatusBadGateway, api.StatusCode)
	assert.Equal(t, "oops", api.Message)
	assert.True(t, meli.IsTransient(err))
}

func TestDo_BodyReplayedOnRetry(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	bodies := make([]string, 0, 2)
	tokens := newFakeTokens("stale", "fresh")
	gw, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}, tokens, nil)

	payload := []byte(`{"title":"Anel de prata"}`)
	resp, err := gw.Do(context.Background(), "int-1", http.MethodPost, "/items", payload)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, bodies, 2)
	assert.Equal(t, string(payload), bodies[0])
	assert.Equal(t, string(payload), bodies[1], "retry must resend the exact body")
}

func TestGetJSON(t *testing.T) {
	t.Parallel()
	tokens := newFakeTokens("tok", "tok")
	gw, _ := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id":123,"nickname":"LOJA"}`))
	}, tokens, nil)

	var out struct {
		ID       int64  `json:"id"`
		Nickname string `json:"nickname"`
	}
	require.NoError(t, gw.GetJSON(context.Background(), "int-1", "/users/me", &out))
	assert.EqualValues(t, 123, out.ID)
	assert.Equal(t, "LOJA", out.Nickname)
}
