package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercaflow/mercaflow/internal/domain/repository"
	"github.com/mercaflow/mercaflow/internal/meli"
	"github.com/mercaflow/mercaflow/internal/security/secretbox"
	"github.com/mercaflow/mercaflow/internal/store/memory"
)

// fakeML cuenta llamadas y responde según refreshFn.
type fakeML struct {
	calls     atomic.Int64
	delay     time.Duration
	refreshFn func(refreshToken string) (*meli.TokenResponse, error)
}

func (f *fakeML) Refresh(_ context.Context, refreshToken string) (*meli.TokenResponse, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.refreshFn(refreshToken)
}

func okRefresh(n int64) func(string) (*meli.TokenResponse, error) {
	return func(string) (*meli.TokenResponse, error) {
		return &meli.TokenResponse{
			AccessToken:  fmt.Sprintf("APP_USR-access-%d", n),
			TokenType:    "Bearer",
			ExpiresIn:    21600,
			Scope:        "read write offline_access",
			UserID:       123,
			RefreshToken: fmt.Sprintf("TG-refresh-%d", n),
		}, nil
	}
}

type fixture struct {
	store  *memory.Store
	cipher *secretbox.Cipher
	ml     *fakeML
	svc    *Service
	it     *repository.Integration
}

func newFixture(t *testing.T, expiresAt time.Time, ml *fakeML) *fixture {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	cipher, err := secretbox.New(key)
	require.NoError(t, err)

	store := memory.New()

	accessEnc, err := cipher.Encrypt("APP_USR-old-access")
	require.NoError(t, err)
	refreshEnc, err := cipher.Encrypt("TG-old-refresh")
	require.NoError(t, err)

	it, err := store.Create(context.Background(), repository.CreateIntegrationInput{
		TenantID:        "tenant-a",
		MLUserID:        123,
		MLNickname:      "LOJA",
		MLEmail:         "loja@test.com.br",
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		TokenExpiresAt:  expiresAt,
		Scopes:          []string{"read", "write", "offline_access"},
	})
	require.NoError(t, err)

	svc := New(Config{Repo: store, Events: store, Cipher: cipher, ML: ml, Margin: time.Minute})
	return &fixture{store: store, cipher: cipher, ml: ml, svc: svc, it: it}
}

func TestAccessToken_ValidTokenNoRefresh(t *testing.T) {
	t.Parallel()
	ml := &fakeML{refreshFn: okRefresh(1)}
	f := newFixture(t, time.Now().Add(6*time.Hour), ml)

	got, err := f.svc.AccessToken(context.Background(), f.it.ID)
	require.NoError(t, err)
	assert.Equal(t, "APP_USR-old-access", got)
	assert.EqualValues(t, 0, ml.calls.Load())
}

func TestAccessToken_ExpiredTriggersRefreshAndPersists(t *testing.T) {
	t.Parallel()
	ml := &fakeML{refreshFn: okRefresh(1)}
	f := newFixture(t, time.Now().Add(-time.Second), ml)

	got, err := f.svc.AccessToken(context.Background(), f.it.ID)
	require.NoError(t, err)
	assert.Equal(t, "APP_USR-access-1", got)
	assert.EqualValues(t, 1, ml.calls.Load())

	stored, err := f.store.GetByID(context.Background(), f.it.ID)
	require.NoError(t, err)
	assert.True(t, stored.TokenExpiresAt.After(time.Now()))

	// ambos tokens quedaron cifrados con el nuevo par
	access, err := f.cipher.Decrypt(stored.AccessTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "APP_USR-access-1", access)
	refresh, err := f.cipher.Decrypt(stored.RefreshTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "TG-refresh-1", refresh)

	events, err := f.store.ListByIntegration(context.Background(), f.it.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, repository.SyncEventTokenRefresh, events[0].Kind)
}

func TestAccessToken_WithinMarginTriggersRefresh(t *testing.T) {
	t.Parallel()
	ml := &fakeML{refreshFn: okRefresh(1)}
	// vence en 30s, margen de 60s: se refresca antes de entregar
	f := newFixture(t, time.Now().Add(30*time.Second), ml)

	got, err := f.svc.AccessToken(context.Background(), f.it.ID)
	require.NoError(t, err)
	assert.Equal(t, "APP_USR-access-1", got)
	assert.EqualValues(t, 1, ml.calls.Load())
}

func TestRefresh_ConcurrentCallersSingleUpstreamCall(t *testing.T) {
	t.Parallel()
	ml := &fakeML{delay: 50 * time.Millisecond, refreshFn: okRefresh(1)}
	f := newFixture(t, time.Now().Add(-time.Second), ml)

	const n = 8
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.AccessToken(context.Background(), f.it.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "APP_USR-access-1", results[i])
	}
	assert.EqualValues(t, 1, ml.calls.Load(), "exactly one refresh must reach ML")
}

func TestRefresh_SequentialAfterWinnerReusesResult(t *testing.T) {
	t.Parallel()
	ml := &fakeML{refreshFn: okRefresh(1)}
	f := newFixture(t, time.Now().Add(-time.Second), ml)

	_, err := f.svc.Refresh(context.Background(), f.it.ID, false)
	require.NoError(t, err)
	// segundo refresh no forzado: el token ya está fresco, no va a ML
	got, err := f.svc.Refresh(context.Background(), f.it.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "APP_USR-access-1", got)
	assert.EqualValues(t, 1, ml.calls.Load())
}

func TestRefresh_ForceBypassesExpiryCheck(t *testing.T) {
	t.Parallel()
	ml := &fakeML{refreshFn: okRefresh(1)}
	f := newFixture(t, time.Now().Add(6*time.Hour), ml)

	got, err := f.svc.Refresh(context.Background(), f.it.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "APP_USR-access-1", got)
	assert.EqualValues(t, 1, ml.calls.Load())
}

func TestRefresh_RejectedMarksRevoked(t *testing.T) {
	t.Parallel()
	ml := &fakeML{refreshFn: func(string) (*meli.TokenResponse, error) {
		return nil, fmt.Errorf("%w: invalid_grant", meli.ErrRefreshRejected)
	}}
	f := newFixture(t, time.Now().Add(-time.Second), ml)

	_, err := f.svc.AccessToken(context.Background(), f.it.ID)
	assert.ErrorIs(t, err, ErrReauthRequired)

	// la integración deja de presentarse como conectada
	_, err = f.store.FindActiveByTenant(context.Background(), "tenant-a")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	stored, err := f.store.GetByID(context.Background(), f.it.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusRevoked, stored.Status)
}

func TestRefresh_TransientErrorSurfacesAsIs(t *testing.T) {
	t.Parallel()
	upstream := &meli.APIError{StatusCode: 502, Code: "bad_gateway", Message: "upstream down"}
	ml := &fakeML{refreshFn: func(string) (*meli.TokenResponse, error) { return nil, upstream }}
	f := newFixture(t, time.Now().Add(-time.Second), ml)

	_, err := f.svc.AccessToken(context.Background(), f.it.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrReauthRequired)
	assert.True(t, meli.IsTransient(err))

	// transitorio: la integración sigue activa
	stored, err := f.store.GetByID(context.Background(), f.it.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusActive, stored.Status)
}

func TestAccessToken_UndecryptableTokenRequiresReauth(t *testing.T) {
	t.Parallel()
	ml := &fakeML{refreshFn: okRefresh(1)}
	f := newFixture(t, time.Now().Add(6*time.Hour), ml)

	// simular ciphertext corrupto / clave equivocada
	require.NoError(t, f.store.UpdateTokens(context.Background(), f.it.ID, repository.UpdateTokensInput{
		AccessTokenEnc:  "enc:v1|garbage|garbage",
		RefreshTokenEnc: "enc:v1|garbage|garbage",
		TokenExpiresAt:  time.Now().Add(6 * time.Hour),
	}))

	_, err := f.svc.AccessToken(context.Background(), f.it.ID)
	assert.ErrorIs(t, err, ErrReauthRequired)

	stored, err := f.store.GetByID(context.Background(), f.it.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusError, stored.Status)
}

func TestAccessToken_NotFound(t *testing.T) {
	t.Parallel()
	ml := &fakeML{refreshFn: okRefresh(1)}
	f := newFixture(t, time.Now().Add(6*time.Hour), ml)

	_, err := f.svc.AccessToken(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrIntegrationNotFound)
}

// failingRepo envuelve el store y hace fallar UpdateTokens.
type failingRepo struct {
	repository.IntegrationRepository
}

func (f *failingRepo) UpdateTokens(context.Context, string, repository.UpdateTokensInput) error {
	return errors.New("disk full")
}

func TestRefresh_PersistFailureFailsRefresh(t *testing.T) {
	t.Parallel()
	ml := &fakeML{refreshFn: okRefresh(1)}
	f := newFixture(t, time.Now().Add(-time.Second), ml)

	svc := New(Config{
		Repo:   &failingRepo{IntegrationRepository: f.store},
		Events: f.store,
		Cipher: f.cipher,
		ML:     ml,
		Margin: time.Minute,
	})

	_, err := svc.AccessToken(context.Background(), f.it.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist refreshed tokens")

	// el par viejo sigue intacto: nunca se entrega un token no persistido
	stored, err := f.store.GetByID(context.Background(), f.it.ID)
	require.NoError(t, err)
	access, err := f.cipher.Decrypt(stored.AccessTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "APP_USR-old-access", access)
}
