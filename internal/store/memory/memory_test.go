package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercaflow/mercaflow/internal/domain/repository"
)

func createInput(tenantID string, mlUserID int64) repository.CreateIntegrationInput {
	return repository.CreateIntegrationInput{
		TenantID:        tenantID,
		MLUserID:        mlUserID,
		MLNickname:      "LOJA",
		MLEmail:         "loja@test.com.br",
		AccessTokenEnc:  "enc:v1|a|b",
		RefreshTokenEnc: "enc:v1|c|d",
		TokenExpiresAt:  time.Now().Add(6 * time.Hour),
		Scopes:          []string{"read", "write", "offline_access"},
	}
}

func TestFindActiveByTenant_Isolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	a, err := s.Create(ctx, createInput("tenant-a", 100))
	require.NoError(t, err)
	_, err = s.Create(ctx, createInput("tenant-b", 200))
	require.NoError(t, err)

	got, err := s.FindActiveByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "tenant-a", got.TenantID)

	_, err = s.FindActiveByTenant(ctx, "tenant-c")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreate_AtMostOneActivePerTenant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	first, err := s.Create(ctx, createInput("tenant-a", 100))
	require.NoError(t, err)
	second, err := s.Create(ctx, createInput("tenant-a", 999))
	require.NoError(t, err)

	got, err := s.FindActiveByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	old, err := s.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusRevoked, old.Status)
}

func TestCreate_ReconnectUpserts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	first, err := s.Create(ctx, createInput("tenant-a", 100))
	require.NoError(t, err)

	in := createInput("tenant-a", 100)
	in.MLNickname = "LOJA_NOVA"
	in.AccessTokenEnc = "enc:v1|x|y"
	again, err := s.Create(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "LOJA_NOVA", again.MLNickname)
	assert.Equal(t, "enc:v1|x|y", again.AccessTokenEnc)
}

func TestGetByIDForTenant_CrossTenantIsNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	it, err := s.Create(ctx, createInput("tenant-a", 100))
	require.NoError(t, err)

	_, err = s.GetByIDForTenant(ctx, "tenant-b", it.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteRevoked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	it, err := s.Create(ctx, createInput("tenant-a", 100))
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(ctx, it.ID, repository.StatusRevoked))

	n, err := s.DeleteRevoked(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetByID(ctx, it.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
