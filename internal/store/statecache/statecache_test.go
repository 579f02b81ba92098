package statecache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercaflow/mercaflow/internal/cache"
	"github.com/mercaflow/mercaflow/internal/domain/repository"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	c := cache.NewMemory(time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	return New(c)
}

func TestConsume_OneShot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	st := repository.OAuthState{
		State:        "abc123",
		CodeVerifier: "verifier-xyz",
		TenantID:     "tenant-a",
		ExpiresAt:    time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, s.Save(ctx, st))

	got, err := s.Consume(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "verifier-xyz", got.CodeVerifier)
	assert.Equal(t, "tenant-a", got.TenantID)

	// replay: el mismo state no puede consumirse dos veces
	_, err = s.Consume(ctx, "abc123")
	assert.ErrorIs(t, err, repository.ErrStateNotFound)
}

func TestConsume_Unknown(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	_, err := s.Consume(context.Background(), "never-saved")
	assert.ErrorIs(t, err, repository.ErrStateNotFound)
}

func TestConsume_Expired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	st := repository.OAuthState{
		State:        "short",
		CodeVerifier: "v",
		TenantID:     "tenant-a",
		ExpiresAt:    time.Now().Add(20 * time.Millisecond),
	}
	require.NoError(t, s.Save(ctx, st))

	time.Sleep(50 * time.Millisecond)

	_, err := s.Consume(ctx, "short")
	assert.ErrorIs(t, err, repository.ErrStateNotFound)
}

func TestSave_RejectsExpired(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	err := s.Save(context.Background(), repository.OAuthState{
		State:     "late",
		ExpiresAt: time.Now().Add(-time.Second),
	})
	assert.Error(t, err)
}
