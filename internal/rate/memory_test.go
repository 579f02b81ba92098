package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_AllowsUpToMax(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemoryLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "tenant-a")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := l.Allow(ctx, "tenant-a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemoryLimiter(1, time.Minute)

	res, err := l.Allow(ctx, "tenant-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "tenant-b")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "another key must have its own window")

	res, err = l.Allow(ctx, "tenant-a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestMemoryLimiter_WindowResets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemoryLimiter(1, 50*time.Millisecond)

	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	time.Sleep(60 * time.Millisecond)

	res, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "new window must reset the counter")
}
