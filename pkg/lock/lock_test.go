package lock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	require.NoError(t, l.Acquire(ctx, "scope-1"))
	assert.ErrorIs(t, l.Acquire(ctx, "scope-1"), ErrLocked)

	// Other scopes are unaffected.
	require.NoError(t, l.Acquire(ctx, "scope-2"))

	require.NoError(t, l.Release(ctx, "scope-1"))
	assert.NoError(t, l.Acquire(ctx, "scope-1"))
}

func TestMemoryLockerReleaseIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	assert.NoError(t, l.Release(ctx, "never-held"))
}
