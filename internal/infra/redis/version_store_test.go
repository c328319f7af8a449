package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-coordinator/internal/domain"
)

func TestVersionStoreCompareAndSwap(t *testing.T) {
	mr := startRedis(t)
	store := NewVersionStore(newClient(mr))
	ctx := context.Background()

	v, err := store.Current(ctx, "quiz:quiz-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = store.Increment(ctx, "quiz:quiz-1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = store.Increment(ctx, "quiz:quiz-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = store.Increment(ctx, "quiz:quiz-1", 1)
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(2), conflict.Actual)

	v, err = store.Current(ctx, "quiz:quiz-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}
