package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-coordinator/internal/app"
	"quiz-coordinator/internal/domain"
	"quiz-coordinator/internal/infra/memory"
	"quiz-coordinator/internal/metrics"
)

func TestVersionGuardRoundTrip(t *testing.T) {
	guard := app.NewVersionGuard(memory.NewVersionStore(), nil)
	ctx := context.Background()

	v, err := guard.Version(ctx, "quiz", "q1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	applied := 0
	next, err := guard.Apply(ctx, "quiz", "q1", v, func(context.Context) error {
		applied++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
	assert.Equal(t, 1, applied)

	_, err = guard.Apply(ctx, "quiz", "q1", v, func(context.Context) error {
		applied++
		return nil
	})
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(0), conflict.Expected)
	assert.Equal(t, int64(1), conflict.Actual)
	assert.Equal(t, 1, applied, "a stale write must not run")
}

func TestVersionGuardMutationFailureKeepsVersion(t *testing.T) {
	guard := app.NewVersionGuard(memory.NewVersionStore(), nil)
	ctx := context.Background()

	_, err := guard.Apply(ctx, "quiz", "q1", 0, func(context.Context) error { return assert.AnError })
	require.ErrorIs(t, err, assert.AnError)

	v, err := guard.Version(ctx, "quiz", "q1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	_, err = guard.Apply(ctx, "quiz", "q1", -1, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidVersion)
}

func TestVersionGuardConcurrentWritersOneWins(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	guard := app.NewVersionGuard(memory.NewVersionStore(), m)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := guard.Apply(ctx, "room", "r1", 0, nil); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 24.0, testutil.ToFloat64(m.VersionConflicts.WithLabelValues("room")))

	// Other resources are independent.
	next, err := guard.Apply(ctx, "room", "r2", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
}
