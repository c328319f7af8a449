package redis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-coordinator/internal/domain"
)

var quizKey = domain.LockKey{UserID: "u1", Subject: domain.SubjectQuiz, SubjectID: "quiz-1"}

func TestLockStoreGrantsOneOwner(t *testing.T) {
	mr := startRedis(t)
	store := NewLockStore(newClient(mr))
	ctx := context.Background()

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := store.TryAcquire(ctx, quizKey, fmt.Sprintf("tab-%d", i), time.Minute)
			if err == nil && ok {
				granted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), granted.Load())
}

func TestLockStoreDeniesThenExpires(t *testing.T) {
	mr := startRedis(t)
	store := NewLockStore(newClient(mr))
	ctx := context.Background()
	timeout := 90 * time.Second

	_, ok, err := store.TryAcquire(ctx, quizKey, "tab-a", timeout)
	require.NoError(t, err)
	require.True(t, ok)

	holder, ok, err := store.TryAcquire(ctx, quizKey, "tab-b", timeout)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "tab-a", holder.OwnerToken)

	mr.FastForward(60 * time.Second)
	renewed, err := store.Renew(ctx, quizKey, "tab-a", timeout)
	require.NoError(t, err)
	require.True(t, renewed)

	mr.FastForward(60 * time.Second)
	_, ok, err = store.TryAcquire(ctx, quizKey, "tab-b", timeout)
	require.NoError(t, err)
	assert.False(t, ok, "heartbeat should have kept the lock")

	mr.FastForward(91 * time.Second)
	_, ok, err = store.TryAcquire(ctx, quizKey, "tab-b", timeout)
	require.NoError(t, err)
	assert.True(t, ok)

	renewed, err = store.Renew(ctx, quizKey, "tab-a", timeout)
	require.NoError(t, err)
	assert.False(t, renewed)
}

func TestLockStoreReleaseRequiresOwner(t *testing.T) {
	mr := startRedis(t)
	store := NewLockStore(newClient(mr))
	ctx := context.Background()

	_, ok, err := store.TryAcquire(ctx, quizKey, "tab-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := store.Release(ctx, quizKey, "tab-b")
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists("session_lock:"+quizKey.String()))

	held, err := store.Held(ctx, domain.SubjectQuiz, "quiz-1")
	require.NoError(t, err)
	assert.True(t, held)

	released, err = store.Release(ctx, quizKey, "tab-a")
	require.NoError(t, err)
	assert.True(t, released)

	held, err = store.Held(ctx, domain.SubjectQuiz, "quiz-1")
	require.NoError(t, err)
	assert.False(t, held)
}
