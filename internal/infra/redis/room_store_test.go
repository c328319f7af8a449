package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-coordinator/internal/app"
	"quiz-coordinator/internal/domain"
	"quiz-coordinator/internal/infra/memory"
)

func TestRoomStoreReservesCodesAcrossInstances(t *testing.T) {
	mr := startRedis(t)
	ctx := context.Background()
	first := NewRoomStore(newClient(mr), time.Hour)
	second := NewRoomStore(newClient(mr), time.Hour)

	ok, err := first.ReserveCode(ctx, "ABC234", "room-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.ReserveCode(ctx, "ABC234", "room-2")
	require.NoError(t, err)
	assert.False(t, ok, "a code held by another instance must not be reused")
}

func TestRoomStoreSetsAndClearsKeys(t *testing.T) {
	mr := startRedis(t)
	ctx := context.Background()
	store := NewRoomStore(newClient(mr), time.Hour)
	quizzes := memory.NewQuizRepository(memory.NewQuizStore(map[string]domain.Quiz{"quiz-1": sampleQuiz()}), time.Minute)
	service := app.NewRoomService(store, quizzes)
	t.Cleanup(func() { service.Close(ctx) })

	room, err := service.CreateRoom(ctx, app.CreateRoomParams{QuizID: "quiz-1", LeaderID: "u1", LeaderName: "Alice"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("room:code:"+room.Code))
	assert.True(t, mr.Exists("room:live:"+room.ID))

	got, err := service.RoomByCode(ctx, room.Code)
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)

	require.NoError(t, service.Leave(ctx, room.ID, "u1"))
	assert.False(t, mr.Exists("room:code:"+room.Code))
	assert.False(t, mr.Exists("room:live:"+room.ID))
}

func TestRoomStoreReleaseCodeOnlyByOwner(t *testing.T) {
	mr := startRedis(t)
	ctx := context.Background()
	store := NewRoomStore(newClient(mr), time.Hour)

	ok, err := store.ReserveCode(ctx, "XYZ789", "room-1")
	require.NoError(t, err)
	require.True(t, ok)

	store.ReleaseCode(ctx, "XYZ789", "room-2")
	assert.True(t, mr.Exists("room:code:XYZ789"))

	store.ReleaseCode(ctx, "XYZ789", "room-1")
	assert.False(t, mr.Exists("room:code:XYZ789"))

	other := NewRoomStore(newClient(mr), time.Hour)
	ok, err = other.ReserveCode(ctx, "XYZ789", "room-3")
	require.NoError(t, err)
	assert.True(t, ok)
}
