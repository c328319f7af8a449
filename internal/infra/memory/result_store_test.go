package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-coordinator/internal/domain"
)

func TestResultStoreKeepsFirstWrite(t *testing.T) {
	store := NewResultStore()
	ctx := context.Background()
	result := domain.RoomResult{
		RoomID:      "room-1",
		QuizID:      "quiz-1",
		WinnerID:    "u1",
		CompletedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Participants: []domain.Participant{
			{UserID: "u1", Score: 97, Rank: 1},
			{UserID: "u2", Score: 52, Rank: 2},
		},
	}
	require.NoError(t, store.SaveResult(ctx, result))

	overwrite := result
	overwrite.WinnerID = "u2"
	require.NoError(t, store.SaveResult(ctx, overwrite))

	got, err := store.GetResult(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.WinnerID)
	assert.Len(t, got.Participants, 2)

	_, err = store.GetResult(ctx, "room-2")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}
