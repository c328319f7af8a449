package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-coordinator/internal/domain"
)

type mapRooms struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func (m *mapRooms) ReserveCode(context.Context, string, string) (bool, error) { return true, nil }
func (m *mapRooms) ReleaseCode(context.Context, string, string) {}

func (m *mapRooms) Add(_ context.Context, room *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.ID()] = room
	return nil
}

func (m *mapRooms) Get(roomID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	return room, ok
}

func (m *mapRooms) GetByCode(_ context.Context, code string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, room := range m.rooms {
		if room.Code() == code {
			return room, true
		}
	}
	return nil, false
}

func (m *mapRooms) Remove(_ context.Context, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
}

func (m *mapRooms) List() []*Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		out = append(out, room)
	}
	return out
}

type quizMap map[string]domain.Quiz

func (q quizMap) GetQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	quiz, ok := q[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}

func TestSweepDoesNotCloseRoomStartedBehindStaleStatus(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	quiz := domain.Quiz{ID: "quiz-1", Questions: []domain.Question{{
		ID:      "q1",
		Type:    domain.QuestionMultipleChoice,
		Options: []domain.Option{{ID: "a", Correct: true}, {ID: "b"}},
	}}}
	rooms := &mapRooms{rooms: make(map[string]*Room)}
	svc := NewRoomService(rooms, quizMap{"quiz-1": quiz}, WithClock(clock))
	t.Cleanup(func() { svc.Close(ctx) })

	created, err := svc.CreateRoom(ctx, CreateRoomParams{QuizID: "quiz-1", LeaderID: "u1"})
	require.NoError(t, err)
	_, err = svc.Join(ctx, created.ID, "u2", "u2")
	require.NoError(t, err)
	for _, u := range []string{"u1", "u2"} {
		_, err = svc.SetReady(ctx, created.ID, u, true)
		require.NoError(t, err)
	}

	mu.Lock()
	now = now.Add(31 * time.Minute)
	mu.Unlock()

	room, err := svc.lookup(created.ID)
	require.NoError(t, err)

	// Hold the worker so start and sweep queue up in that order.
	entered, gate := make(chan struct{}), make(chan struct{})
	room.events <- func() {
		close(entered)
		<-gate
	}
	<-entered

	started := make(chan error, 1)
	go func() {
		_, err := svc.Start(ctx, created.ID, "u1")
		started <- err
	}()
	require.Eventually(t, func() bool { return len(room.events) == 1 }, time.Second, time.Millisecond)

	swept := make(chan int, 1)
	go func() { swept <- svc.Sweep(ctx) }()
	require.Eventually(t, func() bool { return len(room.events) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, domain.RoomWaiting, room.Status())

	close(gate)
	require.NoError(t, <-started)
	assert.Zero(t, <-swept)

	snapshot, err := svc.Room(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomActive, snapshot.Status)
}
