package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"quiz-coordinator/internal/app"
	"quiz-coordinator/internal/domain"
	"quiz-coordinator/internal/infra/memory"
	"quiz-coordinator/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type manualTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

// manualScheduler records timers so tests decide when they fire.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) app.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return &manualHandle{s: s, t: t}
}

type manualHandle struct {
	s *manualScheduler
	t *manualTimer
}

func (h *manualHandle) Stop() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if h.t.stopped || h.t.fired {
		return false
	}
	h.t.stopped = true
	return true
}

// pending returns the delays of timers that are neither stopped nor fired.
func (s *manualScheduler) pending() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Duration
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.delay)
		}
	}
	return out
}

// fire runs every pending timer with the given delay and reports how many fired.
func (s *manualScheduler) fire(d time.Duration) int {
	s.mu.Lock()
	var due []*manualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && t.delay == d {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
	return len(due)
}

// hookedRoomStore wraps the memory store so tests can interleave calls with its methods.
type hookedRoomStore struct {
	*memory.RoomStore
	addErr   error
	onRemove func()
	reserved []string
}

func (s *hookedRoomStore) ReserveCode(ctx context.Context, code, roomID string) (bool, error) {
	ok, err := s.RoomStore.ReserveCode(ctx, code, roomID)
	if ok {
		s.reserved = append(s.reserved, code)
	}
	return ok, err
}

func (s *hookedRoomStore) Add(ctx context.Context, room *app.Room) error {
	if s.addErr != nil {
		return s.addErr
	}
	return s.RoomStore.Add(ctx, room)
}

func (s *hookedRoomStore) Remove(ctx context.Context, roomID string) {
	if s.onRemove != nil {
		s.onRemove()
	}
	s.RoomStore.Remove(ctx, roomID)
}

type fixture struct {
	svc     *app.RoomService
	store   *memory.RoomStore
	quizzes *memory.QuizStore
	results *memory.ResultStore
	sched   *manualScheduler
	clock   *fakeClock
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, questions int) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewRoomStore(),
		quizzes: memory.NewQuizStore(map[string]domain.Quiz{"quiz-1": testQuiz("quiz-1", questions), "empty": {ID: "empty"}}),
		results: memory.NewResultStore(),
		sched:   &manualScheduler{},
		clock:   newFakeClock(),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	f.svc = app.NewRoomService(
		f.store,
		memory.NewQuizRepository(f.quizzes, time.Minute),
		app.WithResultStore(f.results),
		app.WithScheduler(f.sched),
		app.WithClock(f.clock.Now),
		app.WithMetrics(f.metrics),
	)
	t.Cleanup(func() { f.svc.Close(context.Background()) })
	return f
}

func testQuiz(id string, n int) domain.Quiz {
	quiz := domain.Quiz{ID: id, Title: "Test quiz"}
	for i := 0; i < n; i++ {
		quiz.Questions = append(quiz.Questions, domain.Question{
			ID:               fmt.Sprintf("q%d", i+1),
			Prompt:           fmt.Sprintf("Question %d", i+1),
			Type:             domain.QuestionMultipleChoice,
			TimeLimitSeconds: 30,
			Options: []domain.Option{
				{ID: "a", Text: "wrong"},
				{ID: "b", Text: "right", Correct: true},
			},
		})
	}
	return quiz
}

func answer(s string) *string { return &s }

// startedRoom creates a room with the given users (first is leader), readies them and starts it.
func (f *fixture) startedRoom(t *testing.T, mode domain.RoomMode, users ...string) domain.Room {
	t.Helper()
	ctx := context.Background()
	room, err := f.svc.CreateRoom(ctx, app.CreateRoomParams{QuizID: "quiz-1", LeaderID: users[0], LeaderName: users[0], Mode: mode})
	require.NoError(t, err)
	for _, u := range users[1:] {
		_, err := f.svc.Join(ctx, room.ID, u, u)
		require.NoError(t, err)
	}
	for _, u := range users {
		_, err := f.svc.SetReady(ctx, room.ID, u, true)
		require.NoError(t, err)
	}
	room, err = f.svc.Start(ctx, room.ID, users[0])
	require.NoError(t, err)
	require.Equal(t, domain.RoomActive, room.Status)
	return room
}

func (f *fixture) submit(t *testing.T, roomID, userID string, index int, ans *string, taken float64) domain.AnswerResult {
	t.Helper()
	res, err := f.svc.SubmitAnswer(context.Background(), roomID, userID, domain.AnswerSubmission{
		QuestionIndex:    index,
		Answer:           ans,
		TimeTakenSeconds: taken,
	})
	require.NoError(t, err)
	return res
}

// waitFor reads events until one of the given type arrives.
func waitFor(t *testing.T, ch <-chan domain.Envelope, eventType string) domain.Envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-ch:
			require.True(t, ok, "subscription closed while waiting for %s", eventType)
			if env.Type == eventType {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func participantByID(room domain.Room, userID string) domain.Participant {
	for _, p := range room.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return domain.Participant{}
}
