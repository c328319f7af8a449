package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"quiz-coordinator/internal/domain"
	"quiz-coordinator/internal/logger"
	"quiz-coordinator/internal/metrics"
)

const (
	codeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength      = 6
	codeAttempts    = 10
	persistTimeout  = 10 * time.Second
	duelSize        = 2
	minParticipants = 2
)

// RoomPolicy holds the room lifecycle constants.
type RoomPolicy struct {
	DefaultMaxParticipants int
	MaxParticipantsLimit   int
	// AutoEndGrace is how long stragglers get after the first participant finishes.
	AutoEndGrace time.Duration
	// DuelRoundGrace is added to a duel question's limit before missing answers time out.
	DuelRoundGrace     time.Duration
	IdleTimeout        time.Duration
	CompletedRetention time.Duration
	Scoring            ScoringPolicy
}

func DefaultRoomPolicy() RoomPolicy {
	return RoomPolicy{
		DefaultMaxParticipants: 8,
		MaxParticipantsLimit:   50,
		AutoEndGrace:           20 * time.Second,
		DuelRoundGrace:         2 * time.Second,
		IdleTimeout:            30 * time.Minute,
		CompletedRetention:     time.Hour,
		Scoring:                DefaultScoringPolicy(),
	}
}

func (p RoomPolicy) validateMax(mode domain.RoomMode, n int) error {
	if mode == domain.ModeDuel {
		if n != duelSize {
			return fmt.Errorf("%w: duel rooms hold exactly %d participants", domain.ErrInvalidArgument, duelSize)
		}
		return nil
	}
	if n < minParticipants || n > p.MaxParticipantsLimit {
		return fmt.Errorf("%w: maxParticipants must be between %d and %d", domain.ErrInvalidArgument, minParticipants, p.MaxParticipantsLimit)
	}
	return nil
}

// CreateRoomParams describes a new room. The leader joins it immediately.
type CreateRoomParams struct {
	QuizID          string
	LeaderID        string
	LeaderName      string
	Mode            domain.RoomMode
	MaxParticipants int
}

// RoomService owns the live rooms and routes operations to their workers.
type RoomService struct {
	rooms     RoomRepository
	quizzes   QuizRepository
	results   ResultStore
	publisher ResultPublisher
	sched     Scheduler
	now       func() time.Time
	newID     func() string
	policy    RoomPolicy
	log       logrus.FieldLogger
	metrics   *metrics.Metrics

	persisting sync.WaitGroup
}

type RoomOption func(*RoomService)

func WithResultStore(store ResultStore) RoomOption {
	return func(s *RoomService) { s.results = store }
}

func WithPublisher(p ResultPublisher) RoomOption {
	return func(s *RoomService) { s.publisher = p }
}

func WithScheduler(sched Scheduler) RoomOption {
	return func(s *RoomService) { s.sched = sched }
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) RoomOption {
	return func(s *RoomService) { s.now = now }
}

func WithRoomPolicy(p RoomPolicy) RoomOption {
	return func(s *RoomService) { s.policy = p }
}

func WithLogger(log logrus.FieldLogger) RoomOption {
	return func(s *RoomService) { s.log = log }
}

func WithMetrics(m *metrics.Metrics) RoomOption {
	return func(s *RoomService) { s.metrics = m }
}

func NewRoomService(rooms RoomRepository, quizzes QuizRepository, opts ...RoomOption) *RoomService {
	s := &RoomService{
		rooms:     rooms,
		quizzes:   quizzes,
		publisher: NopPublisher(),
		sched:     RealScheduler(),
		now:       time.Now,
		newID:     uuid.NewString,
		policy:    DefaultRoomPolicy(),
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(prometheus.NewRegistry())
	}
	return s
}

// CreateRoom snapshots the quiz, reserves a unique join code and starts the room worker.
func (s *RoomService) CreateRoom(ctx context.Context, params CreateRoomParams) (domain.Room, error) {
	if params.LeaderID == "" {
		return domain.Room{}, fmt.Errorf("%w: leader is required", domain.ErrInvalidArgument)
	}
	mode := params.Mode
	if mode == "" {
		mode = domain.ModeGroup
	}
	if mode != domain.ModeGroup && mode != domain.ModeDuel {
		return domain.Room{}, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidArgument, mode)
	}
	maxParticipants := params.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = s.policy.DefaultMaxParticipants
		if mode == domain.ModeDuel {
			maxParticipants = duelSize
		}
	}
	if err := s.policy.validateMax(mode, maxParticipants); err != nil {
		return domain.Room{}, err
	}

	quiz, err := s.quizzes.GetQuiz(ctx, params.QuizID)
	if err != nil {
		return domain.Room{}, err
	}
	if len(quiz.Questions) == 0 {
		return domain.Room{}, domain.ErrQuizEmpty
	}

	id := s.newID()
	code, err := s.reserveCode(ctx, id)
	if err != nil {
		return domain.Room{}, err
	}

	state := &roomState{
		id:              id,
		code:            code,
		quiz:            quiz.Clone(),
		mode:            mode,
		leaderID:        params.LeaderID,
		status:          domain.RoomWaiting,
		maxParticipants: maxParticipants,
		createdAt:       s.now(),
		participants:    make(map[string]*participant),
		answers:         make(map[answerKey]domain.AnswerResult),
		policy:          s.policy,
		now:             s.now,
		sched:           s.sched,
		metrics:         s.metrics,
	}
	state.addParticipant(params.LeaderID, params.LeaderName)
	snapshot := state.snapshot()

	room := newRoom(state, s.persist, s.log)
	if err := s.rooms.Add(ctx, room); err != nil {
		s.rooms.ReleaseCode(ctx, code, id)
		return domain.Room{}, err
	}
	room.run()
	s.metrics.RoomsActive.Inc()
	s.metrics.RoomTransitions.WithLabelValues(string(domain.RoomWaiting)).Inc()
	s.log.WithFields(logrus.Fields{"room_id": id, "room_code": code, "quiz_id": quiz.ID, "mode": mode}).Info("room created")
	return snapshot, nil
}

func (s *RoomService) reserveCode(ctx context.Context, roomID string) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		ok, err := s.rooms.ReserveCode(ctx, code, roomID)
		if err != nil {
			return "", err
		}
		if ok {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a unique room code")
}

func generateCode() (string, error) {
	out := make([]byte, codeLength)
	size := big.NewInt(int64(len(codeAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		out[i] = codeAlphabet[n.Int64()]
	}
	return string(out), nil
}

func (s *RoomService) lookup(roomID string) (*Room, error) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// Room returns a snapshot of the room.
func (s *RoomService) Room(ctx context.Context, roomID string) (domain.Room, error) {
	room, err := s.lookup(roomID)
	if err != nil {
		return domain.Room{}, err
	}
	return call(ctx, room, func(st *roomState) (domain.Room, error) {
		return st.snapshot(), nil
	})
}

// RoomByCode resolves a join code to a room snapshot.
func (s *RoomService) RoomByCode(ctx context.Context, code string) (domain.Room, error) {
	room, ok := s.rooms.GetByCode(ctx, code)
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return s.Room(ctx, room.ID())
}

// Join adds the user to a waiting room. Joining again returns the existing row.
func (s *RoomService) Join(ctx context.Context, roomID, userID, username string) (domain.Participant, error) {
	room, err := s.lookup(roomID)
	if err != nil {
		return domain.Participant{}, err
	}
	return call(ctx, room, func(st *roomState) (domain.Participant, error) {
		return st.join(userID, username)
	})
}

func (s *RoomService) SetReady(ctx context.Context, roomID, userID string, ready bool) (domain.Room, error) {
	room, err := s.lookup(roomID)
	if err != nil {
		return domain.Room{}, err
	}
	return call(ctx, room, func(st *roomState) (domain.Room, error) {
		return st.setReady(userID, ready)
	})
}

// Start moves the room to active. Only the leader may start, and only when everyone is ready.
func (s *RoomService) Start(ctx context.Context, roomID, requesterID string) (domain.Room, error) {
	room, err := s.lookup(roomID)
	if err != nil {
		return domain.Room{}, err
	}
	snapshot, err := call(ctx, room, func(st *roomState) (domain.Room, error) {
		return st.start(requesterID)
	})
	if err == nil {
		s.log.WithFields(logrus.Fields{"room_id": roomID, "participants": len(snapshot.Participants)}).Info("room started")
	}
	return snapshot, err
}

// Leave removes the user. Leaving an active room forfeits the remaining questions.
func (s *RoomService) Leave(ctx context.Context, roomID, userID string) error {
	room, err := s.lookup(roomID)
	if err != nil {
		return err
	}
	empty, err := call(ctx, room, func(st *roomState) (bool, error) {
		return st.leave(userID)
	})
	if err != nil {
		return err
	}
	if empty {
		s.discard(ctx, room)
	}
	return nil
}

// Disconnect is called when a user's last connection to a room closes.
// Waiting rooms treat it as a leave; active rooms keep the participant so they can reconnect.
func (s *RoomService) Disconnect(ctx context.Context, roomID, userID string) error {
	room, err := s.lookup(roomID)
	if err != nil {
		return err
	}
	empty, err := call(ctx, room, func(st *roomState) (bool, error) {
		if st.status != domain.RoomWaiting || room.hub.connections(userID) > 0 {
			return false, nil
		}
		if _, ok := st.participants[userID]; !ok {
			return false, nil
		}
		return st.leave(userID)
	})
	if err != nil {
		return err
	}
	if empty {
		s.discard(ctx, room)
	}
	return nil
}

// SubmitAnswer adjudicates one answer. Duplicate resubmissions come back with Duplicate set.
func (s *RoomService) SubmitAnswer(ctx context.Context, roomID, userID string, sub domain.AnswerSubmission) (domain.AnswerResult, error) {
	room, err := s.lookup(roomID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	return call(ctx, room, func(st *roomState) (domain.AnswerResult, error) {
		return st.submit(userID, sub)
	})
}

func (s *RoomService) Leaderboard(ctx context.Context, roomID string) (domain.Leaderboard, error) {
	room, err := s.lookup(roomID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return call(ctx, room, func(st *roomState) (domain.Leaderboard, error) {
		return st.leaderboard(), nil
	})
}

// UpdateSettings changes maxParticipants on a waiting room if expectedVersion is current.
func (s *RoomService) UpdateSettings(ctx context.Context, roomID, requesterID string, expectedVersion int64, maxParticipants int) (domain.Room, error) {
	room, err := s.lookup(roomID)
	if err != nil {
		return domain.Room{}, err
	}
	snapshot, err := call(ctx, room, func(st *roomState) (domain.Room, error) {
		return st.updateSettings(requesterID, expectedVersion, maxParticipants)
	})
	if errors.Is(err, domain.ErrConflict) {
		s.metrics.VersionConflicts.WithLabelValues("room").Inc()
	}
	return snapshot, err
}

// Delete closes a waiting room on behalf of its leader.
func (s *RoomService) Delete(ctx context.Context, roomID, requesterID string, expectedVersion int64) error {
	room, err := s.lookup(roomID)
	if err != nil {
		return err
	}
	_, err = call(ctx, room, func(st *roomState) (struct{}, error) {
		return struct{}{}, st.remove(requesterID, expectedVersion)
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.metrics.VersionConflicts.WithLabelValues("room").Inc()
		}
		return err
	}
	s.discard(ctx, room)
	s.log.WithField("room_id", roomID).Info("room deleted by leader")
	return nil
}

type subscription struct {
	ch     <-chan domain.Envelope
	cancel func()
}

// Subscribe streams room events to one connection of a participant, starting
// with a snapshot. The caller must invoke cancel to avoid leaks.
func (s *RoomService) Subscribe(ctx context.Context, roomID, userID string) (<-chan domain.Envelope, func(), error) {
	room, err := s.lookup(roomID)
	if err != nil {
		return nil, nil, err
	}
	sub, err := call(ctx, room, func(st *roomState) (subscription, error) {
		if _, ok := st.participants[userID]; !ok {
			return subscription{}, domain.ErrParticipantNotFound
		}
		ch, cancel := room.hub.subscribe(userID, st.catchUp(userID)...)
		return subscription{ch: ch, cancel: cancel}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return sub.ch, sub.cancel, nil
}

// QuizInUse reports whether a waiting or active room was created from the quiz.
func (s *RoomService) QuizInUse(quizID string) bool {
	for _, room := range s.rooms.List() {
		if room.QuizID() == quizID && room.Status() != domain.RoomCompleted {
			return true
		}
	}
	return false
}

// Result returns the persisted record of a completed room.
func (s *RoomService) Result(ctx context.Context, roomID string) (domain.RoomResult, error) {
	if s.results == nil {
		return domain.RoomResult{}, domain.ErrRoomNotFound
	}
	return s.results.GetResult(ctx, roomID)
}

func (s *RoomService) persist(result domain.RoomResult) {
	s.log.WithFields(logrus.Fields{"room_id": result.RoomID, "winner_id": result.WinnerID}).Info("room completed")
	s.persisting.Add(1)
	go func() {
		defer s.persisting.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if s.results != nil {
			if err := s.results.SaveResult(ctx, result); err != nil {
				s.log.WithError(err).WithField("room_id", result.RoomID).Error("failed to persist room result")
			}
		}
		if err := s.publisher.PublishRoomCompleted(ctx, result); err != nil {
			s.log.WithError(err).WithField("room_id", result.RoomID).Warn("failed to publish room result")
		}
	}()
}

func (s *RoomService) discard(ctx context.Context, room *Room) {
	s.rooms.Remove(ctx, room.ID())
	room.stop()
	s.metrics.RoomsActive.Dec()
}

type sweepAction int

const (
	sweepKeep sweepAction = iota
	sweepCompleted
	sweepEvicted
)

// sweepable reports whether a room in status, idle for idle, is due for the janitor.
func (p RoomPolicy) sweepable(status domain.RoomStatus, idle time.Duration) bool {
	switch status {
	case domain.RoomWaiting, domain.RoomActive:
		return idle >= p.IdleTimeout
	case domain.RoomCompleted:
		return idle >= p.CompletedRetention
	}
	return false
}

// Sweep evicts waiting rooms that went idle and completed rooms past retention.
// Active rooms idle past IdleTimeout are force-completed and evicted once
// their retention runs out. It returns the number of rooms evicted.
func (s *RoomService) Sweep(ctx context.Context) int {
	now := s.now()
	evicted := 0
	for _, room := range s.rooms.List() {
		if !s.policy.sweepable(room.Status(), now.Sub(room.LastActivity())) {
			continue
		}
		// LastActivity is read again on the worker, before this call's own flush touches it.
		action, err := call(ctx, room, func(st *roomState) (sweepAction, error) {
			return st.sweep(st.now().Sub(room.LastActivity())), nil
		})
		if err != nil {
			continue
		}
		switch action {
		case sweepCompleted:
			s.log.WithField("room_id", room.ID()).Warn("janitor completed abandoned room")
		case sweepEvicted:
			s.discard(ctx, room)
			evicted++
		}
	}
	return evicted
}

// RunJanitor sweeps on every tick until ctx is done.
func (s *RoomService) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				s.log.WithField("evicted", n).Info("janitor evicted rooms")
			}
		}
	}
}

// Close stops every room and waits for pending result writes.
func (s *RoomService) Close(ctx context.Context) {
	for _, room := range s.rooms.List() {
		s.discard(ctx, room)
	}
	s.persisting.Wait()
}

// WaitPersisted blocks until in-flight result writes finish.
func (s *RoomService) WaitPersisted() {
	s.persisting.Wait()
}
