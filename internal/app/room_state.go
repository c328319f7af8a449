package app

import (
	"time"

	"quiz-coordinator/internal/domain"
	"quiz-coordinator/internal/metrics"
)

type answerKey struct {
	userID string
	index  int
}

type participant struct {
	domain.Participant
	servedAt time.Time
}

// roomState is owned by exactly one room worker goroutine; nothing here locks.
// Every operation validates before it mutates so a rejected call leaves no trace.
type roomState struct {
	id              string
	code            string
	quiz            domain.Quiz
	mode            domain.RoomMode
	leaderID        string
	status          domain.RoomStatus
	maxParticipants int
	createdAt       time.Time
	startedAt       *time.Time
	completedAt     *time.Time
	version         int64

	participants map[string]*participant
	order        []string
	answers      map[answerKey]domain.AnswerResult

	// duel only
	cursor     int
	roundTimer Timer

	autoEnd   Timer
	autoEndAt time.Time

	policy  RoomPolicy
	now     func() time.Time
	sched   Scheduler
	post    func(func(*roomState))
	metrics *metrics.Metrics

	outbox []domain.Envelope
	result *domain.RoomResult
	closed bool
}

func (s *roomState) total() int { return len(s.quiz.Questions) }

func (s *roomState) bump() { s.version++ }

func (s *roomState) broadcast(eventType string, payload any) {
	s.outbox = append(s.outbox, domain.Envelope{Type: eventType, Payload: payload})
}

func (s *roomState) sendTo(userID, eventType string, payload any) {
	s.outbox = append(s.outbox, domain.Envelope{Type: eventType, Payload: payload, To: userID})
}

func (s *roomState) drain() []domain.Envelope {
	out := s.outbox
	s.outbox = nil
	return out
}

func (s *roomState) participantList() []domain.Participant {
	out := make([]domain.Participant, 0, len(s.order))
	for _, id := range s.order {
		if p, ok := s.participants[id]; ok {
			out = append(out, p.Participant)
		}
	}
	return out
}

func (s *roomState) snapshot() domain.Room {
	return domain.Room{
		ID:              s.id,
		QuizID:          s.quiz.ID,
		LeaderID:        s.leaderID,
		Code:            s.code,
		Mode:            s.mode,
		Status:          s.status,
		MaxParticipants: s.maxParticipants,
		TotalQuestions:  s.total(),
		CreatedAt:       s.createdAt,
		StartedAt:       copyTime(s.startedAt),
		CompletedAt:     copyTime(s.completedAt),
		Version:         s.version,
		Participants:    s.participantList(),
	}
}

func (s *roomState) leaderboard() domain.Leaderboard {
	return buildLeaderboard(s.id, s.participantList(), s.status == domain.RoomCompleted, s.now())
}

func (s *roomState) emitRoster() {
	s.broadcast(domain.EventRoomUpdated, domain.NewRoomUpdated(s.snapshot()))
}

func (s *roomState) emitLeaderboard() {
	s.broadcast(domain.EventLeaderboard, s.leaderboard())
}

func (s *roomState) transition(to domain.RoomStatus) {
	s.status = to
	s.metrics.RoomTransitions.WithLabelValues(string(to)).Inc()
}

func (s *roomState) addParticipant(userID, username string) *participant {
	p := &participant{Participant: domain.Participant{
		RoomID:   s.id,
		UserID:   userID,
		Username: username,
		JoinedAt: s.now(),
	}}
	s.participants[userID] = p
	s.order = append(s.order, userID)
	return p
}

func (s *roomState) removeParticipant(userID string) {
	delete(s.participants, userID)
	for i, id := range s.order {
		if id == userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// join adds a user to a waiting room. Rejoining is idempotent in any status.
func (s *roomState) join(userID, username string) (domain.Participant, error) {
	if p, ok := s.participants[userID]; ok {
		return p.Participant, nil
	}
	if s.status != domain.RoomWaiting {
		return domain.Participant{}, domain.InvalidState("join", s.status)
	}
	if len(s.participants) >= s.maxParticipants {
		return domain.Participant{}, &domain.TransitionError{Op: "join", From: s.status, Reason: domain.ErrRoomFull}
	}
	p := s.addParticipant(userID, username)
	s.bump()
	s.broadcast(domain.EventParticipantJoined, domain.ParticipantJoined{Participant: p.Participant})
	s.emitRoster()
	s.emitLeaderboard()
	return p.Participant, nil
}

func (s *roomState) setReady(userID string, ready bool) (domain.Room, error) {
	if s.status != domain.RoomWaiting {
		return domain.Room{}, domain.InvalidState("set_ready", s.status)
	}
	p, ok := s.participants[userID]
	if !ok {
		return domain.Room{}, domain.ErrParticipantNotFound
	}
	if p.IsReady != ready {
		p.IsReady = ready
		s.bump()
		s.emitRoster()
	}
	return s.snapshot(), nil
}

func (s *roomState) start(requesterID string) (domain.Room, error) {
	if s.status != domain.RoomWaiting {
		return domain.Room{}, domain.InvalidState("start", s.status)
	}
	if requesterID != s.leaderID {
		return domain.Room{}, &domain.TransitionError{Op: "start", From: s.status, Reason: domain.ErrNotLeader}
	}
	if len(s.participants) < 2 {
		return domain.Room{}, &domain.TransitionError{Op: "start", From: s.status, Reason: domain.ErrNotEnoughPlayers}
	}
	for _, p := range s.participants {
		if !p.IsReady {
			return domain.Room{}, &domain.TransitionError{Op: "start", From: s.status, Reason: domain.ErrNotAllReady}
		}
	}

	now := s.now()
	s.startedAt = &now
	s.transition(domain.RoomActive)
	s.bump()
	for _, p := range s.participants {
		p.QuestionIndex = 0
		p.servedAt = now
	}
	room := s.snapshot()
	s.broadcast(domain.EventRoomStarted, domain.NewRoomUpdated(room))
	if s.mode == domain.ModeDuel {
		s.startRound()
	} else {
		s.broadcast(domain.EventQuestion, s.question(0, now))
	}
	s.emitLeaderboard()
	return room, nil
}

func (s *roomState) question(index int, startedAt time.Time) domain.QuestionServed {
	q := s.quiz.Questions[index]
	return domain.QuestionServed{
		RoomID:           s.id,
		Index:            index,
		Total:            s.total(),
		Question:         q.Public(),
		TimeLimitSeconds: int(s.policy.Scoring.TimeLimit(q)),
		StartedAt:        startedAt,
	}
}

// leave reports whether the room is now empty and should be discarded. An empty
// room is closed before the worker replies.
func (s *roomState) leave(userID string) (bool, error) {
	p, ok := s.participants[userID]
	if !ok {
		return false, domain.ErrParticipantNotFound
	}
	left := domain.ParticipantLeft{UserID: p.UserID, Username: p.Username}

	switch s.status {
	case domain.RoomWaiting:
		s.removeParticipant(userID)
		if len(s.participants) == 0 {
			// A join queued behind this leave must not revive the room.
			s.closed = true
			s.bump()
			return true, nil
		}
		if userID == s.leaderID {
			s.leaderID = s.order[0]
		}
		s.bump()
		s.broadcast(domain.EventParticipantLeft, left)
		s.emitRoster()
		s.emitLeaderboard()
		return false, nil
	case domain.RoomActive:
		if p.Left {
			return false, nil
		}
		p.Left = true
		if !p.Completed {
			s.forfeit(p)
		}
		if userID == s.leaderID {
			s.handOffLeader()
		}
		s.bump()
		s.broadcast(domain.EventParticipantLeft, left)
		s.emitRoster()
		if s.mode == domain.ModeDuel {
			s.maybeAdvanceRound()
		}
		s.emitLeaderboard()
		s.checkCompletion()
		return false, nil
	default:
		return false, nil
	}
}

func (s *roomState) handOffLeader() {
	for _, id := range s.order {
		if p := s.participants[id]; p != nil && !p.Left {
			s.leaderID = id
			return
		}
	}
}

// forfeit charges every unanswered question as a timeout and marks p finished.
func (s *roomState) forfeit(p *participant) {
	for i := 0; i < s.total(); i++ {
		key := answerKey{userID: p.UserID, index: i}
		if _, done := s.answers[key]; done {
			continue
		}
		q := s.quiz.Questions[i]
		p.TotalTimeSeconds += s.policy.Scoring.TimeLimit(q)
		s.answers[key] = domain.AnswerResult{QuestionIndex: i, CorrectAnswer: q.CorrectAnswer(), TotalScore: p.Score}
	}
	p.QuestionIndex = s.total()
	s.markCompleted(p)
}

func (s *roomState) markCompleted(p *participant) {
	if p.Completed {
		return
	}
	now := s.now()
	p.Completed = true
	p.CompletedAt = &now
}

// submit adjudicates one answer. A resubmission for an adjudicated index is
// reported as Duplicate and changes nothing.
func (s *roomState) submit(userID string, sub domain.AnswerSubmission) (domain.AnswerResult, error) {
	switch s.status {
	case domain.RoomCompleted:
		s.metrics.Answers.WithLabelValues("duplicate").Inc()
		return domain.AnswerResult{QuestionIndex: sub.QuestionIndex, Duplicate: true}, nil
	case domain.RoomWaiting:
		return domain.AnswerResult{}, domain.InvalidState("submit_answer", s.status)
	}
	p, ok := s.participants[userID]
	if !ok {
		return domain.AnswerResult{}, domain.ErrParticipantNotFound
	}
	if prev, done := s.answers[answerKey{userID: userID, index: sub.QuestionIndex}]; done {
		s.metrics.Answers.WithLabelValues("duplicate").Inc()
		prev.Duplicate = true
		return prev, nil
	}
	if p.Completed || p.Left {
		s.metrics.Answers.WithLabelValues("duplicate").Inc()
		return domain.AnswerResult{QuestionIndex: sub.QuestionIndex, Duplicate: true}, nil
	}
	if sub.QuestionIndex < 0 || sub.QuestionIndex >= s.total() {
		return domain.AnswerResult{}, domain.ErrInvalidQuestionIndex
	}
	current := p.QuestionIndex
	if s.mode == domain.ModeDuel {
		current = s.cursor
	}
	if sub.QuestionIndex != current {
		return domain.AnswerResult{}, domain.ErrInvalidQuestionIndex
	}

	res := s.adjudicate(p, sub.QuestionIndex, sub.Answer, sub.TimeTakenSeconds)
	s.bump()
	s.sendTo(userID, domain.EventAnswerResult, res)

	if s.mode == domain.ModeDuel {
		s.maybeAdvanceRound()
	} else {
		s.advance(p)
	}
	s.emitLeaderboard()
	s.checkCompletion()
	return res, nil
}

func (s *roomState) adjudicate(p *participant, index int, answer *string, taken float64) domain.AnswerResult {
	q := s.quiz.Questions[index]
	t := s.policy.Scoring.ClampTime(q, taken)
	if answer == nil {
		t = s.policy.Scoring.TimeLimit(q)
	}
	correct, points := s.policy.Scoring.Adjudicate(q, answer, t)
	p.Score += points
	p.TotalTimeSeconds += t

	outcome := "incorrect"
	switch {
	case answer == nil:
		outcome = "timeout"
	case correct:
		outcome = "correct"
	}
	s.metrics.Answers.WithLabelValues(outcome).Inc()

	res := domain.AnswerResult{
		QuestionIndex: index,
		IsCorrect:     correct,
		CorrectAnswer: q.CorrectAnswer(),
		PointsAwarded: points,
		TotalScore:    p.Score,
	}
	s.answers[answerKey{userID: p.UserID, index: index}] = res
	return res
}

// advance moves a group-mode participant to their next question or finishes them.
func (s *roomState) advance(p *participant) {
	p.QuestionIndex++
	if p.QuestionIndex >= s.total() {
		s.markCompleted(p)
		return
	}
	p.servedAt = s.now()
	s.sendTo(p.UserID, domain.EventQuestion, s.question(p.QuestionIndex, p.servedAt))
}

func (s *roomState) startRound() {
	now := s.now()
	for _, p := range s.participants {
		if !p.Completed {
			p.QuestionIndex = s.cursor
			p.servedAt = now
		}
	}
	s.broadcast(domain.EventQuestion, s.question(s.cursor, now))
	limit := time.Duration(s.policy.Scoring.TimeLimit(s.quiz.Questions[s.cursor]) * float64(time.Second))
	index := s.cursor
	s.roundTimer = s.sched.AfterFunc(limit+s.policy.DuelRoundGrace, func() {
		s.post(func(st *roomState) { st.expireRound(index) })
	})
}

func (s *roomState) stopRoundTimer() {
	if s.roundTimer != nil {
		s.roundTimer.Stop()
		s.roundTimer = nil
	}
}

// expireRound adjudicates missing duel answers as timeouts.
func (s *roomState) expireRound(index int) {
	if s.status != domain.RoomActive || s.cursor != index {
		return
	}
	s.roundTimer = nil
	for _, id := range s.order {
		p := s.participants[id]
		if p == nil || p.Completed {
			continue
		}
		if _, done := s.answers[answerKey{userID: id, index: index}]; done {
			continue
		}
		res := s.adjudicate(p, index, nil, 0)
		s.sendTo(id, domain.EventAnswerResult, res)
	}
	s.bump()
	s.maybeAdvanceRound()
	s.emitLeaderboard()
	s.checkCompletion()
}

// maybeAdvanceRound moves the duel forward once every active player has answered the current question.
func (s *roomState) maybeAdvanceRound() {
	if s.status != domain.RoomActive {
		return
	}
	for _, p := range s.participants {
		if p.Completed {
			continue
		}
		if _, done := s.answers[answerKey{userID: p.UserID, index: s.cursor}]; !done {
			return
		}
	}
	s.stopRoundTimer()
	s.cursor++
	if s.cursor >= s.total() {
		for _, p := range s.participants {
			p.QuestionIndex = s.total()
			s.markCompleted(p)
		}
		return
	}
	if s.activeCount() > 0 {
		s.startRound()
	}
}

func (s *roomState) activeCount() int {
	n := 0
	for _, p := range s.participants {
		if !p.Completed {
			n++
		}
	}
	return n
}

// checkCompletion ends the room once everyone is done, or arms the auto-end
// timer when the first participant who is still present finishes.
func (s *roomState) checkCompletion() {
	if s.status != domain.RoomActive {
		return
	}
	finished, done := 0, 0
	for _, p := range s.participants {
		if p.Completed {
			done++
			if !p.Left {
				finished++
			}
		}
	}
	if done == len(s.participants) {
		if s.autoEnd != nil {
			s.broadcast(domain.EventAutoEndCancelled, struct{}{})
		}
		s.complete()
		return
	}
	if finished > 0 && s.autoEnd == nil {
		s.armAutoEnd()
	}
}

func (s *roomState) armAutoEnd() {
	grace := s.policy.AutoEndGrace
	s.autoEndAt = s.now().Add(grace)
	s.autoEnd = s.sched.AfterFunc(grace, func() {
		s.post(func(st *roomState) { st.forceComplete() })
	})
	s.broadcast(domain.EventAutoEndStarted, domain.AutoEndStarted{
		TimeRemaining: int(grace.Seconds()),
		EndsAt:        s.autoEndAt,
	})
}

// forceComplete ends an active room, scoring every unanswered question as a timeout.
func (s *roomState) forceComplete() {
	if s.status != domain.RoomActive {
		return
	}
	for _, id := range s.order {
		if p := s.participants[id]; p != nil && !p.Completed {
			s.forfeit(p)
		}
	}
	s.complete()
}

func (s *roomState) stopTimers() {
	s.stopRoundTimer()
	if s.autoEnd != nil {
		s.autoEnd.Stop()
		s.autoEnd = nil
	}
}

func (s *roomState) complete() {
	s.stopTimers()
	now := s.now()
	s.completedAt = &now
	s.transition(domain.RoomCompleted)

	ranked := rankParticipants(s.participantList())
	for _, r := range ranked {
		s.participants[r.UserID].Rank = r.Rank
	}
	winner := winnerOf(ranked)
	s.bump()

	result := domain.RoomResult{
		RoomID:       s.id,
		QuizID:       s.quiz.ID,
		Code:         s.code,
		Mode:         s.mode,
		LeaderID:     s.leaderID,
		CompletedAt:  now,
		Participants: ranked,
	}
	if s.startedAt != nil {
		result.StartedAt = *s.startedAt
	}
	if winner != nil {
		result.WinnerID = winner.UserID
	}
	s.result = &result

	s.broadcast(domain.EventRoomCompleted, domain.RoomCompletedEvent{RoomID: s.id, Participants: ranked, Winner: winner})
	s.emitLeaderboard()
}

func (s *roomState) updateSettings(requesterID string, expected int64, maxParticipants int) (domain.Room, error) {
	if s.status != domain.RoomWaiting {
		return domain.Room{}, domain.InvalidState("update_settings", s.status)
	}
	if requesterID != s.leaderID {
		return domain.Room{}, &domain.TransitionError{Op: "update_settings", From: s.status, Reason: domain.ErrNotLeader}
	}
	if err := domain.CheckVersion("room:"+s.id, expected, s.version); err != nil {
		return domain.Room{}, err
	}
	if err := s.policy.validateMax(s.mode, maxParticipants); err != nil {
		return domain.Room{}, err
	}
	if maxParticipants < len(s.participants) {
		return domain.Room{}, domain.ErrInvalidArgument
	}
	s.maxParticipants = maxParticipants
	s.bump()
	s.emitRoster()
	return s.snapshot(), nil
}

func (s *roomState) remove(requesterID string, expected int64) error {
	if s.status != domain.RoomWaiting {
		return domain.InvalidState("delete", s.status)
	}
	if requesterID != s.leaderID {
		return &domain.TransitionError{Op: "delete", From: s.status, Reason: domain.ErrNotLeader}
	}
	if err := domain.CheckVersion("room:"+s.id, expected, s.version); err != nil {
		return err
	}
	s.closed = true
	s.bump()
	s.broadcast(domain.EventRoomDeleted, domain.NewRoomUpdated(s.snapshot()))
	return nil
}

// sweep re-checks the janitor's verdict against the worker's own status.
// Abandoned active rooms are force-completed; anything else due is closed.
func (s *roomState) sweep(idle time.Duration) sweepAction {
	if !s.policy.sweepable(s.status, idle) {
		return sweepKeep
	}
	switch s.status {
	case domain.RoomActive:
		s.forceComplete()
		return sweepCompleted
	case domain.RoomWaiting:
		s.bump()
		s.broadcast(domain.EventRoomDeleted, domain.NewRoomUpdated(s.snapshot()))
	}
	s.closed = true
	return sweepEvicted
}

// catchUp is what a newly subscribed connection needs to render the room.
func (s *roomState) catchUp(userID string) []domain.Envelope {
	out := []domain.Envelope{
		{Type: domain.EventRoomUpdated, Payload: domain.NewRoomUpdated(s.snapshot())},
		{Type: domain.EventLeaderboard, Payload: s.leaderboard()},
	}
	if s.status != domain.RoomActive {
		return out
	}
	if p, ok := s.participants[userID]; ok && !p.Completed && p.QuestionIndex < s.total() {
		out = append(out, domain.Envelope{Type: domain.EventQuestion, Payload: s.question(p.QuestionIndex, p.servedAt), To: userID})
	}
	if s.autoEnd != nil {
		remaining := int(s.autoEndAt.Sub(s.now()).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, domain.Envelope{Type: domain.EventAutoEndStarted, Payload: domain.AutoEndStarted{TimeRemaining: remaining, EndsAt: s.autoEndAt}})
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
