package domain

import (
	"strings"
	"time"
)

// RoomStatus is the lifecycle state of a room. It only moves forward.
type RoomStatus string

const (
	RoomWaiting   RoomStatus = "waiting"
	RoomActive    RoomStatus = "active"
	RoomCompleted RoomStatus = "completed"
)

// RoomMode selects how participants progress through the questions.
type RoomMode string

const (
	// ModeGroup shares content but lets every participant answer at their own pace.
	ModeGroup RoomMode = "group"
	// ModeDuel is a 1v1 challenge where both players are lock-stepped on one question.
	ModeDuel RoomMode = "duel"
)

// QuestionType describes how an answer is compared with the key.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionText           QuestionType = "text"
)

// Participant is one user's row in a room.
type Participant struct {
	RoomID           string     `json:"roomId"`
	UserID           string     `json:"userId"`
	Username         string     `json:"username"`
	Score            int        `json:"score"`
	TotalTimeSeconds float64    `json:"totalTimeSeconds"`
	Rank             int        `json:"rank,omitempty"`
	IsReady          bool       `json:"isReady"`
	Completed        bool       `json:"completed"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	Left             bool       `json:"left,omitempty"`
	QuestionIndex    int        `json:"questionIndex"`
	JoinedAt         time.Time  `json:"joinedAt"`
}

// Room is a read-only snapshot of a room's state.
type Room struct {
	ID              string        `json:"id"`
	QuizID          string        `json:"quizId"`
	LeaderID        string        `json:"leaderId"`
	Code            string        `json:"roomCode"`
	Mode            RoomMode      `json:"mode"`
	Status          RoomStatus    `json:"status"`
	MaxParticipants int           `json:"maxParticipants"`
	TotalQuestions  int           `json:"totalQuestions"`
	CreatedAt       time.Time     `json:"createdAt"`
	StartedAt       *time.Time    `json:"startedAt,omitempty"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
	Version         int64         `json:"version"`
	Participants    []Participant `json:"participants"`
}

// LeaderboardEntry is a ranked view of a participant.
type LeaderboardEntry struct {
	Rank             int     `json:"rank"`
	UserID           string  `json:"userId"`
	Username         string  `json:"username"`
	Score            int     `json:"score"`
	TotalTimeSeconds float64 `json:"totalTimeSeconds"`
	Completed        bool    `json:"completed"`
	QuestionIndex    int     `json:"questionIndex"`
}

// Leaderboard captures the ordered scoreboard for a room.
type Leaderboard struct {
	RoomID    string             `json:"roomId"`
	Final     bool               `json:"final"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// AnswerSubmission models one answer sent by a participant. A nil Answer is a timeout.
type AnswerSubmission struct {
	QuestionIndex    int
	Answer           *string
	TimeTakenSeconds float64
}

// AnswerResult summarizes the outcome of a submission for a single user.
type AnswerResult struct {
	QuestionIndex int    `json:"questionIndex"`
	IsCorrect     bool   `json:"isCorrect"`
	CorrectAnswer string `json:"correctAnswer"`
	PointsAwarded int    `json:"pointsAwarded"`
	TotalScore    int    `json:"totalScore"`
	// Duplicate is set when the submission was ignored because the index was already adjudicated.
	Duplicate bool `json:"-"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct,omitempty"`
}

// Question models one quiz question. Answer is used by text questions; choice
// questions mark the correct option instead.
type Question struct {
	ID               string       `json:"id"`
	Prompt           string       `json:"prompt"`
	Type             QuestionType `json:"type,omitempty"`
	Options          []Option     `json:"options,omitempty"`
	Answer           string       `json:"answer,omitempty"`
	Points           int          `json:"points,omitempty"`
	TimeLimitSeconds int          `json:"timeLimitSeconds,omitempty"`
}

// CorrectAnswer returns the answer key for the question.
func (q Question) CorrectAnswer() string {
	if q.Type == QuestionText {
		return q.Answer
	}
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return q.Answer
}

// Matches reports whether answer is correct for this question.
func (q Question) Matches(answer string) bool {
	key := q.CorrectAnswer()
	if key == "" {
		return false
	}
	if q.Type == QuestionText {
		return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(key))
	}
	return answer == key
}

// Public strips the answer key so the question can be sent to clients.
func (q Question) Public() Question {
	out := q
	out.Answer = ""
	out.Options = make([]Option, len(q.Options))
	for i, opt := range q.Options {
		out.Options[i] = Option{ID: opt.ID, Text: opt.Text}
	}
	return out
}

// Quiz is a collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	OwnerID   string     `json:"ownerId,omitempty"`
	Questions []Question `json:"questions"`
}

// Clone returns a deep copy so rooms can keep a snapshot that later edits cannot touch.
func (q Quiz) Clone() Quiz {
	out := q
	out.Questions = make([]Question, len(q.Questions))
	for i, question := range q.Questions {
		cp := question
		cp.Options = append([]Option(nil), question.Options...)
		out.Questions[i] = cp
	}
	return out
}

// Public returns the quiz without answer keys.
func (q Quiz) Public() Quiz {
	out := q
	out.Questions = make([]Question, len(q.Questions))
	for i, question := range q.Questions {
		out.Questions[i] = question.Public()
	}
	return out
}

// SubjectType is the kind of resource a session lock protects.
type SubjectType string

const (
	SubjectQuiz      SubjectType = "quiz"
	SubjectChallenge SubjectType = "challenge"
)

// LockKey identifies one user's session on a quiz or challenge.
type LockKey struct {
	UserID    string
	Subject   SubjectType
	SubjectID string
}

func (k LockKey) String() string {
	return string(k.Subject) + ":" + k.SubjectID + ":" + k.UserID
}

// SessionLock is the exclusivity record for a quiz or challenge session.
type SessionLock struct {
	Key             LockKey
	OwnerToken      string
	CreatedAt       time.Time
	LastHeartbeatAt time.Time
}

// Live reports whether the lock is still held at now.
func (l SessionLock) Live(now time.Time, timeout time.Duration) bool {
	return now.Sub(l.LastHeartbeatAt) < timeout
}

// RoomResult is the persisted record of a completed room.
type RoomResult struct {
	RoomID       string        `json:"roomId"`
	QuizID       string        `json:"quizId"`
	Code         string        `json:"roomCode"`
	Mode         RoomMode      `json:"mode"`
	LeaderID     string        `json:"leaderId"`
	StartedAt    time.Time     `json:"startedAt"`
	CompletedAt  time.Time     `json:"completedAt"`
	WinnerID     string        `json:"winnerId,omitempty"`
	Participants []Participant `json:"participants"`
}
