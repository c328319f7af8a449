package domain

import "time"

// Outbound event types pushed to room members.
const (
	EventRoomUpdated       = "room_updated"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventRoomStarted       = "room_started"
	EventQuestion          = "question"
	EventAnswerResult      = "answer_result"
	EventLeaderboard       = "leaderboard_update"
	EventAutoEndStarted    = "auto_end_timer_started"
	EventAutoEndCancelled  = "auto_end_timer_cancelled"
	EventRoomCompleted     = "room_completed"
	EventRoomDeleted       = "room_deleted"
)

// Envelope is one outbound message. To restricts delivery to a single user.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
	To      string `json:"-"`
}

// RoomUpdated is the full roster snapshot. Participants mirrors Room.Participants
// at the top level for clients that only render the roster.
type RoomUpdated struct {
	Participants []Participant `json:"participants"`
	Room         Room          `json:"room"`
}

func NewRoomUpdated(room Room) RoomUpdated {
	return RoomUpdated{Participants: room.Participants, Room: room}
}

// ParticipantJoined announces a roster addition.
type ParticipantJoined struct {
	Participant Participant `json:"participant"`
}

// ParticipantLeft announces a roster departure.
type ParticipantLeft struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// QuestionServed is sent when a participant (or the whole duel) moves to a question.
type QuestionServed struct {
	RoomID           string    `json:"roomId"`
	Index            int       `json:"index"`
	Total            int       `json:"total"`
	Question         Question  `json:"question"`
	TimeLimitSeconds int       `json:"timeLimitSeconds"`
	StartedAt        time.Time `json:"startedAt"`
}

// AutoEndStarted announces the grace countdown.
type AutoEndStarted struct {
	TimeRemaining int       `json:"timeRemaining"`
	EndsAt        time.Time `json:"endsAt"`
}

// RoomCompletedEvent carries the final standings. Winner is nil on an exact tie for first.
type RoomCompletedEvent struct {
	RoomID       string        `json:"roomId"`
	Participants []Participant `json:"participants"`
	Winner       *Participant  `json:"winner"`
}
