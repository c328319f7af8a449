package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomNotFound is returned when a room id or code is unknown.
	ErrRoomNotFound = errors.New("room not found")
	// ErrParticipantNotFound is returned when a user acts in a room before joining.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuizEmpty is returned when a room is created for a quiz without questions.
	ErrQuizEmpty = errors.New("quiz has no questions")
	// ErrQuizLocked is returned when a quiz edit races an active session or room.
	ErrQuizLocked = errors.New("quiz is in use by an active session")
	// ErrRoomFull is returned when the roster is at maxParticipants.
	ErrRoomFull = errors.New("room is full")
	// ErrRoomClosed is returned for operations on a room whose worker has stopped.
	ErrRoomClosed = errors.New("room is closed")
	// ErrInvalidQuestionIndex indicates a submission for a question that is not being served.
	ErrInvalidQuestionIndex = errors.New("invalid question index")
	// ErrInvalidVersion indicates a negative or missing expected version.
	ErrInvalidVersion = errors.New("invalid version")
	// ErrSessionNotFound is returned when a session token does not own the lock.
	ErrSessionNotFound = errors.New("session not found")
	// ErrForbidden is returned when the caller acts on behalf of another user.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidArgument wraps malformed requests such as out-of-range settings.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidTransition is the root of every state machine rejection.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotLeader is returned when a non-leader tries a leader-only operation.
	ErrNotLeader = fmt.Errorf("%w: only the leader can do this", ErrInvalidTransition)
	// ErrNotAllReady is returned when start is called before every participant is ready.
	ErrNotAllReady = fmt.Errorf("%w: not every participant is ready", ErrInvalidTransition)
	// ErrNotEnoughPlayers is returned when start is called with fewer than two participants.
	ErrNotEnoughPlayers = fmt.Errorf("%w: at least two participants are required", ErrInvalidTransition)

	// ErrConflict is the root of version mismatches.
	ErrConflict = errors.New("version conflict")
	// ErrSessionDenied is returned when a session lock is held elsewhere.
	ErrSessionDenied = errors.New("session already active elsewhere")
)

// ConflictError carries both sides of a version mismatch so callers can refetch and retry.
type ConflictError struct {
	Resource string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: expected version %d, actual %d", e.Resource, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// CheckVersion returns a ConflictError when expected does not match actual.
func CheckVersion(resource string, expected, actual int64) error {
	if expected < 0 {
		return ErrInvalidVersion
	}
	if expected != actual {
		return &ConflictError{Resource: resource, Expected: expected, Actual: actual}
	}
	return nil
}

// TransitionError describes a rejected room operation.
type TransitionError struct {
	Op     string
	From   RoomStatus
	Reason error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s not allowed in %s room: %v", e.Op, e.From, e.Reason)
}

func (e *TransitionError) Unwrap() error { return e.Reason }

// InvalidState builds the error returned when op is attempted from the wrong status.
func InvalidState(op string, from RoomStatus) error {
	return &TransitionError{Op: op, From: from, Reason: ErrInvalidTransition}
}

// SessionDeniedError names the subject whose lock is held by another session.
type SessionDeniedError struct {
	Key LockKey
}

func (e *SessionDeniedError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Key.Subject, e.Key.SubjectID, ErrSessionDenied)
}

func (e *SessionDeniedError) Unwrap() error { return ErrSessionDenied }
