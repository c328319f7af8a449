package app

import (
	"context"
	"time"

	"quiz-coordinator/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizCache is a QuizRepository that can drop a cached entry after an edit.
type QuizCache interface {
	QuizRepository
	Invalidate(ctx context.Context, quizID string) error
}

// QuizWriter persists edited quiz content.
type QuizWriter interface {
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
}

// RoomRepository tracks live rooms by id and join code.
type RoomRepository interface {
	// ReserveCode claims a join code for roomID. It reports false if the code is taken.
	ReserveCode(ctx context.Context, code, roomID string) (bool, error)
	// ReleaseCode frees a code that roomID reserved but never used.
	ReleaseCode(ctx context.Context, code, roomID string)
	Add(ctx context.Context, room *Room) error
	Get(roomID string) (*Room, bool)
	GetByCode(ctx context.Context, code string) (*Room, bool)
	Remove(ctx context.Context, roomID string)
	List() []*Room
}

// LockStore holds session exclusivity leases.
type LockStore interface {
	// TryAcquire grants the lock when it is free, expired, or already owned by token.
	// On denial it returns the live holder's lock and false.
	TryAcquire(ctx context.Context, key domain.LockKey, token string, timeout time.Duration) (domain.SessionLock, bool, error)
	// Renew extends the lease if token still owns it.
	Renew(ctx context.Context, key domain.LockKey, token string, timeout time.Duration) (bool, error)
	// Release drops the lock only if token owns it.
	Release(ctx context.Context, key domain.LockKey, token string) (bool, error)
	// Held reports whether any user holds a live lock on the subject.
	Held(ctx context.Context, subject domain.SubjectType, subjectID string) (bool, error)
}

// VersionStore keeps monotonically increasing versions per resource key.
type VersionStore interface {
	Current(ctx context.Context, key string) (int64, error)
	// Increment bumps the version if it still equals expected and returns the new value.
	// A mismatch returns a *domain.ConflictError.
	Increment(ctx context.Context, key string, expected int64) (int64, error)
}

// ResultStore persists completed rooms.
type ResultStore interface {
	SaveResult(ctx context.Context, result domain.RoomResult) error
	GetResult(ctx context.Context, roomID string) (domain.RoomResult, error)
}

// ResultPublisher announces completed rooms to downstream consumers.
type ResultPublisher interface {
	PublishRoomCompleted(ctx context.Context, result domain.RoomResult) error
}

type nopPublisher struct{}

func (nopPublisher) PublishRoomCompleted(context.Context, domain.RoomResult) error { return nil }

// NopPublisher discards completion events.
func NopPublisher() ResultPublisher { return nopPublisher{} }
