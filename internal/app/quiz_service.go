package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"quiz-coordinator/internal/domain"
)

const quizResource = "quiz"

// QuizService serves quiz content and applies versioned edits.
type QuizService struct {
	quizzes  QuizCache
	writer   QuizWriter
	guard    *VersionGuard
	sessions *SessionService
	rooms    *RoomService
	log      logrus.FieldLogger
}

func NewQuizService(quizzes QuizCache, writer QuizWriter, guard *VersionGuard, sessions *SessionService, rooms *RoomService, log logrus.FieldLogger) *QuizService {
	return &QuizService{quizzes: quizzes, writer: writer, guard: guard, sessions: sessions, rooms: rooms, log: log}
}

// VersionedQuiz is quiz content with answer keys stripped plus its edit version.
type VersionedQuiz struct {
	Quiz    domain.Quiz `json:"quiz"`
	Version int64       `json:"version"`
}

// GetQuiz returns the public view of a quiz together with its current version.
func (s *QuizService) GetQuiz(ctx context.Context, quizID string) (VersionedQuiz, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return VersionedQuiz{}, err
	}
	version, err := s.guard.Version(ctx, quizResource, quizID)
	if err != nil {
		return VersionedQuiz{}, err
	}
	return VersionedQuiz{Quiz: quiz.Public(), Version: version}, nil
}

// UpdateQuiz replaces quiz content if expectedVersion is current and nobody is playing it.
// The owner check only applies to quizzes that record an owner.
func (s *QuizService) UpdateQuiz(ctx context.Context, editorID string, quiz domain.Quiz, expectedVersion int64) (int64, error) {
	if quiz.ID == "" {
		return 0, fmt.Errorf("%w: quiz id is required", domain.ErrInvalidArgument)
	}
	current, err := s.quizzes.GetQuiz(ctx, quiz.ID)
	if err != nil {
		return 0, err
	}
	if current.OwnerID != "" && current.OwnerID != editorID {
		return 0, domain.ErrForbidden
	}
	if quiz.OwnerID == "" {
		quiz.OwnerID = current.OwnerID
	}

	version, err := s.guard.Apply(ctx, quizResource, quiz.ID, expectedVersion, func(ctx context.Context) error {
		held, err := s.sessions.Held(ctx, domain.SubjectQuiz, quiz.ID)
		if err != nil {
			return err
		}
		if held || s.rooms.QuizInUse(quiz.ID) {
			return domain.ErrQuizLocked
		}
		if err := s.writer.SaveQuiz(ctx, quiz); err != nil {
			return err
		}
		return s.quizzes.Invalidate(ctx, quiz.ID)
	})
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"quiz_id": quiz.ID, "version": version, "editor_id": editorID}).Info("quiz updated")
	return version, nil
}
