package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quiz-coordinator/internal/domain"
	"quiz-coordinator/internal/metrics"
)

// DefaultHeartbeatTimeout is how long a session lock survives without a heartbeat.
const DefaultHeartbeatTimeout = 90 * time.Second

// SessionGrant is the answer to a start request.
type SessionGrant struct {
	CanStart     bool   `json:"canStart"`
	SessionToken string `json:"sessionToken,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// SessionService enforces one live session per user and subject.
type SessionService struct {
	locks    LockStore
	timeout  time.Duration
	newToken func() string
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

func NewSessionService(locks LockStore, timeout time.Duration, log logrus.FieldLogger, m *metrics.Metrics) *SessionService {
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &SessionService{
		locks:    locks,
		timeout:  timeout,
		newToken: uuid.NewString,
		log:      log,
		metrics:  m,
	}
}

// Start issues a fresh token and tries to take the lock with it.
func (s *SessionService) Start(ctx context.Context, key domain.LockKey) (SessionGrant, error) {
	token := s.newToken()
	err := s.Acquire(ctx, key, token)
	if err == nil {
		return SessionGrant{CanStart: true, SessionToken: token}, nil
	}
	var denied *domain.SessionDeniedError
	if errors.As(err, &denied) {
		return SessionGrant{CanStart: false, Reason: denied.Error()}, nil
	}
	return SessionGrant{}, err
}

// Acquire takes the lock for token or returns a *domain.SessionDeniedError.
func (s *SessionService) Acquire(ctx context.Context, key domain.LockKey, token string) error {
	_, ok, err := s.locks.TryAcquire(ctx, key, token, s.timeout)
	if err != nil {
		s.record("error")
		return err
	}
	if !ok {
		s.record("denied")
		s.log.WithFields(logrus.Fields{"user_id": key.UserID, "subject": key.Subject, "subject_id": key.SubjectID}).
			Info("session denied, lock held by another session")
		return &domain.SessionDeniedError{Key: key}
	}
	s.record("granted")
	return nil
}

// Heartbeat refreshes the lease; false means the session is gone and the client must restart.
func (s *SessionService) Heartbeat(ctx context.Context, key domain.LockKey, token string) (bool, error) {
	return s.locks.Renew(ctx, key, token, s.timeout)
}

// End releases the lock. Ending a session the token does not own is a no-op.
func (s *SessionService) End(ctx context.Context, key domain.LockKey, token string) error {
	released, err := s.locks.Release(ctx, key, token)
	if err != nil {
		return err
	}
	if released {
		s.record("released")
	}
	return nil
}

// Held reports whether anyone holds a live session on the subject.
func (s *SessionService) Held(ctx context.Context, subject domain.SubjectType, subjectID string) (bool, error) {
	return s.locks.Held(ctx, subject, subjectID)
}

func (s *SessionService) record(result string) {
	if s.metrics != nil {
		s.metrics.SessionLocks.WithLabelValues(result).Inc()
	}
}
