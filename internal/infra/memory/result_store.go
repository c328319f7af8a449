package memory

import (
	"context"
	"sync"

	"quiz-coordinator/internal/domain"
)

// ResultStore keeps completed rooms when no database is configured.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]domain.RoomResult
}

func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]domain.RoomResult)}
}

// SaveResult keeps the first write for a room; results are immutable once recorded.
func (s *ResultStore) SaveResult(_ context.Context, result domain.RoomResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[result.RoomID]; ok {
		return nil
	}
	result.Participants = append([]domain.Participant(nil), result.Participants...)
	s.results[result.RoomID] = result
	return nil
}

func (s *ResultStore) GetResult(_ context.Context, roomID string) (domain.RoomResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[roomID]
	if !ok {
		return domain.RoomResult{}, domain.ErrRoomNotFound
	}
	return result, nil
}
