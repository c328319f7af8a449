package memory

import (
	"context"
	"strings"
	"sync"

	"quiz-coordinator/internal/app"
)

// RoomStore is an in-memory implementation of app.RoomRepository.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*app.Room
	codes map[string]string
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*app.Room),
		codes: make(map[string]string),
	}
}

func (s *RoomStore) ReserveCode(_ context.Context, code, roomID string) (bool, error) {
	code = strings.ToUpper(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codes[code]; taken {
		return false, nil
	}
	s.codes[code] = roomID
	return true, nil
}

func (s *RoomStore) ReleaseCode(_ context.Context, code, roomID string) {
	code = strings.ToUpper(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes[code] == roomID {
		delete(s.codes, code)
	}
}

func (s *RoomStore) Add(_ context.Context, room *app.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID()] = room
	return nil
}

func (s *RoomStore) Get(roomID string) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	return room, ok
}

// GetByCode matches codes case-insensitively since players type them by hand.
func (s *RoomStore) GetByCode(_ context.Context, code string) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roomID, ok := s.codes[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, false
	}
	room, ok := s.rooms[roomID]
	return room, ok
}

func (s *RoomStore) Remove(_ context.Context, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return
	}
	delete(s.rooms, roomID)
	if s.codes[room.Code()] == roomID {
		delete(s.codes, room.Code())
	}
}

func (s *RoomStore) List() []*app.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*app.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, room)
	}
	return out
}
