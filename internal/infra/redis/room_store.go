package redis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-coordinator/internal/app"
)

// releaseCodeScript deletes a code key only while it still points at the room.
var releaseCodeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RoomStore is a Redis-aware implementation of app.RoomRepository.
// Notes:
//   - Room workers live in this process, so the rooms themselves stay in a local map.
//   - Join codes are reserved with SETNX so two instances never hand out the same code.
//   - A liveness marker per room lets operators see which rooms are running.
type RoomStore struct {
	client *redis.Client
	ttl    time.Duration

	mu    sync.RWMutex
	rooms map[string]*app.Room
	codes map[string]string
}

func NewRoomStore(client *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{
		client: client,
		ttl:    ttl,
		rooms:  make(map[string]*app.Room),
		codes:  make(map[string]string),
	}
}

func (s *RoomStore) ReserveCode(ctx context.Context, code, roomID string) (bool, error) {
	code = strings.ToUpper(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codes[code]; taken {
		return false, nil
	}
	ok, err := s.client.SetNX(ctx, s.codeKey(code), roomID, s.ttl).Result()
	if err != nil || !ok {
		return false, err
	}
	s.codes[code] = roomID
	return true, nil
}

func (s *RoomStore) ReleaseCode(ctx context.Context, code, roomID string) {
	code = strings.ToUpper(code)
	s.mu.Lock()
	if s.codes[code] == roomID {
		delete(s.codes, code)
	}
	s.mu.Unlock()
	_ = releaseCodeScript.Run(ctx, s.client, []string{s.codeKey(code)}, roomID).Err()
}

func (s *RoomStore) Add(ctx context.Context, room *app.Room) error {
	s.mu.Lock()
	s.rooms[room.ID()] = room
	s.mu.Unlock()
	// best-effort liveness marker
	_ = s.client.Set(ctx, s.liveKey(room.ID()), room.Code(), s.ttl).Err()
	return nil
}

func (s *RoomStore) Get(roomID string) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	return room, ok
}

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

func (s *RoomStore) Remove(ctx context.Context, roomID string) {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if ok {
		delete(s.rooms, roomID)
		if s.codes[room.Code()] == roomID {
			delete(s.codes, room.Code())
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = s.client.Del(ctx, s.codeKey(room.Code()), s.liveKey(roomID)).Err()
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

func (s *RoomStore) codeKey(code string) string {
	return "room:code:" + code
}

func (s *RoomStore) liveKey(roomID string) string {
	return "room:live:" + roomID
}
