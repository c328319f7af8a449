package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-coordinator/internal/domain"
)

// renewScript extends the lease only while the caller's token still owns it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore keeps session leases as Redis keys whose TTL is the heartbeat timeout.
// Key layout: session_lock:{subject}:{subjectID}:{userID} -> owner token.
type LockStore struct {
	client *redis.Client
	clock  func() time.Time
}

func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client, clock: time.Now}
}

func (s *LockStore) key(key domain.LockKey) string {
	return "session_lock:" + key.String()
}

func (s *LockStore) TryAcquire(ctx context.Context, key domain.LockKey, token string, timeout time.Duration) (domain.SessionLock, bool, error) {
	now := s.clock()
	lock := domain.SessionLock{Key: key, OwnerToken: token, CreatedAt: now, LastHeartbeatAt: now}
	redisKey := s.key(key)

	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, redisKey, token, timeout).Result()
		if err != nil {
			return domain.SessionLock{}, false, err
		}
		if ok {
			return lock, true, nil
		}
		renewed, err := s.Renew(ctx, key, token, timeout)
		if err != nil {
			return domain.SessionLock{}, false, err
		}
		if renewed {
			return lock, true, nil
		}
		holder, err := s.client.Get(ctx, redisKey).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET; try once more
			continue
		}
		if err != nil {
			return domain.SessionLock{}, false, err
		}
		return domain.SessionLock{Key: key, OwnerToken: holder}, false, nil
	}
	return domain.SessionLock{}, false, nil
}

func (s *LockStore) Renew(ctx context.Context, key domain.LockKey, token string, timeout time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, s.client, []string{s.key(key)}, token, timeout.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *LockStore) Release(ctx context.Context, key domain.LockKey, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{s.key(key)}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Held reports whether any user has a live lease on the subject.
func (s *LockStore) Held(ctx context.Context, subject domain.SubjectType, subjectID string) (bool, error) {
	pattern := "session_lock:" + string(subject) + ":" + subjectID + ":*"
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return false, err
		}
		if len(keys) > 0 {
			return true, nil
		}
		if next == 0 {
			return false, nil
		}
		cursor = next
	}
}
