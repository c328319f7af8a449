package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"quiz-coordinator/internal/domain"
)

const lockShards = 32

type lease struct {
	lock    domain.SessionLock
	timeout time.Duration
}

func (l lease) live(now time.Time) bool {
	return l.lock.Live(now, l.timeout)
}

type lockShard struct {
	mu     sync.Mutex
	leases map[domain.LockKey]lease
}

// LockStore keeps session leases in sharded maps so unrelated keys never share a mutex.
type LockStore struct {
	shards [lockShards]*lockShard
	clock  func() time.Time
}

func NewLockStore() *LockStore {
	return NewLockStoreWithClock(time.Now)
}

// NewLockStoreWithClock is test-only for deterministic expiry.
func NewLockStoreWithClock(now func() time.Time) *LockStore {
	s := &LockStore{clock: now}
	for i := range s.shards {
		s.shards[i] = &lockShard{leases: make(map[domain.LockKey]lease)}
	}
	return s
}

func (s *LockStore) shard(key domain.LockKey) *lockShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return s.shards[h.Sum32()%lockShards]
}

func (s *LockStore) TryAcquire(_ context.Context, key domain.LockKey, token string, timeout time.Duration) (domain.SessionLock, bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.clock()
	if existing, ok := sh.leases[key]; ok && existing.live(now) {
		if existing.lock.OwnerToken != token {
			return existing.lock, false, nil
		}
		existing.lock.LastHeartbeatAt = now
		existing.timeout = timeout
		sh.leases[key] = existing
		return existing.lock, true, nil
	}
	lock := domain.SessionLock{Key: key, OwnerToken: token, CreatedAt: now, LastHeartbeatAt: now}
	sh.leases[key] = lease{lock: lock, timeout: timeout}
	return lock, true, nil
}

func (s *LockStore) Renew(_ context.Context, key domain.LockKey, token string, timeout time.Duration) (bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	existing, ok := sh.leases[key]
	if !ok || existing.lock.OwnerToken != token {
		return false, nil
	}
	now := s.clock()
	if !existing.live(now) {
		delete(sh.leases, key)
		return false, nil
	}
	existing.lock.LastHeartbeatAt = now
	existing.timeout = timeout
	sh.leases[key] = existing
	return true, nil
}

func (s *LockStore) Release(_ context.Context, key domain.LockKey, token string) (bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	existing, ok := sh.leases[key]
	if !ok || existing.lock.OwnerToken != token {
		return false, nil
	}
	delete(sh.leases, key)
	return true, nil
}

// Held scans every shard; quiz edits are rare so this is off the hot path.
func (s *LockStore) Held(_ context.Context, subject domain.SubjectType, subjectID string) (bool, error) {
	now := s.clock()
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, l := range sh.leases {
			if key.Subject == subject && key.SubjectID == subjectID && l.live(now) {
				sh.mu.Unlock()
				return true, nil
			}
		}
		sh.mu.Unlock()
	}
	return false, nil
}

// Purge drops expired leases and returns how many were removed.
func (s *LockStore) Purge() int {
	now := s.clock()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, l := range sh.leases {
			if !l.live(now) {
				delete(sh.leases, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
