package memory

import (
	"context"
	"hash/fnv"
	"sync"

	"quiz-coordinator/internal/domain"
)

const versionShards = 32

type versionShard struct {
	mu       sync.Mutex
	versions map[string]int64
}

// VersionStore keeps resource versions in process memory, sharded by key like LockStore.
type VersionStore struct {
	shards [versionShards]*versionShard
}

func NewVersionStore() *VersionStore {
	s := &VersionStore{}
	for i := range s.shards {
		s.shards[i] = &versionShard{versions: make(map[string]int64)}
	}
	return s
}

func (s *VersionStore) shard(key string) *versionShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%versionShards]
}

func (s *VersionStore) Current(_ context.Context, key string) (int64, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.versions[key], nil
}

func (s *VersionStore) Increment(_ context.Context, key string, expected int64) (int64, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	current := sh.versions[key]
	if err := domain.CheckVersion(key, expected, current); err != nil {
		return 0, err
	}
	sh.versions[key] = current + 1
	return current + 1, nil
}
