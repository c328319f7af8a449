package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"quiz-coordinator/internal/domain"
)

// casScript bumps the version only if it still equals ARGV[1].
// Returns {1, new} on success and {0, current} on mismatch.
var casScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current ~= tonumber(ARGV[1]) then
	return {0, current}
end
redis.call("SET", KEYS[1], current + 1)
return {1, current + 1}
`)

// VersionStore keeps resource versions in Redis so every instance agrees on them.
type VersionStore struct {
	client *redis.Client
}

func NewVersionStore(client *redis.Client) *VersionStore {
	return &VersionStore{client: client}
}

func (s *VersionStore) key(key string) string {
	return "version:" + key
}

func (s *VersionStore) Current(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, s.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (s *VersionStore) Increment(ctx context.Context, key string, expected int64) (int64, error) {
	if expected < 0 {
		return 0, domain.ErrInvalidVersion
	}
	res, err := casScript.Run(ctx, s.client, []string{s.key(key)}, expected).Int64Slice()
	if err != nil {
		return 0, err
	}
	if len(res) != 2 {
		return 0, errors.New("unexpected version script reply")
	}
	if res[0] == 0 {
		return 0, &domain.ConflictError{Resource: key, Expected: expected, Actual: res[1]}
	}
	return res[1], nil
}
