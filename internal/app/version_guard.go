package app

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"quiz-coordinator/internal/domain"
	"quiz-coordinator/internal/metrics"
)

const guardStripes = 64

// VersionGuard serializes writes per resource and rejects stale expected versions.
// Two writes to different resources never contend on the same stripe unless their keys hash together.
type VersionGuard struct {
	store   VersionStore
	stripes [guardStripes]sync.Mutex
	metrics *metrics.Metrics
}

func NewVersionGuard(store VersionStore, m *metrics.Metrics) *VersionGuard {
	return &VersionGuard{store: store, metrics: m}
}

func versionKey(resource, id string) string {
	return resource + ":" + id
}

func (g *VersionGuard) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &g.stripes[h.Sum32()%guardStripes]
}

// Version returns the current version of a resource; unknown resources are at 0.
func (g *VersionGuard) Version(ctx context.Context, resource, id string) (int64, error) {
	return g.store.Current(ctx, versionKey(resource, id))
}

// Apply runs mutate only when expected matches the stored version, then bumps it.
// If mutate fails the version is left untouched.
func (g *VersionGuard) Apply(ctx context.Context, resource, id string, expected int64, mutate func(ctx context.Context) error) (int64, error) {
	if expected < 0 {
		return 0, domain.ErrInvalidVersion
	}
	key := versionKey(resource, id)
	mu := g.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	current, err := g.store.Current(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := domain.CheckVersion(key, expected, current); err != nil {
		g.conflict(resource)
		return 0, err
	}
	if mutate != nil {
		if err := mutate(ctx); err != nil {
			return 0, err
		}
	}
	next, err := g.store.Increment(ctx, key, expected)
	if errors.Is(err, domain.ErrConflict) {
		g.conflict(resource)
	}
	return next, err
}

func (g *VersionGuard) conflict(resource string) {
	if g.metrics != nil {
		g.metrics.VersionConflicts.WithLabelValues(resource).Inc()
	}
}
