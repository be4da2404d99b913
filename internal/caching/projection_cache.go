// Package caching holds lazily computed projections of immutable dictionary
// snapshots. A projection is keyed by locus and nomenclature version and is
// computed at most once per key, however many callers ask concurrently.
package caching

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/hla-matching-dictionary/internal/domain"
)

// Cache tiers reported to a StatsObserver.
const (
	TierMemory = "memory"
	TierRedis  = "redis"
)

// ProjectionKey identifies one projection. BuildID pins the key to one build
// of a version, so a rebuilt snapshot never reads a projection of the old one
// from a shared tier.
type ProjectionKey struct {
	Locus   domain.Locus
	Version string
	BuildID string
}

func (k ProjectionKey) String() string {
	if k.BuildID == "" {
		return fmt.Sprintf("%s/%s", k.Version, k.Locus)
	}
	return fmt.Sprintf("%s/%s/%s", k.Version, k.BuildID, k.Locus)
}

// Projection maps a G-Group to its P-Group ("" when the G-Group has none).
// Cached projections are shared and must not be modified.
type Projection map[string]string

// Tier is a second-level store consulted after the in-memory LRU.
type Tier interface {
	Get(ctx context.Context, key ProjectionKey) (Projection, bool, error)
	Set(ctx context.Context, key ProjectionKey, projection Projection) error
}

// StatsObserver is told about hits and misses per tier.
type StatsObserver interface {
	CacheHit(tier string)
	CacheMiss(tier string)
}

type nopStats struct{}

func (nopStats) CacheHit(string)  {}
func (nopStats) CacheMiss(string) {}

// ProjectionCache is an LRU of projections with at-most-once fill per key and
// an optional remote tier. Remote failures degrade to local computation.
type ProjectionCache struct {
	local    *lru.Cache[ProjectionKey, Projection]
	group    singleflight.Group
	remote   Tier
	observer StatsObserver
	logger   *logrus.Logger
}

// Option configures a ProjectionCache.
type Option func(*ProjectionCache)

// WithTier adds a second-level tier.
func WithTier(t Tier) Option {
	return func(c *ProjectionCache) { c.remote = t }
}

// WithStatsObserver reports hits and misses.
func WithStatsObserver(o StatsObserver) Option {
	return func(c *ProjectionCache) {
		if o != nil {
			c.observer = o
		}
	}
}

// NewProjectionCache creates a cache holding at most maxItems projections.
func NewProjectionCache(maxItems int, logger *logrus.Logger, opts ...Option) (*ProjectionCache, error) {
	if maxItems <= 0 {
		maxItems = 64
	}
	local, err := lru.New[ProjectionKey, Projection](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create projection LRU: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	c := &ProjectionCache{local: local, observer: nopStats{}, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetOrCompute returns the cached projection for key, computing and storing
// it on a miss. Concurrent misses on one key share a single computation.
func (c *ProjectionCache) GetOrCompute(ctx context.Context, key ProjectionKey, compute func(context.Context) (Projection, error)) (Projection, error) {
	if p, ok := c.local.Get(key); ok {
		c.observer.CacheHit(TierMemory)
		return p, nil
	}
	c.observer.CacheMiss(TierMemory)

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if p, ok := c.local.Get(key); ok {
			return p, nil
		}

		if c.remote != nil {
			p, found, err := c.remote.Get(ctx, key)
			switch {
			case err != nil:
				c.logger.WithFields(logrus.Fields{"key": key.String(), "error": err}).Warn("Projection tier read failed")
			case found:
				c.observer.CacheHit(TierRedis)
				c.local.Add(key, p)
				return p, nil
			default:
				c.observer.CacheMiss(TierRedis)
			}
		}

		p, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.local.Add(key, p)

		if c.remote != nil {
			if err := c.remote.Set(ctx, key, p); err != nil {
				c.logger.WithFields(logrus.Fields{"key": key.String(), "error": err}).Warn("Projection tier write failed")
			}
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Projection), nil
}

// PurgeVersion drops every local projection of a nomenclature version, whatever
// its build. Remote entries are keyed by build and expire on their TTL.
func (c *ProjectionCache) PurgeVersion(version string) int {
	removed := 0
	for _, key := range c.local.Keys() {
		if key.Version == version {
			if c.local.Remove(key) {
				removed++
			}
		}
	}
	return removed
}

// Len returns the number of locally cached projections.
func (c *ProjectionCache) Len() int {
	return c.local.Len()
}
