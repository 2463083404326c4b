package eta

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/pmv-rental/internal/geo"
	"github.com/example/pmv-rental/internal/models"
)

// DefaultWalkingSpeedMps is roughly 5 km/h.
const DefaultWalkingSpeedMps = 1.4

// Client estimates how long a rider needs to reach a vehicle.
type Client interface {
	EstimateSeconds(ctx context.Context, from, to models.GeographicPoint) (float64, error)
}

// Walking is a straight-line estimate at a constant pace.
type Walking struct {
	SpeedMps float64
}

func (w Walking) EstimateSeconds(_ context.Context, from, to models.GeographicPoint) (float64, error) {
	speed := w.SpeedMps
	if speed <= 0 {
		speed = DefaultWalkingSpeedMps
	}
	return geo.Haversine(from.Lat(), from.Lon(), to.Lat(), to.Lon()) / speed, nil
}

// Cache is a tiny in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

func keyFor(a, b models.GeographicPoint) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", a.Lat(), a.Lon(), b.Lat(), b.Lon())
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.GeographicPoint) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.GeographicPoint, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: c.now()}
	c.mu.Unlock()
}

// Cached serves estimates from the cache and falls back to the
// straight-line walk when the routed client fails.
type Cached struct {
	Routed   Client
	Fallback Walking
	Cache    *Cache
}

func (c *Cached) EstimateSeconds(ctx context.Context, from, to models.GeographicPoint) (float64, error) {
	if c.Cache != nil {
		if v, ok := c.Cache.Get(from, to); ok {
			return v, nil
		}
	}
	var (
		v   float64
		err error
	)
	if c.Routed != nil {
		v, err = c.Routed.EstimateSeconds(ctx, from, to)
	}
	if c.Routed == nil || err != nil {
		v, err = c.Fallback.EstimateSeconds(ctx, from, to)
		if err != nil {
			return 0, err
		}
	}
	if c.Cache != nil {
		c.Cache.Set(from, to, v)
	}
	return v, nil
}
