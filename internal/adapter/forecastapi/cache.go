package forecastapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
	"github.com/couchcryptid/aqi-fusion-service/internal/forecast"
)

// Trajectories upstream refresh a few times a day; an hour of caching
// keeps request volume low without serving a stale model run for long.
const cacheTTL = time.Hour

// CachedProvider wraps a TrajectoryProvider with an in-memory LRU cache.
type CachedProvider struct {
	inner forecast.TrajectoryProvider
	cache *lruCache
}

// NewCachedProvider creates a cache decorator around a provider.
func NewCachedProvider(inner forecast.TrajectoryProvider, maxEntries int) *CachedProvider {
	return &CachedProvider{
		inner: inner,
		cache: newLRUCache(maxEntries, clockwork.NewRealClock()),
	}
}

func (c *CachedProvider) Trajectory(ctx context.Context, loc domain.Location, horizonHours int) ([]forecast.TrajectoryPoint, error) {
	key := fmt.Sprintf("%s|%d", loc.ID, horizonHours)
	if points, ok := c.cache.get(key); ok {
		return points, nil
	}
	points, err := c.inner.Trajectory(ctx, loc, horizonHours)
	if err != nil {
		return nil, err
	}
	// Only cache non-empty trajectories so a transient upstream outage
	// can be retried on the next flush.
	if len(points) > 0 {
		c.cache.put(key, points)
	}
	return points, nil
}

// lruCache is a thread-safe LRU cache with per-entry expiry.
type lruCache struct {
	maxEntries int
	clock      clockwork.Clock
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key       string
	value     []forecast.TrajectoryPoint
	expiresAt time.Time
	prev      *entry
	next      *entry
}

func newLRUCache(maxEntries int, clock clockwork.Clock) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		clock:      clock,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) ([]forecast.TrajectoryPoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.clock.Now().After(e.expiresAt) {
		delete(c.entries, key)
		c.remove(e)
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value []forecast.TrajectoryPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.clock.Now().Add(cacheTTL)
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = expires
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value, expiresAt: expires}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
