package lexicon

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache hands out one shared [Snapshot] per user, building it on first
// request. Concurrent first requests for the same user are collapsed into a
// single load. Invalidation is driven externally via [Cache.Invalidate].
type Cache struct {
	loader *Loader

	mu    sync.RWMutex
	snaps map[string]*Snapshot

	group singleflight.Group
}

// NewCache returns a Cache backed by loader.
func NewCache(loader *Loader) *Cache {
	return &Cache{
		loader: loader,
		snaps:  make(map[string]*Snapshot),
	}
}

// Snapshot returns the cached snapshot for userID, loading it when absent.
func (c *Cache) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	c.mu.RLock()
	snap, ok := c.snaps[userID]
	c.mu.RUnlock()
	if ok {
		return snap, nil
	}

	v, err, _ := c.group.Do(userID, func() (any, error) {
		s, err := c.loader.Load(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.snaps[userID] = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Invalidate drops the cached snapshot for userID; the next request builds
// a fresh one.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.snaps, userID)
	c.mu.Unlock()
}
