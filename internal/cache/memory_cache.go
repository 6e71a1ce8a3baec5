package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryPresenceCache is the single-node PresenceCache used when Redis is
// disabled.
type MemoryPresenceCache struct {
	mu    sync.RWMutex
	items map[string]Snapshot
}

func NewMemoryPresenceCache() *MemoryPresenceCache {
	return &MemoryPresenceCache{items: make(map[string]Snapshot)}
}

func (c *MemoryPresenceCache) Record(_ context.Context, userID, status string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[userID] = Snapshot{Status: status, LastSeen: at.UTC()}
	return nil
}

func (c *MemoryPresenceCache) Snapshots(_ context.Context, userIDs []string) (map[string]Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Snapshot, len(userIDs))
	for _, id := range userIDs {
		if s, ok := c.items[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (c *MemoryPresenceCache) Close() error { return nil }
