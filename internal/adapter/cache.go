package adapter

import (
	"sync"
	"time"
)

// SnapshotCache holds one immutable snapshot per chain. A discovery cycle replaces
// a chain's snapshot wholesale, so readers see either the old or the new one.
type SnapshotCache[T any] struct {
	mu        sync.RWMutex
	snapshots map[string]snapshot[T]
}

type snapshot[T any] struct {
	entries map[string]T
	takenAt time.Time
}

// NewSnapshotCache creates an empty cache
func NewSnapshotCache[T any]() *SnapshotCache[T] {
	return &SnapshotCache[T]{snapshots: make(map[string]snapshot[T])}
}

// Replace installs a copy of entries as the chain's snapshot
func (c *SnapshotCache[T]) Replace(chainID string, entries map[string]T) {
	copied := make(map[string]T, len(entries))
	for k, v := range entries {
		copied[k] = v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[chainID] = snapshot[T]{entries: copied, takenAt: time.Now()}
}

// Get returns one entry from the current snapshot of a chain
func (c *SnapshotCache[T]) Get(chainID, key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.snapshots[chainID].entries[key]
	return v, ok
}

// Len returns the number of entries in a chain's snapshot
func (c *SnapshotCache[T]) Len(chainID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots[chainID].entries)
}

// TakenAt returns when the chain's snapshot was installed
func (c *SnapshotCache[T]) TakenAt(chainID string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snapshots[chainID]
	return s.takenAt, ok
}
