// Package keycache remembers physical key events forwarded to the engine so
// the engine can later ask for the exact event to be replayed to the host.
//
// Events are keyed by a per-session sequence number rather than by their
// timestamp: a key-down and its key-up can carry the same timestamp.
package keycache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is the number of events kept before the least recently
// used one is evicted.
const DefaultCapacity = 78

// Cache is a bounded LRU of events keyed by a monotonically increasing id.
// It is safe for concurrent use.
type Cache[E any] struct {
	mu       sync.Mutex
	entries  *lru.Cache[int, E]
	next     int
	capacity int
	evicted  int
}

// New creates a cache holding at most capacity events.
func New[E any](capacity int) (*Cache[E], error) {
	c := &Cache[E]{capacity: capacity}
	entries, err := lru.New[int, E](capacity)
	if err != nil {
		return nil, fmt.Errorf("create key cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

// Put stores ev and returns the sequence id assigned to it.
func (c *Cache[E]) Put(ev E) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	if c.entries.Add(id, ev) {
		c.evicted++
	}
	return id
}

// Replay removes and returns the event stored under id. A miss means the
// event was evicted, already replayed, or dropped by Reset.
func (c *Cache[E]) Replay(id int) (E, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.entries.Peek(id)
	if ok {
		c.entries.Remove(id)
	}
	return ev, ok
}

// Reset drops every cached event and restarts ids at zero.
func (c *Cache[E]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.next = 0
	c.evicted = 0
}

// Len returns the number of cached events.
func (c *Cache[E]) Len() int {
	return c.entries.Len()
}

// Evicted returns how many events were pushed out by capacity since the
// last Reset.
func (c *Cache[E]) Evicted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

// Capacity returns the configured capacity.
func (c *Cache[E]) Capacity() int {
	return c.capacity
}
