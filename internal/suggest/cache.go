package suggest

import (
	"sync"
	"time"
)

// Cache is a small TTL cache for metric-name and label-value suggestion
// payloads. Autocomplete hammers these endpoints on every keystroke, and the
// answers change on the timescale of deploys, not keystrokes.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

type entry struct {
	payload []byte
	expires time.Time
}

// New builds a cache holding entries for ttl. A non-positive ttl disables
// caching entirely: Get never hits and Put is a no-op.
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Get returns the cached payload for key, if present and fresh.
func (c *Cache) Get(key string) ([]byte, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expires) {
		return nil, false
	}
	return e.payload, true
}

// Put stores payload under key, evicting whatever expired along the way so
// the map does not grow without bound on churning label values.
func (c *Cache) Put(key string, payload []byte) {
	if c.ttl <= 0 {
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = entry{payload: payload, expires: now.Add(c.ttl)}
}

// Len reports how many entries are held, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
