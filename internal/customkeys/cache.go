// Package customkeys holds the user-attached key/value metadata sent with
// crash reports.
package customkeys

import (
	"errors"
	"fmt"
	"sync"

	"crashrelay/internal/domain"
)

var (
	ErrInvalidKey = errors.New("custom key must not be empty")
	ErrCapacity   = errors.New("custom key capacity reached")
	ErrSizeLimit  = domain.ErrSizeLimit
)

type Cache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]string
}

// New returns a cache holding at most maxEntries keys. A non-positive value
// selects domain.MaxCustomKeys.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = domain.MaxCustomKeys
	}
	return &Cache{maxEntries: maxEntries, entries: make(map[string]string)}
}

// Add inserts or overwrites key. The combined size of key and value may not
// exceed domain.MaxPairBytes, and a new key is rejected once the cache is
// full.
func (c *Cache) Add(key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if n := len(key) + len(value); n > domain.MaxPairBytes {
		return fmt.Errorf("key %q: %d bytes: %w", key, n, ErrSizeLimit)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		return ErrCapacity
	}
	c.entries[key] = value
	return nil
}

// Remove deletes key. Empty or unknown keys are ignored.
func (c *Cache) Remove(key string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Snapshot returns a copy of the current entries.
func (c *Cache) Snapshot() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
