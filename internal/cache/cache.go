// Package cache provides bounded caching for extraction results and a
// pub/sub channel for job progress.
package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// MemoryClient is a bounded in-memory cache with oldest-first (insertion
// order) eviction. Capacity is explicit so behavior stays deterministic.
type MemoryClient struct {
	mu       sync.Mutex
	data     map[string]memoryEntry
	order    []string // insertion order, oldest first
	capacity int
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryClient creates a bounded in-memory cache client.
func NewMemoryClient(capacity int) *MemoryClient {
	if capacity <= 0 {
		capacity = 16
	}
	return &MemoryClient{
		data:     make(map[string]memoryEntry),
		capacity: capacity,
	}
}

// Get retrieves a value, honoring per-entry expiry.
func (c *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.remove(key)
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

// Set stores a value, evicting the oldest entry when at capacity. A zero TTL
// means the entry never expires (it can still be evicted).
func (c *MemoryClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists {
		if len(c.data) >= c.capacity {
			c.remove(c.order[0])
		}
		c.order = append(c.order, key)
	}

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.data[key] = entry
	return nil
}

// Delete removes a value.
func (c *MemoryClient) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(key)
	return nil
}

// Close is a no-op for the memory cache.
func (c *MemoryClient) Close() error { return nil }

// Len reports the number of live entries.
func (c *MemoryClient) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *MemoryClient) remove(key string) {
	if _, ok := c.data[key]; !ok {
		return
	}
	delete(c.data, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// CacheKey joins key components with ":".
func CacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}
