package cache

import (
	"errors"
	"time"

	"github.com/ppiankov/credence/internal/model"
)

const memoryCleanup = 10 * time.Minute

// LayeredCache reads through memory to disk. Disk is written first so a
// failed write never leaves an entry that only lives until restart.
type LayeredCache struct {
	memory    Cache
	disk      Cache
	memoryTTL time.Duration
}

// NewLayeredCache stacks memory over disk; memoryTTL caps how long a
// promoted entry stays hot
func NewLayeredCache(memory, disk Cache, memoryTTL time.Duration) *LayeredCache {
	return &LayeredCache{memory: memory, disk: disk, memoryTTL: memoryTTL}
}

// Get implements Cache
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if v, ok := c.memory.Get(key); ok {
		return v, true
	}
	v, ok := c.disk.Get(key)
	if !ok {
		return nil, false
	}
	_ = c.memory.Set(key, v, c.memoryTTL)
	return v, true
}

// Set implements Cache
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.disk.Set(key, value, ttl); err != nil {
		return err
	}
	hot := c.memoryTTL
	if ttl > 0 && (hot <= 0 || ttl < hot) {
		hot = ttl
	}
	return c.memory.Set(key, value, hot)
}

// Delete implements Cache
func (c *LayeredCache) Delete(key string) error {
	return errors.Join(c.memory.Delete(key), c.disk.Delete(key))
}

// Clear implements Cache
func (c *LayeredCache) Clear() error {
	return errors.Join(c.memory.Clear(), c.disk.Clear())
}

// New returns nil when caching is off, a memory cache when no directory is
// configured and a layered cache otherwise.
func New(cfg model.CacheConfig) Cache {
	if !cfg.Enabled {
		return nil
	}
	mem := NewMemoryCache(cfg.MemoryTTL, memoryCleanup)
	if cfg.Dir == "" {
		return mem
	}
	return NewLayeredCache(mem, NewDiskCache(cfg.Dir, cfg.DiskTTL), cfg.MemoryTTL)
}
