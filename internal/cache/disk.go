package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// headerSize is the expiry stamp in front of every entry
const headerSize = 8

// DiskCache keeps entries as files under dir. Each file is an 8-byte
// big-endian expiry (unix nanoseconds) followed by the raw value, so page
// bodies and vectors are stored without re-encoding.
type DiskCache struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewDiskCache creates a cache rooted at dir; ttl applies when Set gets 0
func NewDiskCache(dir string, ttl time.Duration) *DiskCache {
	return &DiskCache{dir: dir, ttl: ttl, now: time.Now}
}

// Get returns the value stored under key. Expired or truncated entries are
// removed and reported as misses.
func (c *DiskCache) Get(key string) ([]byte, bool) {
	path := c.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	if len(data) < headerSize {
		_ = os.Remove(path)
		return nil, false
	}

	expires := time.Unix(0, int64(binary.BigEndian.Uint64(data[:headerSize])))
	if !c.now().Before(expires) {
		_ = os.Remove(path)
		return nil, false
	}
	return data[headerSize:], true
}

// Set writes value through a temp file and rename, so concurrent readers
// never see a partial entry.
func (c *DiskCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}

	path := c.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	buf := make([]byte, headerSize+len(value))
	binary.BigEndian.PutUint64(buf, uint64(c.now().Add(ttl).UnixNano()))
	copy(buf[headerSize:], value)

	tmp, err := os.CreateTemp(filepath.Dir(path), ".entry-*")
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("commit cache file: %w", err)
	}
	return nil
}

// Delete removes key; a missing entry is not an error
func (c *DiskCache) Delete(key string) error {
	err := os.Remove(c.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Clear removes every entry
func (c *DiskCache) Clear() error {
	return os.RemoveAll(c.dir)
}

// path lays keys out as <dir>/<namespace>/<2-char shard>/<rest>. Keys built
// by Key end in a hex digest, which keeps shards evenly filled.
func (c *DiskCache) path(key string) string {
	parts := strings.Split(key, ":")
	name := parts[len(parts)-1]
	dirs := parts[:len(parts)-1]

	shard := "_"
	if len(name) > 2 {
		shard, name = name[:2], name[2:]
	}
	elems := append([]string{c.dir}, dirs...)
	elems = append(elems, shard, name)
	return filepath.Join(elems...)
}
