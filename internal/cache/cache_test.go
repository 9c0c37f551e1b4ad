package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/credence/internal/model"
)

func TestKey_Namespaced(t *testing.T) {
	page := Key(NamespacePage, "https://www.uscis.gov/h-1b")
	emb := Key(NamespaceEmbedding, "https://www.uscis.gov/h-1b")

	assert.NotEqual(t, page, emb)
	assert.Contains(t, page, "credence:v1:page:")
	assert.Equal(t, page, Key(NamespacePage, "https://www.uscis.gov/h-1b"))
}

func TestMemoryCache_SetGetDelete(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	require.NoError(t, c.Set("k", []byte("v"), 0))

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete("k"))
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestDiskCache_Expiry(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	c := NewDiskCache(t.TempDir(), time.Hour)
	c.now = func() time.Time { return now }
	key := Key(NamespacePage, "u")

	require.NoError(t, c.Set(key, []byte("body"), time.Minute))
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("body"), got)

	now = now.Add(time.Minute)
	_, ok = c.Get(key)
	assert.False(t, ok, "expired entry must miss")
	assert.NoFileExists(t, c.path(key), "expired entry is removed")
}

func TestDiskCache_Layout(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Hour)
	key := Key(NamespaceEmbedding, "hello")
	digest := key[strings.LastIndex(key, ":")+1:]

	require.NoError(t, c.Set(key, []byte("[1,2]"), 0))
	assert.Equal(t, filepath.Join(dir, "credence", "v1", "embed", digest[:2], digest[2:]), c.path(key))
	assert.FileExists(t, c.path(key))

	require.NoError(t, c.Delete(key))
	require.NoError(t, c.Delete(key), "deleting a missing key is not an error")
}

func TestDiskCache_TruncatedEntryIsAMiss(t *testing.T) {
	c := NewDiskCache(t.TempDir(), time.Hour)
	key := Key(NamespacePage, "short")
	require.NoError(t, os.MkdirAll(filepath.Dir(c.path(key)), 0o755))
	require.NoError(t, os.WriteFile(c.path(key), []byte{1, 2, 3}, 0o600))

	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.NoFileExists(t, c.path(key))
}

func TestMemoryCache_CopiesValues(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	buf := []byte("vector")
	require.NoError(t, c.Set("k", buf, 0))
	buf[0] = 'X'

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("vector"), got)

	got[0] = 'Y'
	again, _ := c.Get("k")
	assert.Equal(t, []byte("vector"), again)
	assert.Equal(t, 1, c.Len())
}

func TestLayeredCache_PromotesFromDisk(t *testing.T) {
	dir := t.TempDir()
	key := Key(NamespacePage, "https://travel.state.gov")

	require.NoError(t, NewDiskCache(dir, time.Hour).Set(key, []byte("page"), 0))

	lc := NewLayeredCache(NewMemoryCache(time.Minute, time.Minute), NewDiskCache(dir, time.Hour), time.Minute)
	got, ok := lc.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("page"), got)

	got, ok = lc.memory.Get(key)
	require.True(t, ok, "disk hit must be promoted to memory")
	assert.Equal(t, []byte("page"), got)
}

func TestLayeredCache_WritesBothLayers(t *testing.T) {
	dir := t.TempDir()
	mem := NewMemoryCache(time.Minute, time.Minute)
	lc := NewLayeredCache(mem, NewDiskCache(dir, time.Hour), time.Minute)
	key := Key(NamespaceEmbedding, "asylum")

	require.NoError(t, lc.Set(key, []byte("[0.1]"), 0))
	assert.Equal(t, 1, mem.Len())

	got, ok := NewDiskCache(dir, time.Hour).Get(key)
	require.True(t, ok, "entry must survive a restart")
	assert.Equal(t, []byte("[0.1]"), got)

	require.NoError(t, lc.Delete(key))
	_, ok = lc.Get(key)
	assert.False(t, ok)
}

func TestJSONHelpers(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	key := Key(NamespaceEmbedding, "query")

	require.NoError(t, SetJSON(c, key, []float32{0.5, 0.25}, 0))

	var vec []float32
	require.True(t, GetJSON(c, key, &vec))
	assert.Equal(t, []float32{0.5, 0.25}, vec)

	require.NoError(t, c.Set(key, []byte("not json"), 0))
	assert.False(t, GetJSON(c, key, &vec))

	assert.False(t, GetJSON(nil, key, &vec))
	assert.NoError(t, SetJSON(nil, key, vec, 0))
}

func TestNew(t *testing.T) {
	assert.Nil(t, New(model.CacheConfig{}))
	assert.IsType(t, &MemoryCache{}, New(model.CacheConfig{Enabled: true, MemoryTTL: time.Minute}))
	assert.IsType(t, &LayeredCache{}, New(model.CacheConfig{Enabled: true, Dir: t.TempDir()}))
}
