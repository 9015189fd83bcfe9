package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPut(t *testing.T) {
	c := New(Config{MaxBytes: 1024})

	assert.Nil(t, c.Get("s3://bucket/a"))
	c.Put("s3://bucket/a", []byte("payload"))
	assert.Equal(t, []byte("payload"), c.Get("s3://bucket/a"))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(7), stats.Size)
}

func TestGetReturnsCopy(t *testing.T) {
	c := New(Config{MaxBytes: 1024})
	c.Put("k", []byte("abc"))

	got := c.Get("k")
	got[0] = 'X'
	assert.Equal(t, []byte("abc"), c.Get("k"))
}

func TestEvictionByCapacity(t *testing.T) {
	c := New(Config{MaxBytes: 30})

	for i := 0; i < 4; i++ {
		c.Put(fmt.Sprintf("key-%d", i), make([]byte, 10))
	}

	// key-0 was least recently used and had to go.
	assert.Nil(t, c.Get("key-0"))
	assert.NotNil(t, c.Get("key-3"))
	assert.LessOrEqual(t, c.Stats().Size, int64(30))
	assert.GreaterOrEqual(t, c.Stats().Evictions, int64(1))
}

func TestRecentUseBlocksEviction(t *testing.T) {
	c := New(Config{MaxBytes: 30})
	c.Put("a", make([]byte, 10))
	c.Put("b", make([]byte, 10))
	c.Put("c", make([]byte, 10))

	require.NotNil(t, c.Get("a")) // refresh a
	c.Put("d", make([]byte, 10))  // evicts b, the oldest untouched entry

	assert.NotNil(t, c.Get("a"))
	assert.Nil(t, c.Get("b"))
}

func TestOversizedPayloadNotStored(t *testing.T) {
	c := New(Config{MaxBytes: 8})
	c.Put("big", make([]byte, 16))
	assert.Nil(t, c.Get("big"))
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestTTLExpiry(t *testing.T) {
	c := New(Config{MaxBytes: 1024, TTL: 10 * time.Millisecond})
	c.Put("k", []byte("v"))
	require.NotNil(t, c.Get("k"))

	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, c.Get("k"))
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestInvalidate(t *testing.T) {
	c := New(Config{MaxBytes: 1024})
	c.Put("k", []byte("v"))
	c.Invalidate("k")
	assert.Nil(t, c.Get("k"))
}

func TestReplaceExistingKey(t *testing.T) {
	c := New(Config{MaxBytes: 1024})
	c.Put("k", []byte("old"))
	c.Put("k", []byte("newer"))
	assert.Equal(t, []byte("newer"), c.Get("k"))
	assert.Equal(t, int64(5), c.Stats().Size)
}

func TestDisabledCacheIsNil(t *testing.T) {
	c := New(Config{})
	assert.Nil(t, c)

	// All operations are safe on the nil disabled cache.
	c.Put("k", []byte("v"))
	assert.Nil(t, c.Get("k"))
	c.Invalidate("k")
	assert.Equal(t, Stats{}, c.Stats())
}
