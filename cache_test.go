package spritescan

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = ScanParams{RangeStart: 0, RangeEnd: 0x2000, Step: 1, MinQuality: 0.5}

func newTestCache(t *testing.T) *LocationCache {
	c, err := NewLocationCache(filepath.Join(t.TempDir(), "cache.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
	})
	return c
}

func testLocations(n int) []SpriteLocation {
	locations := make([]SpriteLocation, n)
	for i := range locations {
		locations[i] = SpriteLocation{
			Offset:           0x1000 * (i + 1),
			CompressedSize:   0x100 + i,
			DecompressedSize: 0x140 * (i + 1),
			Quality:          0.5 + float64(i)/100,
		}
	}
	return locations
}

func TestCacheStoreLookup(t *testing.T) {
	c := newTestCache(t)
	now := time.Date(2020, time.March, 14, 15, 9, 26, 535897932, time.UTC)
	c.now = func() time.Time { return now }

	locations := testLocations(3)
	require.True(t, c.Store("abc123", testParams, locations, 365))

	e := c.Lookup("abc123")
	require.NotNil(t, e)
	assert.Equal(t, "abc123", e.Checksum)
	assert.Equal(t, testParams, e.Params)
	assert.Equal(t, locations, e.Locations)
	assert.True(t, now.Equal(e.CreatedAt))
	assert.Equal(t, 365, e.TTLDays)
}

func TestCacheExactChecksum(t *testing.T) {
	c := newTestCache(t)

	require.True(t, c.Store("abc123", testParams, testLocations(1), 365))

	assert.Nil(t, c.Lookup("abc124"))
	assert.Nil(t, c.Lookup("abc12"))
	assert.Nil(t, c.Lookup("ABC123"))
	assert.NotNil(t, c.Lookup("abc123"))
}

func TestCacheEmptyLocations(t *testing.T) {
	c := newTestCache(t)

	require.True(t, c.Store("abc123", testParams, nil, 365))

	e := c.Lookup("abc123")
	require.NotNil(t, e)
	assert.Empty(t, e.Locations)
}

func TestCacheTTL(t *testing.T) {
	c := newTestCache(t)

	require.True(t, c.Store("abc123", testParams, testLocations(1), 0))
	assert.Nil(t, c.Lookup("abc123"))

	// The expired entry was evicted
	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, CacheStats{}, stats)

	now := time.Now()
	c.now = func() time.Time { return now }
	require.True(t, c.Store("abc123", testParams, testLocations(1), 1))

	c.now = func() time.Time { return now.Add(day - time.Nanosecond) }
	assert.NotNil(t, c.Lookup("abc123"))

	c.now = func() time.Time { return now.Add(day) }
	assert.Nil(t, c.Lookup("abc123"))
}

func TestCacheReplace(t *testing.T) {
	c := newTestCache(t)

	now := time.Now()
	c.now = func() time.Time { return now }
	require.True(t, c.Store("abc123", testParams, testLocations(3), 365))

	later := now.Add(time.Hour)
	c.now = func() time.Time { return later }
	require.True(t, c.Store("abc123", testParams, testLocations(1), 365))

	e := c.Lookup("abc123")
	require.NotNil(t, e)
	assert.Equal(t, testLocations(1), e.Locations)
	assert.True(t, later.Equal(e.CreatedAt))

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, CacheStats{Entries: 1, Locations: 1}, stats)
}

func TestCacheInvalidate(t *testing.T) {
	c := newTestCache(t)

	require.True(t, c.Store("abc123", testParams, testLocations(2), 365))
	require.True(t, c.Store("def456", testParams, testLocations(2), 365))

	require.NoError(t, c.Invalidate("abc123"))
	assert.Nil(t, c.Lookup("abc123"))
	assert.NotNil(t, c.Lookup("def456"))

	// Removing something absent is not an error
	assert.NoError(t, c.Invalidate("abc123"))

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, CacheStats{Entries: 1, Locations: 2}, stats)
}

func TestCacheClosed(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Close())

	assert.False(t, c.Store("abc123", testParams, testLocations(1), 365))
	assert.Nil(t, c.Lookup("abc123"))

	err := c.Invalidate("abc123")
	var cerr *CachePersistenceError
	assert.True(t, errors.As(err, &cerr))
}

func TestCachePurge(t *testing.T) {
	c := newTestCache(t)

	now := time.Now()
	c.now = func() time.Time { return now.Add(-10 * day) }
	require.True(t, c.Store("old", testParams, testLocations(1), 365))
	require.True(t, c.Store("expired", testParams, testLocations(1), 5))

	c.now = func() time.Time { return now }
	require.True(t, c.Store("new", testParams, testLocations(1), 365))

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, CacheStats{Entries: 3, Locations: 3, Expired: 1}, stats)

	n, err := c.Purge(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.Purge(7 * day)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Nil(t, c.Lookup("old"))
	assert.NotNil(t, c.Lookup("new"))
}

func TestCacheConcurrentStores(t *testing.T) {
	c := newTestCache(t)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.True(t, c.Store("abc123", testParams, testLocations(n), 365))
		}(i)
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Lookup(fmt.Sprintf("abc%d", n))
		}(i)
	}
	wg.Wait()

	e := c.Lookup("abc123")
	require.NotNil(t, e)

	// Whichever store finished last, its record is intact
	require.NotEmpty(t, e.Locations)
	assert.Equal(t, testLocations(len(e.Locations)), e.Locations)

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, CacheStats{Entries: 1, Locations: len(e.Locations)}, stats)
}
