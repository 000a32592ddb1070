package spritescan

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bodgit/spritescan/hal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spriteROM returns a 64 KiB image with a single literal run of 320 bytes
// compressed at 0x1000 and nothing but zeroes elsewhere
func spriteROM(t *testing.T) *ROM {
	return patternROM(t, func(int) byte { return 0xff })
}

// tilePattern makes every literal byte a back-reference control byte
// pointing far beyond anything decoded, so streams starting inside the run
// fail
func tilePattern(i int) byte {
	return 0x80 | byte(i%32)
}

// patternROM is spriteROM with the literal bytes supplied by pattern
func patternROM(t *testing.T, pattern func(int) byte) *ROM {
	b := make([]byte, 0x10000)
	stream := []byte{0xe1, 0x3f}
	for i := 0; i < 320; i++ {
		stream = append(stream, pattern(i))
	}
	stream = append(stream, 0xff)
	copy(b[0x1000:], stream)

	rom, err := NewROM(b, HeaderAuto)
	require.NoError(t, err)
	return rom
}

func scanConfig() ScanConfig {
	cfg := DefaultScanConfig()
	cfg.RangeStart = 0
	cfg.RangeEnd = 0x2000
	cfg.Step = 1
	cfg.MinQuality = 0.5
	return cfg
}

func TestScanFindsSprite(t *testing.T) {
	patterns := map[string]func(int) byte{
		// Every byte is also the terminator
		"solid": func(int) byte { return 0xff },
		"tiles": tilePattern,
	}

	for name, pattern := range patterns {
		for _, prefilter := range []bool{true, false} {
			t.Run(fmt.Sprintf("%s prefilter %t", name, prefilter), func(t *testing.T) {
				cfg := scanConfig()
				cfg.Prefilter = prefilter

				result, err := Scan(context.Background(), patternROM(t, pattern), cfg)
				require.NoError(t, err)

				require.Len(t, result.Locations, 1)
				l := result.Locations[0]
				assert.Equal(t, 0x1000, l.Offset)
				assert.Equal(t, 320, l.DecompressedSize)
				assert.Equal(t, 323, l.CompressedSize)
				assert.Equal(t, 10, l.Tiles())
				assert.True(t, l.Quality >= 0.5 && l.Quality <= 1)

				assert.True(t, result.Complete)
				assert.Equal(t, 0x2000, result.NextOffset)
				assert.Equal(t, 0x2000, result.Stats.Attempted)
				assert.Equal(t, result.Stats.Attempted, result.Stats.Accepted+result.Stats.Rejected)
				assert.Equal(t, result.Stats.Accepted-1, result.Stats.Overlapping)
			})
		}
	}
}

func TestScanChunked(t *testing.T) {
	rom := spriteROM(t)

	want, err := Scan(context.Background(), rom, scanConfig())
	require.NoError(t, err)

	for _, workers := range []int{1, 3, 8} {
		cfg := scanConfig()
		cfg.ChunkSize = 0x100
		cfg.Workers = workers

		got, err := Scan(context.Background(), rom, cfg)
		require.NoError(t, err)
		assert.Equal(t, want.Locations, got.Locations)
		assert.Equal(t, want.Stats, got.Stats)
	}
}

func TestScanIdempotent(t *testing.T) {
	rom := spriteROM(t)
	cfg := scanConfig()
	cfg.ChunkSize = 0x80

	first, err := Scan(context.Background(), rom, cfg)
	require.NoError(t, err)
	second, err := Scan(context.Background(), rom, cfg)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestScanExcludesBadBackReference(t *testing.T) {
	b := []byte{0x80, 0x00, 0x05, 0xff, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}

	_, _, err := hal.Decompress(b, 0, 0)
	var derr *hal.DecompressionError
	require.True(t, errors.As(err, &derr))

	rom, err := NewROM(b, HeaderNone)
	require.NoError(t, err)

	cfg := DefaultScanConfig()
	result, err := Scan(context.Background(), rom, cfg)
	require.NoError(t, err)

	for _, l := range result.Locations {
		assert.NotEqual(t, 0, l.Offset)
	}
	assert.Equal(t, len(b), result.Stats.Attempted)
}

func TestScanStep(t *testing.T) {
	cfg := scanConfig()
	cfg.Step = 0x10

	result, err := Scan(context.Background(), spriteROM(t), cfg)
	require.NoError(t, err)

	assert.Equal(t, 0x200, result.Stats.Attempted)
	require.Len(t, result.Locations, 1)
	assert.Equal(t, 0x1000, result.Locations[0].Offset)
}

func TestScanResume(t *testing.T) {
	cfg := scanConfig()
	cfg.ResumeFrom = 0x1001

	result, err := Scan(context.Background(), spriteROM(t), cfg)
	require.NoError(t, err)

	assert.Equal(t, 0x2000-0x1001, result.Stats.Attempted)
	for _, l := range result.Locations {
		assert.True(t, l.Offset >= 0x1001)
	}

	cfg.ResumeFrom = 0x3000
	result, err = Scan(context.Background(), spriteROM(t), cfg)
	require.NoError(t, err)
	assert.Empty(t, result.Locations)
	assert.True(t, result.Complete)
}

func TestScanCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := scanConfig()
	cfg.ChunkSize = 0x100

	result, err := Scan(ctx, spriteROM(t), cfg)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, result)
	assert.False(t, result.Complete)
	assert.Equal(t, 0, result.NextOffset)
	assert.Empty(t, result.Locations)
}

func TestScanInvalidConfig(t *testing.T) {
	cfg := scanConfig()
	cfg.Step = 0

	_, err := Scan(context.Background(), spriteROM(t), cfg)
	assert.Error(t, err)
}

func TestFirstCandidate(t *testing.T) {
	tables := map[string]struct {
		start, from, step int
		want              int
	}{
		"no resume":       {0x100, 0, 4, 0x100},
		"resume below":    {0x100, 0x80, 4, 0x100},
		"resume on grid":  {0x100, 0x108, 4, 0x108},
		"resume off grid": {0x100, 0x109, 4, 0x10c},
	}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, table.want, firstCandidate(table.start, table.from, table.step))
		})
	}
}

func TestMakeChunks(t *testing.T) {
	chunks := makeChunks(0x10, 0x35, 4, 0x10)
	assert.Equal(t, []chunk{
		{0, 0x10, 0x20},
		{1, 0x20, 0x30},
		{2, 0x30, 0x35},
	}, chunks)
}

func TestResolveOverlaps(t *testing.T) {
	candidates := []SpriteLocation{
		{Offset: 0x40, CompressedSize: 0x10, Quality: 0.6},
		{Offset: 0x10, CompressedSize: 0x20, Quality: 0.9},
		{Offset: 0x20, CompressedSize: 0x30, Quality: 0.8},
		{Offset: 0x08, CompressedSize: 0x08, Quality: 0.7},
		{Offset: 0x60, CompressedSize: 0x04, Quality: 0.7},
		{Offset: 0x62, CompressedSize: 0x04, Quality: 0.7},
	}

	kept, dropped := resolveOverlaps(candidates)
	assert.Equal(t, []SpriteLocation{
		{Offset: 0x08, CompressedSize: 0x08, Quality: 0.7},
		{Offset: 0x10, CompressedSize: 0x20, Quality: 0.9},
		{Offset: 0x40, CompressedSize: 0x10, Quality: 0.6},
		{Offset: 0x60, CompressedSize: 0x04, Quality: 0.7},
	}, kept)
	assert.Equal(t, 2, dropped)

	// The input is left untouched
	assert.Equal(t, 0x40, candidates[0].Offset)
}
