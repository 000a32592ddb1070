package spritescan

import (
	"github.com/bodgit/spritescan/hal"
	"github.com/bodgit/spritescan/tile"
)

const (
	// Extra bytes beyond a whole number of tiles that are tolerated
	maxMisalignment = 8
	// Density at or above which a buffer gets the full density score
	fullDensity = 0.5
	// Compressed to decompressed ratio below which real compression is
	// assumed to be taking place
	compressedRatio = 0.7
	// Scales how quickly a stream larger than its output loses the ratio
	// score, so a ratio of 1.1 or more costs the full weight
	expansionSlope = 10
	// Number of leading tiles checked for plausible 4bpp structure
	sampleTiles = 16
	// Length of the window checked by the prefilter
	prefilterWindow = 16

	weightAlignment = 0.25
	weightDensity   = 0.30
	weightTiles     = 0.20
	weightRatio     = 0.10
	weightStructure = 0.15
)

// SpriteLocation is a scan result
type SpriteLocation struct {
	Offset           int
	CompressedSize   int
	DecompressedSize int
	// Quality is a heuristic confidence between 0 and 1
	Quality float64
}

// End returns the offset of the first byte after the compressed data
func (l SpriteLocation) End() int {
	return l.Offset + l.CompressedSize
}

// Tiles returns the number of whole tiles in the decompressed data
func (l SpriteLocation) Tiles() int {
	return l.DecompressedSize / tile.Size
}

func (l SpriteLocation) overlaps(o SpriteLocation) bool {
	return l.Offset < o.End() && o.Offset < l.End()
}

// uniform reports whether the window at offset is a single repeated byte,
// typical of padding and blank regions
func uniform(b []byte, offset int) bool {
	end := offset + prefilterWindow
	if end > len(b) {
		end = len(b)
	}
	for _, v := range b[offset+1 : end] {
		if v != b[offset] {
			return false
		}
	}
	return true
}

func density(b []byte) float64 {
	nonZero := 0
	for _, v := range b {
		if v != 0 {
			nonZero++
		}
	}
	return float64(nonZero) / float64(len(b))
}

func structure(b []byte) float64 {
	n := len(b) / tile.Size
	if n > sampleTiles {
		n = sampleTiles
	}
	if n == 0 {
		return 0
	}
	valid := 0
	for i := 0; i < n; i++ {
		if tile.Plausible(b[i*tile.Size : (i+1)*tile.Size]) {
			valid++
		}
	}
	return float64(valid) / float64(n)
}

// score rates a decompressed buffer. It returns false if the candidate should
// be rejected regardless of its score.
func score(block hal.Block, b []byte, remaining int, cfg *ScanConfig) (float64, bool) {
	if block.Consumed <= 0 || block.Consumed >= remaining || len(b) == 0 {
		return 0, false
	}

	var s float64

	switch extra := len(b) % tile.Size; {
	case extra == 0:
		s += weightAlignment
	case extra <= maxMisalignment:
		s += weightAlignment * 0.4
	default:
		return 0, false
	}

	d := density(b) / fullDensity
	if d > 1 {
		d = 1
	}
	s += weightDensity * d

	switch tiles := len(b) / tile.Size; {
	case cfg.MaxTiles > 0 && tiles > cfg.MaxTiles:
		return 0, false
	case tiles >= cfg.MinTiles:
		s += weightTiles
	}

	switch r := float64(block.Consumed) / float64(len(b)); {
	case r <= compressedRatio:
		s += weightRatio
	case r > 1:
		// Only a run of literals comes out smaller than it went in, and
		// then by no more than the control bytes
		p := (r - 1) * expansionSlope
		if p > 1 {
			p = 1
		}
		s -= weightRatio * p
	}

	s += weightStructure * structure(b)

	switch {
	case s > 1:
		s = 1
	case s < 0:
		s = 0
	}

	return s, true
}

// attempt tries to decode a sprite at offset, returning false if there is
// nothing plausible there
func attempt(b []byte, offset int, cfg *ScanConfig) (SpriteLocation, bool) {
	block, out, err := hal.Decompress(b, offset, cfg.SizeHint)
	if err != nil {
		return SpriteLocation{}, false
	}

	q, ok := score(block, out, len(b)-offset, cfg)
	if !ok || q < cfg.MinQuality {
		return SpriteLocation{}, false
	}

	return SpriteLocation{
		Offset:           offset,
		CompressedSize:   block.Consumed,
		DecompressedSize: len(out),
		Quality:          q,
	}, true
}
