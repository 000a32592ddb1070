/*
Package spritescan locates and extracts compressed 4bpp sprite graphics in
Super Nintendo ROM images.

A Scanner tries every candidate offset in a range, decompressing and scoring
whatever is found there, and keeps the best non-overlapping results. Results
are cached by ROM checksum so a repeated scan of the same image is free, and
an interrupted scan leaves a checkpoint behind so it can carry on later.
*/
package spritescan

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"

	"github.com/bodgit/spritescan/checkpoint"
	"github.com/bodgit/spritescan/hal"
	simage "github.com/bodgit/spritescan/image"
)

// DefaultTTLDays is how long cached results are trusted for
const DefaultTTLDays = 30

// Scanner ties scanning to an optional location cache and checkpoint
// directory
type Scanner struct {
	cache  *LocationCache
	logger *log.Logger

	// CheckpointDir, if set, is where interrupted scans are recorded
	CheckpointDir string
	// TTLDays is used for every entry stored in the cache
	TTLDays int
}

// New returns a Scanner. Either argument may be nil.
func New(cache *LocationCache, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.New(ioutil.Discard, "", 0)
	}
	return &Scanner{
		cache:   cache,
		logger:  logger,
		TTLDays: DefaultTTLDays,
	}
}

func (s *Scanner) checkpointFile(sum string, p ScanParams) string {
	name := fmt.Sprintf("%s-%x-%x-%x-%d", sum, p.RangeStart, p.RangeEnd, p.Step, int(p.MinQuality*1000))
	return filepath.Join(s.CheckpointDir, name+checkpoint.Extension)
}

func (s *Scanner) loadCheckpoint(file, sum string, p ScanParams) (*checkpoint.Checkpoint, error) {
	c, err := checkpoint.Read(file)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, err
	}

	if c.Checksum != sum || int(c.RangeStart) != p.RangeStart || int(c.RangeEnd) != p.RangeEnd || int(c.Step) != p.Step || c.MinQuality != p.MinQuality {
		s.logger.Printf("Ignoring checkpoint \"%s\" for a different scan\n", file)
		return nil, nil
	}

	return c, nil
}

// toCheckpoint records every candidate accepted below the resume point rather
// than the resolved locations, as one of them may yet lose to a candidate
// found after resuming and let a candidate it displaced back in
func toCheckpoint(sum string, p ScanParams, r *ScanResult) *checkpoint.Checkpoint {
	c := &checkpoint.Checkpoint{
		Checksum:   sum,
		RangeStart: uint32(p.RangeStart),
		RangeEnd:   uint32(p.RangeEnd),
		Step:       uint32(p.Step),
		MinQuality: p.MinQuality,
		NextOffset: uint32(r.NextOffset),
		Locations:  make([]checkpoint.Location, 0, len(r.candidates)),
	}
	for _, l := range r.candidates {
		// Chunks beyond the resume point are scanned again
		if l.Offset >= r.NextOffset {
			break
		}
		c.Locations = append(c.Locations, checkpoint.Location{
			Offset:           uint32(l.Offset),
			CompressedSize:   uint32(l.CompressedSize),
			DecompressedSize: uint32(l.DecompressedSize),
			Quality:          l.Quality,
		})
	}
	return c
}

func fromCheckpoint(c *checkpoint.Checkpoint) []SpriteLocation {
	locations := make([]SpriteLocation, 0, len(c.Locations))
	for _, l := range c.Locations {
		locations = append(locations, SpriteLocation{
			Offset:           int(l.Offset),
			CompressedSize:   int(l.CompressedSize),
			DecompressedSize: int(l.DecompressedSize),
			Quality:          l.Quality,
		})
	}
	return locations
}

// Scan finds the sprites in rom. A cached result for the same image and
// parameters is returned without scanning. If ctx is cancelled the partial
// result is returned with the context error and, if CheckpointDir is set, a
// checkpoint is written; the cache is only updated by a complete scan. A
// resumed scan resolves overlaps across the candidates from both runs, so it
// finds the same locations an uninterrupted scan would.
func (s *Scanner) Scan(ctx context.Context, rom *ROM, cfg ScanConfig) (*ScanResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sum := rom.Checksum()
	params := cfg.Params(rom.Len())

	if s.cache != nil {
		if e := s.cache.Lookup(sum); e != nil {
			if e.Params == params {
				s.logger.Printf("Using %d cached locations for %s\n", len(e.Locations), sum)
				return &ScanResult{
					Locations:  e.Locations,
					Complete:   true,
					NextOffset: params.RangeEnd,
				}, nil
			}
			s.logger.Printf("Cached locations for %s were found with different parameters\n", sum)
		}
	}

	var (
		file  string
		prior []SpriteLocation
	)
	if s.CheckpointDir != "" {
		file = s.checkpointFile(sum, params)
		c, err := s.loadCheckpoint(file, sum, params)
		if err != nil {
			s.logger.Printf("Unable to read checkpoint \"%s\": %v\n", file, err)
		}
		if c != nil && int(c.NextOffset) > cfg.ResumeFrom {
			s.logger.Printf("Resuming scan of %s from %#x\n", sum, c.NextOffset)
			cfg.ResumeFrom = int(c.NextOffset)
			prior = fromCheckpoint(c)
		}
	}

	result, err := Scan(ctx, rom, cfg)
	if result == nil {
		return nil, err
	}

	if len(prior) > 0 {
		result.candidates = append(prior, result.candidates...)
		result.Locations, result.Stats.Overlapping = resolveOverlaps(result.candidates)
	}

	s.logger.Printf("Scanned %s: %d attempted, %d accepted, %d rejected, %d overlapping\n", sum, result.Stats.Attempted, result.Stats.Accepted, result.Stats.Rejected, result.Stats.Overlapping)

	if !result.Complete {
		if file != "" {
			if werr := checkpoint.Write(file, toCheckpoint(sum, params, result)); werr != nil {
				s.logger.Printf("Unable to write checkpoint \"%s\": %v\n", file, werr)
			} else {
				s.logger.Printf("Scan interrupted, checkpoint written to \"%s\"\n", file)
			}
		}
		return result, err
	}

	if s.cache != nil && !s.cache.Store(sum, params, result.Locations, s.TTLDays) {
		s.logger.Printf("Results for %s were not cached\n", sum)
	}

	if file != "" {
		if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Printf("Unable to remove checkpoint \"%s\": %v\n", file, err)
		}
	}

	return result, nil
}

// Invalidate removes any cached result for the given checksum
func (s *Scanner) Invalidate(checksum string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(checksum)
}

// Extract decompresses the data at offset. Unlike scanning, a malformed
// stream is an error.
func (s *Scanner) Extract(rom *ROM, offset, sizeHint int) (hal.Block, []byte, error) {
	return hal.Decompress(rom.Bytes(), offset, sizeHint)
}

// Render decompresses the data at offset and arranges it as an image
func (s *Scanner) Render(rom *ROM, offset, sizeHint int, p color.Palette, o *simage.Options) (*image.Paletted, error) {
	_, b, err := s.Extract(rom, offset, sizeHint)
	if err != nil {
		return nil, err
	}
	return simage.Decode(b, p, o)
}
