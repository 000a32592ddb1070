package spritescan

import (
	"errors"
	"fmt"
	"io/ioutil"
	"runtime"

	"gopkg.in/yaml.v3"
)

// ScanConfig holds the parameters of a scan. The zero value is not useful;
// start from DefaultScanConfig.
type ScanConfig struct {
	// RangeStart and RangeEnd bound the candidate offsets, end exclusive. A
	// RangeEnd of zero or beyond the image means the end of the image.
	RangeStart int `yaml:"range_start"`
	RangeEnd   int `yaml:"range_end"`
	// Step is the distance between candidate offsets
	Step int `yaml:"step"`
	// MinQuality is the lowest score a candidate needs to be kept
	MinQuality float64 `yaml:"min_quality"`
	// ResumeFrom skips candidates below it, for continuing an earlier scan
	ResumeFrom int `yaml:"resume_from"`

	// ChunkSize is the span of offsets handed to a worker at a time
	ChunkSize int `yaml:"chunk_size"`
	// Workers defaults to the number of CPUs if zero
	Workers int `yaml:"workers"`

	// SizeHint caps the decompressed size of each candidate, zero for none
	SizeHint int `yaml:"size_hint"`
	// MinTiles and MaxTiles bound a plausible sprite. Candidates with more
	// than MaxTiles tiles are rejected outright.
	MinTiles int `yaml:"min_tiles"`
	MaxTiles int `yaml:"max_tiles"`
	// Prefilter rejects candidates that start with a run of identical
	// bytes before attempting decompression
	Prefilter bool `yaml:"prefilter"`
}

// DefaultScanConfig returns the configuration used when nothing else is given
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		Step:       1,
		MinQuality: 0.5,
		ChunkSize:  0x10000,
		MinTiles:   4,
		MaxTiles:   1024,
		Prefilter:  true,
	}
}

// LoadScanConfig reads a YAML file over the top of DefaultScanConfig
func LoadScanConfig(file string) (ScanConfig, error) {
	cfg := DefaultScanConfig()

	b, err := ioutil.ReadFile(file)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", file, err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration is usable
func (c ScanConfig) Validate() error {
	switch {
	case c.RangeStart < 0:
		return errors.New("range start is negative")
	case c.RangeEnd < 0:
		return errors.New("range end is negative")
	case c.RangeEnd > 0 && c.RangeEnd < c.RangeStart:
		return errors.New("range end is before range start")
	case c.Step < 1:
		return errors.New("step must be at least 1")
	case c.MinQuality < 0 || c.MinQuality > 1:
		return errors.New("minimum quality must be between 0 and 1")
	case c.ResumeFrom < 0:
		return errors.New("resume offset is negative")
	case c.ChunkSize < 0:
		return errors.New("chunk size is negative")
	case c.Workers < 0:
		return errors.New("worker count is negative")
	case c.SizeHint < 0:
		return errors.New("size hint is negative")
	case c.MinTiles < 0 || c.MaxTiles < 0:
		return errors.New("tile bounds are negative")
	case c.MaxTiles > 0 && c.MaxTiles < c.MinTiles:
		return errors.New("maximum tiles is less than minimum tiles")
	}
	return nil
}

func (c ScanConfig) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// ScanParams identifies the scan that produced a set of locations
type ScanParams struct {
	RangeStart int
	RangeEnd   int
	Step       int
	MinQuality float64
}

// Params returns the identifying parameters for a scan of an image of the
// given length, with RangeEnd resolved
func (c ScanConfig) Params(length int) ScanParams {
	end := c.RangeEnd
	if end == 0 || end > length {
		end = length
	}
	return ScanParams{
		RangeStart: c.RangeStart,
		RangeEnd:   end,
		Step:       c.Step,
		MinQuality: c.MinQuality,
	}
}
