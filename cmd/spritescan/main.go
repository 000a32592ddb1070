package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/bodgit/spritescan"
	simage "github.com/bodgit/spritescan/image"
	"github.com/bodgit/spritescan/palette"
	"github.com/urfave/cli/v2"
)

const defaultDB = "spritescan.db"

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}
}

func newLogger(c *cli.Context) *log.Logger {
	logger := log.New(ioutil.Discard, "", 0)
	if c.Bool("verbose") {
		logger.SetOutput(os.Stderr)
	}
	return logger
}

func parseOffset(s string) (int, error) {
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad offset %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative offset %q", s)
	}
	return int(n), nil
}

func openROM(c *cli.Context, file string) (*spritescan.ROM, error) {
	mode, err := spritescan.ParseHeaderMode(c.String("header"))
	if err != nil {
		return nil, err
	}
	return spritescan.OpenROM(file, mode)
}

func scanConfig(c *cli.Context) (spritescan.ScanConfig, error) {
	cfg := spritescan.DefaultScanConfig()
	if file := c.String("config"); file != "" {
		var err error
		if cfg, err = spritescan.LoadScanConfig(file); err != nil {
			return cfg, err
		}
	}

	for _, name := range []string{"start", "end", "resume"} {
		if !c.IsSet(name) {
			continue
		}
		n, err := parseOffset(c.String(name))
		if err != nil {
			return cfg, err
		}
		switch name {
		case "start":
			cfg.RangeStart = n
		case "end":
			cfg.RangeEnd = n
		case "resume":
			cfg.ResumeFrom = n
		}
	}

	if c.IsSet("step") {
		cfg.Step = c.Int("step")
	}
	if c.IsSet("min-quality") {
		cfg.MinQuality = c.Float64("min-quality")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("size-hint") {
		cfg.SizeHint = c.Int("size-hint")
	}

	return cfg, cfg.Validate()
}

func loadPalette(c *cli.Context) (color.Palette, error) {
	switch {
	case c.String("palette") != "":
		return palette.Load(c.String("palette"), c.Int("palette-index"))
	case c.String("palette-image") != "":
		m, err := imgio.Open(c.String("palette-image"))
		if err != nil {
			return nil, err
		}
		return palette.FromImage(m), nil
	default:
		return palette.Grayscale(), nil
	}
}

var headerFlag = &cli.StringFlag{
	Name:  "header",
	Value: "auto",
	Usage: "copier header handling, one of auto, none or present",
}

func scanAction(c *cli.Context) error {
	if c.NArg() < 1 {
		cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
	}

	logger := newLogger(c)

	rom, err := openROM(c, c.Args().First())
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	cfg, err := scanConfig(c)
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	var cache *spritescan.LocationCache
	if !c.Bool("no-cache") {
		if cache, err = spritescan.NewLocationCache(c.String("db"), logger); err != nil {
			return cli.NewExitError(err, 1)
		}
		defer cache.Close()
	}

	s := spritescan.New(cache, logger)
	s.TTLDays = c.Int("ttl")
	s.CheckpointDir = c.String("checkpoints")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := s.Scan(ctx, rom, cfg)
	if result != nil {
		for _, l := range result.Locations {
			fmt.Printf("0x%06X\t%d\t%d\t%d\t%.3f\n", l.Offset, l.CompressedSize, l.DecompressedSize, l.Tiles(), l.Quality)
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && result != nil {
			return cli.NewExitError(fmt.Sprintf("scan interrupted, resume from 0x%06X", result.NextOffset), 2)
		}
		return cli.NewExitError(err, 1)
	}

	return nil
}

func extractAction(c *cli.Context) error {
	if c.NArg() < 3 {
		cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
	}

	logger := newLogger(c)

	rom, err := openROM(c, c.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	offset, err := parseOffset(c.Args().Get(1))
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	s := spritescan.New(nil, logger)

	if c.Bool("raw") {
		block, b, err := s.Extract(rom, offset, c.Int("size-hint"))
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		logger.Printf("Decompressed %d bytes from %d at 0x%06X\n", len(b), block.Consumed, block.Offset)
		if err := ioutil.WriteFile(c.Args().Get(2), b, 0644); err != nil {
			return cli.NewExitError(err, 1)
		}
		return nil
	}

	p, err := loadPalette(c)
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	m, err := s.Render(rom, offset, c.Int("size-hint"), p, &simage.Options{
		Columns:     c.Int("columns"),
		Transparent: c.Bool("transparent"),
	})
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	var out image.Image = m
	if scale := c.Int("scale"); scale > 1 {
		out = transform.Resize(m, m.Bounds().Dx()*scale, m.Bounds().Dy()*scale, transform.NearestNeighbor)
	}

	if err := imgio.Save(c.Args().Get(2), out, imgio.PNGEncoder()); err != nil {
		return cli.NewExitError(err, 1)
	}

	return nil
}

func infoAction(c *cli.Context) error {
	if c.NArg() < 1 {
		cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
	}

	rom, err := openROM(c, c.Args().First())
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	fmt.Printf("SHA-1:\t\t%s\n", rom.Checksum())
	fmt.Printf("Size:\t\t%d\n", rom.Len())
	fmt.Printf("Copier header:\t%t\n", rom.Base() > 0)

	h, err := rom.Header()
	if err != nil {
		fmt.Printf("Header:\t\tnone\n")
		return nil
	}

	ok, err := rom.VerifyChecksum()
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	fmt.Printf("Header:\t\t0x%04X\n", h.Offset)
	fmt.Printf("Title:\t\t%s\n", h.Title)
	fmt.Printf("Map mode:\t0x%02X\n", h.MapMode)
	fmt.Printf("Checksum:\t0x%04X (valid: %t)\n", h.Checksum, ok)

	return nil
}

func openCache(c *cli.Context) (*spritescan.LocationCache, error) {
	return spritescan.NewLocationCache(c.String("db"), newLogger(c))
}

func main() {
	app := cli.NewApp()

	app.Name = "spritescan"
	app.Usage = "Super Nintendo compressed sprite finder"
	app.Version = "1.0.0"

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "db",
			EnvVars: []string{"SPRITESCAN_DB"},
			Value:   filepath.Join(cwd, defaultDB),
			Usage:   "path to location cache",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "increase verbosity",
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:        "scan",
			Usage:       "Find compressed sprites",
			Description: "Prints offset, compressed size, decompressed size, tile count and quality of each sprite found",
			ArgsUsage:   "ROM",
			Flags: []cli.Flag{
				headerFlag,
				&cli.StringFlag{
					Name:  "config",
					Usage: "YAML file of scan settings",
				},
				&cli.StringFlag{
					Name:  "start",
					Usage: "first offset to try",
				},
				&cli.StringFlag{
					Name:  "end",
					Usage: "offset to stop at, defaults to the end of the image",
				},
				&cli.StringFlag{
					Name:  "resume",
					Usage: "skip offsets below this",
				},
				&cli.IntFlag{
					Name:  "step",
					Usage: "distance between offsets",
				},
				&cli.Float64Flag{
					Name:  "min-quality",
					Usage: "minimum quality between 0 and 1",
				},
				&cli.IntFlag{
					Name:  "workers",
					Usage: "number of concurrent workers, defaults to the number of CPUs",
				},
				&cli.IntFlag{
					Name:  "size-hint",
					Usage: "stop decompressing each candidate after this many bytes",
				},
				&cli.BoolFlag{
					Name:  "no-cache",
					Usage: "neither read nor write the location cache",
				},
				&cli.IntFlag{
					Name:  "ttl",
					Value: spritescan.DefaultTTLDays,
					Usage: "days to keep results in the location cache",
				},
				&cli.StringFlag{
					Name:  "checkpoints",
					Usage: "directory to record interrupted scans in",
				},
			},
			Action: scanAction,
		},
		{
			Name:        "extract",
			Usage:       "Decompress a sprite to a PNG image",
			Description: "",
			ArgsUsage:   "ROM OFFSET OUTPUT",
			Flags: []cli.Flag{
				headerFlag,
				&cli.StringFlag{
					Name:  "palette",
					Usage: "file of packed colors, such as a CGRAM dump",
				},
				&cli.IntFlag{
					Name:  "palette-index",
					Usage: "16 color sub-palette to use from the palette file",
				},
				&cli.StringFlag{
					Name:  "palette-image",
					Usage: "image to derive a palette from",
				},
				&cli.IntFlag{
					Name:  "columns",
					Value: simage.DefaultColumns,
					Usage: "tiles per row",
				},
				&cli.BoolFlag{
					Name:  "transparent",
					Usage: "make color 0 transparent",
				},
				&cli.IntFlag{
					Name:  "scale",
					Value: 1,
					Usage: "enlarge the image by this factor",
				},
				&cli.IntFlag{
					Name:  "size-hint",
					Usage: "stop decompressing after this many bytes",
				},
				&cli.BoolFlag{
					Name:  "raw",
					Usage: "write the decompressed bytes rather than an image",
				},
			},
			Action: extractAction,
		},
		{
			Name:        "info",
			Usage:       "Show ROM image details",
			Description: "",
			ArgsUsage:   "ROM",
			Flags: []cli.Flag{
				headerFlag,
			},
			Action: infoAction,
		},
		{
			Name:  "cache",
			Usage: "Manage the location cache",
			Subcommands: []*cli.Command{
				{
					Name:  "stats",
					Usage: "Show cache contents",
					Action: func(c *cli.Context) error {
						cache, err := openCache(c)
						if err != nil {
							return cli.NewExitError(err, 1)
						}
						defer cache.Close()

						stats, err := cache.Stats()
						if err != nil {
							return cli.NewExitError(err, 1)
						}

						fmt.Printf("Entries:\t%d\n", stats.Entries)
						fmt.Printf("Locations:\t%d\n", stats.Locations)
						fmt.Printf("Expired:\t%d\n", stats.Expired)

						return nil
					},
				},
				{
					Name:  "purge",
					Usage: "Remove expired entries",
					Flags: []cli.Flag{
						&cli.DurationFlag{
							Name:  "older-than",
							Usage: "also remove entries created longer ago than this",
						},
					},
					Action: func(c *cli.Context) error {
						cache, err := openCache(c)
						if err != nil {
							return cli.NewExitError(err, 1)
						}
						defer cache.Close()

						n, err := cache.Purge(c.Duration("older-than"))
						if err != nil {
							return cli.NewExitError(err, 1)
						}

						newLogger(c).Printf("Removed %d entries\n", n)

						return nil
					},
				},
				{
					Name:      "invalidate",
					Usage:     "Remove the entry for a ROM image",
					ArgsUsage: "ROM|CHECKSUM",
					Flags: []cli.Flag{
						headerFlag,
					},
					Action: func(c *cli.Context) error {
						if c.NArg() < 1 {
							cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
						}

						sum := c.Args().First()
						if _, err := os.Stat(sum); err == nil {
							rom, err := openROM(c, sum)
							if err != nil {
								return cli.NewExitError(err, 1)
							}
							sum = rom.Checksum()
						}

						cache, err := openCache(c)
						if err != nil {
							return cli.NewExitError(err, 1)
						}
						defer cache.Close()

						if err := spritescan.New(cache, newLogger(c)).Invalidate(sum); err != nil {
							return cli.NewExitError(err, 1)
						}

						return nil
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
