package image

import (
	"errors"
	"image"
	"image/color"

	"github.com/bodgit/spritescan/tile"
)

var (
	errNotEnough  = errors.New("image: not enough tile data")
	errBadPalette = errors.New("image: palette must have at least 16 colors")
)

// Options control how a sheet is laid out
type Options struct {
	// Columns is the number of tiles per row
	Columns int
	// Transparent makes palette index 0 fully transparent
	Transparent bool
}

type decoder struct {
	tiles   []tile.Tile
	columns int
	rows    int

	image   *image.Paletted
	palette color.Palette
}

func (d *decoder) readTiles(b []byte) error {
	d.tiles = tile.DecodeAll(b)
	if len(d.tiles) == 0 {
		return errNotEnough
	}
	d.rows = (len(d.tiles) + d.columns - 1) / d.columns
	return nil
}

func (d *decoder) readPalette(p color.Palette, transparent bool) error {
	if len(p) < colorsPerPalette {
		return errBadPalette
	}
	d.palette = make(color.Palette, colorsPerPalette)
	copy(d.palette, p)
	if transparent {
		d.palette[0] = color.NRGBA{}
	}
	return nil
}

func (d *decoder) decode(b []byte, p color.Palette, o *Options) error {
	d.columns = DefaultColumns
	if o != nil && o.Columns > 0 {
		d.columns = o.Columns
	}

	if err := d.readTiles(b); err != nil {
		return err
	}

	if err := d.readPalette(p, o != nil && o.Transparent); err != nil {
		return err
	}

	d.image = image.NewPaletted(image.Rect(0, 0, d.columns*tileWidth, d.rows*tileHeight), d.palette)

	for i, t := range d.tiles {
		tx, ty := i%d.columns, i/d.columns
		for y := 0; y < tileHeight; y++ {
			for x := 0; x < tileWidth; x++ {
				d.image.SetColorIndex(tx*tileWidth+x, ty*tileHeight+y, t[y][x])
			}
		}
	}

	return nil
}

// Decode renders the tiles in b as a paletted image using the first 16
// colors of p. Trailing bytes that do not make up a whole tile are ignored.
func Decode(b []byte, p color.Palette, o *Options) (*image.Paletted, error) {
	var d decoder
	if err := d.decode(b, p, o); err != nil {
		return nil, err
	}
	return d.image, nil
}

// DecodeConfig returns the color model and dimensions of the sheet that
// Decode would produce without rendering it.
func DecodeConfig(b []byte, p color.Palette, o *Options) (image.Config, error) {
	var d decoder
	d.columns = DefaultColumns
	if o != nil && o.Columns > 0 {
		d.columns = o.Columns
	}
	if err := d.readTiles(b); err != nil {
		return image.Config{}, err
	}
	if err := d.readPalette(p, o != nil && o.Transparent); err != nil {
		return image.Config{}, err
	}
	return image.Config{
		ColorModel: d.palette,
		Width:      d.columns * tileWidth,
		Height:     d.rows * tileHeight,
	}, nil
}
