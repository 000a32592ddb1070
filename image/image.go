/*
Package image renders decompressed Super Nintendo graphics as a sprite sheet.

The input is a run of 4 bits per pixel planar tiles, 32 bytes each, as found
in the buffer returned by the hal package. Tiles are laid out left to right,
top to bottom, a fixed number of tiles per row, and every pixel indexes into a
single 16 color palette.
*/
package image

import "github.com/bodgit/spritescan/tile"

const (
	tileWidth        = tile.Width
	tileHeight       = tile.Height
	colorsPerPalette = 16

	// DefaultColumns is the number of tiles per row used when none is given
	DefaultColumns = 16
)
