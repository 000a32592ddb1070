/*
Package tile implements a decoder for the 4 bits per pixel planar tiles used by
the Super Nintendo.

Each 8 by 8 tile is stored in 32 bytes. The first 16 bytes hold bitplanes 0 and
1 interleaved, two bytes per row, and the second 16 bytes hold bitplanes 2 and
3 in the same way. The most significant bit of each byte is the leftmost pixel.
*/
package tile

import "fmt"

const (
	// Width is the width of a tile in pixels
	Width = 8
	// Height is the height of a tile in pixels
	Height = Width
	// Size is the number of bytes used to store one tile
	Size = 32

	planeOffset = Size >> 1
)

// Tile is an 8 by 8 grid of 4-bit palette indices, indexed by row then column
type Tile [Height][Width]uint8

// InvalidTileSizeError is returned when Decode is given anything other than
// exactly Size bytes
type InvalidTileSizeError struct {
	Size int
}

func (e *InvalidTileSizeError) Error() string {
	return fmt.Sprintf("tile: invalid tile size %d, expected %d bytes", e.Size, Size)
}

// Decode converts one planar tile into palette indices
func Decode(b []byte) (Tile, error) {
	var t Tile
	if len(b) != Size {
		return t, &InvalidTileSizeError{len(b)}
	}

	for y := 0; y < Height; y++ {
		p0 := b[y<<1]
		p1 := b[y<<1+1]
		p2 := b[planeOffset+y<<1]
		p3 := b[planeOffset+y<<1+1]
		for x := 0; x < Width; x++ {
			bit := uint(7 - x)
			t[y][x] = (p0>>bit)&1 |
				(p1>>bit)&1<<1 |
				(p2>>bit)&1<<2 |
				(p3>>bit)&1<<3
		}
	}

	return t, nil
}

// DecodeAll decodes every whole tile in b. Any trailing bytes that do not make
// up a complete tile are ignored.
func DecodeAll(b []byte) []Tile {
	tiles := make([]Tile, 0, len(b)/Size)
	for i := 0; i+Size <= len(b); i += Size {
		t, _ := Decode(b[i : i+Size])
		tiles = append(tiles, t)
	}
	return tiles
}

// Plausible reports whether a 32 byte block looks like real graphics rather
// than empty or random data. It rejects tiles that are entirely blank or
// entirely set and expects some overlap between the low and high bitplane
// pairs, which most drawn sprites exhibit.
func Plausible(b []byte) bool {
	if len(b) != Size {
		return false
	}

	valid := 0
	for _, half := range [][]byte{b[:planeOffset], b[planeOffset:]} {
		var zeroes, ones int
		for _, v := range half {
			switch v {
			case 0x00:
				zeroes++
			case 0xff:
				ones++
			}
		}
		if zeroes < planeOffset-1 && ones < planeOffset-1 {
			valid++
		}
	}

	correlated := 0
	for y := 0; y < Height; y++ {
		if b[y<<1]&b[planeOffset+y<<1] != 0 || b[y<<1+1]&b[planeOffset+y<<1+1] != 0 {
			correlated++
		}
	}

	return valid >= 1 && correlated >= 2
}
