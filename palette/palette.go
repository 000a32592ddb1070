/*
Package palette converts between the packed 15-bit colors used by the Super
Nintendo and 24-bit RGB.

A packed color is a little-endian 16-bit word laid out as 0BBBBBGGGGGRRRRR.
Each 5-bit channel is expanded to 8 bits by shifting left by three; the top
bit is ignored.
*/
package palette

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/ioutil"

	"github.com/ericpauley/go-quantize/quantize"
)

const (
	// Colors is the number of colors in a 4 bits per pixel sub-palette
	Colors = 16
	// MaxColors is the number of colors held in CGRAM
	MaxColors = 256

	channelMask = 0x1f
	redShift    = 0
	greenShift  = 5
	blueShift   = 10
)

var (
	errOddLength   = errors.New("palette: odd number of bytes")
	errNoColors    = errors.New("palette: no colors")
	errTooManyData = errors.New("palette: more than 256 colors")
)

// Color is a 24-bit RGB color. It implements the color.Color interface and is
// always fully opaque.
type Color struct {
	R, G, B uint8
}

// RGBA implements the color.Color interface
func (c Color) RGBA() (r, g, b, a uint32) {
	return color.RGBA{c.R, c.G, c.B, 0xff}.RGBA()
}

// ToRGB expands a packed color word
func ToRGB(word uint16) Color {
	return Color{
		R: uint8(word>>redShift&channelMask) << 3,
		G: uint8(word>>greenShift&channelMask) << 3,
		B: uint8(word>>blueShift&channelMask) << 3,
	}
}

// Pack converts any color to the nearest packed color word by discarding the
// lower three bits of each 8-bit channel
func Pack(c color.Color) uint16 {
	r, g, b, _ := c.RGBA()
	return uint16(r>>11)<<redShift | uint16(g>>11)<<greenShift | uint16(b>>11)<<blueShift
}

// Decode converts a run of packed little-endian color words, such as a dump
// of CGRAM, into a palette
func Decode(b []byte) (color.Palette, error) {
	switch {
	case len(b) == 0:
		return nil, errNoColors
	case len(b)&1 != 0:
		return nil, errOddLength
	case len(b)>>1 > MaxColors:
		return nil, errTooManyData
	}

	p := make(color.Palette, len(b)>>1)
	for i := range p {
		p[i] = ToRGB(binary.LittleEndian.Uint16(b[i<<1:]))
	}
	return p, nil
}

// Load reads a file of packed color words and returns the 16 color
// sub-palette at the given index
func Load(file string, index int) (color.Palette, error) {
	b, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, err
	}

	p, err := Decode(b)
	if err != nil {
		return nil, err
	}

	return Sub(p, index)
}

// Sub returns the 16 color sub-palette at the given index
func Sub(p color.Palette, index int) (color.Palette, error) {
	start := index * Colors
	if index < 0 || start+Colors > len(p) {
		return nil, fmt.Errorf("palette: sub-palette %d outside palette of %d colors", index, len(p))
	}
	return p[start : start+Colors], nil
}

// Grayscale returns a 16 color palette of evenly spaced grays, index 0 being
// black, for use when no real palette is available
func Grayscale() color.Palette {
	p := make(color.Palette, Colors)
	for i := range p {
		v := uint16(i * channelMask / (Colors - 1))
		p[i] = ToRGB(v<<redShift | v<<greenShift | v<<blueShift)
	}
	return p
}

// FromImage derives a 16 color palette from an arbitrary image, for example a
// screenshot of the sprite in game. Colors are reduced with a median cut and
// then snapped to what the console can display.
func FromImage(m image.Image) color.Palette {
	q := quantize.MedianCutQuantizer{}

	p := make(color.Palette, 0, Colors)
	for _, c := range q.Quantize(make(color.Palette, 0, Colors), m) {
		p = append(p, ToRGB(Pack(c)))
	}

	// Pad to a full sub-palette
	for len(p) < Colors {
		p = append(p, Color{})
	}

	return p
}
