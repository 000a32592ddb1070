package spritescan

import (
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/bodgit/spritescan/checksum"
)

// HeaderMode controls how a copier header at the start of an image is handled
type HeaderMode int

const (
	// HeaderAuto assumes a copier header is present if the image size is
	// 512 bytes more than a multiple of 1 KiB
	HeaderAuto HeaderMode = iota
	// HeaderNone never skips a copier header
	HeaderNone
	// HeaderPresent always skips a copier header
	HeaderPresent
)

// CopierHeaderSize is the size of the header prepended by backup units
const CopierHeaderSize = 512

const (
	loROMHeader = 0x7fc0
	hiROMHeader = 0xffc0
	headerSize  = 0x20
	titleSize   = 21
)

var errNoHeader = errors.New("no valid internal header found")

// ParseHeaderMode converts "auto", "none" or "present" to a HeaderMode
func ParseHeaderMode(s string) (HeaderMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return HeaderAuto, nil
	case "none":
		return HeaderNone, nil
	case "present":
		return HeaderPresent, nil
	default:
		return HeaderAuto, fmt.Errorf("unknown header mode %q", s)
	}
}

// ROM is an immutable ROM image. All offsets used by this package are
// relative to the first byte after any copier header.
type ROM struct {
	raw      []byte
	base     int
	checksum string
}

// NewROM wraps b, which must not be modified afterwards
func NewROM(b []byte, mode HeaderMode) (*ROM, error) {
	var base int
	switch mode {
	case HeaderAuto:
		if len(b)&0x3ff == CopierHeaderSize {
			base = CopierHeaderSize
		}
	case HeaderPresent:
		if len(b) < CopierHeaderSize {
			return nil, fmt.Errorf("image of %d bytes is too small for a copier header", len(b))
		}
		base = CopierHeaderSize
	case HeaderNone:
	default:
		return nil, fmt.Errorf("unknown header mode %d", mode)
	}

	h := sha1.New()
	h.Write(b[base:])

	return &ROM{
		raw:      b,
		base:     base,
		checksum: fmt.Sprintf("%X", h.Sum(nil)),
	}, nil
}

// OpenROM reads an image from file
func OpenROM(file string, mode HeaderMode) (*ROM, error) {
	b, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return NewROM(b, mode)
}

// Bytes returns the image data after any copier header
func (r *ROM) Bytes() []byte {
	return r.raw[r.base:]
}

// Len returns the length of the image after any copier header
func (r *ROM) Len() int {
	return len(r.raw) - r.base
}

// Base returns the number of bytes skipped as a copier header
func (r *ROM) Base() int {
	return r.base
}

// Checksum returns the SHA-1 of the image after any copier header, used to
// identify the image in the location cache
func (r *ROM) Checksum() string {
	return r.checksum
}

// Header is the internal header found in every cartridge image
type Header struct {
	Title      string
	MapMode    byte
	Type       byte
	ROMSize    byte
	SRAMSize   byte
	Complement uint16
	Checksum   uint16
	// Offset is where the header was found
	Offset int
}

// Header locates and parses the internal header, trying the LoROM location
// first. A header is only accepted if its checksum and complement agree.
func (r *ROM) Header() (*Header, error) {
	b := r.Bytes()
	for _, offset := range []int{loROMHeader, hiROMHeader} {
		if offset+headerSize > len(b) {
			continue
		}
		raw := b[offset : offset+headerSize]

		h := &Header{
			Title:      title(raw[:titleSize]),
			MapMode:    raw[21],
			Type:       raw[22],
			ROMSize:    raw[23],
			SRAMSize:   raw[24],
			Complement: binary.LittleEndian.Uint16(raw[28:]),
			Checksum:   binary.LittleEndian.Uint16(raw[30:]),
			Offset:     offset,
		}
		if h.Checksum^h.Complement == 0xffff {
			return h, nil
		}
	}
	return nil, errNoHeader
}

// title replaces anything outside printable ASCII with a space, one byte at a
// time so every column keeps its position
func title(b []byte) string {
	var t [titleSize]byte
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			c = ' '
		}
		t[i] = c
	}
	return strings.TrimRight(string(t[:len(b)]), " ")
}

// VerifyChecksum recomputes the cartridge checksum and compares it with the
// one stored in the internal header
func (r *ROM) VerifyChecksum() (bool, error) {
	h, err := r.Header()
	if err != nil {
		return false, err
	}
	return checksum.Checksum(r.Bytes()) == h.Checksum, nil
}
