/*
Package checksum implements the 16-bit cartridge checksum stored in the
internal header of Super Nintendo ROM images.

The checksum is the sum of every byte in the image, truncated to 16 bits. An
image whose size is not a power of two is treated as if the remainder above the
largest power of two were mirrored until it fills the same size again, which is
how the cartridge hardware presents it.
*/
package checksum

import "hash"

// Size of a checksum in bytes
const Size = 2

// Hash16 is the common interface implemented by 16-bit hash functions
type Hash16 interface {
	hash.Hash
	Sum16() uint16
}

type digest struct {
	sum uint16
}

// New creates a new Hash16 computing the plain byte sum. Its Sum method will
// lay the value out in little-endian byte order as it is stored in the
// header. It does not perform mirroring; use Checksum for a complete image.
func New() Hash16 {
	return &digest{}
}

func (d *digest) Size() int { return Size }

func (d *digest) BlockSize() int { return 1 }

func (d *digest) Reset() { d.sum = 0 }

func update(sum uint16, p []byte) uint16 {
	for _, b := range p {
		sum += uint16(b)
	}
	return sum
}

// Update returns the result of adding the bytes in p to the sum
func Update(sum uint16, p []byte) uint16 {
	return update(sum, p)
}

func (d *digest) Write(p []byte) (n int, err error) {
	d.sum = update(d.sum, p)
	return len(p), nil
}

func (d *digest) Sum16() uint16 { return d.sum }

func (d *digest) Sum(in []byte) []byte {
	s := d.Sum16()
	return append(in, byte(s), byte(s>>8))
}

func largestPowerOfTwo(n int) int {
	p := 1
	for p<<1 <= n {
		p <<= 1
	}
	return p
}

// Checksum returns the cartridge checksum of a complete image, applying
// mirroring if the size is not a power of two
func Checksum(data []byte) uint16 {
	if len(data) == 0 {
		return 0
	}

	base := largestPowerOfTwo(len(data))
	sum := update(0, data[:base])

	if rest := data[base:]; len(rest) > 0 {
		mirror := update(0, rest)
		for i := 0; i < base/largestPowerOfTwo(len(rest)); i++ {
			sum += mirror
		}
	}

	return sum
}
