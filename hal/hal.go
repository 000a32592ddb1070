/*
Package hal implements a decoder for the LZ-style compression used by HAL
Laboratory titles on the Super Nintendo.

A compressed stream is a sequence of commands, each introduced by a control
byte, and is terminated by a single 0xFF byte. The top three bits of a control
byte select the command and the remaining five bits, plus one, give the length.
If the top three bits are all set then the command uses the long form; bits 2
to 4 select the command and the length is ten bits wide, the lower eight of
which are in the following byte.

Back-references address the output buffer with an absolute 16-bit big-endian
position rather than a relative distance, so a single stream can never decode
to more than 64 KiB.
*/
package hal

import (
	"fmt"
	"math/bits"
)

const (
	// MaxSize is the largest buffer a single stream can decode to
	MaxSize = 0x10000

	terminator = 0xff
	longForm   = 0xe0
)

const (
	cmdLiteral = iota
	cmdFill
	cmdWordFill
	cmdIncrement
	cmdCopy
	cmdCopyReversed
	cmdCopyBackwards
)

var reversed [256]byte

func init() {
	for i := range reversed {
		reversed[i] = bits.Reverse8(byte(i))
	}
}

// Block describes where a compressed stream started in the source and how
// many source bytes it occupied, including the terminator
type Block struct {
	Offset   int
	Consumed int
}

// DecompressionError is returned for a malformed stream. Offset is the source
// position of the control byte being processed when decoding failed.
type DecompressionError struct {
	Offset int
	Reason string
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("hal: %s at offset %#x", e.Reason, e.Offset)
}

type decoder struct {
	src   []byte
	pos   int
	start int // position of the current control byte
	out   []byte
	limit int
}

func (d *decoder) fail(format string, a ...interface{}) error {
	return &DecompressionError{
		Offset: d.start,
		Reason: fmt.Sprintf(format, a...),
	}
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.src) {
		return 0, d.fail("source exhausted before terminator")
	}
	b := d.src[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readBytes(n int) ([]byte, error) {
	if d.pos+n > len(d.src) {
		return nil, d.fail("source exhausted before terminator")
	}
	b := d.src[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) readAddress() (int, error) {
	b, err := d.readBytes(2)
	if err != nil {
		return 0, err
	}
	return int(b[0])<<8 | int(b[1]), nil
}

func (d *decoder) grow(n int) error {
	if len(d.out)+n > MaxSize {
		return d.fail("output exceeds %d bytes", MaxSize)
	}
	return nil
}

// command reads a control byte and returns the command and its length. done
// is set if the control byte was the terminator.
func (d *decoder) command() (cmd, length int, done bool, err error) {
	d.start = d.pos

	b, err := d.readByte()
	if err != nil {
		return 0, 0, false, err
	}

	switch {
	case b == terminator:
		return 0, 0, true, nil
	case b&longForm == longForm:
		cmd = int(b>>2) & 0x07
		lo, err := d.readByte()
		if err != nil {
			return 0, 0, false, err
		}
		length = (int(b&0x03)<<8 | int(lo)) + 1
	default:
		cmd = int(b >> 5)
		length = int(b&0x1f) + 1
	}

	return cmd, length, false, nil
}

func (d *decoder) step(cmd, length int) error {
	switch cmd {
	case cmdLiteral:
		b, err := d.readBytes(length)
		if err != nil {
			return err
		}
		if err := d.grow(length); err != nil {
			return err
		}
		d.out = append(d.out, b...)
	case cmdFill:
		v, err := d.readByte()
		if err != nil {
			return err
		}
		if err := d.grow(length); err != nil {
			return err
		}
		for i := 0; i < length; i++ {
			d.out = append(d.out, v)
		}
	case cmdWordFill:
		v, err := d.readBytes(2)
		if err != nil {
			return err
		}
		if err := d.grow(length << 1); err != nil {
			return err
		}
		for i := 0; i < length; i++ {
			d.out = append(d.out, v[0], v[1])
		}
	case cmdIncrement:
		v, err := d.readByte()
		if err != nil {
			return err
		}
		if err := d.grow(length); err != nil {
			return err
		}
		for i := 0; i < length; i++ {
			d.out = append(d.out, v+byte(i))
		}
	case cmdCopy, cmdCopyReversed:
		addr, err := d.readAddress()
		if err != nil {
			return err
		}
		if addr >= len(d.out) {
			return d.fail("back-reference to %#x beyond output length %#x", addr, len(d.out))
		}
		if err := d.grow(length); err != nil {
			return err
		}
		// Byte at a time as the source may overlap what is being written
		for i := 0; i < length; i++ {
			v := d.out[addr+i]
			if cmd == cmdCopyReversed {
				v = reversed[v]
			}
			d.out = append(d.out, v)
		}
	case cmdCopyBackwards:
		addr, err := d.readAddress()
		if err != nil {
			return err
		}
		if addr >= len(d.out) {
			return d.fail("back-reference to %#x beyond output length %#x", addr, len(d.out))
		}
		if addr-(length-1) < 0 {
			return d.fail("backwards reference from %#x of %d bytes runs before start of output", addr, length)
		}
		if err := d.grow(length); err != nil {
			return err
		}
		for i := 0; i < length; i++ {
			d.out = append(d.out, d.out[addr-i])
		}
	default:
		return d.fail("unrecognised command %d", cmd)
	}

	return nil
}

// Decompress decodes the stream found at offset in src. If sizeHint is
// greater than zero decoding stops once that many bytes have been produced
// and the output is truncated to sizeHint. The returned Block reports how
// many source bytes were read.
func Decompress(src []byte, offset, sizeHint int) (Block, []byte, error) {
	if offset < 0 || offset >= len(src) {
		return Block{}, nil, &DecompressionError{
			Offset: offset,
			Reason: fmt.Sprintf("offset outside source of %d bytes", len(src)),
		}
	}

	d := decoder{
		src:   src,
		pos:   offset,
		start: offset,
		limit: sizeHint,
	}

	for {
		cmd, length, done, err := d.command()
		if err != nil {
			return Block{}, nil, err
		}
		if done {
			break
		}
		if err := d.step(cmd, length); err != nil {
			return Block{}, nil, err
		}
		if d.limit > 0 && len(d.out) >= d.limit {
			d.out = d.out[:d.limit]
			break
		}
	}

	return Block{
		Offset:   offset,
		Consumed: d.pos - offset,
	}, d.out, nil
}
