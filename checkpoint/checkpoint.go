/*
Package checkpoint implements the small binary record written when a scan of a
ROM image is interrupted, so that the scan can later be resumed without
repeating the offsets already covered.

The record starts with a four byte magic and a version, followed by the ROM
checksum, the scan parameters, the offset to resume from and finally every
candidate accepted below that offset, overlapping or not. All integers are little-endian.
*/
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
)

const (
	// Extension is the expected filename extension used when writing to disk
	Extension = ".ckpt"

	version      = 1
	maxChecksum  = 0xff
	maxLocations = 1 << 20
)

var magic = [4]byte{'S', 'S', 'C', 'K'}

var (
	errBadMagic     = errors.New("checkpoint: bad magic")
	errBadVersion   = errors.New("checkpoint: unsupported version")
	errTrailing     = errors.New("checkpoint: trailing data")
	errInsufficient = errors.New("checkpoint: insufficient data")
)

// Location is a candidate accepted before the scan was interrupted
type Location struct {
	Offset           uint32
	CompressedSize   uint32
	DecompressedSize uint32
	Quality          float64
}

// Checkpoint is an interrupted scan. It implements the
// encoding.BinaryMarshaler and encoding.BinaryUnmarshaler interfaces.
type Checkpoint struct {
	Checksum   string
	RangeStart uint32
	RangeEnd   uint32
	Step       uint32
	MinQuality float64
	NextOffset uint32
	Locations  []Location
}

type header struct {
	Magic      [4]byte
	Version    uint16
	RangeStart uint32
	RangeEnd   uint32
	Step       uint32
	MinQuality float64
	NextOffset uint32
	Count      uint32
}

// MarshalBinary encodes the checkpoint into binary form and returns the result
func (c *Checkpoint) MarshalBinary() ([]byte, error) {
	if len(c.Checksum) > maxChecksum {
		return nil, fmt.Errorf("checkpoint: checksum longer than %d bytes", maxChecksum)
	}
	if len(c.Locations) > maxLocations {
		return nil, fmt.Errorf("checkpoint: more than %d locations", maxLocations)
	}

	b := new(bytes.Buffer)

	h := header{
		Magic:      magic,
		Version:    version,
		RangeStart: c.RangeStart,
		RangeEnd:   c.RangeEnd,
		Step:       c.Step,
		MinQuality: c.MinQuality,
		NextOffset: c.NextOffset,
		Count:      uint32(len(c.Locations)),
	}
	if err := binary.Write(b, binary.LittleEndian, &h); err != nil {
		return nil, err
	}

	// Length-prefixed checksum
	if err := b.WriteByte(byte(len(c.Checksum))); err != nil {
		return nil, err
	}
	if _, err := b.WriteString(c.Checksum); err != nil {
		return nil, err
	}

	if len(c.Locations) > 0 {
		if err := binary.Write(b, binary.LittleEndian, c.Locations); err != nil {
			return nil, err
		}
	}

	return b.Bytes(), nil
}

// UnmarshalBinary decodes the checkpoint from binary form
func (c *Checkpoint) UnmarshalBinary(b []byte) error {
	r := bytes.NewReader(b)

	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return err
	}
	if h.Magic != magic {
		return errBadMagic
	}
	if h.Version != version {
		return errBadVersion
	}
	if h.Count > maxLocations {
		return fmt.Errorf("checkpoint: more than %d locations", maxLocations)
	}

	n, err := r.ReadByte()
	if err != nil {
		return err
	}
	checksum := make([]byte, n)
	if _, err := io.ReadFull(r, checksum); err != nil {
		return errInsufficient
	}

	var locations []Location
	if h.Count > 0 {
		locations = make([]Location, h.Count)
		if err := binary.Read(r, binary.LittleEndian, locations); err != nil {
			return err
		}
	}

	if r.Len() > 0 {
		return errTrailing
	}

	*c = Checkpoint{
		Checksum:   string(checksum),
		RangeStart: h.RangeStart,
		RangeEnd:   h.RangeEnd,
		Step:       h.Step,
		MinQuality: h.MinQuality,
		NextOffset: h.NextOffset,
		Locations:  locations,
	}

	return nil
}

// Write atomically replaces file with the encoded checkpoint by writing to a
// temporary file in the same directory and renaming it into place
func Write(file string, c *Checkpoint) (err error) {
	b, err := c.MarshalBinary()
	if err != nil {
		return err
	}

	f, err := ioutil.TempFile(filepath.Dir(file), filepath.Base(file)+".tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(b); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}

	return os.Rename(f.Name(), file)
}

// Read loads a checkpoint from file
func Read(file string) (*Checkpoint, error) {
	b, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, err
	}

	c := new(Checkpoint)
	if err := c.UnmarshalBinary(b); err != nil {
		return nil, err
	}

	return c, nil
}
