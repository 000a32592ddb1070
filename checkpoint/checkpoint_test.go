package checkpoint

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCheckpoint() *Checkpoint {
	return &Checkpoint{
		Checksum:   "0123456789ABCDEF0123456789ABCDEF01234567",
		RangeStart: 0x8000,
		RangeEnd:   0x100000,
		Step:       0x10,
		MinQuality: 0.5,
		NextOffset: 0x48000,
		Locations: []Location{
			{Offset: 0x8200, CompressedSize: 0x340, DecompressedSize: 0x800, Quality: 0.85},
			{Offset: 0x9000, CompressedSize: 0x120, DecompressedSize: 0x200, Quality: 0.6},
		},
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	c := testCheckpoint()

	b, err := c.MarshalBinary()
	require.NoError(t, err)

	var got Checkpoint
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, *c, got)
}

func TestUnmarshalErrors(t *testing.T) {
	b, err := testCheckpoint().MarshalBinary()
	require.NoError(t, err)

	var c Checkpoint

	bad := append([]byte{}, b...)
	bad[0] = 'X'
	assert.Equal(t, errBadMagic, c.UnmarshalBinary(bad))

	bad = append([]byte{}, b...)
	bad[4] = 2
	assert.Equal(t, errBadVersion, c.UnmarshalBinary(bad))

	assert.Equal(t, errTrailing, c.UnmarshalBinary(append(append([]byte{}, b...), 0)))
	assert.Error(t, c.UnmarshalBinary(b[:len(b)-1]))
	assert.Error(t, c.UnmarshalBinary(b[:10]))
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "scan"+Extension)

	c := testCheckpoint()
	require.NoError(t, Write(file, c))

	// Overwrite with fewer locations
	c.Locations = c.Locations[:1]
	c.NextOffset = 0x50000
	require.NoError(t, Write(file, c))

	got, err := Read(file)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	// No temporary files left behind
	files, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestReadMissing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing"+Extension))
	assert.True(t, os.IsNotExist(err))
}
