package cqf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnonRegionIsZeroedAndWritable(t *testing.T) {
	r, err := newAnonRegion(4096)
	require.NoError(t, err)
	defer r.Close()

	data := r.Bytes()
	assert.Len(t, data, 4096)
	for _, b := range data {
		assert.Equal(t, byte(0), b)
	}
	data[0] = 0xAB
	assert.Equal(t, byte(0xAB), r.Bytes()[0])
}

func TestNewFileRegionPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.bin")
	r, err := newFileRegion(path, 4096)
	require.NoError(t, err)
	r.Bytes()[10] = 0x42
	require.NoError(t, r.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, info.Size())

	r2, err := openFileRegion(path, 4096)
	require.NoError(t, err)
	defer r2.Close()
	assert.Equal(t, byte(0x42), r2.Bytes()[10])
}

func TestOpenFileRegionRejectsUndersizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 10), 0o644))

	_, err := openFileRegion(path, 4096)
	assert.ErrorIs(t, err, ErrInvalidFile)
}

func TestOpenFileRegionMissingFile(t *testing.T) {
	_, err := openFileRegion(filepath.Join(t.TempDir(), "missing.bin"), 4096)
	assert.ErrorIs(t, err, ErrFileError)
}

func TestMMapRegionCloseIsIdempotent(t *testing.T) {
	r, err := newAnonRegion(4096)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}
