package mem

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryReadWriteRoundTrip(t *testing.T) {
	m := NewMemory(4096)
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	require.NoError(t, m.WriteAt(64, want))

	got := make([]byte, 4)
	require.NoError(t, m.ReadAt(64, got))
	assert.Equal(t, want, got)
}

func TestMemoryOutOfBounds(t *testing.T) {
	m := NewMemory(128)
	assert.Error(t, m.ReadAt(120, make([]byte, 16)))
	assert.Error(t, m.WriteAt(120, make([]byte, 16)))
}

func TestFileReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.img")
	f, err := NewFile(path, 4096)
	require.NoError(t, err)
	defer f.Close()

	want := []byte{1, 2, 3, 4}
	require.NoError(t, f.WriteAt(0, want))
	require.NoError(t, f.Sync())

	got := make([]byte, 4)
	require.NoError(t, f.ReadAt(0, got))
	assert.Equal(t, want, got)
}

func TestFileOutOfBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.img")
	f, err := NewFile(path, 64)
	require.NoError(t, err)
	defer f.Close()

	assert.Error(t, f.ReadAt(60, make([]byte, 16)))
}
