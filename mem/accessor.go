package mem

import (
	"io"
	"os"
	"sync"

	"github.com/ardnew/cxlfab/pkg"
)

// Accessor defines the backing-store interface for DRAM or device
// memory. Implementations provide byte-addressable read/write; callers
// (DCOH, Home Agent) are responsible for 64-byte alignment where the
// protocol requires it.
type Accessor interface {
	// Size returns the total addressable capacity in bytes.
	Size() uint64

	// ReadAt reads len(buf) bytes starting at offset into buf.
	ReadAt(offset uint64, buf []byte) error

	// WriteAt writes buf to the backing store starting at offset.
	WriteAt(offset uint64, buf []byte) error

	// Sync flushes any buffered writes to stable storage, if applicable.
	Sync() error

	// Close releases any resources held by the accessor.
	Close() error
}

// Memory implements Accessor with an in-process byte slice.
type Memory struct {
	data  []byte
	mutex sync.RWMutex
}

// NewMemory allocates a zero-filled in-memory accessor of the given size.
func NewMemory(size uint64) *Memory {
	return &Memory{data: make([]byte, size)}
}

// Size implements [Accessor].
func (m *Memory) Size() uint64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return uint64(len(m.data))
}

// ReadAt implements [Accessor].
func (m *Memory) ReadAt(offset uint64, buf []byte) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if offset+uint64(len(buf)) > uint64(len(m.data)) {
		return pkg.ErrOutOfBounds
	}
	copy(buf, m.data[offset:offset+uint64(len(buf))])
	return nil
}

// WriteAt implements [Accessor].
func (m *Memory) WriteAt(offset uint64, buf []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if offset+uint64(len(buf)) > uint64(len(m.data)) {
		return pkg.ErrOutOfBounds
	}
	copy(m.data[offset:offset+uint64(len(buf))], buf)
	return nil
}

// Sync is a no-op for in-memory storage.
func (m *Memory) Sync() error { return nil }

// Close is a no-op for in-memory storage.
func (m *Memory) Close() error { return nil }

// File implements Accessor backed by an OS file, used when a device's
// memory image should persist across process restarts.
type File struct {
	file  *os.File
	size  uint64
	mutex sync.RWMutex
}

// NewFile opens (or creates, sized to capacity) a file-backed accessor.
func NewFile(path string, capacity uint64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(capacity)); err != nil {
		f.Close()
		return nil, err
	}
	return &File{file: f, size: capacity}, nil
}

// Size implements [Accessor].
func (f *File) Size() uint64 {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.size
}

// ReadAt implements [Accessor].
func (f *File) ReadAt(offset uint64, buf []byte) error {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	if offset+uint64(len(buf)) > f.size {
		return pkg.ErrOutOfBounds
	}
	n, err := f.file.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return pkg.ErrBackendIO
	}
	if n < len(buf) {
		return pkg.ErrBackendIO
	}
	return nil
}

// WriteAt implements [Accessor].
func (f *File) WriteAt(offset uint64, buf []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if offset+uint64(len(buf)) > f.size {
		return pkg.ErrOutOfBounds
	}
	if _, err := f.file.WriteAt(buf, int64(offset)); err != nil {
		return pkg.ErrBackendIO
	}
	return nil
}

// Sync implements [Accessor].
func (f *File) Sync() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.file.Sync()
}

// Close implements [Accessor].
func (f *File) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.file.Close()
}
