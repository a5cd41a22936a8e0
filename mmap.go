package cqf

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// MMapRegion owns a single contiguous memory region backing a filter: the
// Metadata header followed immediately by the block array, either
// anonymous (process-private, vanishes with the filter) or backed by an
// open file (persists across runs, shared with the OS page cache).
type MMapRegion struct {
	data   []byte
	file   *os.File
	closed bool
}

// newAnonRegion maps a private, zero-filled region of the given size, not
// backed by any file.
func newAnonRegion(size uint64) (*MMapRegion, error) {
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("%w: anonymous mmap: %v", ErrMmapError, err)
	}
	r := &MMapRegion{data: data}
	runtime.SetFinalizer(r, (*MMapRegion).Close)
	return r, nil
}

// newFileRegion creates (or truncates) the file at path to exactly size
// bytes and maps it MAP_SHARED so writes are visible to other mappers and
// persist to disk.
func newFileRegion(path string, size uint64) (*MMapRegion, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrFileError, path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: truncate %s: %v", ErrFileError, path, err)
	}
	return mapOpenFile(f, size)
}

// openFileRegion opens an existing file at path and maps the first size
// bytes of it read-write.
func openFileRegion(path string, size uint64) (*MMapRegion, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrFileError, path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrFileError, path, err)
	}
	if uint64(info.Size()) < size {
		f.Close()
		return nil, fmt.Errorf("%w: %s is smaller than its own header claims", ErrInvalidFile, path)
	}
	return mapOpenFile(f, size)
}

func mapOpenFile(f *os.File, size uint64) (*MMapRegion, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrMmapError, f.Name(), err)
	}
	r := &MMapRegion{data: data, file: f}
	runtime.SetFinalizer(r, (*MMapRegion).Close)
	return r, nil
}

// Bytes returns the mapped region.
func (r *MMapRegion) Bytes() []byte { return r.data }

// Close unmaps the region and, for file-backed regions, closes the
// underlying file descriptor. Safe to call more than once.
func (r *MMapRegion) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	runtime.SetFinalizer(r, nil)
	var err error
	if r.data != nil {
		err = unix.Munmap(r.data)
		r.data = nil
	}
	if r.file != nil {
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMmapError, err)
	}
	return nil
}
