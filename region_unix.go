//go:build unix

package durablemap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// region is a growable, byte-addressed memory-mapped file. Two instances back
// every Map: one for the bucket array, one for the entry array. Growth is
// truncate-then-remap: there is no in-place mremap here (portable across the
// unix targets this package supports), so Grow always drops and re-establishes
// the mapping. The newly extended file tail is guaranteed zero-filled by the
// OS, which is what lets the +1 bucket/free-list bias skip any initialisation
// pass on both first creation and later growth.
type region struct {
	file *os.File
	data []byte
}

// openRegion opens (creating if necessary) the file at path and maps at least
// minSize bytes into memory, growing the file first if it is smaller.
func openRegion(path string, minSize int) (*region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	r := &region{file: f}
	if err := r.ensureSize(minSize); err != nil {
		f.Close()
		return nil, err
	}
	if err := r.mmap(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *region) size() int { return len(r.data) }

func (r *region) ensureSize(minSize int) error {
	fi, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if fi.Size() >= int64(minSize) {
		return nil
	}
	if err := r.file.Truncate(int64(minSize)); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

func (r *region) mmap() error {
	fi, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	data, err := unix.Mmap(int(r.file.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	r.data = data
	return nil
}

func (r *region) munmap() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

// grow extends the backing file to newSize and re-establishes the mapping.
// newSize must be >= the current size; shrinking is never required by this
// map's growth-only generational scheme.
func (r *region) grow(newSize int) error {
	if newSize <= r.size() {
		return nil
	}
	if err := r.munmap(); err != nil {
		return fmt.Errorf("munmap before grow: %w", err)
	}
	if err := r.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("truncate to %d: %w", newSize, err)
	}
	return r.mmap()
}

// sync flushes dirty pages to the backing file. Not required for correctness
// of the crash-recovery protocol (which tolerates torn writes by design), but
// offered for callers who want a best-effort durability point, e.g. before a
// planned shutdown.
func (r *region) sync() error {
	if r.data == nil {
		return nil
	}
	return unix.Msync(r.data, unix.MS_SYNC)
}

func (r *region) close() error {
	munmapErr := r.munmap()
	closeErr := r.file.Close()
	if munmapErr != nil {
		return munmapErr
	}
	return closeErr
}
