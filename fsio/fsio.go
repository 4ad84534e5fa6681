// Package fsio stands in for the file-system interface spec.md §1 treats
// as an external collaborator (file_read, file_write_at, file_length,
// file_seek, file_reopen) plus the single global file lock spec.md §5
// requires ahead of the frame-table lock in acquisition order. There is no
// real disk: File wraps an in-memory byte buffer, grounded on the
// teacher's Fdops_i-backed Fd_t (fd/fd.go) for the read/write/reopen
// surface shape.
package fsio

import (
	"sync"

	"govmcore/defs"
)

/// Lock is the single global mutex protecting every call into the
/// file-system interface (spec.md §5 item 1). It is exported, not
/// package-private, because eviction's write-back and syscalls both need
/// to acquire it and the required order (file lock, then frame-table
/// lock) is enforced by the order callers take these two locks, not by
/// the types themselves.
var Lock sync.Mutex

/// File is an in-memory file fixture implementing fd.Fdops_i. Production
/// code would back this with a real on-disk inode; the fixture covers
/// file_read/file_write_at/file_length/file_reopen. It has no file_seek
/// counterpart: Read and Write each take an explicit offset.
type File struct {
	mu   sync.Mutex
	name string
	data []byte
}

/// NewFile creates a file fixture with the given initial contents.
func NewFile(name string, contents []byte) *File {
	f := &File{name: name, data: append([]byte(nil), contents...)}
	return f
}

/// Read implements fd.Fdops_i: it copies min(len(dst), Length()-offset)
/// bytes starting at offset into dst, mirroring the original's
/// file_read_at short-read behavior used by the fault resolver (spec.md
/// §4.2 FILE case: "on read short-count, fail").
func (f *File) Read(dst []uint8, offset int) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset < 0 || offset > len(f.data) {
		return 0, 0
	}
	n := copy(dst, f.data[offset:])
	return n, 0
}

/// Write implements fd.Fdops_i: file_write_at. Writing past the current
/// end of file grows it, matching a conventional POSIX file rather than a
/// fixed-size device.
func (f *File) Write(src []uint8, offset int) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset < 0 {
		return 0, -defs.EINVAL
	}
	need := offset + len(src)
	if need > len(f.data) {
		grown := make([]byte, need)
		copy(grown, f.data)
		f.data = grown
	}
	n := copy(f.data[offset:], src)
	return n, 0
}

/// Length returns the file's current size in bytes (file_length).
func (f *File) Length() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

/// Snapshot returns a copy of the file's current bytes, for tests
/// checking executable-integrity and mmap write-back (spec.md §8
/// properties 5 and 6).
func (f *File) Snapshot() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.data...)
}

/// Close is a no-op for the in-memory fixture; real close accounting
/// lives in the per-process fd table (package process).
func (f *File) Close() defs.Err_t { return 0 }

/// Reopen mirrors file_reopen for the fd.Fdops_i surface. The in-memory
/// fixture keeps no per-handle state, so it does nothing and always
/// returns success; it does not return a new handle.
func (f *File) Reopen() defs.Err_t { return 0 }
