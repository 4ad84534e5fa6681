// Package fd holds the per-process open-file-descriptor bookkeeping that
// sits above the memory-management core (spec.md §6.2's fixed-size fd
// array). The teacher's fdops/bpath/ustr path-walking machinery has no
// counterpart here: this module has no directory hierarchy, only the flat
// fsio.File namespace the fault resolver and mmap consult.
package fd

import "govmcore/defs"

/// Fd_t represents one open file descriptor slot.
type Fd_t struct {
	Fops  Fdops_i /// descriptor operations
	Perms int     /// permission bits
}

/// Fdops_i is the narrow set of operations a file descriptor needs to
/// support, grounded on the teacher's fdops.Fdops_i (an empty stub in the
/// retrieval pack) but authored here since this module's fsio.File is the
/// only implementer it ever needs.
type Fdops_i interface {
	Read(dst []uint8, offset int) (int, defs.Err_t)
	Write(src []uint8, offset int) (int, defs.Err_t)
	Close() defs.Err_t
	Reopen() defs.Err_t
	Length() int
}

// Fd permission bits.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

/// Close_panic closes the descriptor and panics on failure, matching the
/// teacher's convention for a close that must succeed (teardown paths).
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("fd: close must succeed")
	}
}
