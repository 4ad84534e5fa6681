// Package pagedir simulates the hardware page directory (spec.md §1's
// pagedir_*: map, unmap, dirty, accessed bits) -- an external collaborator
// the core only consumes. There is no MMU behind it: a per-process Dir is a
// plain map from user page number to mem.Pa_t plus a permission/dirty/
// accessed bit set, the narrowest stand-in that still lets frame's clock
// algorithm read real dirty/accessed bits (spec.md §4.3.1).
package pagedir

import (
	"sync"

	"govmcore/mem"
)

/// Dir is one process's simulated page directory.
type Dir struct {
	mu      sync.Mutex
	entries map[uintptr]*entry
}

type entry struct {
	frame    mem.Pa_t
	writable bool
	dirty    bool
	accessed bool
}

/// New returns an empty page directory.
func New() *Dir {
	return &Dir{entries: make(map[uintptr]*entry)}
}

/// Map installs upage -> frame with the given write permission. It clears
/// dirty/accessed, matching a freshly loaded hardware PTE.
func (d *Dir) Map(upage uintptr, frame mem.Pa_t, writable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[upage] = &entry{frame: frame, writable: writable}
}

/// Unmap clears the mapping for upage, if any.
func (d *Dir) Unmap(upage uintptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, upage)
}

/// IsMapped reports whether upage currently has a hardware mapping, and if
/// so, to which frame.
func (d *Dir) IsMapped(upage uintptr) (mem.Pa_t, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[upage]
	if !ok {
		return 0, false
	}
	return e.frame, true
}

/// Dirty reports the simulated hardware dirty bit for upage.
func (d *Dir) Dirty(upage uintptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[upage]
	return ok && e.dirty
}

/// Accessed reports the simulated hardware accessed bit for upage.
func (d *Dir) Accessed(upage uintptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[upage]
	return ok && e.accessed
}

/// ClearAccessed resets the accessed bit, as the clock algorithm's second
/// phase does to demote a 1x class to 0x.
func (d *Dir) ClearAccessed(upage uintptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[upage]; ok {
		e.accessed = false
	}
}

/// ClearDirty resets the dirty bit after a write-back.
func (d *Dir) ClearDirty(upage uintptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[upage]; ok {
		e.dirty = false
	}
}

/// Touch simulates a user access to upage: read-only accesses set the
/// accessed bit, writes set both dirty and accessed. It is how tests and
/// the fault-free "steady state" of a process drive the hardware bits that
/// the clock algorithm reads.
func (d *Dir) Touch(upage uintptr, write bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[upage]
	if !ok {
		return
	}
	e.accessed = true
	if write {
		if !e.writable {
			panic("pagedir: write to read-only mapping")
		}
		e.dirty = true
	}
}

/// Writable reports whether upage's hardware mapping permits writes.
func (d *Dir) Writable(upage uintptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[upage]
	return ok && e.writable
}
