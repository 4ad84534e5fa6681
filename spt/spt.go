// Package spt implements the supplemental page table: the per-process
// record of every user-virtual page a process has promised exists,
// whether or not a physical frame currently backs it (spec.md §3.1-§3.2,
// §4.1). Grounded on original_source/src/vm/page.c's struct spt_entry and
// create_spte_*/uvaddr_to_spt_entry/destroy_spt. Table is a single map
// keyed by uintptr page number behind one sync.RWMutex, not the teacher's
// bucketed hashtable.Hashtable_t keyed by interface{} -- every lookup here
// is on the fault/validate hot path and boxing a page number on each call
// would be exactly the per-lookup allocation the teacher's own hash table
// exists to avoid.
package spt

import (
	"sync"

	"govmcore/fsio"
	"govmcore/mem"
	"govmcore/util"
)

/// Kind tags an SPTE's backing source (spec.md §3.1).
type Kind int

const (
	KindCode Kind = iota
	KindFile
	KindMmap
)

/// Entry is one supplemental page table entry (spec.md §3.2).
type Entry struct {
	mu sync.Mutex

	Upage uintptr
	Kind  Kind

	// residency
	Frame   mem.Pa_t
	Present bool
	Pinned  bool

	// swap backing (CODE only)
	InSwap  bool
	SwapIdx int

	// file/mmap backing
	File      *fsio.File
	Ofs       int
	ReadBytes int
	ZeroBytes int

	Writable bool

	// MmapID groups the MMAP entries created by one mmap call, so munmap
	// can walk exactly that range (spec.md §4.6).
	MmapID int
}

/// Lock serializes access to one entry's mutable fields (residency, pin,
/// swap state). The SPT itself needs no lock per spec.md §5 -- only one
/// process's threads ever touch its own entries -- but concurrent syscalls
/// within that process may race on the same page, so each entry still
/// gets its own mutex, matching the teacher's per-bucket (here:
/// per-entry) locking granularity.
func (e *Entry) Lock()   { e.mu.Lock() }
func (e *Entry) Unlock() { e.mu.Unlock() }

/// Table is the per-process supplemental page table.
type Table struct {
	mu      sync.RWMutex
	entries map[uintptr]*Entry
	nextID  int
}

/// New returns an empty supplemental page table.
func New() *Table {
	return &Table{entries: make(map[uintptr]*Entry)}
}

/// Lookup rounds addr down to a page and returns its SPTE, or nil if none
/// exists (spec.md §4.1 lookup(addr)).
func (t *Table) Lookup(addr uintptr) *Entry {
	upage := addr &^ uintptr(mem.PGOFFSET)
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[upage]
}

/// CreateCode installs an anonymous, zero-fill-on-install SPTE at upage
/// (spec.md §4.1 create_code(upage)). It returns false if upage is
/// already mapped (invariant 3: no two SPTEs share upage).
func (t *Table) CreateCode(upage uintptr) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[upage]; ok {
		return nil, false
	}
	e := &Entry{Upage: upage, Kind: KindCode, Writable: true}
	t.entries[upage] = e
	return e, true
}

/// InstallFile creates one SPTE per page covering readBytes+zeroBytes
/// bytes of file starting at ofs, the last page zero-padded (spec.md
/// §4.1 install_file). upage and ofs must be page-aligned and
/// readBytes+zeroBytes a multiple of PGSIZE -- the constraint is the
/// caller's (program loader's) responsibility, mirroring
/// create_spte_file in original_source/src/vm/page.c.
func (t *Table) InstallFile(file *fsio.File, ofs int, upage uintptr, readBytes, zeroBytes int, writable bool) bool {
	if upage%uintptr(mem.PGSIZE) != 0 || ofs%mem.PGSIZE != 0 {
		panic("spt: InstallFile requires page-aligned upage/ofs")
	}
	if (readBytes+zeroBytes)%mem.PGSIZE != 0 {
		panic("spt: InstallFile requires a whole number of pages")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	total := readBytes + zeroBytes
	for off := 0; off < total; off += mem.PGSIZE {
		pg := upage + uintptr(off)
		if _, ok := t.entries[pg]; ok {
			return false
		}
	}

	for off := 0; off < total; off += mem.PGSIZE {
		pg := upage + uintptr(off)
		pageRead := readBytes - off
		if pageRead < 0 {
			pageRead = 0
		}
		pageRead = util.Min(pageRead, mem.PGSIZE)
		pageZero := mem.PGSIZE - pageRead
		t.entries[pg] = &Entry{
			Upage:     pg,
			Kind:      KindFile,
			File:      file,
			Ofs:       ofs + off,
			ReadBytes: pageRead,
			ZeroBytes: pageZero,
			Writable:  writable,
		}
	}
	return true
}

/// InstallMmap creates contiguous MMAP SPTEs covering
/// ceil(length/PGSIZE) pages starting at upage (spec.md §4.1
/// install_mmap). It fails atomically -- unwinding any entries already
/// created -- if any target page is already mapped, matching
/// create_spte_mmap's collision handling in
/// original_source/src/vm/page.c.
func (t *Table) InstallMmap(file *fsio.File, upage uintptr, length int) (id int, ok bool) {
	if upage%uintptr(mem.PGSIZE) != 0 {
		panic("spt: InstallMmap requires a page-aligned upage")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	npages := util.Roundup(length, mem.PGSIZE) / mem.PGSIZE
	created := make([]uintptr, 0, npages)
	for i := 0; i < npages; i++ {
		pg := upage + uintptr(i*mem.PGSIZE)
		if _, exists := t.entries[pg]; exists {
			for _, c := range created {
				delete(t.entries, c)
			}
			return 0, false
		}
		readBytes := util.Min(length-i*mem.PGSIZE, mem.PGSIZE)
		t.entries[pg] = &Entry{
			Upage:     pg,
			Kind:      KindMmap,
			File:      file,
			Ofs:       i * mem.PGSIZE,
			ReadBytes: readBytes,
			ZeroBytes: mem.PGSIZE - readBytes,
			Writable:  true,
			MmapID:    t.nextID,
		}
		created = append(created, pg)
	}
	id = t.nextID
	t.nextID++
	return id, true
}

/// Remove deletes the SPTE at upage, if any.
func (t *Table) Remove(upage uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, upage)
}

/// MmapEntries returns every SPTE belonging to mmap id, in ascending
/// offset order, for munmap to flush and release (spec.md §4.6).
func (t *Table) MmapEntries(id int) []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Entry
	for _, e := range t.entries {
		if e.Kind == KindMmap && e.MmapID == id {
			out = append(out, e)
		}
	}
	// stable order by offset so callers can walk the file sequentially.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Ofs < out[j-1].Ofs; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

/// All returns every entry currently in the table, for teardown (spec.md
/// §4.6 destroy_all) to iterate in unspecified order.
func (t *Table) All() []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

/// DestroyAll removes every entry from the table (spec.md §4.1
/// destroy_all). The caller (process.AddressSpace.Teardown) is
/// responsible for releasing each entry's frame/swap slot first.
func (t *Table) DestroyAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[uintptr]*Entry)
}
