// Package process implements process teardown (spec.md §4.6) plus the
// per-process address-space handle, fd table, and mmap bookkeeping that
// the syscall dispatcher needs. Teardown order is grounded on
// original_source/src/vm/page.c's free_spte/destroy_spt/free_spte_mmap;
// the fd table is grounded on the teacher's fd.Fd_t
// (MAX_FILES-shaped fixed array access), trimmed of the directory/cwd
// machinery this module has no use for (spec.md §6.2's directory calls
// are stubs that terminate the caller).
package process

import (
	"sync"

	"govmcore/defs"
	"govmcore/fault"
	"govmcore/fd"
	"govmcore/frame"
	"govmcore/fsio"
	"govmcore/mem"
	"govmcore/metrics"
	"govmcore/pagedir"
	"govmcore/spt"
	"govmcore/swap"
)

// MaxFiles is the per-process fd and mmap-id array size (spec.md §6.4).
const MaxFiles = 128

/// FileWriteBacker implements frame.WriteBacker for the process-global
/// frame table: since every spt.Entry already carries its own backing
/// *fsio.File and offset, writing it back needs no per-process state --
/// only the global file lock, acquired exactly once per write-back. When
/// called from eviction the frame-table lock is already held, the one
/// exception spec.md §5 allows to its file-lock-first order.
type FileWriteBacker struct {
	// Metrics is optional; nil disables reporting.
	Metrics *metrics.Counters
}

func (w FileWriteBacker) WriteBack(e *spt.Entry, data *mem.Bytepg_t) {
	fsio.Lock.Lock()
	defer fsio.Lock.Unlock()
	e.File.Write(data[:e.ReadBytes], e.Ofs)
	w.Metrics.IncWriteBack()
}

/// Lifecycle is the narrow process-lifecycle collaborator scdispatch
/// needs for exec/wait, out of scope per spec.md §1.
type Lifecycle interface {
	Exec(path string, args []string) (pid int, err defs.Err_t)
	Wait(pid int) (status int, err defs.Err_t)
	Exit(status int)
}

/// AddressSpace is one process's user-memory state: its SPT, hardware
/// page directory, fd table, and the frame/swap/file collaborators shared
/// with the rest of the system.
type AddressSpace struct {
	mu sync.Mutex

	Pid   int
	table *spt.Table
	dir   *pagedir.Dir

	frame    *frame.Table
	raw      mem.RawAllocator
	swapDev  *swap.Device
	resolver *fault.Resolver
	metrics  *metrics.Counters

	fds [MaxFiles]*fd.Fd_t
}

/// New constructs an address space sharing the given process-global frame
/// table, raw allocator, and swap device.
func New(pid int, ft *frame.Table, raw mem.RawAllocator, sw *swap.Device) *AddressSpace {
	as := &AddressSpace{
		Pid:     pid,
		table:   spt.New(),
		dir:     pagedir.New(),
		frame:   ft,
		raw:     raw,
		swapDev: sw,
	}
	as.resolver = &fault.Resolver{
		Table: as.table,
		Dir:   as.dir,
		Frame: ft,
		Raw:   raw,
		Swap:  sw,
		Owner: as,
	}
	return as
}

/// Dir implements frame.Owner: the frame table consults this to read
/// dirty/accessed bits during eviction (spec.md §3.3).
func (as *AddressSpace) Dir() *pagedir.Dir { return as.dir }

/// Table exposes the address space's SPT to the validator/dispatcher.
func (as *AddressSpace) Table() *spt.Table { return as.table }

/// Resolver exposes the fault resolver wired for this address space.
func (as *AddressSpace) Resolver() *fault.Resolver { return as.resolver }

/// SetMetrics wires m into this address space's fault resolver, so page
/// faults it resolves are counted. Optional: an AddressSpace with no
/// SetMetrics call simply reports nothing (fault.Resolver.Metrics is
/// nil-safe).
func (as *AddressSpace) SetMetrics(m *metrics.Counters) {
	as.metrics = m
	as.resolver.Metrics = m
}

/// AllocFd installs f in the first free fd slot at or above 2 (0 and 1 are
/// reserved for stdin/stdout per spec.md §6.2) and returns its number, or
/// -1 if the table is full (spec.md §7: "Exhausted fd table... return -1;
/// process continues").
func (as *AddressSpace) AllocFd(f *fd.Fd_t) int {
	as.mu.Lock()
	defer as.mu.Unlock()
	for i := 2; i < MaxFiles; i++ {
		if as.fds[i] == nil {
			as.fds[i] = f
			return i
		}
	}
	return -1
}

/// Fd returns the descriptor at num, or nil if invalid/unopened.
func (as *AddressSpace) Fd(num int) *fd.Fd_t {
	if num < 0 || num >= MaxFiles {
		return nil
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.fds[num]
}

/// CloseFd releases fd slot num.
func (as *AddressSpace) CloseFd(num int) defs.Err_t {
	if num < 2 || num >= MaxFiles {
		return -defs.EBADF
	}
	as.mu.Lock()
	f := as.fds[num]
	as.fds[num] = nil
	as.mu.Unlock()
	if f == nil {
		return -defs.EBADF
	}
	return f.Fops.Close()
}

// writeBack flushes e's current frame contents to its backing file,
// matching spec.md §3.2 invariant 5 (MMAP dirty evictions write back
// read_bytes at ofs); used directly by Teardown/Munmap, which are not
// already holding the frame-table lock the way frame.Table.evict is.
func (as *AddressSpace) writeBack(e *spt.Entry, data *mem.Bytepg_t) {
	FileWriteBacker{Metrics: as.metrics}.WriteBack(e, data)
}

/// Mmap installs MMAP SPTEs for file covering length bytes at upage and
/// returns an mmap id, or -1 on collision (spec.md §4.1 install_mmap,
/// §7 "SPT target page already mapped").
func (as *AddressSpace) Mmap(file *fsio.File, upage uintptr, length int) int {
	id, ok := as.table.InstallMmap(file, upage, length)
	if !ok {
		return -1
	}
	return id
}

/// Munmap implements spec.md §4.6's munmap(id): unmap exactly the range
/// of MMAP SPTEs created by the matching mmap call, flushing dirty pages
/// and releasing frames/swap slots as teardown does.
func (as *AddressSpace) Munmap(id int) {
	for _, e := range as.table.MmapEntries(id) {
		as.releaseEntry(e)
		as.table.Remove(e.Upage)
	}
}

// releaseEntry implements the per-entry disposal shared by Teardown and
// Munmap (spec.md §4.6 step 1): write back if dirty and file-backed,
// clear the hardware mapping and free the frame if resident, release the
// swap slot if swapped out.
func (as *AddressSpace) releaseEntry(e *spt.Entry) {
	e.Lock()
	defer e.Unlock()

	fileWritable := e.Present && e.Kind == spt.KindFile && as.dir.Writable(e.Upage)
	dirtyWriteBack := (e.Kind == spt.KindMmap || fileWritable) && e.Present && as.dir.Dirty(e.Upage)
	if dirtyWriteBack {
		data := as.raw.Bytes(e.Frame)
		as.writeBack(e, data)
	}

	if e.Present {
		as.dir.Unmap(e.Upage)
		as.frame.Free(e.Frame)
		e.Present = false
	}

	if e.InSwap {
		as.swapDev.Release(e.SwapIdx)
		e.InSwap = false
	}
}

/// Teardown implements spec.md §4.6: on process exit, release every SPTE
/// (in unspecified order) and then destroy the SPT container.
func (as *AddressSpace) Teardown() {
	for _, e := range as.table.All() {
		as.releaseEntry(e)
	}
	as.table.DestroyAll()

	as.mu.Lock()
	for i, f := range as.fds {
		if f != nil {
			fd.Close_panic(f)
			as.fds[i] = nil
		}
	}
	as.mu.Unlock()
}
