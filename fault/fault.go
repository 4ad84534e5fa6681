// Package fault implements the fault resolver (spec.md §4.2): given a
// faulting user address and the faulting stack pointer, install a frame
// and return success, or reject so the caller can terminate the process.
// Grounded on the teacher's vm.Sys_pgfault (tagged-kind switch, defs.Err_t
// returns) for control-flow shape, and on
// original_source/src/vm/page.c's install_load_page/grow_stack for the
// exact per-kind mechanics.
package fault

import (
	"govmcore/defs"
	"govmcore/frame"
	"govmcore/fsio"
	"govmcore/mem"
	"govmcore/metrics"
	"govmcore/pagedir"
	"govmcore/spt"
	"govmcore/swap"
)

// Tunables (spec.md §6.4). Kept as package consts, matching the teacher's
// convention of const tunables rather than a config file.
const (
	MaxStackSize    = 8 * 1024 * 1024
	StackHeuristic  = 32
	PhysBase uintptr = 0xc0000000
)

/// Resolver ties together the collaborators the fault path needs: the
/// caller's SPT and page directory, the frame table, the swap device, and
/// the global file lock via fsio.Lock.
type Resolver struct {
	Table *spt.Table
	Dir   *pagedir.Dir
	Frame *frame.Table
	Raw   mem.RawAllocator
	Swap  *swap.Device
	Owner frame.Owner

	// Metrics is optional; nil disables reporting.
	Metrics *metrics.Counters
}

// Resolve implements the decision tree of spec.md §4.2:
//  1. look up the SPTE by page-rounded address;
//  2. if present, install per its kind (CODE/FILE/MMAP);
//  3. if absent but within the stack-growth heuristic window, create a
//     CODE SPTE and proceed as CODE;
//  4. otherwise fail.
//
// esp is the faulting thread's saved user stack pointer, used only for
// the stack-growth heuristic (case 3).
func (r *Resolver) Resolve(faultAddr, esp uintptr) defs.Err_t {
	e, err := r.LookupOrCreate(faultAddr, esp)
	if err != 0 {
		return err
	}
	return r.Install(e)
}

// LookupOrCreate implements steps 1 and 3 of Resolve's decision tree
// without installing a frame: find faultAddr's SPTE, or create one via the
// stack-growth heuristic if none exists. Split out from Resolve so a caller
// that must pin a page can do so between creation and installation
// (spec.md §4.5, §9 item 6: the original pins before install_load_page,
// not after).
func (r *Resolver) LookupOrCreate(faultAddr, esp uintptr) (*spt.Entry, defs.Err_t) {
	r.Metrics.IncFault()
	upage := faultAddr &^ uintptr(mem.PGOFFSET)

	e := r.Table.Lookup(upage)
	if e != nil {
		return e, 0
	}
	if !withinStackHeuristic(faultAddr, esp) {
		return nil, -defs.EFAULT
	}
	e, ok := r.Table.CreateCode(upage)
	if !ok {
		// lost a race with another fault on the same page; the other
		// fault will install it.
		e = r.Table.Lookup(upage)
		if e == nil {
			return nil, -defs.EFAULT
		}
	}
	return e, 0
}

// Install implements step 2 of Resolve's decision tree: bring e's SPTE
// kind into residency. Exported so a caller can pin e between
// LookupOrCreate and Install.
func (r *Resolver) Install(e *spt.Entry) defs.Err_t {
	return r.install(e)
}

// withinStackHeuristic implements spec.md §9 item 5: the comparison must
// use unsigned-address arithmetic to avoid wraparound at the low end of
// user space. faultAddr, esp and PhysBase are all uintptr (unsigned) by
// construction, so plain comparison already has the required semantics --
// there is no signed-to-unsigned cast to get wrong, unlike C's intptr_t.
func withinStackHeuristic(faultAddr, esp uintptr) bool {
	if faultAddr >= PhysBase {
		return false
	}
	var lowBound uintptr
	if esp >= StackHeuristic {
		lowBound = esp - StackHeuristic
	}
	if faultAddr < lowBound {
		return false
	}
	distanceFromTop := PhysBase - faultAddr
	return distanceFromTop <= MaxStackSize
}

func (r *Resolver) install(e *spt.Entry) defs.Err_t {
	e.Lock()
	defer e.Unlock()

	if e.Present {
		return 0
	}

	switch e.Kind {
	case spt.KindCode:
		return r.installCode(e)
	case spt.KindFile, spt.KindMmap:
		return r.installFileBacked(e)
	default:
		return -defs.EFAULT
	}
}

func (r *Resolver) installCode(e *spt.Entry) defs.Err_t {
	pa := r.Frame.Acquire(mem.PALUser|mem.PALZero, e, r.Owner)
	if e.InSwap {
		data := r.Raw.Bytes(pa)
		r.Swap.SwapIn(e.SwapIdx, data)
		e.InSwap = false
	}
	r.Dir.Map(e.Upage, pa, true)
	e.Frame = pa
	e.Present = true
	return 0
}

func (r *Resolver) installFileBacked(e *spt.Entry) defs.Err_t {
	pa := r.Frame.Acquire(mem.PALUser|mem.PALZero, e, r.Owner)
	data := r.Raw.Bytes(pa)

	if e.ReadBytes > 0 {
		fsio.Lock.Lock()
		n, err := e.File.Read(data[:e.ReadBytes], e.Ofs)
		fsio.Lock.Unlock()
		if err != 0 || n != e.ReadBytes {
			// short read: release the frame and fail (spec.md §4.2,
			// §7 "Page load short-read").
			r.Frame.Free(pa)
			return -defs.EFAULT
		}
		r.Metrics.IncFileRead()
	}
	// zero_bytes tail is already zero: PALZero guarantees a fresh frame.

	r.Dir.Map(e.Upage, pa, e.Writable)
	e.Frame = pa
	e.Present = true
	return 0
}
