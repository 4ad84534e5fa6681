// Package frame implements the frame table and the three-phase enhanced
// clock eviction policy (spec.md §3.3, §4.3, §4.3.1, §4.3.2). Grounded
// line-for-line on original_source/src/vm/frame.c (get_frame_for_page,
// frame_alloc, get_victim_frame's three phases, evict_frame), restructured
// into the teacher's idiom: a Table value built by New and passed to its
// users explicitly (there is no package-level instance), guarded by one
// sync.Mutex, with an ordered slice standing in for Pintos's intrusive
// list, matching mem.Physmem_t's "slice as ground truth, index as
// identity" pattern.
package frame

import (
	"sync"

	"govmcore/mem"
	"govmcore/metrics"
	"govmcore/pagedir"
	"govmcore/spt"
)

/// Owner identifies the process that owns an SPTE, so the frame table can
/// consult the right hardware page directory for dirty/accessed bits
/// (spec.md §3.3). REDESIGN FLAG (spec.md §9 item 1): Entry.Owner is
/// always the SPTE's owning process, never "whichever goroutine happened
/// to call Acquire" -- the documented source bug is not reproduced.
type Owner interface {
	Dir() *pagedir.Dir
}

/// WriteBacker is the narrow collaborator eviction uses to flush a dirty
/// MMAP or promoted-FILE page to its backing file. It acquires the global
/// file lock itself, exactly once, so that frame.evict never takes that
/// lock directly. The required order is file lock, then frame-table lock;
/// eviction is the one documented exception (spec.md §5): it holds the
/// frame-table lock and lets WriteBack take the file lock beneath it.
type WriteBacker interface {
	WriteBack(e *spt.Entry, data *mem.Bytepg_t)
}

/// Entry is one frame-table entry (FTE), spec.md §3.3.
type Entry struct {
	Frame mem.Pa_t
	Spte  *spt.Entry
	Owner Owner
}

/// Table is the process-global frame table.
type Table struct {
	mu      sync.Mutex
	raw     mem.RawAllocator
	order   []*Entry // insertion order, for the clock algorithm's FIFO base
	byFrame map[mem.Pa_t]*Entry
	wb      WriteBacker
	swapper SwapOuter

	// Metrics is optional; a nil value (the zero value) disables reporting,
	// which is what every package-level test below relies on.
	Metrics *metrics.Counters
}

/// New constructs a frame table drawing raw frames from raw and using wb
/// to write back dirty MMAP/FILE pages during eviction.
func New(raw mem.RawAllocator, wb WriteBacker) *Table {
	return &Table{
		raw:     raw,
		byFrame: make(map[mem.Pa_t]*Entry),
		wb:      wb,
	}
}

/// Acquire implements spec.md §4.3's acquire(flags, spte, owner):
/// try the raw allocator; on exhaustion repeatedly choose and evict a
/// victim under the frame-table lock until a frame is freed. The frame is
/// always zero-filled if flags requests it, matching PALZero semantics.
func (t *Table) Acquire(flags int, s *spt.Entry, owner Owner) mem.Pa_t {
	if flags&mem.PALUser == 0 {
		panic("frame: Acquire requires the user-pool flag (spec.md §9 item 2)")
	}

	for {
		if pa, ok := t.raw.Alloc(flags); ok {
			t.mu.Lock()
			e := &Entry{Frame: pa, Spte: s, Owner: owner}
			t.order = append(t.order, e)
			t.byFrame[pa] = e
			t.mu.Unlock()
			return pa
		}

		t.mu.Lock()
		victim := t.chooseVictim()
		if victim == nil {
			t.mu.Unlock()
			panic("frame: no unpinned frame available to evict")
		}
		t.evict(victim)
		t.Metrics.IncEviction()
		t.mu.Unlock()
		// retry raw allocator
	}
}

/// Free releases frame's FTE and returns the raw frame to the allocator
/// (spec.md §4.3 free(frame)).
func (t *Table) Free(pa mem.Pa_t) {
	t.mu.Lock()
	e, ok := t.byFrame[pa]
	if !ok {
		t.mu.Unlock()
		panic("frame: Free of an untracked frame")
	}
	delete(t.byFrame, pa)
	t.removeFromOrder(e)
	t.mu.Unlock()
	t.raw.Free(pa)
}

func (t *Table) removeFromOrder(e *Entry) {
	for i, o := range t.order {
		if o == e {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

/// NumResident reports the number of frames currently tracked, for the
/// bijection/no-double-residency testable properties (spec.md §8 items
/// 1-2).
func (t *Table) NumResident() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

/// chooseVictim implements spec.md §4.3.1's three-phase enhanced clock.
/// Must be called with t.mu held.
func (t *Table) chooseVictim() *Entry {
	// Phase 1: clean dirty mmap pages opportunistically; pick the first
	// not-accessed (00 class) frame.
	for _, e := range t.order {
		if e.Spte.Pinned {
			continue
		}
		dir := e.Owner.Dir()
		up := e.Spte.Upage
		// Only MMAP pages are cleaned here: a writable FILE page must
		// promote to CODE and route through swap on eviction (spec.md
		// §3.1, §3.2 invariant 4), never get written back into the
		// executable it was loaded from.
		if e.Spte.Kind == spt.KindMmap && dir.Dirty(up) {
			t.writeBack(e)
			dir.ClearDirty(up)
			continue
		}
		if !dir.Accessed(up) {
			return e
		}
	}

	// Phase 2: demote 1x classes by clearing the accessed bit; pick a
	// not-accessed frame that is either not dirty or not MMAP (a dirty
	// CODE or writable FILE page goes to swap, never to its file).
	for _, e := range t.order {
		if e.Spte.Pinned {
			continue
		}
		dir := e.Owner.Dir()
		up := e.Spte.Upage
		notDirtyOrMmap := e.Spte.Kind != spt.KindMmap || !dir.Dirty(up)
		if notDirtyOrMmap && !dir.Accessed(up) {
			return e
		}
		dir.ClearAccessed(up)
	}

	// Phase 3: FIFO fallback -- first unpinned frame.
	for _, e := range t.order {
		if !e.Spte.Pinned {
			return e
		}
	}
	return nil
}

func (t *Table) writeBack(e *Entry) {
	data := t.raw.Bytes(e.Frame)
	t.wb.WriteBack(e.Spte, data)
}

/// evict implements spec.md §4.3.2's per-kind eviction switch. Must be
/// called with t.mu held.
func (t *Table) evict(e *Entry) {
	s := e.Spte
	dir := e.Owner.Dir()
	up := s.Upage
	dirty := dir.Dirty(up)

	switch s.Kind {
	case spt.KindMmap:
		if dirty {
			data := t.raw.Bytes(e.Frame)
			t.wb.WriteBack(s, data)
		}
	case spt.KindFile:
		if s.Writable {
			// Promote FILE -> CODE (spec.md §3.1, §3.2 invariant 4):
			// the executable file is never mutated, so a writable FILE
			// page always routes through swap from here on, dirty or
			// not.
			s.Kind = spt.KindCode
			t.swapOutCode(e)
		}
		// read-only FILE: just drop the frame, reloadable from file.
	case spt.KindCode:
		t.swapOutCode(e)
	}

	dir.Unmap(up)
	delete(t.byFrame, e.Frame)
	t.removeFromOrder(e)
	t.raw.Free(e.Frame)
	s.Frame = 0
	s.Present = false
}

// swapOutCode is factored out because FILE->CODE promotion falls through
// to the same swap path as a plain CODE eviction (spec.md §4.3.2 table).
func (t *Table) swapOutCode(e *Entry) {
	if t.swapper == nil {
		panic("frame: no swap device configured for an anonymous eviction")
	}
	data := t.raw.Bytes(e.Frame)
	idx := t.swapper.SwapOut(data)
	e.Spte.InSwap = true
	e.Spte.SwapIdx = idx
}

/// SwapOuter is the narrow interface frame.Table needs from package swap
/// to evict CODE pages, kept separate from mem.RawAllocator so frame does
/// not need to import swap's BlockDevice machinery.
type SwapOuter interface {
	SwapOut(frame *mem.Bytepg_t) int
}

// SetSwapper wires the swap device lazily (not via New's constructor) so
// that frame.Table users who never evict a CODE page (most unit tests)
// need not stand one up.
func (t *Table) SetSwapper(s SwapOuter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.swapper = s
}
