package fault

import (
	"testing"

	"govmcore/frame"
	"govmcore/fsio"
	"govmcore/mem"
	"govmcore/pagedir"
	"govmcore/spt"
	"govmcore/swap"
)

type fakeOwner struct{ dir *pagedir.Dir }

func (o fakeOwner) Dir() *pagedir.Dir { return o.dir }

type noopWB struct{}

func (noopWB) WriteBack(e *spt.Entry, data *mem.Bytepg_t) {}

func newResolver(t *testing.T, frames int) (*Resolver, *pagedir.Dir) {
	t.Helper()
	pool := mem.NewPool(frames)
	tbl := spt.New()
	dir := pagedir.New()
	ft := frame.New(pool, noopWB{})
	sectorsPerSlot := mem.PGSIZE / swap.SectorSize
	dev, err := swap.NewDevice(swap.NewMemoryDevice(4 * sectorsPerSlot))
	if err != nil {
		t.Fatalf("NewDevice failed: %v", err)
	}
	ft.SetSwapper(dev)
	owner := fakeOwner{dir: dir}
	return &Resolver{Table: tbl, Dir: dir, Frame: ft, Raw: pool, Swap: dev, Owner: owner}, dir
}

// TestWithinStackHeuristic exercises spec.md §4.2 item 3 / §9 item 5's
// stack-growth window: within MaxStackSize of PhysBase and no more than
// StackHeuristic bytes below esp.
func TestWithinStackHeuristic(t *testing.T) {
	const esp uintptr = 0xbffffffc
	// espNearFloor sits just above the lowest legal stack address, so the
	// MaxStackSize cutoff (rather than the esp-proximity cutoff) is what
	// rejects an address just below it.
	const espNearFloor uintptr = PhysBase - MaxStackSize + 16

	specs := []struct {
		name     string
		addr     uintptr
		esp      uintptr
		expected bool
	}{
		{"at esp", esp, esp, true},
		{"just below esp", esp - 4, esp, true},
		{"at the heuristic boundary", esp - StackHeuristic, esp, true},
		{"just past the heuristic boundary", esp - StackHeuristic - 1, esp, false},
		{"at PhysBase", PhysBase, esp, false},
		{"at esp near the stack-size floor", espNearFloor, espNearFloor, true},
		{"past the maximum stack size", espNearFloor - StackHeuristic, espNearFloor, false},
	}
	for specIndex, spec := range specs {
		if got := withinStackHeuristic(spec.addr, spec.esp); got != spec.expected {
			t.Errorf("[spec %d: %s] expected %v, got %v", specIndex, spec.name, spec.expected, got)
		}
	}
}

// TestResolveStackGrowthCreatesCodeEntry exercises Resolve's case 3: no
// SPTE exists, but the address is within the stack heuristic, so a CODE
// SPTE is created and installed.
func TestResolveStackGrowthCreatesCodeEntry(t *testing.T) {
	r, _ := newResolver(t, 4)
	const esp uintptr = 0xbffffffc
	if err := r.Resolve(esp-12, esp); err != 0 {
		t.Fatalf("expected stack growth to succeed, got err %d", err)
	}
	e := r.Table.Lookup((esp - 12) &^ uintptr(mem.PGOFFSET))
	if e == nil || e.Kind != spt.KindCode || !e.Present {
		t.Fatal("expected a present CODE SPTE after stack growth")
	}
}

// TestResolveOutsideHeuristicFails exercises Resolve's case 4: no SPTE and
// outside the heuristic window returns -EFAULT.
func TestResolveOutsideHeuristicFails(t *testing.T) {
	r, _ := newResolver(t, 4)
	const esp uintptr = 0xbffffffc
	if err := r.Resolve(0x20000000, esp); err == 0 {
		t.Fatal("expected an address far from esp, with no SPTE, to fail")
	}
}

// TestResolveIsIdempotentOnceResident exercises install's short-circuit:
// resolving an already-present page is a no-op, not a second install.
func TestResolveIsIdempotentOnceResident(t *testing.T) {
	r, _ := newResolver(t, 4)
	if _, ok := r.Table.CreateCode(0x1000); !ok {
		t.Fatal("test setup: CreateCode should succeed")
	}
	if err := r.Resolve(0x1000, 0xbffffffc); err != 0 {
		t.Fatalf("first resolve should succeed, got err %d", err)
	}
	frameBefore := r.Table.Lookup(0x1000).Frame
	if err := r.Resolve(0x1000, 0xbffffffc); err != 0 {
		t.Fatalf("second resolve of a present page should succeed, got err %d", err)
	}
	if r.Table.Lookup(0x1000).Frame != frameBefore {
		t.Fatal("resolving an already-present page must not reinstall it")
	}
}

// TestInstallFileBackedShortReadFails exercises spec.md §4.2/§7's short
// read handling: a file shorter than read_bytes must fail the fault and
// release the frame it acquired.
func TestInstallFileBackedShortReadFails(t *testing.T) {
	r, _ := newResolver(t, 1)
	f := fsio.NewFile("prog.text", make([]byte, 10)) // shorter than a page
	if !r.Table.InstallFile(f, 0, 0x08048000, mem.PGSIZE, 0, false) {
		t.Fatal("test setup: InstallFile should succeed")
	}
	if err := r.Resolve(0x08048000, 0xbffffffc); err == 0 {
		t.Fatal("expected a short read to fail the fault")
	}
	if r.Raw.Avail() != 1 {
		t.Fatalf("expected the frame to be released after a short-read failure, avail=%d", r.Raw.Avail())
	}
}
