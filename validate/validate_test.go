package validate

import (
	"testing"

	"govmcore/fault"
	"govmcore/frame"
	"govmcore/mem"
	"govmcore/pagedir"
	"govmcore/spt"
	"govmcore/swap"
)

type fakeOwner struct{ dir *pagedir.Dir }

func (o fakeOwner) Dir() *pagedir.Dir { return o.dir }

type noopWB struct{}

func (noopWB) WriteBack(e *spt.Entry, data *mem.Bytepg_t) {}

func newValidator(t *testing.T, frames int) *Validator {
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
	resolver := &fault.Resolver{Table: tbl, Dir: dir, Frame: ft, Raw: pool, Swap: dev, Owner: fakeOwner{dir: dir}}
	return &Validator{Table: tbl, Resolver: resolver}
}

const esp uintptr = 0xbffffffc

// TestValidateRangePinsEveryTouchedPage exercises spec.md §4.5: every page
// covered by [ptr, ptr+size) must end up resident and pinned.
func TestValidateRangePinsEveryTouchedPage(t *testing.T) {
	v := newValidator(t, 4)
	if err := v.ValidateRange(esp, esp-12, 1); err != 0 {
		t.Fatalf("ValidateRange should succeed, got err %d", err)
	}
	e := v.Table.Lookup((esp - 12) &^ uintptr(mem.PGOFFSET))
	if e == nil || !e.Present || !e.Pinned {
		t.Fatal("expected the touched page to be resident and pinned")
	}
}

// TestPinPagePinsBeforeInstallCompletes replays pinPage's sequence by hand
// (LookupOrCreate, set Pinned, then Install) and checks that Install
// leaves an already-set pin in place while making the page present. It
// does not call pinPage itself.
func TestPinPagePinsBeforeInstallCompletes(t *testing.T) {
	v := newValidator(t, 4)
	const pg uintptr = 0x1000
	if _, ok := v.Table.CreateCode(pg); !ok {
		t.Fatal("test setup: CreateCode should succeed")
	}

	e, err := v.Resolver.LookupOrCreate(pg, esp)
	if err != 0 {
		t.Fatalf("LookupOrCreate failed: %d", err)
	}
	e.Lock()
	e.Pinned = true
	e.Unlock()
	if e.Present {
		t.Fatal("test setup: entry should not be present before Install")
	}
	if !e.Pinned {
		t.Fatal("entry must be pinned before Install runs")
	}
	if err := v.Resolver.Install(e); err != 0 {
		t.Fatalf("Install failed: %d", err)
	}
	if !e.Present || !e.Pinned {
		t.Fatal("expected the entry to remain pinned and become present after Install")
	}
}

// TestUnpinRangeClearsPinned exercises the counterpart to ValidateRange.
func TestUnpinRangeClearsPinned(t *testing.T) {
	v := newValidator(t, 4)
	if err := v.ValidateRange(esp, esp-12, 1); err != 0 {
		t.Fatalf("ValidateRange should succeed, got err %d", err)
	}
	v.UnpinRange(esp-12, 1)
	e := v.Table.Lookup((esp - 12) &^ uintptr(mem.PGOFFSET))
	if e.Pinned {
		t.Fatal("expected UnpinRange to clear Pinned")
	}
}

// TestValidateStringTruncatesAtNUL exercises ValidateString's use of
// ustr.MkUstrSlice to stop at the first NUL without including it.
func TestValidateStringTruncatesAtNUL(t *testing.T) {
	v := newValidator(t, 4)
	if _, ok := v.Table.CreateCode(0x2000); !ok {
		t.Fatal("test setup: CreateCode should succeed")
	}
	payload := []byte("hello\x00trailing garbage")
	read := func(addr uintptr) (byte, bool) {
		idx := int(addr - 0x2000)
		if idx < 0 || idx >= len(payload) {
			return 0, false
		}
		return payload[idx], true
	}
	s, err := v.ValidateString(esp, 0x2000, read)
	if err != 0 {
		t.Fatalf("ValidateString failed: %d", err)
	}
	if s.String() != "hello" {
		t.Fatalf("expected %q, got %q", "hello", s.String())
	}
}

// TestValidateRangeRejectsNilPointer exercises the ptr==0 guard.
func TestValidateRangeRejectsNilPointer(t *testing.T) {
	v := newValidator(t, 4)
	if err := v.ValidateRange(esp, 0, 4); err == 0 {
		t.Fatal("expected a nil pointer to fail validation")
	}
}
