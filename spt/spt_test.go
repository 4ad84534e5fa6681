package spt

import (
	"testing"

	"govmcore/fsio"
	"govmcore/mem"
)

// TestCreateCodeRejectsDuplicateUpage exercises invariant 3 (spec.md §3.2):
// no two SPTEs may share the same upage.
func TestCreateCodeRejectsDuplicateUpage(t *testing.T) {
	tbl := New()
	if _, ok := tbl.CreateCode(0x1000); !ok {
		t.Fatal("first CreateCode at a fresh upage should succeed")
	}
	if _, ok := tbl.CreateCode(0x1000); ok {
		t.Fatal("second CreateCode at the same upage should fail")
	}
}

// TestInstallFilePaging exercises install_file's per-page read/zero split
// (spec.md §4.1): a full page, a partially read page, and an all-zero
// last page.
func TestInstallFilePaging(t *testing.T) {
	f := fsio.NewFile("prog.text", make([]byte, 100))
	const upage uintptr = 0x08048000
	total := 3 * mem.PGSIZE
	tbl := New()
	readBytes := mem.PGSIZE + 100
	zeroBytes := total - readBytes
	if !tbl.InstallFile(f, 0, upage, readBytes, zeroBytes, false) {
		t.Fatal("InstallFile should succeed on a fresh range")
	}

	specs := []struct {
		page         int
		expReadBytes int
		expZeroBytes int
	}{
		{0, mem.PGSIZE, 0},
		{1, 100, mem.PGSIZE - 100},
		{2, 0, mem.PGSIZE},
	}
	for specIndex, spec := range specs {
		pg := upage + uintptr(spec.page*mem.PGSIZE)
		e := tbl.Lookup(pg)
		if e == nil {
			t.Fatalf("[spec %d] expected an SPTE at page %d", specIndex, spec.page)
		}
		if e.ReadBytes != spec.expReadBytes || e.ZeroBytes != spec.expZeroBytes {
			t.Errorf("[spec %d] expected (%d, %d) bytes, got (%d, %d)", specIndex, spec.expReadBytes, spec.expZeroBytes, e.ReadBytes, e.ZeroBytes)
		}
		if e.Present {
			t.Errorf("[spec %d] InstallFile must not mark the page resident (lazy load)", specIndex)
		}
	}
}

// TestInstallMmapCollisionUnwinds exercises create_spte_mmap's atomic
// failure: if any target page already has an SPTE, no new entries should
// be left behind.
func TestInstallMmapCollisionUnwinds(t *testing.T) {
	f := fsio.NewFile("data.bin", make([]byte, mem.PGSIZE))
	const upage uintptr = 0x10000000
	tbl := New()
	if _, ok := tbl.CreateCode(upage + uintptr(mem.PGSIZE)); !ok {
		t.Fatal("test setup: CreateCode should succeed")
	}
	if _, ok := tbl.InstallMmap(f, upage, 2*mem.PGSIZE); ok {
		t.Fatal("InstallMmap should fail when a target page collides")
	}
	if tbl.Lookup(upage) != nil {
		t.Fatal("InstallMmap must unwind the first page's entry on collision")
	}
}

// TestMmapEntriesOrderedByOffset exercises munmap's sequential file-walk
// requirement (spec.md §4.6).
func TestMmapEntriesOrderedByOffset(t *testing.T) {
	f := fsio.NewFile("data.bin", make([]byte, 3*mem.PGSIZE))
	const upage uintptr = 0x10000000
	tbl := New()
	id, ok := tbl.InstallMmap(f, upage, 3*mem.PGSIZE)
	if !ok {
		t.Fatal("InstallMmap should succeed")
	}
	entries := tbl.MmapEntries(id)
	if len(entries) != 3 {
		t.Fatalf("expected 3 mmap entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Ofs != i*mem.PGSIZE {
			t.Errorf("[spec %d] expected offset %d, got %d", i, i*mem.PGSIZE, e.Ofs)
		}
	}
}

// TestDestroyAllClearsEntries exercises destroy_all (spec.md §4.1).
func TestDestroyAllClearsEntries(t *testing.T) {
	tbl := New()
	tbl.CreateCode(0x1000)
	tbl.CreateCode(0x2000)
	if len(tbl.All()) != 2 {
		t.Fatal("test setup: expected 2 entries before DestroyAll")
	}
	tbl.DestroyAll()
	if len(tbl.All()) != 0 {
		t.Fatal("DestroyAll should remove every entry")
	}
}
