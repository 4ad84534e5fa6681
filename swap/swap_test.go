package swap

import (
	"testing"

	"govmcore/mem"
)

// TestNewDeviceRejectsBadGeometry exercises the sector/slot geometry
// invariant at construction time.
func TestNewDeviceRejectsBadGeometry(t *testing.T) {
	sectorsPerSlot := mem.PGSIZE / SectorSize
	if _, err := NewDevice(NewMemoryDevice(sectorsPerSlot + 1)); err != ErrBadGeometry {
		t.Fatalf("expected ErrBadGeometry for a non-whole-slot device, got %v", err)
	}
}

// TestSwapOutInRoundTrip exercises spec.md §8 property 3 (swap accounting):
// FreeSlots must fall by one on SwapOut and rise by one on SwapIn, and the
// contents written must survive the round trip.
func TestSwapOutInRoundTrip(t *testing.T) {
	sectorsPerSlot := mem.PGSIZE / SectorSize
	dev, err := NewDevice(NewMemoryDevice(4 * sectorsPerSlot))
	if err != nil {
		t.Fatalf("NewDevice failed: %v", err)
	}
	if dev.FreeSlots() != 4 {
		t.Fatalf("expected 4 free slots initially, got %d", dev.FreeSlots())
	}

	var page mem.Bytepg_t
	for i := range page {
		page[i] = byte(i)
	}
	slot := dev.SwapOut(&page)
	if dev.FreeSlots() != 3 {
		t.Fatalf("expected 3 free slots after SwapOut, got %d", dev.FreeSlots())
	}

	var back mem.Bytepg_t
	dev.SwapIn(slot, &back)
	if dev.FreeSlots() != 4 {
		t.Fatalf("expected 4 free slots after SwapIn, got %d", dev.FreeSlots())
	}
	if back != page {
		t.Fatal("swapped-in contents do not match what was swapped out")
	}
}

// TestSwapOutExhaustion exercises spec.md §7's fatal-exhaustion behavior:
// SwapOut panics once every slot is in use.
func TestSwapOutExhaustion(t *testing.T) {
	sectorsPerSlot := mem.PGSIZE / SectorSize
	dev, err := NewDevice(NewMemoryDevice(sectorsPerSlot))
	if err != nil {
		t.Fatalf("NewDevice failed: %v", err)
	}
	var page mem.Bytepg_t
	dev.SwapOut(&page)

	defer func() {
		if recover() == nil {
			t.Fatal("expected SwapOut to panic when the partition is exhausted")
		}
	}()
	dev.SwapOut(&page)
}

// TestReleaseWithoutSwapIn exercises teardown's path for a process that
// exits with a page still in swap (spec.md §4.6).
func TestReleaseWithoutSwapIn(t *testing.T) {
	sectorsPerSlot := mem.PGSIZE / SectorSize
	dev, err := NewDevice(NewMemoryDevice(2 * sectorsPerSlot))
	if err != nil {
		t.Fatalf("NewDevice failed: %v", err)
	}
	var page mem.Bytepg_t
	slot := dev.SwapOut(&page)
	dev.Release(slot)
	if dev.FreeSlots() != 2 {
		t.Fatalf("expected 2 free slots after Release, got %d", dev.FreeSlots())
	}
}

// TestWordIdxCoversMultipleWords exercises the bitmap's word-boundary math
// for a slot count wider than one 64-bit word.
func TestWordIdxCoversMultipleWords(t *testing.T) {
	sectorsPerSlot := mem.PGSIZE / SectorSize
	dev, err := NewDevice(NewMemoryDevice(100 * sectorsPerSlot))
	if err != nil {
		t.Fatalf("NewDevice failed: %v", err)
	}
	if dev.NumSlots() != 100 {
		t.Fatalf("expected 100 slots, got %d", dev.NumSlots())
	}
	var page mem.Bytepg_t
	slots := make([]int, 0, 100)
	for i := 0; i < 100; i++ {
		slots = append(slots, dev.SwapOut(&page))
	}
	if dev.FreeSlots() != 0 {
		t.Fatalf("expected 0 free slots after exhausting the device, got %d", dev.FreeSlots())
	}
	for _, s := range slots {
		dev.Release(s)
	}
	if dev.FreeSlots() != 100 {
		t.Fatalf("expected 100 free slots after releasing all, got %d", dev.FreeSlots())
	}
}
