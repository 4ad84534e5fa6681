// Package swap implements the swap slot pool (spec.md §3.4, §4.4): a
// fixed-size bitmap over page-sized slots on a block device, backing
// anonymous pages whose physical frame has been reclaimed. The bitmap
// mechanics (word-sized scan, mark/clear helpers) are adapted from
// gopher-os's BitmapAllocator, collapsed from its multi-pool design to the
// single contiguous swap partition spec.md describes. The block-transfer
// plumbing (request struct, synchronous completion) is adapted from the
// teacher's fs.Bdev_req_t/fs.Disk_i (request + ack-channel), reproduced
// fresh here rather than kept in fs/blk.go because that file pulled in an
// entire journaled block-cache this module has no use for (see
// DESIGN.md).
package swap

import (
	"sync"

	"github.com/pkg/errors"

	"govmcore/mem"
	"govmcore/metrics"
	"govmcore/util"
)

// SectorSize matches a conventional disk sector; PGSIZE/SectorSize
// sectors make up one swap slot (spec.md §6.3).
const SectorSize = 512

const wordBits = 64

/// BlockDevice is the narrow interface the swap layer consumes, mirroring
/// fs.Disk_i's Start/ack-channel shape but specialized to sector-addressed
/// reads and writes since swap never needs the journal/commit machinery
/// fs.Disk_i's callers do.
type BlockDevice interface {
	ReadSector(sector int, dst []byte)
	WriteSector(sector int, src []byte)
	SectorCount() int
}

/// ErrBadGeometry reports a device whose sector count cannot hold a whole
/// number of page-sized slots. It is a programmer error surfaced at
/// construction time, not a defs.Err_t, since nothing at the syscall
/// boundary can recover from it.
var ErrBadGeometry = errors.New("swap: device sector count is not a multiple of sectors-per-slot")

/// Device is the swap slot pool.
type Device struct {
	mu     sync.Mutex
	bits   []uint64
	nslots int
	free   int
	disk   BlockDevice

	// Metrics is optional; nil disables reporting.
	Metrics *metrics.Counters
}

// NewDevice wraps disk as a swap pool of page-sized slots.
func NewDevice(disk BlockDevice) (*Device, error) {
	sectorsPerSlot := mem.PGSIZE / SectorSize
	if disk.SectorCount()%sectorsPerSlot != 0 {
		return nil, ErrBadGeometry
	}
	n := disk.SectorCount() / sectorsPerSlot
	words := util.Roundup(n, wordBits) / wordBits
	return &Device{
		bits:   make([]uint64, words),
		nslots: n,
		free:   n,
		disk:   disk,
	}, nil
}

func wordIdx(slot int) (int, uint) {
	return slot / wordBits, uint(slot % wordBits)
}

func (d *Device) isFree(slot int) bool {
	w, b := wordIdx(slot)
	return d.bits[w]&(1<<b) == 0
}

func (d *Device) mark(slot int) {
	w, b := wordIdx(slot)
	d.bits[w] |= 1 << b
}

func (d *Device) clear(slot int) {
	w, b := wordIdx(slot)
	d.bits[w] &^= 1 << b
}

/// NumSlots reports the total number of swap slots.
func (d *Device) NumSlots() int { return d.nslots }

/// FreeSlots reports the number of currently unallocated slots, used by
/// the "swap accounting" testable property (spec.md §8 item 3).
func (d *Device) FreeSlots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.free
}

/// SwapOut picks a free slot, writes frame's contents to it, and returns
/// the slot index (spec.md §4.4 swap_out). It panics if no slot is free --
/// swap exhaustion during eviction is fatal to the kernel (spec.md §7).
func (d *Device) SwapOut(frame *mem.Bytepg_t) int {
	d.mu.Lock()
	if d.free == 0 {
		d.mu.Unlock()
		panic("swap: partition exhausted")
	}
	slot := -1
	for i := 0; i < d.nslots; i++ {
		if d.isFree(i) {
			slot = i
			break
		}
	}
	if slot < 0 {
		d.mu.Unlock()
		panic("swap: free count desynchronized from bitmap")
	}
	d.mark(slot)
	d.free--
	d.mu.Unlock()

	sectorsPerSlot := mem.PGSIZE / SectorSize
	base := slot * sectorsPerSlot
	for i := 0; i < sectorsPerSlot; i++ {
		d.disk.WriteSector(base+i, frame[i*SectorSize:(i+1)*SectorSize])
	}
	d.Metrics.IncSwapOut()
	return slot
}

/// SwapIn reads slot's contents into frame and releases the slot (spec.md
/// §4.4 swap_in). A second swap-in of the same slot without an
/// intervening SwapOut is a programming error (spec.md §4.4 idempotence
/// note) and panics, since it can only happen if a caller double-released
/// an SPTE's swap ownership.
func (d *Device) SwapIn(slot int, frame *mem.Bytepg_t) {
	d.mu.Lock()
	if d.isFree(slot) {
		d.mu.Unlock()
		panic("swap: SwapIn on a slot that is not owned (double swap-in)")
	}
	d.mu.Unlock()

	sectorsPerSlot := mem.PGSIZE / SectorSize
	base := slot * sectorsPerSlot
	for i := 0; i < sectorsPerSlot; i++ {
		d.disk.ReadSector(base+i, frame[i*SectorSize:(i+1)*SectorSize])
	}

	d.mu.Lock()
	d.clear(slot)
	d.free++
	d.mu.Unlock()
	d.Metrics.IncSwapIn()
}

/// Release frees slot without reading it back, used when a process exits
/// with a page still swapped out (spec.md §4.6 teardown: "if in_swap,
/// release its swap slot").
func (d *Device) Release(slot int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isFree(slot) {
		panic("swap: release of a slot that is not owned")
	}
	d.clear(slot)
	d.free++
}
