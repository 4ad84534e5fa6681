// Package validate implements pinning and the syscall validator (spec.md
// §4.5): while a syscall reads or writes user memory, validate each byte,
// ensure residency, and pin involved pages against eviction for the
// duration. Grounded on original_source/src/userprog/syscall.c's
// validate/valid_up/unpin_buffer/unpin_str, and on the teacher's
// vm.Vm_t.Userdmap8_inner/Userbuf_t for the "never touch a page without
// going through the fault resolver first" discipline. ustr.Ustr (the
// teacher's NUL-terminated-byte-slice type) grounds the C-string scanning
// in ValidateString, the same way MkUstrSlice truncates at the first NUL.
package validate

import (
	"govmcore/defs"
	"govmcore/fault"
	"govmcore/mem"
	"govmcore/spt"
	"govmcore/ustr"
)

/// Validator ties the SPT and fault resolver together for one process.
type Validator struct {
	Table    *spt.Table
	Resolver *fault.Resolver
}

/// ValidateRange implements spec.md §4.5: for every page touched by
/// [ptr, ptr+size), ensure residency and set pinned=true, growing the
/// stack if necessary. It validates (a) the first byte, (b) the last byte,
/// and (c) the first byte of every intervening page -- enough to
/// guarantee every touched page is pinned, matching the original's
/// validate()/valid_up() coverage. It returns -defs.EFAULT (terminate the
/// process) if any touched page cannot be resolved.
func (v *Validator) ValidateRange(esp, ptr uintptr, size int) defs.Err_t {
	if size <= 0 {
		return 0
	}
	if ptr == 0 {
		return -defs.EFAULT
	}
	last := ptr + uintptr(size) - 1

	upage := ptr &^ uintptr(mem.PGOFFSET)
	lastPage := last &^ uintptr(mem.PGOFFSET)

	for pg := upage; ; pg += uintptr(mem.PGSIZE) {
		if err := v.pinPage(pg, esp); err != 0 {
			return err
		}
		if pg == lastPage {
			break
		}
	}
	return 0
}

// pinPage ensures pg is resident (growing the stack or invoking the fault
// resolver as needed) and marks it pinned, matching spec.md §4.5 steps
// 2-4. Pinned is set before the frame is installed, not after: the
// original sets pinned before install_load_page so a page can never be
// evicted in the window between its installation and its pin taking
// effect.
func (v *Validator) pinPage(pg, esp uintptr) defs.Err_t {
	e, err := v.Resolver.LookupOrCreate(pg, esp)
	if err != 0 {
		return -defs.EFAULT
	}

	e.Lock()
	e.Pinned = true
	alreadyPresent := e.Present
	e.Unlock()
	if alreadyPresent {
		return 0
	}

	if err := v.Resolver.Install(e); err != 0 {
		e.Lock()
		e.Pinned = false
		e.Unlock()
		return -defs.EFAULT
	}
	return 0
}

/// UnpinRange clears pinned on every page covered by [ptr, ptr+size),
/// based on the original buffer address and size, not on any return value
/// (spec.md §4.5: "Unpinning is per page... not on any return value").
func (v *Validator) UnpinRange(ptr uintptr, size int) {
	if size <= 0 {
		return
	}
	last := ptr + uintptr(size) - 1
	upage := ptr &^ uintptr(mem.PGOFFSET)
	lastPage := last &^ uintptr(mem.PGOFFSET)
	for pg := upage; ; pg += uintptr(mem.PGSIZE) {
		if e := v.Table.Lookup(pg); e != nil {
			e.Lock()
			e.Pinned = false
			e.Unlock()
		}
		if pg == lastPage {
			break
		}
	}
}

/// ValidateString validates a NUL-terminated C string starting at ptr,
/// one byte at a time until a terminating zero is seen (spec.md §4.5).
/// read reads a single byte of user memory at the (already pinned or
/// resolvable) address -- callers typically supply a closure over the
/// process's own memory view, since validate has no byte-level memory
/// access of its own (the core never peeks at the hardware's raw
/// contents outside fault/frame).
func (v *Validator) ValidateString(esp, ptr uintptr, read func(uintptr) (byte, bool)) (ustr.Ustr, defs.Err_t) {
	if ptr == 0 {
		return nil, -defs.EFAULT
	}
	var raw []byte
	cur := ptr
	pinnedPage := uintptr(0)
	havePinned := false
	for {
		pg := cur &^ uintptr(mem.PGOFFSET)
		if !havePinned || pg != pinnedPage {
			if err := v.pinPage(pg, esp); err != 0 {
				return nil, err
			}
			pinnedPage = pg
			havePinned = true
		}
		b, ok := read(cur)
		if !ok {
			return nil, -defs.EFAULT
		}
		raw = append(raw, b)
		if b == 0 {
			// MkUstrSlice truncates at the first NUL, dropping the
			// terminator itself from the returned string.
			return ustr.MkUstrSlice(raw), 0
		}
		cur++
	}
}

/// UnpinString clears pinned on every page spanned by a string of the
/// given total length (including the terminator), starting at ptr.
func (v *Validator) UnpinString(ptr uintptr, length int) {
	v.UnpinRange(ptr, length)
}

/// GrowStack implements spec.md §6.1's grow_stack(addr, pinned_flag):
/// create a CODE SPTE at addr's page if the stack-heuristic window allows
/// it, optionally pinning it immediately.
func (v *Validator) GrowStack(esp, addr uintptr, pinned bool) bool {
	pg := addr &^ uintptr(mem.PGOFFSET)
	if v.Table.Lookup(pg) != nil {
		return true
	}
	if err := v.Resolver.Resolve(addr, esp); err != 0 {
		return false
	}
	if pinned {
		if e := v.Table.Lookup(pg); e != nil {
			e.Lock()
			e.Pinned = true
			e.Unlock()
		}
	}
	return true
}
