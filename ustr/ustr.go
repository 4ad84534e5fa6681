// Package ustr holds the NUL-terminated-byte-slice type the fault-free
// syscall path uses to carry a validated C string, trimmed to the slice
// this module still needs: this core has no path/directory namespace of
// its own (spec.md §6.2's directory calls are stubs that terminate the
// caller), so the teacher's path-walking methods (Isdot, Extend,
// IsAbsolute, ...) have no home here.
package ustr

/// Ustr is an immutable byte string scanned out of user memory.
type Ustr []uint8

/// MkUstrSlice truncates buf at its first NUL byte, dropping the
/// terminator, matching the original's string-validation convention of
/// never including the NUL in the returned string.
func MkUstrSlice(buf []uint8) Ustr {
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0 {
			return buf[:i]
		}
	}
	return buf
}

/// String converts the Ustr to a Go string, for diagnostics.
func (us Ustr) String() string {
	return string(us)
}
