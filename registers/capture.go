//go:build amd64 || arm64

package registers

// CaptureCurrent records the register state of the function that calls it:
// the pc after the call instruction, the stack pointer at the call site, the
// frame pointer, and the callee-saved integer registers CFI may reference on
// later steps. It performs no allocation and clobbers nothing the caller
// needs.
//
// Implemented in assembly.
//
//go:noescape
func CaptureCurrent(s *Snapshot)
