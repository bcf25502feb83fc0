//go:build linux && arm64

package registers

import "unsafe"

// sigcontext mirrors the kernel's struct sigcontext from
// arch/arm64/include/uapi/asm/sigcontext.h.
type sigcontext struct {
	faultAddress uint64
	regs         [31]uint64
	sp           uint64
	pc           uint64
	pstate       uint64
	// __reserved follows (16-byte aligned); not needed here.
}

type stackt struct {
	ssSp    uintptr
	ssFlags int32
	_       [4]byte
	ssSize  uintptr
}

// ucontext matches the glibc ucontext_t layout on linux/arm64: the
// mcontext sits at offset 176, past the 128-byte sigset_t and the
// padding that 16-byte aligns it.
type ucontext struct {
	ucFlags    uint64
	ucLink     uintptr
	ucStack    stackt
	ucSigmask  [16]uint64
	_          [8]byte
	ucMcontext sigcontext
}

// FromSignalContext fills a Snapshot from the ucontext_t pointer a
// SA_SIGINFO handler receives as its third argument. It reports false
// if uctx is nil.
//
// Safe to call from a signal handler: it only reads through the
// provided pointer.
func FromSignalContext(uctx unsafe.Pointer) (Snapshot, bool) {
	var s Snapshot
	if uctx == nil {
		return s, false
	}
	mc := &(*ucontext)(uctx).ucMcontext
	for i := 0; i < 31; i++ {
		s.regs[i] = mc.regs[i]
	}
	s.regs[RegSP] = mc.sp
	s.regs[regPC] = mc.pc
	return s, true
}
