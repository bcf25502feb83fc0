//go:build linux && amd64

package registers

import "unsafe"

// sigcontext mirrors the kernel's struct sigcontext_64 from
// arch/x86/include/uapi/asm/sigcontext.h. Only the general-purpose
// registers matter for unwinding; the trailing fields are kept so the
// struct stays layout-compatible.
type sigcontext struct {
	r8, r9, r10, r11, r12, r13, r14, r15 uint64
	rdi, rsi, rbp, rbx, rdx, rax, rcx    uint64
	rsp, rip, eflags                     uint64
	cs, gs, fs, ss                       uint16
	err, trapno, oldmask, cr2            uint64
	fpstate                              uintptr
	reserved                             [8]uint64
}

type stackt struct {
	ssSp    uintptr
	ssFlags int32
	_       [4]byte
	ssSize  uintptr
}

// ucontext matches the glibc ucontext_t layout on linux/amd64: the
// mcontext (sigcontext) lives at offset 40, after uc_flags, uc_link and
// the alternate-stack descriptor.
type ucontext struct {
	ucFlags    uint64
	ucLink     uintptr
	ucStack    stackt
	ucMcontext sigcontext
}

// FromSignalContext fills a Snapshot from the ucontext_t pointer a
// SA_SIGINFO handler receives as its third argument. The returned
// snapshot describes the code that was executing when the signal
// arrived. It reports false if uctx is nil.
//
// Safe to call from a signal handler: it only reads through the
// provided pointer.
func FromSignalContext(uctx unsafe.Pointer) (Snapshot, bool) {
	var s Snapshot
	if uctx == nil {
		return s, false
	}
	mc := &(*ucontext)(uctx).ucMcontext
	s.regs[RegRAX] = mc.rax
	s.regs[RegRDX] = mc.rdx
	s.regs[RegRCX] = mc.rcx
	s.regs[RegRBX] = mc.rbx
	s.regs[RegRSI] = mc.rsi
	s.regs[RegRDI] = mc.rdi
	s.regs[RegRBP] = mc.rbp
	s.regs[RegRSP] = mc.rsp
	s.regs[RegR8] = mc.r8
	s.regs[RegR9] = mc.r9
	s.regs[RegR10] = mc.r10
	s.regs[RegR11] = mc.r11
	s.regs[RegR12] = mc.r12
	s.regs[RegR13] = mc.r13
	s.regs[RegR14] = mc.r14
	s.regs[RegR15] = mc.r15
	s.regs[RegRA] = mc.rip
	return s, true
}
