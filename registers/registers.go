// Package registers holds per-architecture register snapshots used as the
// unit of a stack walk.
//
// A Snapshot can be initialized from the current execution context:
//
//	var rs registers.Snapshot
//	registers.CaptureCurrent(&rs)
//
// or, more commonly for this module's usage scenario, from the ucontext that
// the kernel hands to a signal handler:
//
//	rs, ok := registers.FromSignalContext(ucontext)
//
// Snapshots are plain values. The unwind driver computes a fresh Snapshot per
// frame; it never retains one across frames.
package registers

// Snapshot is the register state of one stack frame, indexed by DWARF
// register number. Slots above the integer register file (return-address
// column, arm64 RA sign state) follow the numbering used by the CFI in
// .eh_frame.
type Snapshot struct {
	regs [NumSlots]uint64
}

// PC returns the program counter of this frame.
func (s *Snapshot) PC() uint64 {
	return s.regs[regPC]
}

// SetPC sets the program counter of this frame.
func (s *Snapshot) SetPC(v uint64) {
	s.regs[regPC] = v
}

// SP returns the stack pointer of this frame.
func (s *Snapshot) SP() uint64 {
	return s.regs[regSP]
}

// SetSP sets the stack pointer of this frame.
func (s *Snapshot) SetSP(v uint64) {
	s.regs[regSP] = v
}

// FP returns the frame pointer of this frame.
func (s *Snapshot) FP() uint64 {
	return s.regs[regFP]
}

// SetFP sets the frame pointer of this frame.
func (s *Snapshot) SetFP(v uint64) {
	s.regs[regFP] = v
}

// Reg returns the value of DWARF register n. The caller must have checked
// Valid(n).
func (s *Snapshot) Reg(n int) uint64 {
	return s.regs[n]
}

// SetReg sets the value of DWARF register n. The caller must have checked
// Valid(n).
func (s *Snapshot) SetReg(n int, v uint64) {
	s.regs[n] = v
}

// Valid reports whether n names a register tracked by Snapshot on this
// architecture.
func Valid(n int) bool {
	return n >= 0 && n < NumSlots
}
