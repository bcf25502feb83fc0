//go:build arm64

package registers

// DWARF register numbers for AArch64, per the Arm 64-bit DWARF ABI.
const (
	RegX0  = 0
	RegX19 = 19
	RegX28 = 28

	// RegFP is x29, the frame pointer.
	RegFP = 29
	// RegLR is x30, the link register; it is also the return-address
	// column CFI restores the caller's pc through.
	RegLR = 30
	RegRA = RegLR
	// RegSP is the stack pointer column.
	RegSP = 31

	// regPC is where Snapshot keeps the program counter. The pc is not a
	// DWARF column on arm64; slot 32 mirrors the layout unwind libraries
	// use for it.
	regPC = 32

	// RASignStateSlot tracks DW_CFA_AARCH64_negate_ra_state. A non-zero
	// value means the return address is signed with pointer
	// authentication, which this module does not strip.
	RASignStateSlot = 34

	NumSlots = 35

	regSP = RegSP
	regFP = RegFP
)
