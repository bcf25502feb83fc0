//go:build amd64

package registers

// DWARF register numbers for x86-64, per the System V psABI.
const (
	RegRAX = 0
	RegRDX = 1
	RegRCX = 2
	RegRBX = 3
	RegRSI = 4
	RegRDI = 5
	RegRBP = 6
	RegRSP = 7
	RegR8  = 8
	RegR9  = 9
	RegR10 = 10
	RegR11 = 11
	RegR12 = 12
	RegR13 = 13
	RegR14 = 14
	RegR15 = 15

	// RegRA is the return-address column. CFI restores the caller's pc
	// through it.
	RegRA = 16

	// NumSlots is the number of register slots a Snapshot tracks.
	NumSlots = 17

	// RASignStateSlot is the arm64 pointer-authentication state column.
	// Not present on this architecture.
	RASignStateSlot = -1

	regPC = RegRA
	regSP = RegRSP
	regFP = RegRBP
)
