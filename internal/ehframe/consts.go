package ehframe

// Pointer encodings from the DWARF exception-header format. The low nibble
// selects the value format, bits 4..6 how the value is applied, and the top
// bit indirection through the computed address.
const (
	encAbsptr  = 0x00
	encULEB128 = 0x01
	encUData2  = 0x02
	encUData4  = 0x03
	encUData8  = 0x04
	encSLEB128 = 0x09
	encSData2  = 0x0a
	encSData4  = 0x0b
	encSData8  = 0x0c

	encPCRel   = 0x10
	encTextRel = 0x20
	encDataRel = 0x30
	encFuncRel = 0x40
	encAligned = 0x50

	encIndirect = 0x80
	encOmit     = 0xff

	encValueMask = 0x0f
	encApplyMask = 0x70
)

// Call-frame instruction opcodes. The first three are packed into the high
// two bits with an operand in the low six.
const (
	cfaAdvanceLoc  = 0x40
	cfaOffset      = 0x80
	cfaRestore     = 0xc0
	cfaOpcodeMask  = 0xc0
	cfaOperandMask = 0x3f

	cfaNop              = 0x00
	cfaSetLoc           = 0x01
	cfaAdvanceLoc1      = 0x02
	cfaAdvanceLoc2      = 0x03
	cfaAdvanceLoc4      = 0x04
	cfaOffsetExtended   = 0x05
	cfaRestoreExtended  = 0x06
	cfaUndefined        = 0x07
	cfaSameValue        = 0x08
	cfaRegister         = 0x09
	cfaRememberState    = 0x0a
	cfaRestoreState     = 0x0b
	cfaDefCFA           = 0x0c
	cfaDefCFARegister   = 0x0d
	cfaDefCFAOffset     = 0x0e
	cfaDefCFAExpression = 0x0f
	cfaExpression       = 0x10
	cfaOffsetExtendedSF = 0x11
	cfaDefCFASF         = 0x12
	cfaDefCFAOffsetSF   = 0x13
	cfaValOffset        = 0x14
	cfaValOffsetSF      = 0x15
	cfaValExpression    = 0x16

	// GNU and vendor extensions.
	cfaAARCH64NegateRAState = 0x2d
	cfaGNUArgsSize          = 0x2e
	cfaGNUNegativeOffset    = 0x2f
)

// DWARF expression opcodes used by CFI expression rules.
const (
	opAddr       = 0x03
	opDeref      = 0x06
	opConst1U    = 0x08
	opConst1S    = 0x09
	opConst2U    = 0x0a
	opConst2S    = 0x0b
	opConst4U    = 0x0c
	opConst4S    = 0x0d
	opConst8U    = 0x0e
	opConst8S    = 0x0f
	opConstU     = 0x10
	opConstS     = 0x11
	opDup        = 0x12
	opDrop       = 0x13
	opOver       = 0x14
	opPick       = 0x15
	opSwap       = 0x16
	opRot        = 0x17
	opAbs        = 0x19
	opAnd        = 0x1a
	opDiv        = 0x1b
	opMinus      = 0x1c
	opMod        = 0x1d
	opMul        = 0x1e
	opNeg        = 0x1f
	opNot        = 0x20
	opOr         = 0x21
	opPlus       = 0x22
	opPlusUConst = 0x23
	opShl        = 0x24
	opShr        = 0x25
	opShra       = 0x26
	opXor        = 0x27
	opSkip       = 0x2f
	opBra        = 0x28
	opEq         = 0x29
	opGe         = 0x2a
	opGt         = 0x2b
	opLe         = 0x2c
	opLt         = 0x2d
	opNe         = 0x2e
	opLit0       = 0x30
	opLit31      = 0x4f
	opReg0       = 0x50
	opReg31      = 0x6f
	opBreg0      = 0x70
	opBreg31     = 0x8f
	opRegX       = 0x90
	opBregX      = 0x92
	opDerefSize  = 0x94
	opNop        = 0x96
)
