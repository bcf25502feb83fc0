package ehframe

import "github.com/deepstack-dev/unwind-go/internal/modules"

// ruleSlots is how many register columns a row tracks. Compilers emit
// rules for the integer file plus the return-address and RA-state columns;
// rules for columns past this (float and vector registers) are parsed and
// dropped, since no caller state we restore lives there.
const ruleSlots = 40

// maxCFIRegister is the highest column number tolerated in a CFI program.
// Anything above it is treated as corruption rather than a wide register
// file.
const maxCFIRegister = 287

// rememberDepth bounds DW_CFA_remember_state nesting. Real compilers use
// one level; four leaves margin without growing the row stack, which lives
// on a signal stack during walks.
const rememberDepth = 4

type ruleKind uint8

const (
	// ruleUnused: no rule; the register keeps its value.
	ruleUnused ruleKind = iota
	// ruleUndefined: the value is unrecoverable in the caller.
	ruleUndefined
	// ruleAtCFAOffset: saved in memory at CFA+offset.
	ruleAtCFAOffset
	// ruleIsCFAOffset: the value is CFA+offset itself.
	ruleIsCFAOffset
	// ruleInRegister: the value lives in another register.
	ruleInRegister
	// ruleAtExpression: saved in memory at the expression's result.
	ruleAtExpression
	// ruleIsExpression: the value is the expression's result.
	ruleIsExpression
)

// regRule says where one register's caller value is found. value is an
// offset, a register number, or the address of a DWARF expression,
// depending on kind.
type regRule struct {
	kind  ruleKind
	value int64
}

type cfaKind uint8

const (
	cfaUndef cfaKind = iota
	cfaRegOffset
	cfaExpr
)

// cfaRule says how to compute the canonical frame address.
type cfaRule struct {
	kind cfaKind
	reg  uint64
	off  int64
	expr uint64
}

// row is the register-recovery state at one pc: the result of running a
// CIE's initial instructions and then the FDE's instructions up to the pc.
// Fixed size so interpretation never allocates.
type row struct {
	cfa  cfaRule
	regs [ruleSlots]regRule
	// raSigned tracks DW_CFA_AARCH64_negate_ra_state: whether the return
	// address at this pc carries a pointer-authentication signature.
	raSigned bool
}

func (ro *row) setRule(reg uint64, ru regRule) error {
	if reg > maxCFIRegister {
		return ErrBadRegister
	}
	// Rules for untracked columns are valid CFI; they just describe
	// state nothing here restores.
	if reg < ruleSlots {
		ro.regs[reg] = ru
	}
	return nil
}

// runCFI interprets f's call-frame instructions and fills out with the row
// in effect at pc. The CIE's initial instructions run first; their result
// is what DW_CFA_restore reverts to.
func runCFI(ix *modules.Index, f *fde, pc uint64, out *row) error {
	*out = row{}
	if err := runInstructions(ix, f, f.cie.initialStart, f.cie.initialEnd, pc, out, nil); err != nil {
		return err
	}
	initial := *out
	return runInstructions(ix, f, f.instrStart, f.instrEnd, pc, out, &initial)
}

// runInstructions interprets one instruction stream. initial is nil while
// running the CIE's own instructions and points at the CIE result while
// running FDE instructions.
func runInstructions(ix *modules.Index, f *fde, start, end, pc uint64, out *row, initial *row) error {
	r := reader{ix: ix, pos: start, end: end}
	loc := f.pcStart
	var remembered [rememberDepth]row
	depth := 0

	for r.pos < end {
		op, err := r.u8()
		if err != nil {
			return err
		}
		switch op & cfaOpcodeMask {
		case cfaAdvanceLoc:
			loc += uint64(op&cfaOperandMask) * f.cie.codeAlign
			if loc > pc {
				return nil
			}
			continue
		case cfaOffset:
			off, err := r.uleb()
			if err != nil {
				return err
			}
			ru := regRule{kind: ruleAtCFAOffset, value: int64(off) * f.cie.dataAlign}
			if err := out.setRule(uint64(op&cfaOperandMask), ru); err != nil {
				return err
			}
			continue
		case cfaRestore:
			if initial == nil {
				return ErrMalformed
			}
			// The packed form carries a 6-bit column, so it can still name
			// an untracked one; skip those like cfaRestoreExtended does.
			reg := uint64(op & cfaOperandMask)
			if reg < ruleSlots {
				out.regs[reg] = initial.regs[reg]
			}
			continue
		}

		switch op {
		case cfaNop:
		case cfaSetLoc:
			loc, err = r.pointer(f.cie.fdeEnc, 0)
			if err != nil {
				return err
			}
			if loc > pc {
				return nil
			}
		case cfaAdvanceLoc1:
			d, err := r.u8()
			if err != nil {
				return err
			}
			loc += uint64(d) * f.cie.codeAlign
			if loc > pc {
				return nil
			}
		case cfaAdvanceLoc2:
			d, err := r.u16()
			if err != nil {
				return err
			}
			loc += uint64(d) * f.cie.codeAlign
			if loc > pc {
				return nil
			}
		case cfaAdvanceLoc4:
			d, err := r.u32()
			if err != nil {
				return err
			}
			loc += uint64(d) * f.cie.codeAlign
			if loc > pc {
				return nil
			}
		case cfaOffsetExtended:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			off, err := r.uleb()
			if err != nil {
				return err
			}
			if err := out.setRule(reg, regRule{kind: ruleAtCFAOffset, value: int64(off) * f.cie.dataAlign}); err != nil {
				return err
			}
		case cfaOffsetExtendedSF:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			off, err := r.sleb()
			if err != nil {
				return err
			}
			if err := out.setRule(reg, regRule{kind: ruleAtCFAOffset, value: off * f.cie.dataAlign}); err != nil {
				return err
			}
		case cfaRestoreExtended:
			if initial == nil {
				return ErrMalformed
			}
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			if reg > maxCFIRegister {
				return ErrBadRegister
			}
			if reg < ruleSlots {
				out.regs[reg] = initial.regs[reg]
			}
		case cfaUndefined:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			if err := out.setRule(reg, regRule{kind: ruleUndefined}); err != nil {
				return err
			}
		case cfaSameValue:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			if err := out.setRule(reg, regRule{kind: ruleUnused}); err != nil {
				return err
			}
		case cfaRegister:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			src, err := r.uleb()
			if err != nil {
				return err
			}
			if src > maxCFIRegister {
				return ErrBadRegister
			}
			if err := out.setRule(reg, regRule{kind: ruleInRegister, value: int64(src)}); err != nil {
				return err
			}
		case cfaRememberState:
			if depth >= rememberDepth {
				return ErrMalformed
			}
			remembered[depth] = *out
			depth++
		case cfaRestoreState:
			if depth == 0 {
				return ErrMalformed
			}
			depth--
			*out = remembered[depth]
		case cfaDefCFA:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			off, err := r.uleb()
			if err != nil {
				return err
			}
			out.cfa = cfaRule{kind: cfaRegOffset, reg: reg, off: int64(off)}
		case cfaDefCFASF:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			off, err := r.sleb()
			if err != nil {
				return err
			}
			out.cfa = cfaRule{kind: cfaRegOffset, reg: reg, off: off * f.cie.dataAlign}
		case cfaDefCFARegister:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			if out.cfa.kind != cfaRegOffset {
				return ErrMalformed
			}
			out.cfa.reg = reg
		case cfaDefCFAOffset:
			off, err := r.uleb()
			if err != nil {
				return err
			}
			if out.cfa.kind != cfaRegOffset {
				return ErrMalformed
			}
			out.cfa.off = int64(off)
		case cfaDefCFAOffsetSF:
			off, err := r.sleb()
			if err != nil {
				return err
			}
			if out.cfa.kind != cfaRegOffset {
				return ErrMalformed
			}
			out.cfa.off = off * f.cie.dataAlign
		case cfaDefCFAExpression:
			expr := r.pos
			if err := skipExpression(&r); err != nil {
				return err
			}
			out.cfa = cfaRule{kind: cfaExpr, expr: expr}
		case cfaExpression:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			expr := r.pos
			if err := skipExpression(&r); err != nil {
				return err
			}
			if err := out.setRule(reg, regRule{kind: ruleAtExpression, value: int64(expr)}); err != nil {
				return err
			}
		case cfaValExpression:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			expr := r.pos
			if err := skipExpression(&r); err != nil {
				return err
			}
			if err := out.setRule(reg, regRule{kind: ruleIsExpression, value: int64(expr)}); err != nil {
				return err
			}
		case cfaValOffset:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			off, err := r.uleb()
			if err != nil {
				return err
			}
			if err := out.setRule(reg, regRule{kind: ruleIsCFAOffset, value: int64(off) * f.cie.dataAlign}); err != nil {
				return err
			}
		case cfaValOffsetSF:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			off, err := r.sleb()
			if err != nil {
				return err
			}
			if err := out.setRule(reg, regRule{kind: ruleIsCFAOffset, value: off * f.cie.dataAlign}); err != nil {
				return err
			}
		case cfaAARCH64NegateRAState:
			out.raSigned = !out.raSigned
		case cfaGNUArgsSize:
			if _, err := r.uleb(); err != nil {
				return err
			}
		case cfaGNUNegativeOffset:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			off, err := r.uleb()
			if err != nil {
				return err
			}
			if err := out.setRule(reg, regRule{kind: ruleAtCFAOffset, value: -int64(off) * f.cie.dataAlign}); err != nil {
				return err
			}
		default:
			return ErrMalformed
		}
	}
	return nil
}

// skipExpression advances past an expression operand: a ULEB length
// followed by that many bytes.
func skipExpression(r *reader) error {
	n, err := r.uleb()
	if err != nil {
		return err
	}
	return r.skip(n)
}
