// Package ehframe decodes DWARF call-frame information from loaded
// modules' .eh_frame sections and steps register snapshots from one stack
// frame to its caller.
//
// Everything here runs on the walk's hot path: no function in this package
// allocates, takes a lock, or touches memory outside the module index's
// readable ranges.
package ehframe

import (
	"github.com/deepstack-dev/unwind-go/internal/modules"
	"github.com/deepstack-dev/unwind-go/registers"
)

// Step rewrites rs in place from the state of the frame executing at pc to
// the state of its caller. pc must lie inside mod's text segment. On
// success it reports whether the frame was a signal trampoline, which
// changes how the caller adjusts the next lookup pc. rs is left untouched
// on error.
//
// ErrNotFound means no frame information covers pc; walks treat that as
// the top of the stack.
func Step(ix *modules.Index, mod *modules.Module, pc uint64, rs *registers.Snapshot) (signalFrame bool, err error) {
	f, err := findFDE(ix, mod, pc)
	if err != nil {
		return false, err
	}
	if f.cie.raReg >= ruleSlots || !registers.Valid(int(f.cie.raReg)) {
		return false, ErrBadRegister
	}
	var ro row
	if err := runCFI(ix, &f, pc, &ro); err != nil {
		return false, err
	}
	if ro.raSigned {
		return false, ErrRASigned
	}

	var cfa uint64
	switch ro.cfa.kind {
	case cfaRegOffset:
		reg := int(ro.cfa.reg)
		if !registers.Valid(reg) {
			return false, ErrBadRegister
		}
		cfa = rs.Reg(reg) + uint64(ro.cfa.off)
	case cfaExpr:
		cfa, err = evalExpression(ix, ro.cfa.expr, rs, 0)
		if err != nil {
			return false, err
		}
	default:
		return false, ErrNoCFA
	}

	// Build the caller's snapshot from the callee's: the CFA becomes the
	// stack pointer, and each column with a rule is recovered from the
	// callee-time state.
	next := *rs
	next.SetSP(cfa)
	raUndefined := false
	for col := 0; col < ruleSlots; col++ {
		ru := ro.regs[col]
		if ru.kind == ruleUnused {
			continue
		}
		if ru.kind == ruleUndefined {
			if uint64(col) == f.cie.raReg {
				raUndefined = true
			}
			continue
		}
		v, err := recoverColumn(ix, ru, rs, cfa)
		if err != nil {
			return false, err
		}
		if registers.Valid(col) {
			next.SetReg(col, v)
		}
	}

	// The caller resumes at the recovered return-address column. An
	// undefined RA is how CFI marks the outermost frame.
	var ra uint64
	switch {
	case raUndefined:
		ra = 0
	case ro.regs[f.cie.raReg].kind == ruleUnused:
		// No rule: the return address is still live in the register
		// itself, as in leaf frames that never spill the link register.
		ra = rs.Reg(int(f.cie.raReg))
	default:
		ra = next.Reg(int(f.cie.raReg))
	}
	next.SetPC(ra)

	*rs = next
	return f.cie.signalFrame, nil
}

// recoverColumn computes one register's caller-time value per its rule,
// reading the callee-time snapshot and memory as the rule directs.
func recoverColumn(ix *modules.Index, ru regRule, rs *registers.Snapshot, cfa uint64) (uint64, error) {
	switch ru.kind {
	case ruleAtCFAOffset:
		return load64(ix, cfa+uint64(ru.value))
	case ruleIsCFAOffset:
		return cfa + uint64(ru.value), nil
	case ruleInRegister:
		src := int(ru.value)
		if !registers.Valid(src) {
			return 0, ErrBadRegister
		}
		return rs.Reg(src), nil
	case ruleAtExpression:
		addr, err := evalExpression(ix, uint64(ru.value), rs, cfa)
		if err != nil {
			return 0, err
		}
		return load64(ix, addr)
	case ruleIsExpression:
		return evalExpression(ix, uint64(ru.value), rs, cfa)
	default:
		return 0, ErrMalformed
	}
}
