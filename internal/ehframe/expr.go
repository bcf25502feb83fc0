package ehframe

import (
	"github.com/deepstack-dev/unwind-go/internal/modules"
	"github.com/deepstack-dev/unwind-go/registers"
)

// exprStackSize bounds the evaluation stack. CFI expressions in the wild
// are tiny; anything needing more depth than this is treated as corrupt.
const exprStackSize = 100

// exprStack is a fixed-capacity operand stack.
type exprStack struct {
	vals [exprStackSize]uint64
	n    int
}

func (s *exprStack) push(v uint64) error {
	if s.n >= exprStackSize {
		return ErrMalformed
	}
	s.vals[s.n] = v
	s.n++
	return nil
}

func (s *exprStack) pop() (uint64, error) {
	if s.n == 0 {
		return 0, ErrMalformed
	}
	s.n--
	return s.vals[s.n], nil
}

func (s *exprStack) peek(depth int) (uint64, error) {
	if depth < 0 || depth >= s.n {
		return 0, ErrMalformed
	}
	return s.vals[s.n-1-depth], nil
}

// evalExpression runs the DWARF expression at exprAddr (a ULEB length then
// that many instruction bytes) and returns the value left on top of the
// stack. The stack starts seeded with the frame's CFA, which is how CFI
// expression rules receive their frame context. rs supplies register
// operands.
func evalExpression(ix *modules.Index, exprAddr uint64, rs *registers.Snapshot, cfa uint64) (uint64, error) {
	r := reader{ix: ix, pos: exprAddr}
	length, err := r.uleb()
	if err != nil {
		return 0, err
	}
	r.end = r.pos + length
	start := r.pos

	var st exprStack
	if err := st.push(cfa); err != nil {
		return 0, err
	}

	// Backward branches are legal, so bound the step count to keep a
	// corrupt expression from looping forever.
	const maxSteps = 1000
	for steps := 0; r.pos < r.end; steps++ {
		if steps >= maxSteps {
			return 0, ErrMalformed
		}
		op, err := r.u8()
		if err != nil {
			return 0, err
		}

		switch {
		case op >= opLit0 && op <= opLit31:
			err = st.push(uint64(op - opLit0))
		case op >= opReg0 && op <= opReg31:
			err = pushReg(&st, rs, int(op-opReg0))
		case op >= opBreg0 && op <= opBreg31:
			var off int64
			off, err = r.sleb()
			if err == nil {
				err = pushRegOffset(&st, rs, int(op-opBreg0), off)
			}
		default:
			err = evalOp(&r, &st, ix, rs, start, op)
		}
		if err != nil {
			return 0, err
		}
	}
	return st.pop()
}

// evalOp handles the non-range opcodes. start is the address of the
// expression's first instruction, bounding branch targets from below.
func evalOp(r *reader, st *exprStack, ix *modules.Index, rs *registers.Snapshot, start uint64, op byte) error {
	switch op {
	case opAddr:
		v, err := r.u64()
		if err != nil {
			return err
		}
		return st.push(v)
	case opConst1U:
		v, err := r.u8()
		if err != nil {
			return err
		}
		return st.push(uint64(v))
	case opConst1S:
		v, err := r.u8()
		if err != nil {
			return err
		}
		return st.push(uint64(int64(int8(v))))
	case opConst2U:
		v, err := r.u16()
		if err != nil {
			return err
		}
		return st.push(uint64(v))
	case opConst2S:
		v, err := r.u16()
		if err != nil {
			return err
		}
		return st.push(uint64(int64(int16(v))))
	case opConst4U:
		v, err := r.u32()
		if err != nil {
			return err
		}
		return st.push(uint64(v))
	case opConst4S:
		v, err := r.u32()
		if err != nil {
			return err
		}
		return st.push(uint64(int64(int32(v))))
	case opConst8U, opConst8S:
		v, err := r.u64()
		if err != nil {
			return err
		}
		return st.push(v)
	case opConstU:
		v, err := r.uleb()
		if err != nil {
			return err
		}
		return st.push(v)
	case opConstS:
		v, err := r.sleb()
		if err != nil {
			return err
		}
		return st.push(uint64(v))
	case opDup:
		v, err := st.peek(0)
		if err != nil {
			return err
		}
		return st.push(v)
	case opDrop:
		_, err := st.pop()
		return err
	case opOver:
		v, err := st.peek(1)
		if err != nil {
			return err
		}
		return st.push(v)
	case opPick:
		depth, err := r.u8()
		if err != nil {
			return err
		}
		v, err := st.peek(int(depth))
		if err != nil {
			return err
		}
		return st.push(v)
	case opSwap:
		a, err := st.pop()
		if err != nil {
			return err
		}
		b, err := st.pop()
		if err != nil {
			return err
		}
		if err := st.push(a); err != nil {
			return err
		}
		return st.push(b)
	case opRot:
		a, err := st.pop()
		if err != nil {
			return err
		}
		b, err := st.pop()
		if err != nil {
			return err
		}
		c, err := st.pop()
		if err != nil {
			return err
		}
		if err := st.push(a); err != nil {
			return err
		}
		if err := st.push(c); err != nil {
			return err
		}
		return st.push(b)
	case opDeref:
		addr, err := st.pop()
		if err != nil {
			return err
		}
		v, err := load64(ix, addr)
		if err != nil {
			return err
		}
		return st.push(v)
	case opDerefSize:
		size, err := r.u8()
		if err != nil {
			return err
		}
		addr, err := st.pop()
		if err != nil {
			return err
		}
		var v uint64
		switch size {
		case 1:
			b, err := load8(ix, addr)
			if err != nil {
				return err
			}
			v = uint64(b)
		case 2:
			h, err := load16(ix, addr)
			if err != nil {
				return err
			}
			v = uint64(h)
		case 4:
			w, err := load32(ix, addr)
			if err != nil {
				return err
			}
			v = uint64(w)
		case 8:
			d, err := load64(ix, addr)
			if err != nil {
				return err
			}
			v = d
		default:
			return ErrMalformed
		}
		return st.push(v)
	case opAbs:
		v, err := st.pop()
		if err != nil {
			return err
		}
		if int64(v) < 0 {
			v = uint64(-int64(v))
		}
		return st.push(v)
	case opNeg:
		v, err := st.pop()
		if err != nil {
			return err
		}
		return st.push(uint64(-int64(v)))
	case opNot:
		v, err := st.pop()
		if err != nil {
			return err
		}
		return st.push(^v)
	case opPlusUConst:
		c, err := r.uleb()
		if err != nil {
			return err
		}
		v, err := st.pop()
		if err != nil {
			return err
		}
		return st.push(v + c)
	case opAnd, opDiv, opMinus, opMod, opMul, opOr, opPlus, opShl, opShr, opShra, opXor,
		opEq, opGe, opGt, opLe, opLt, opNe:
		return binaryOp(st, op)
	case opSkip:
		off, err := r.u16()
		if err != nil {
			return err
		}
		return branch(r, start, int16(off))
	case opBra:
		off, err := r.u16()
		if err != nil {
			return err
		}
		v, err := st.pop()
		if err != nil {
			return err
		}
		if v != 0 {
			return branch(r, start, int16(off))
		}
		return nil
	case opRegX:
		reg, err := r.uleb()
		if err != nil {
			return err
		}
		return pushReg(st, rs, int(reg))
	case opBregX:
		reg, err := r.uleb()
		if err != nil {
			return err
		}
		off, err := r.sleb()
		if err != nil {
			return err
		}
		return pushRegOffset(st, rs, int(reg), off)
	case opNop:
		return nil
	default:
		return ErrMalformed
	}
}

func binaryOp(st *exprStack, op byte) error {
	b, err := st.pop()
	if err != nil {
		return err
	}
	a, err := st.pop()
	if err != nil {
		return err
	}
	var v uint64
	switch op {
	case opAnd:
		v = a & b
	case opDiv:
		if b == 0 {
			return ErrMalformed
		}
		v = uint64(int64(a) / int64(b))
	case opMinus:
		v = a - b
	case opMod:
		if b == 0 {
			return ErrMalformed
		}
		v = a % b
	case opMul:
		v = a * b
	case opOr:
		v = a | b
	case opPlus:
		v = a + b
	case opShl:
		if b < 64 {
			v = a << b
		}
	case opShr:
		if b < 64 {
			v = a >> b
		}
	case opShra:
		if b >= 64 {
			b = 63
		}
		v = uint64(int64(a) >> b)
	case opXor:
		v = a ^ b
	case opEq:
		v = boolVal(a == b)
	case opGe:
		v = boolVal(int64(a) >= int64(b))
	case opGt:
		v = boolVal(int64(a) > int64(b))
	case opLe:
		v = boolVal(int64(a) <= int64(b))
	case opLt:
		v = boolVal(int64(a) < int64(b))
	case opNe:
		v = boolVal(a != b)
	}
	return st.push(v)
}

func boolVal(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// branch moves the reader by a signed byte offset, staying inside the
// expression: a target before its first instruction or past its end is
// corruption.
func branch(r *reader, start uint64, off int16) error {
	pos := r.pos + uint64(int64(off))
	if pos < start || pos > r.end {
		return ErrMalformed
	}
	r.pos = pos
	return nil
}

func pushReg(st *exprStack, rs *registers.Snapshot, reg int) error {
	if !registers.Valid(reg) {
		return ErrBadRegister
	}
	return st.push(rs.Reg(reg))
}

func pushRegOffset(st *exprStack, rs *registers.Snapshot, reg int, off int64) error {
	if !registers.Valid(reg) {
		return ErrBadRegister
	}
	return st.push(rs.Reg(reg) + uint64(off))
}
