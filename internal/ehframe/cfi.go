package ehframe

import "github.com/deepstack-dev/unwind-go/internal/modules"

// cie is a decoded Common Information Entry: the shared prologue for a set
// of FDEs.
type cie struct {
	codeAlign uint64
	dataAlign int64
	// raReg is the column holding the return address.
	raReg uint64
	// fdeEnc encodes pc values in FDEs referencing this CIE.
	fdeEnc byte
	// lsdaEnc, when present, encodes the language-specific data pointer
	// FDEs carry in their augmentation data.
	lsdaEnc    byte
	hasLSDA    bool
	hasAugData bool
	// signalFrame is the 'S' augmentation: the FDE describes a signal
	// trampoline, whose pc is a precise resume address rather than a
	// return address.
	signalFrame bool

	// initialStart and initialEnd bound the CIE's initial call-frame
	// instructions.
	initialStart, initialEnd uint64
}

// fde is a decoded Frame Description Entry covering one function.
type fde struct {
	cie            cie
	pcStart, pcEnd uint64
	// instrStart and instrEnd bound the FDE's call-frame instructions.
	instrStart, instrEnd uint64
}

func (f *fde) covers(pc uint64) bool {
	return pc >= f.pcStart && pc < f.pcEnd
}

// entryLength reads the length field of a CIE or FDE, handling the
// 64-bit-format escape. It returns the length and the size of the id field
// that follows.
func entryLength(r *reader) (length uint64, idSize uint64, err error) {
	l, err := r.u32()
	if err != nil {
		return 0, 0, err
	}
	if l != 0xffffffff {
		return uint64(l), 4, nil
	}
	l64, err := r.u64()
	if err != nil {
		return 0, 0, err
	}
	return l64, 8, nil
}

// parseCIE decodes the CIE at addr.
func parseCIE(ix *modules.Index, addr uint64) (cie, error) {
	r := reader{ix: ix, pos: addr}
	length, idSize, err := entryLength(&r)
	if err != nil {
		return cie{}, err
	}
	if length == 0 {
		return cie{}, ErrMalformed
	}
	r.end = r.pos + length
	// The id field distinguishes CIEs (zero) from FDEs.
	var id uint64
	if idSize == 4 {
		v, err := r.u32()
		if err != nil {
			return cie{}, err
		}
		id = uint64(v)
	} else {
		id, err = r.u64()
		if err != nil {
			return cie{}, err
		}
	}
	if id != 0 {
		return cie{}, ErrMalformed
	}
	version, err := r.u8()
	if err != nil {
		return cie{}, err
	}
	if version != 1 && version != 3 {
		return cie{}, ErrMalformed
	}

	// Augmentation string: a short nul-terminated tag list.
	var aug [8]byte
	augLen := 0
	for {
		b, err := r.u8()
		if err != nil {
			return cie{}, err
		}
		if b == 0 {
			break
		}
		if augLen >= len(aug) {
			return cie{}, ErrMalformed
		}
		aug[augLen] = b
		augLen++
	}

	c := cie{fdeEnc: encAbsptr}
	c.codeAlign, err = r.uleb()
	if err != nil {
		return cie{}, err
	}
	c.dataAlign, err = r.sleb()
	if err != nil {
		return cie{}, err
	}
	if version == 1 {
		b, err := r.u8()
		if err != nil {
			return cie{}, err
		}
		c.raReg = uint64(b)
	} else {
		c.raReg, err = r.uleb()
		if err != nil {
			return cie{}, err
		}
	}

	if augLen > 0 && aug[0] == 'z' {
		c.hasAugData = true
		augDataLen, err := r.uleb()
		if err != nil {
			return cie{}, err
		}
		augEnd := r.pos + augDataLen
		for _, tag := range aug[1:augLen] {
			switch tag {
			case 'R':
				c.fdeEnc, err = r.u8()
				if err != nil {
					return cie{}, err
				}
			case 'L':
				c.lsdaEnc, err = r.u8()
				if err != nil {
					return cie{}, err
				}
				c.hasLSDA = true
			case 'P':
				personalityEnc, err := r.u8()
				if err != nil {
					return cie{}, err
				}
				if _, err := r.pointer(personalityEnc, 0); err != nil {
					return cie{}, err
				}
			case 'S':
				c.signalFrame = true
			case 'B':
				// arm64 B-key pointer authentication; the RA-state
				// column tracks whether it applies per pc.
			default:
				return cie{}, ErrMalformed
			}
		}
		if r.pos > augEnd {
			return cie{}, ErrMalformed
		}
		r.pos = augEnd
	}

	c.initialStart = r.pos
	c.initialEnd = r.end
	return c, nil
}

// parseFDE decodes the FDE at addr, including its CIE.
func parseFDE(ix *modules.Index, addr uint64) (fde, error) {
	r := reader{ix: ix, pos: addr}
	length, idSize, err := entryLength(&r)
	if err != nil {
		return fde{}, err
	}
	if length == 0 {
		return fde{}, ErrMalformed
	}
	r.end = r.pos + length

	idPos := r.pos
	var id uint64
	if idSize == 4 {
		v, err := r.u32()
		if err != nil {
			return fde{}, err
		}
		id = uint64(v)
	} else {
		id, err = r.u64()
		if err != nil {
			return fde{}, err
		}
	}
	if id == 0 {
		// A CIE where an FDE was expected.
		return fde{}, ErrMalformed
	}
	// In .eh_frame the id is a self-relative back-offset to the CIE.
	if id > idPos {
		return fde{}, ErrMalformed
	}
	c, err := parseCIE(ix, idPos-id)
	if err != nil {
		return fde{}, err
	}

	f := fde{cie: c}
	f.pcStart, err = r.pointer(c.fdeEnc, 0)
	if err != nil {
		return fde{}, err
	}
	// The range is a bare value: same format, no application.
	pcRange, err := r.pointer(c.fdeEnc&encValueMask, 0)
	if err != nil {
		return fde{}, err
	}
	f.pcEnd = f.pcStart + pcRange

	if c.hasAugData {
		augDataLen, err := r.uleb()
		if err != nil {
			return fde{}, err
		}
		if err := r.skip(augDataLen); err != nil {
			return fde{}, err
		}
	}
	f.instrStart = r.pos
	f.instrEnd = r.end
	return f, nil
}

// findFDE locates the FDE covering pc in mod. It consults the
// .eh_frame_hdr binary-search table first and falls back to a linear scan
// of .eh_frame when the table's candidate does not pan out.
func findFDE(ix *modules.Index, mod *modules.Module, pc uint64) (fde, error) {
	h, err := parseHeader(ix, mod)
	if err != nil {
		return fde{}, err
	}
	if fdeAddr, err := h.search(ix, pc); err == nil {
		if f, err := parseFDE(ix, fdeAddr); err == nil && f.covers(pc) {
			return f, nil
		}
	}
	return scanEhFrame(ix, mod, h.ehFramePtr, pc)
}

// scanEhFrame walks .eh_frame entry by entry looking for the FDE covering
// pc. Linear, but only reached when the search table misses.
func scanEhFrame(ix *modules.Index, mod *modules.Module, ehFrame uint64, pc uint64) (fde, error) {
	pos := ehFrame
	for pos < mod.MaxAddr {
		r := reader{ix: ix, pos: pos}
		length, idSize, err := entryLength(&r)
		if err != nil {
			return fde{}, ErrNotFound
		}
		if length == 0 {
			// Section terminator.
			return fde{}, ErrNotFound
		}
		next := r.pos + length
		var id uint64
		if idSize == 4 {
			v, err := r.u32()
			if err != nil {
				return fde{}, ErrNotFound
			}
			id = uint64(v)
		} else {
			id, err = r.u64()
			if err != nil {
				return fde{}, ErrNotFound
			}
		}
		if id != 0 {
			if f, err := parseFDE(ix, pos); err == nil && f.covers(pc) {
				return f, nil
			}
		}
		if next <= pos {
			return fde{}, ErrMalformed
		}
		pos = next
	}
	return fde{}, ErrNotFound
}
