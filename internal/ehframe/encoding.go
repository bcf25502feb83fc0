package ehframe

// uleb decodes an unsigned LEB128 value.
func (r *reader) uleb() (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		if shift >= 64 {
			return 0, ErrMalformed
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

// sleb decodes a signed LEB128 value.
func (r *reader) sleb() (int64, error) {
	var v int64
	var shift uint
	for {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		if shift >= 64 {
			return 0, ErrMalformed
		}
		v |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				v |= -1 << shift
			}
			return v, nil
		}
	}
}

// pointer decodes an encoded pointer at the reader's position. datarelBase
// anchors DW_EH_PE_datarel values; pc-relative values anchor at the
// position of the encoded value itself.
func (r *reader) pointer(enc byte, datarelBase uint64) (uint64, error) {
	if enc == encOmit {
		return 0, ErrBadEncoding
	}
	start := r.pos

	var v uint64
	switch enc & encValueMask {
	case encAbsptr:
		p, err := r.u64()
		if err != nil {
			return 0, err
		}
		v = p
	case encULEB128:
		p, err := r.uleb()
		if err != nil {
			return 0, err
		}
		v = p
	case encUData2:
		p, err := r.u16()
		if err != nil {
			return 0, err
		}
		v = uint64(p)
	case encUData4:
		p, err := r.u32()
		if err != nil {
			return 0, err
		}
		v = uint64(p)
	case encUData8:
		p, err := r.u64()
		if err != nil {
			return 0, err
		}
		v = p
	case encSLEB128:
		p, err := r.sleb()
		if err != nil {
			return 0, err
		}
		v = uint64(p)
	case encSData2:
		p, err := r.u16()
		if err != nil {
			return 0, err
		}
		v = uint64(int64(int16(p)))
	case encSData4:
		p, err := r.u32()
		if err != nil {
			return 0, err
		}
		v = uint64(int64(int32(p)))
	case encSData8:
		p, err := r.u64()
		if err != nil {
			return 0, err
		}
		v = p
	default:
		return 0, ErrBadEncoding
	}

	switch enc & encApplyMask {
	case 0:
		// Absolute.
	case encPCRel:
		v += start
	case encDataRel:
		v += datarelBase
	default:
		return 0, ErrBadEncoding
	}

	if enc&encIndirect != 0 {
		p, err := load64(r.ix, v)
		if err != nil {
			return 0, err
		}
		v = p
	}
	return v, nil
}
