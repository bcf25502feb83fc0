package ehframe

import (
	"unsafe"

	"github.com/deepstack-dev/unwind-go/internal/modules"
)

// load reads sz bytes (1, 2, 4 or 8) of process memory at addr, refusing
// addresses outside the index's readable ranges. Unwind info routinely
// packs values unaligned; both supported architectures tolerate unaligned
// loads.
func load8(ix *modules.Index, addr uint64) (byte, error) {
	if !ix.Readable(addr, 1) {
		return 0, ErrUnreadable
	}
	return *(*byte)(unsafe.Pointer(uintptr(addr))), nil
}

func load16(ix *modules.Index, addr uint64) (uint16, error) {
	if !ix.Readable(addr, 2) {
		return 0, ErrUnreadable
	}
	return *(*uint16)(unsafe.Pointer(uintptr(addr))), nil
}

func load32(ix *modules.Index, addr uint64) (uint32, error) {
	if !ix.Readable(addr, 4) {
		return 0, ErrUnreadable
	}
	return *(*uint32)(unsafe.Pointer(uintptr(addr))), nil
}

func load64(ix *modules.Index, addr uint64) (uint64, error) {
	if !ix.Readable(addr, 8) {
		return 0, ErrUnreadable
	}
	return *(*uint64)(unsafe.Pointer(uintptr(addr))), nil
}

// reader decodes unwind structures sequentially from process memory. It is
// a plain value; copies are independent positions over the same memory.
type reader struct {
	ix  *modules.Index
	pos uint64
	// end bounds the read when non-zero. Entry parsers set it from the
	// entry's declared length.
	end uint64
}

func (r *reader) remaining(n uint64) bool {
	return r.end == 0 || r.pos+n <= r.end
}

func (r *reader) u8() (byte, error) {
	if !r.remaining(1) {
		return 0, ErrMalformed
	}
	v, err := load8(r.ix, r.pos)
	if err != nil {
		return 0, err
	}
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if !r.remaining(2) {
		return 0, ErrMalformed
	}
	v, err := load16(r.ix, r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if !r.remaining(4) {
		return 0, ErrMalformed
	}
	v, err := load32(r.ix, r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if !r.remaining(8) {
		return 0, ErrMalformed
	}
	v, err := load64(r.ix, r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += 8
	return v, nil
}

func (r *reader) skip(n uint64) error {
	if !r.remaining(n) {
		return ErrMalformed
	}
	r.pos += n
	return nil
}
