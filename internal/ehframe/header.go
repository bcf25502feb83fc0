package ehframe

import "github.com/deepstack-dev/unwind-go/internal/modules"

// header is a decoded .eh_frame_hdr section: a pointer to .eh_frame plus a
// binary-search table mapping function start addresses to their FDEs.
type header struct {
	// ehFramePtr is the address of the .eh_frame section.
	ehFramePtr uint64
	// fdeCount is how many entries the search table holds.
	fdeCount uint64
	// tableEnc encodes the search-table entries; base anchors their
	// datarel values at the section start.
	tableEnc byte
	base     uint64
	// tableStart is the address of the first table entry.
	tableStart uint64
}

// parseHeader decodes the .eh_frame_hdr section of mod.
func parseHeader(ix *modules.Index, mod *modules.Module) (header, error) {
	r := reader{ix: ix, pos: mod.EhFrameHdr, end: mod.EhFrameHdrEnd}
	version, err := r.u8()
	if err != nil {
		return header{}, err
	}
	if version != 1 {
		return header{}, ErrMalformed
	}
	ehFramePtrEnc, err := r.u8()
	if err != nil {
		return header{}, err
	}
	fdeCountEnc, err := r.u8()
	if err != nil {
		return header{}, err
	}
	tableEnc, err := r.u8()
	if err != nil {
		return header{}, err
	}
	h := header{tableEnc: tableEnc, base: mod.EhFrameHdr}
	h.ehFramePtr, err = r.pointer(ehFramePtrEnc, h.base)
	if err != nil {
		return header{}, err
	}
	h.fdeCount, err = r.pointer(fdeCountEnc, h.base)
	if err != nil {
		return header{}, err
	}
	h.tableStart = r.pos
	return h, nil
}

// entrySize returns the byte size of one search-table entry, which holds
// two values of the table encoding's format.
func (h *header) entrySize() (uint64, error) {
	switch h.tableEnc & encValueMask {
	case encUData4, encSData4:
		return 8, nil
	case encAbsptr, encUData8, encSData8:
		return 16, nil
	default:
		// Variable-width table entries defeat binary search.
		return 0, ErrBadEncoding
	}
}

// search binary-searches the table for the FDE of the function whose start
// is the greatest one not above pc. A hit is only a candidate: the caller
// still checks pc against the FDE's actual range.
func (h *header) search(ix *modules.Index, pc uint64) (uint64, error) {
	if h.fdeCount == 0 {
		return 0, ErrNotFound
	}
	size, err := h.entrySize()
	if err != nil {
		return 0, err
	}
	readEntry := func(i uint64) (start, fde uint64, err error) {
		r := reader{ix: ix, pos: h.tableStart + i*size}
		start, err = r.pointer(h.tableEnc, h.base)
		if err != nil {
			return 0, 0, err
		}
		fde, err = r.pointer(h.tableEnc, h.base)
		if err != nil {
			return 0, 0, err
		}
		return start, fde, nil
	}

	// Find the last entry with start <= pc.
	lo, hi := uint64(0), h.fdeCount
	for lo < hi {
		mid := (lo + hi) / 2
		start, _, err := readEntry(mid)
		if err != nil {
			return 0, err
		}
		if start <= pc {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0, ErrNotFound
	}
	_, fde, err := readEntry(lo - 1)
	if err != nil {
		return 0, err
	}
	return fde, nil
}
