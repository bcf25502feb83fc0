package ehframe

import (
	"encoding/binary"
	"unsafe"

	"github.com/deepstack-dev/unwind-go/internal/modules"
)

// Test fixtures build real .eh_frame_hdr and .eh_frame images in heap
// memory and index that memory, so the decoder runs against the same kind
// of raw bytes it sees in a live process.

func appendULEB(b []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}

func appendSLEB(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

func appendU32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func appendU64(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(b, v)
}

// synthFunc describes one function's frame info in a synthetic module.
type synthFunc struct {
	start, end uint64
	// program holds the FDE's call-frame instructions.
	program []byte
}

// synthCIE configures the shared CIE.
type synthCIE struct {
	raReg       byte
	signalFrame bool
	// initial holds the CIE's initial instructions, typically the CFA
	// definition and the return-address save rule.
	initial []byte
}

// synthModule keeps the backing memory of a synthetic module alive
// alongside the index that describes it.
type synthModule struct {
	buf []byte
	ix  *modules.Index
	mod *modules.Module
}

func sliceAddr(b []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// buildSynth lays out [eh_frame_hdr | eh_frame] in one allocation, with
// the header's search table and the FDE pc values using absolute 8-byte
// encodings. extraReadable lets tests make stack images loadable.
func buildSynth(c synthCIE, funcs []synthFunc, extraReadable ...modules.Range) *synthModule {
	// CIE: length, id 0, version 1, "zR" (+"S"), aligns, RA reg,
	// augmentation data carrying the absptr FDE encoding.
	aug := []byte{'z', 'R'}
	if c.signalFrame {
		aug = append(aug, 'S')
	}
	var cieBody []byte
	cieBody = appendU32(cieBody, 0) // CIE id
	cieBody = append(cieBody, 1)    // version
	cieBody = append(cieBody, aug...)
	cieBody = append(cieBody, 0)
	cieBody = appendULEB(cieBody, 1)  // code alignment
	cieBody = appendSLEB(cieBody, -8) // data alignment
	cieBody = append(cieBody, c.raReg)
	cieBody = appendULEB(cieBody, 1)         // augmentation data length
	cieBody = append(cieBody, byte(encAbsptr)) // FDE pointer encoding
	cieBody = append(cieBody, c.initial...)

	var ehFrame []byte
	ehFrame = appendU32(ehFrame, uint32(len(cieBody)))
	ehFrame = append(ehFrame, cieBody...)

	fdeOffsets := make([]uint64, len(funcs))
	for i, fn := range funcs {
		var body []byte
		// CIE pointer: back-offset from this field to the CIE.
		idPos := uint64(len(ehFrame)) + 4
		body = appendU32(body, uint32(idPos))
		body = appendU64(body, fn.start)
		body = appendU64(body, fn.end-fn.start)
		body = appendULEB(body, 0) // augmentation data length
		body = append(body, fn.program...)
		fdeOffsets[i] = uint64(len(ehFrame))
		ehFrame = appendU32(ehFrame, uint32(len(body)))
		ehFrame = append(ehFrame, body...)
	}
	ehFrame = appendU32(ehFrame, 0) // terminator

	hdrSize := 4 + 8 + 8 + 16*len(funcs)
	buf := make([]byte, hdrSize+len(ehFrame))
	base := sliceAddr(buf)
	ehFrameAddr := base + uint64(hdrSize)
	copy(buf[hdrSize:], ehFrame)

	// Header: version, then absptr encodings for the frame pointer, the
	// count, and the table.
	hdr := buf[:0]
	hdr = append(hdr, 1, encAbsptr, encAbsptr, encAbsptr)
	hdr = appendU64(hdr, ehFrameAddr)
	hdr = appendU64(hdr, uint64(len(funcs)))
	for i, fn := range funcs {
		hdr = appendU64(hdr, fn.start)
		hdr = appendU64(hdr, ehFrameAddr+fdeOffsets[i])
	}

	textStart, textEnd := ^uint64(0), uint64(0)
	for _, fn := range funcs {
		if fn.start < textStart {
			textStart = fn.start
		}
		if fn.end > textEnd {
			textEnd = fn.end
		}
	}
	mods := []modules.Module{{
		Path:          "/synthetic/module",
		Text:          textStart,
		TextEnd:       textEnd,
		EhFrameHdr:    base,
		EhFrameHdrEnd: base + uint64(hdrSize),
		MaxAddr:       base + uint64(len(buf)),
	}}
	readable := append([]modules.Range{{Start: base, End: base + uint64(len(buf))}}, extraReadable...)
	ix := modules.NewIndex(mods, readable)
	m := &ix.Modules()[0]
	return &synthModule{buf: buf, ix: ix, mod: m}
}
