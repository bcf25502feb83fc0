// Package modules maintains the per-process index of loaded executable
// modules and their unwind sections.
//
// Index construction reads /proc and in-memory ELF headers and is the one
// part of the unwinder that allocates; callers that walk stacks from signal
// handlers build the index ahead of time and read it through an atomic
// snapshot. An Index, once built, is immutable: lookups against it never
// allocate and never take locks.
package modules

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Module describes one loaded executable image that carries unwind
// information.
type Module struct {
	// Path is the file the image was mapped from.
	Path string
	// Base is the load bias: the difference between the link-time virtual
	// addresses in the image and where it actually sits in memory. Zero
	// for fixed-position executables.
	Base uint64
	// Text and TextEnd bound the executable segment.
	Text, TextEnd uint64
	// EhFrameHdr and EhFrameHdrEnd bound the .eh_frame_hdr section.
	EhFrameHdr, EhFrameHdrEnd uint64
	// MaxAddr is the highest mapped address of any of the image's
	// segments. Reads on behalf of this module never go past it.
	MaxAddr uint64
}

// Contains reports whether pc falls inside the module's text segment.
func (m *Module) Contains(pc uint64) bool {
	return pc >= m.Text && pc < m.TextEnd
}

// Range is a half-open span of readable process memory.
type Range struct {
	Start, End uint64
}

// maxModules bounds how many modules an index records. Processes with more
// loaded images than this lose unwind coverage for the excess, which beats
// unbounded growth in a structure signal handlers read.
const maxModules = 128

// Index is an immutable snapshot of the process's loaded modules and
// readable memory. All methods are safe for concurrent use and perform no
// allocation.
type Index struct {
	// ID distinguishes snapshots; two Refresh calls never share one.
	ID uuid.UUID
	// BuiltAt records when the snapshot was taken.
	BuiltAt time.Time

	// mods is sorted by Text.
	mods []Module
	// readable is sorted by Start, non-overlapping.
	readable []Range
}

// NewIndex builds an Index from explicit module and readable-memory lists.
// It sorts and merges its inputs. The process-scanning constructors use it;
// tests use it to inject synthetic layouts.
func NewIndex(mods []Module, readable []Range) *Index {
	if len(mods) > maxModules {
		mods = mods[:maxModules]
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Text < mods[j].Text })
	sort.Slice(readable, func(i, j int) bool { return readable[i].Start < readable[j].Start })
	merged := make([]Range, 0, len(readable))
	for _, r := range readable {
		if r.End <= r.Start {
			continue
		}
		if n := len(merged); n > 0 && r.Start <= merged[n-1].End {
			if r.End > merged[n-1].End {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return &Index{
		ID:       uuid.New(),
		BuiltAt:  time.Now(),
		mods:     mods,
		readable: merged,
	}
}

// Lookup finds the module whose text segment contains pc. It reports false
// when pc is outside every known module.
func (ix *Index) Lookup(pc uint64) (*Module, bool) {
	// Binary search: first module with TextEnd > pc.
	lo, hi := 0, len(ix.mods)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if ix.mods[mid].TextEnd <= pc {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(ix.mods) && ix.mods[lo].Contains(pc) {
		return &ix.mods[lo], true
	}
	return nil, false
}

// Readable reports whether the size bytes starting at addr all fall inside
// memory that was readable when the index was built.
func (ix *Index) Readable(addr, size uint64) bool {
	end := addr + size
	if end < addr {
		return false
	}
	lo, hi := 0, len(ix.readable)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if ix.readable[mid].End <= addr {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo < len(ix.readable) && ix.readable[lo].Start <= addr && end <= ix.readable[lo].End
}

// NumModules returns how many modules the snapshot indexed.
func (ix *Index) NumModules() int {
	return len(ix.mods)
}

// Modules returns the indexed modules, sorted by text address. The returned
// slice is shared with the index and must not be modified.
func (ix *Index) Modules() []Module {
	return ix.mods
}
