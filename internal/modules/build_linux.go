//go:build linux

package modules

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapping is one parsed line of /proc/<pid>/task/<tid>/maps.
type mapping struct {
	start, end uint64
	offset     uint64
	readable   bool
	executable bool
	path       string
}

// buildIndex scans the process's memory map and the in-memory ELF headers
// of each mapped image.
func buildIndex() (*Index, error) {
	path := fmt.Sprintf("/proc/%d/task/%d/maps", unix.Getpid(), unix.Gettid())
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	maps, err := parseMapsData(data)
	if err != nil {
		return nil, err
	}
	var readable []Range
	for _, m := range maps {
		if m.readable {
			readable = append(readable, Range{Start: m.start, End: m.end})
		}
	}
	var mods []Module
	for _, m := range maps {
		if len(mods) >= maxModules {
			break
		}
		if !isModuleCandidate(m) {
			continue
		}
		mod, ok := scanELF(m)
		if !ok {
			continue
		}
		mods = append(mods, mod)
	}
	return NewIndex(mods, readable), nil
}

// isModuleCandidate filters mappings down to ones that could be the first
// page of a loaded ELF image.
func isModuleCandidate(m mapping) bool {
	return m.readable && m.offset == 0 && strings.HasPrefix(m.path, "/")
}

func parseMapsData(data []byte) ([]mapping, error) {
	var out []mapping
	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			data = nil
		}
		if len(line) == 0 {
			continue
		}
		m, err := parseMapsLine(string(line))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// parseMapsLine decodes one maps entry:
//
//	start-end perms offset dev inode [path]
func parseMapsLine(line string) (mapping, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return mapping{}, fmt.Errorf("malformed maps line %q", line)
	}
	dash := strings.IndexByte(fields[0], '-')
	if dash < 0 {
		return mapping{}, fmt.Errorf("malformed address range %q", fields[0])
	}
	start, err := strconv.ParseUint(fields[0][:dash], 16, 64)
	if err != nil {
		return mapping{}, fmt.Errorf("malformed address range %q: %w", fields[0], err)
	}
	end, err := strconv.ParseUint(fields[0][dash+1:], 16, 64)
	if err != nil {
		return mapping{}, fmt.Errorf("malformed address range %q: %w", fields[0], err)
	}
	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return mapping{}, fmt.Errorf("malformed offset %q: %w", fields[2], err)
	}
	m := mapping{
		start:      start,
		end:        end,
		offset:     offset,
		readable:   strings.Contains(fields[1], "r"),
		executable: strings.Contains(fields[1], "x"),
	}
	if len(fields) >= 6 {
		m.path = fields[5]
	}
	return m, nil
}

// scanELF reads the ELF and program headers of the image mapped at m
// directly from memory and derives the module's text and unwind-section
// bounds. It reports false for mappings that turn out not to be usable ELF
// images.
func scanELF(m mapping) (Module, bool) {
	if m.end-m.start < uint64(unsafe.Sizeof(elf.Header64{})) {
		return Module{}, false
	}
	ehdr := (*elf.Header64)(unsafe.Pointer(uintptr(m.start)))
	if ehdr.Ident[0] != 0x7f || ehdr.Ident[1] != 'E' || ehdr.Ident[2] != 'L' || ehdr.Ident[3] != 'F' {
		return Module{}, false
	}
	if ehdr.Ident[elf.EI_CLASS] != byte(elf.ELFCLASS64) {
		return Module{}, false
	}
	typ := elf.Type(ehdr.Type)
	if typ != elf.ET_DYN && typ != elf.ET_EXEC {
		return Module{}, false
	}
	if uint64(ehdr.Phentsize) != uint64(unsafe.Sizeof(elf.Prog64{})) {
		return Module{}, false
	}
	phEnd := ehdr.Phoff + uint64(ehdr.Phnum)*uint64(ehdr.Phentsize)
	if phEnd < ehdr.Phoff || m.start+phEnd > m.end {
		// Program headers outside the first mapping; give up on this
		// image rather than chase them.
		return Module{}, false
	}

	var bias uint64
	if typ == elf.ET_DYN {
		bias = m.start
	}
	mod := Module{Path: m.path, Base: bias}
	var haveText, haveEhFrameHdr bool
	for i := uint64(0); i < uint64(ehdr.Phnum); i++ {
		ph := (*elf.Prog64)(unsafe.Pointer(uintptr(m.start + ehdr.Phoff + i*uint64(ehdr.Phentsize))))
		switch elf.ProgType(ph.Type) {
		case elf.PT_LOAD:
			segEnd := bias + ph.Vaddr + ph.Memsz
			if segEnd > mod.MaxAddr {
				mod.MaxAddr = segEnd
			}
			if elf.ProgFlag(ph.Flags)&elf.PF_X != 0 && !haveText {
				mod.Text = bias + ph.Vaddr
				mod.TextEnd = segEnd
				haveText = true
			}
		case elf.PT_GNU_EH_FRAME:
			mod.EhFrameHdr = bias + ph.Vaddr
			mod.EhFrameHdrEnd = bias + ph.Vaddr + ph.Memsz
			haveEhFrameHdr = true
		}
	}
	if !haveText || !haveEhFrameHdr {
		return Module{}, false
	}
	return mod, true
}
