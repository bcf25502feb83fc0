package unwind

import (
	"errors"
	"unsafe"

	"github.com/deepstack-dev/unwind-go/internal/ehframe"
	"github.com/deepstack-dev/unwind-go/internal/modules"
	"github.com/deepstack-dev/unwind-go/registers"
)

// Trace captures the current execution context and walks the stack,
// delivering the caller's frame first. Trace's own frame is not reported.
//
// When no index was built yet and none is supplied via WithIndex, Trace
// builds the global one, so the first call can allocate; later calls do
// not.
//
//go:noinline
func Trace(cb Callback, opts ...Option) (Status, error) {
	if err := registers.Supported(); err != nil {
		return StoppedOnError, err
	}
	cfg := defaultConfig()
	for _, o := range opts {
		cfg = o.apply(cfg)
	}
	ix := cfg.index
	if ix == nil {
		var err error
		ix, err = modules.Active()
		if err != nil {
			return StoppedOnError, err
		}
	}

	var rs registers.Snapshot
	registers.CaptureCurrent(&rs)

	// The captured snapshot describes Trace itself. Step once so the
	// walk starts at the caller; if nothing covers Trace's pc (static Go
	// binaries often carry no unwind tables), try the frame-pointer
	// chain, and failing that report from the capture point.
	stepped := false
	if mod, ok := ix.Lookup(rs.PC() - 1); ok {
		_, err := ehframe.Step(ix, mod, rs.PC()-1, &rs)
		if err == nil {
			stepped = true
		} else if !errors.Is(err, ehframe.ErrNotFound) {
			return StoppedOnError, err
		}
	}
	if !stepped && cfg.fpFallback {
		if !fpStep(ix, &rs) {
			return StoppedAtTop, nil
		}
	}
	return walk(ix, &rs, &cfg, cb, false)
}

// TraceSignalContext walks the stack of the code interrupted by a signal,
// starting from the ucontext passed to a SA_SIGINFO handler. The
// interrupted frame itself is delivered first.
//
// It performs no allocation and reads no unguarded memory, but it requires
// an index built ahead of time: with none available it stops with
// ErrNotInitialized rather than scanning the process mid-signal.
func TraceSignalContext(uctx unsafe.Pointer, cb Callback, opts ...Option) (Status, error) {
	if err := registers.Supported(); err != nil {
		return StoppedOnError, err
	}
	cfg := defaultConfig()
	for _, o := range opts {
		cfg = o.apply(cfg)
	}
	ix := cfg.index
	if ix == nil {
		if ix = modules.Loaded(); ix == nil {
			return StoppedOnError, ErrNotInitialized
		}
	}
	rs, ok := registers.FromSignalContext(uctx)
	if !ok {
		return StoppedOnError, ErrBadContext
	}
	return walk(ix, &rs, &cfg, cb, true)
}

// walk drives the unwind loop: deliver the current frame, then step to its
// caller until a terminal condition. firstPrecise says whether the first
// frame's pc is a precise interrupt address (signal capture) rather than a
// return address.
func walk(ix *modules.Index, rs *registers.Snapshot, cfg *config, cb Callback, firstPrecise bool) (Status, error) {
	precise := firstPrecise
	for depth := 0; ; depth++ {
		if depth >= cfg.maxDepth {
			return StoppedByLimit, nil
		}
		if !cb(Frame{PC: rs.PC(), SP: rs.SP()}) {
			return StoppedByCallback, nil
		}

		if rs.PC() == 0 {
			return StoppedAtTop, nil
		}
		// Return addresses point after the call; look up the call site
		// itself so a call ending a function body still resolves. A
		// precise pc (interrupted or signal-trampoline frame) is used
		// as-is.
		lookupPC := rs.PC()
		if !precise {
			lookupPC--
		}

		prevSP := rs.SP()
		mod, ok := ix.Lookup(lookupPC)
		if !ok {
			if cfg.fpFallback && fpStep(ix, rs) {
				precise = false
			} else {
				return StoppedAtTop, nil
			}
		} else {
			signalFrame, err := ehframe.Step(ix, mod, lookupPC, rs)
			switch {
			case errors.Is(err, ehframe.ErrNotFound):
				if cfg.fpFallback && fpStep(ix, rs) {
					precise = false
					break
				}
				return StoppedAtTop, nil
			case err != nil:
				return StoppedOnError, err
			default:
				precise = signalFrame
			}
		}
		if rs.PC() == 0 {
			return StoppedAtTop, nil
		}
		// Each caller must live strictly higher on the stack. Anything
		// else means the unwind info led somewhere bogus, and following
		// it could loop forever.
		if rs.SP() <= prevSP {
			return StoppedOnError, ErrNoProgress
		}
	}
}

// fpStep advances rs one frame along the frame-pointer chain: the saved
// caller frame pointer sits at the current one, the return address just
// above it. Reports false at the chain's end or when the chain leaves
// readable memory.
func fpStep(ix *modules.Index, rs *registers.Snapshot) bool {
	fp := rs.FP()
	if fp == 0 || !ix.Readable(fp, 16) {
		return false
	}
	callerFP := *(*uint64)(unsafe.Pointer(uintptr(fp)))
	ra := *(*uint64)(unsafe.Pointer(uintptr(fp + 8)))
	if ra == 0 {
		return false
	}
	rs.SetFP(callerFP)
	rs.SetPC(ra)
	rs.SetSP(fp + 16)
	return true
}
