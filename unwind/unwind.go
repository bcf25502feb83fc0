// Package unwind walks native call stacks of the running process using the
// DWARF call-frame information in loaded modules' .eh_frame sections.
//
// Two entry points start a walk. Trace captures the current goroutine's
// execution context and walks from the caller outward. TraceSignalContext
// starts from the ucontext a signal handler receives, which is the main
// use: sampling profilers unwinding whatever code the signal interrupted.
//
// Walks deliver frames innermost-first to a callback and allocate nothing,
// so TraceSignalContext is safe to call from a signal handler provided the
// module index was built beforehand:
//
//	if _, err := unwind.Init(); err != nil { ... }
//	// later, inside a SIGPROF handler:
//	var buf unwind.PCBuffer
//	unwind.TraceSignalContext(uctx, buf.Collect)
//
// Building the index reads /proc and allocates, which is why it is forced
// out of the signal path.
package unwind

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/deepstack-dev/unwind-go/internal/modules"
)

// DefaultMaxDepth is how many frames a walk delivers before stopping with
// StoppedByLimit, unless WithMaxDepth overrides it.
const DefaultMaxDepth = 512

var (
	// ErrNotInitialized is returned by TraceSignalContext when no module
	// index exists yet. Signal handlers cannot build one; call Init
	// first.
	ErrNotInitialized = errors.New("module index not initialized")
	// ErrNoProgress means a step produced a stack pointer at or below
	// the previous frame's, which can only come from corrupt or
	// mismatched unwind info; continuing would risk a cycle.
	ErrNoProgress = errors.New("stack pointer did not advance")
	// ErrBadContext means the signal context pointer was nil or the
	// platform has no layout for it.
	ErrBadContext = errors.New("unusable signal context")
)

// Status reports how a walk ended. Every walk ends in exactly one of these.
type Status int

const (
	// StoppedByCallback: the callback returned false.
	StoppedByCallback Status = iota
	// StoppedAtTop: the walk ran out of frames naturally, by reaching a
	// frame with no return address or no unwind info covering it.
	StoppedAtTop
	// StoppedOnError: unwind info was present but unusable; the error
	// returned alongside says why. Frames delivered before the failure
	// remain valid.
	StoppedOnError
	// StoppedByLimit: the walk delivered the full frame budget.
	StoppedByLimit
)

func (s Status) String() string {
	switch s {
	case StoppedByCallback:
		return "stopped by callback"
	case StoppedAtTop:
		return "stopped at top of stack"
	case StoppedOnError:
		return "stopped on error"
	case StoppedByLimit:
		return "stopped at frame limit"
	default:
		return "unknown status"
	}
}

// Frame is one call frame delivered to the walk callback. PC is the
// program counter inside the frame's function; for every frame but the
// innermost it is a return address. SP is the frame's stack pointer.
type Frame struct {
	PC uint64
	SP uint64
}

// Callback receives frames innermost-first. Returning false cancels the
// walk, which then ends with StoppedByCallback. The callback runs in the
// walk's context: when the walk started inside a signal handler, the
// callback must be async-signal-safe too.
type Callback func(Frame) bool

type config struct {
	maxDepth   int
	index      *modules.Index
	fpFallback bool
}

func defaultConfig() config {
	return config{maxDepth: DefaultMaxDepth}
}

// Option configures a single walk. Options apply by value so that
// configuring a walk never forces anything onto the heap; the option
// values themselves can be built once and reused across walks.
type Option interface {
	apply(config) config
}

type optionFunc func(config) config

func (f optionFunc) apply(c config) config { return f(c) }

// WithMaxDepth caps how many frames the walk delivers. n below one is
// treated as one.
func WithMaxDepth(n int) Option {
	if n < 1 {
		n = 1
	}
	return optionFunc(func(c config) config {
		c.maxDepth = n
		return c
	})
}

// WithIndex makes the walk use a specific module index snapshot instead of
// the process-global one. Walks with an explicit index never touch global
// state.
func WithIndex(ix *Index) Option {
	return optionFunc(func(c config) config {
		if ix != nil {
			c.index = ix.ix
		}
		return c
	})
}

// WithFramePointerFallback lets the walk step through frame-pointer chains
// where no call-frame information covers a pc. This extends walks into
// code compiled without unwind tables but trusts that the code maintains
// frame pointers; a frame that does not ends the walk or misattributes a
// caller.
func WithFramePointerFallback() Option {
	return optionFunc(func(c config) config {
		c.fpFallback = true
		return c
	})
}

// Index is an immutable snapshot of the process's loaded modules. Walks
// either pin one explicitly via WithIndex or read the process-global
// snapshot.
type Index struct {
	ix *modules.Index
}

// ID distinguishes snapshots.
func (ix *Index) ID() uuid.UUID { return ix.ix.ID }

// BuiltAt is when the process was scanned for this snapshot.
func (ix *Index) BuiltAt() time.Time { return ix.ix.BuiltAt }

// NumModules is how many modules with unwind info the snapshot covers.
func (ix *Index) NumModules() int { return ix.ix.NumModules() }

// Init builds the process-global module index if it does not exist and
// returns it. Programs that walk stacks from signal handlers must call
// Init (or Refresh) before the first signal can arrive. Concurrent calls
// share one scan.
func Init() (*Index, error) {
	mix, err := modules.Active()
	if err != nil {
		return nil, err
	}
	return &Index{ix: mix}, nil
}

// Refresh rescans the process, replacing the global snapshot; call it
// after dlopen-style loading changes the module set. Walks in flight keep
// the snapshot they started with.
func Refresh() (*Index, error) {
	mix, err := modules.Refresh()
	if err != nil {
		return nil, err
	}
	return &Index{ix: mix}, nil
}
