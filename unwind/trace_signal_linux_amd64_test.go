//go:build linux && amd64

package unwind

import (
	"encoding/binary"
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// mcontext field offsets within a linux/amd64 ucontext_t.
const (
	ucMcontextOff = 40
	ucRSPOff      = ucMcontextOff + 15*8
	ucRIPOff      = ucMcontextOff + 16*8
)

func TestTraceSignalContext(t *testing.T) {
	ix, rs, buf, stack := buildChain(t, false)

	uc := make([]byte, 968) // sizeof(ucontext_t)
	binary.LittleEndian.PutUint64(uc[ucRIPOff:], rs.PC())
	binary.LittleEndian.PutUint64(uc[ucRSPOff:], rs.SP())

	var pcb PCBuffer
	status, err := TraceSignalContext(unsafe.Pointer(&uc[0]), pcb.Collect, WithIndex(ix))
	require.NoError(t, err)
	require.Equal(t, StoppedAtTop, status)
	require.Equal(t, []uint64{0x104500, 0x102500, 0x100500}, pcb.PCs())
	runtime.KeepAlive(buf)
	runtime.KeepAlive(stack)
	runtime.KeepAlive(uc)
}

func TestTraceSignalContextNil(t *testing.T) {
	ix, _, buf, stack := buildChain(t, false)
	var pcb PCBuffer
	status, err := TraceSignalContext(nil, pcb.Collect, WithIndex(ix))
	require.Equal(t, StoppedOnError, status)
	require.ErrorIs(t, err, ErrBadContext)
	require.Zero(t, pcb.Len())
	runtime.KeepAlive(buf)
	runtime.KeepAlive(stack)
}

func TestTraceSignalContextDoesNotAllocate(t *testing.T) {
	ix, rs, buf, stack := buildChain(t, false)

	uc := make([]byte, 968)
	binary.LittleEndian.PutUint64(uc[ucRIPOff:], rs.PC())
	binary.LittleEndian.PutUint64(uc[ucRSPOff:], rs.SP())
	uctx := unsafe.Pointer(&uc[0])

	// Everything a handler would set up ahead of time: the option list,
	// the bound callback, the buffer.
	var pcb PCBuffer
	cb := pcb.Collect
	opts := []Option{WithIndex(ix)}

	allocs := testing.AllocsPerRun(100, func() {
		pcb.Reset()
		if _, err := TraceSignalContext(uctx, cb, opts...); err != nil {
			t.Fatal(err)
		}
	})
	require.Zero(t, allocs)
	require.Equal(t, 3, pcb.Len())
	runtime.KeepAlive(buf)
	runtime.KeepAlive(stack)
	runtime.KeepAlive(uc)
}
