package ehframe

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepstack-dev/unwind-go/internal/modules"
)

// testReader wraps raw bytes in an index so the decoder reads them as
// process memory.
func testReader(data []byte) reader {
	addr := sliceAddr(data)
	ix := modules.NewIndex(nil, []modules.Range{{Start: addr, End: addr + uint64(len(data))}})
	return reader{ix: ix, pos: addr}
}

func TestULEB(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 624485, 1<<32 + 7, ^uint64(0)}
	for _, want := range cases {
		data := appendULEB(nil, want)
		r := testReader(data)
		got, err := r.uleb()
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Equal(t, uint64(len(data)), r.pos-sliceAddr(data), "consumed exactly the encoding")
		runtime.KeepAlive(data)
	}

	// Known wire form.
	data := []byte{0xe5, 0x8e, 0x26}
	r := testReader(data)
	got, err := r.uleb()
	require.NoError(t, err)
	require.Equal(t, uint64(624485), got)
	runtime.KeepAlive(data)
}

func TestSLEB(t *testing.T) {
	cases := []int64{0, 1, -1, 2, -2, 63, -63, 64, -64, 127, -127, 128, -128, 624485, -624485, 1 << 40, -(1 << 40)}
	for _, want := range cases {
		data := appendSLEB(nil, want)
		r := testReader(data)
		got, err := r.sleb()
		require.NoError(t, err)
		require.Equal(t, want, got, "value %d", want)
		runtime.KeepAlive(data)
	}

	// -8 is the usual data alignment factor; check its wire form.
	data := appendSLEB(nil, -8)
	require.Equal(t, []byte{0x78}, data)
}

func TestULEBUnterminated(t *testing.T) {
	// Continuation bits forever, never a final byte within bounds.
	data := []byte{0x80, 0x80, 0x80}
	r := testReader(data)
	r.end = r.pos + uint64(len(data))
	_, err := r.uleb()
	require.Error(t, err)
	runtime.KeepAlive(data)
}

func TestPointerAbsolute(t *testing.T) {
	data := appendU64(nil, 0xdeadbeefcafe)
	r := testReader(data)
	v, err := r.pointer(encAbsptr, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeefcafe), v)
	runtime.KeepAlive(data)
}

func TestPointerPCRel(t *testing.T) {
	data := appendU32(nil, 0x100)
	r := testReader(data)
	start := r.pos
	v, err := r.pointer(encPCRel|encUData4, 0)
	require.NoError(t, err)
	require.Equal(t, start+0x100, v)

	// Negative pc-relative displacement.
	data2 := appendU32(nil, 0xffffff00) // -0x100 as sdata4
	r = testReader(data2)
	start = r.pos
	v, err = r.pointer(encPCRel|encSData4, 0)
	require.NoError(t, err)
	require.Equal(t, start-0x100, v)
	runtime.KeepAlive(data)
	runtime.KeepAlive(data2)
}

func TestPointerDataRel(t *testing.T) {
	data := appendU32(nil, 0x40)
	r := testReader(data)
	v, err := r.pointer(encDataRel|encUData4, 0x7000)
	require.NoError(t, err)
	require.Equal(t, uint64(0x7040), v)
	runtime.KeepAlive(data)
}

func TestPointerIndirect(t *testing.T) {
	// An 8-byte slot holding the final value, referenced pc-relatively
	// by an encoded zero displacement pointing 8 bytes ahead... simplest
	// is absolute: encode the slot's own address.
	slot := appendU64(nil, 0x1234)
	data := appendU64(nil, sliceAddr(slot))
	r := testReader(data)
	// The indirect load goes through the slot's memory, which must be in
	// the same index.
	r.ix = modules.NewIndex(nil, []modules.Range{
		{Start: sliceAddr(data), End: sliceAddr(data) + uint64(len(data))},
		{Start: sliceAddr(slot), End: sliceAddr(slot) + uint64(len(slot))},
	})
	v, err := r.pointer(encIndirect|encAbsptr, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1234), v)
	runtime.KeepAlive(slot)
	runtime.KeepAlive(data)
}

func TestPointerRejects(t *testing.T) {
	data := appendU64(nil, 1)
	r := testReader(data)
	_, err := r.pointer(encOmit, 0)
	require.ErrorIs(t, err, ErrBadEncoding)

	r = testReader(data)
	_, err = r.pointer(encFuncRel|encUData4, 0)
	require.ErrorIs(t, err, ErrBadEncoding)

	r = testReader(data)
	_, err = r.pointer(0x05, 0) // undefined value format
	require.ErrorIs(t, err, ErrBadEncoding)
	runtime.KeepAlive(data)
}

func TestLoadRefusesUnreadable(t *testing.T) {
	ix := modules.NewIndex(nil, nil)
	_, err := load64(ix, 0x1000)
	require.ErrorIs(t, err, ErrUnreadable)
	_, err = load8(ix, 0)
	require.ErrorIs(t, err, ErrUnreadable)
}
