package ehframe

import (
	"encoding/binary"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepstack-dev/unwind-go/internal/modules"
	"github.com/deepstack-dev/unwind-go/registers"
)

// fakeStack is a heap-backed stand-in for a thread stack. Tests plant
// return addresses and spilled registers in it at the offsets the CFI
// rules name.
type fakeStack struct {
	mem []byte
}

func newFakeStack(size int) *fakeStack {
	return &fakeStack{mem: make([]byte, size)}
}

func (s *fakeStack) addr(off int) uint64 {
	return sliceAddr(s.mem) + uint64(off)
}

func (s *fakeStack) put64(off int, v uint64) {
	binary.LittleEndian.PutUint64(s.mem[off:], v)
}

func (s *fakeStack) readable() modules.Range {
	return modules.Range{Start: sliceAddr(s.mem), End: sliceAddr(s.mem) + uint64(len(s.mem))}
}

func TestStepRestoresCaller(t *testing.T) {
	// Frame layout at the test pc: CFA = reg7+16, return address at
	// CFA-8, reg6 spilled at CFA-16.
	var prog []byte
	prog = append(prog, cfaOffset|6)
	prog = appendULEB(prog, 2)

	st := newFakeStack(64)
	sm := buildSynth(standardCIE(), []synthFunc{
		{start: 0x100000, end: 0x101000},
		{start: 0x102000, end: 0x103000, program: prog},
	}, st.readable())

	sp := st.addr(0)
	st.put64(8, 0x100500)  // return address, back into the first function
	st.put64(0, 0x66666666) // spilled reg6

	var rs registers.Snapshot
	rs.SetReg(7, sp)
	rs.SetReg(6, 0x11111111)

	signal, err := Step(sm.ix, sm.mod, 0x102500, &rs)
	require.NoError(t, err)
	require.False(t, signal)
	require.Equal(t, uint64(0x100500), rs.PC())
	require.Equal(t, sp+16, rs.SP(), "stack pointer becomes the CFA")
	require.Equal(t, uint64(0x66666666), rs.Reg(6))
	runtime.KeepAlive(sm)
	runtime.KeepAlive(st)
}

func TestStepUndefinedRAStopsWalk(t *testing.T) {
	var prog []byte
	prog = append(prog, cfaUndefined)
	prog = appendULEB(prog, 16)

	st := newFakeStack(64)
	sm := buildSynth(standardCIE(), []synthFunc{
		{start: 0x100000, end: 0x101000, program: prog},
	}, st.readable())

	var rs registers.Snapshot
	rs.SetReg(7, st.addr(0))
	_, err := Step(sm.ix, sm.mod, 0x100500, &rs)
	require.NoError(t, err)
	require.Zero(t, rs.PC(), "undefined return address means the outermost frame")
	runtime.KeepAlive(sm)
	runtime.KeepAlive(st)
}

func TestStepLeafFrameRAInRegister(t *testing.T) {
	// A CIE without a return-address save rule: the RA is still live in
	// its register, as in leaf functions.
	var initial []byte
	initial = append(initial, cfaDefCFA)
	initial = appendULEB(initial, 7)
	initial = appendULEB(initial, 0)
	c := synthCIE{raReg: 16, initial: initial}

	sm := buildSynth(c, []synthFunc{{start: 0x100000, end: 0x101000}})
	var rs registers.Snapshot
	rs.SetReg(7, 0x7f000000)
	rs.SetReg(16, 0x100777)

	_, err := Step(sm.ix, sm.mod, 0x100010, &rs)
	require.NoError(t, err)
	require.Equal(t, uint64(0x100777), rs.PC())
	require.Equal(t, uint64(0x7f000000), rs.SP())
	runtime.KeepAlive(sm)
}

func TestStepRegisterRule(t *testing.T) {
	// DW_CFA_register: the RA's caller value lives in another register.
	var prog []byte
	prog = append(prog, cfaRegister)
	prog = appendULEB(prog, 16)
	prog = appendULEB(prog, 5)

	sm := buildSynth(standardCIE(), []synthFunc{{start: 0x100000, end: 0x101000, program: prog}})
	var rs registers.Snapshot
	rs.SetReg(7, 0x7f000000)
	rs.SetReg(5, 0x100abc)

	_, err := Step(sm.ix, sm.mod, 0x100010, &rs)
	require.NoError(t, err)
	require.Equal(t, uint64(0x100abc), rs.PC())
	runtime.KeepAlive(sm)
}

func TestStepCFAExpression(t *testing.T) {
	// CFA computed by expression: reg7 + 24.
	var expr []byte
	expr = append(expr, opBreg0+7)
	expr = appendSLEB(expr, 24)
	var prog []byte
	prog = append(prog, cfaDefCFAExpression)
	prog = appendULEB(prog, uint64(len(expr)))
	prog = append(prog, expr...)
	// The RA rule still reads CFA-8.
	st := newFakeStack(64)
	sm := buildSynth(standardCIE(), []synthFunc{
		{start: 0x100000, end: 0x101000, program: prog},
	}, st.readable())

	sp := st.addr(0)
	st.put64(16, 0x100900) // CFA-8 = sp+24-8

	var rs registers.Snapshot
	rs.SetReg(7, sp)
	_, err := Step(sm.ix, sm.mod, 0x100500, &rs)
	require.NoError(t, err)
	require.Equal(t, sp+24, rs.SP())
	require.Equal(t, uint64(0x100900), rs.PC())
	runtime.KeepAlive(sm)
	runtime.KeepAlive(st)
}

func TestStepSignalFrame(t *testing.T) {
	c := standardCIE()
	c.signalFrame = true
	st := newFakeStack(64)
	sm := buildSynth(c, []synthFunc{{start: 0x100000, end: 0x101000}}, st.readable())

	sp := st.addr(0)
	st.put64(8, 0x100600)
	var rs registers.Snapshot
	rs.SetReg(7, sp)
	signal, err := Step(sm.ix, sm.mod, 0x100500, &rs)
	require.NoError(t, err)
	require.True(t, signal)
	runtime.KeepAlive(sm)
	runtime.KeepAlive(st)
}

func TestStepUnreadableStack(t *testing.T) {
	// The stack memory is not in the readable set; the RA load must be
	// refused, not attempted.
	sm := buildSynth(standardCIE(), []synthFunc{{start: 0x100000, end: 0x101000}})
	var rs registers.Snapshot
	rs.SetReg(7, 0x10) // nowhere readable
	before := rs
	_, err := Step(sm.ix, sm.mod, 0x100500, &rs)
	require.ErrorIs(t, err, ErrUnreadable)
	require.Equal(t, before, rs, "snapshot untouched on error")
	runtime.KeepAlive(sm)
}

func TestStepNoCoverage(t *testing.T) {
	sm := buildSynth(standardCIE(), []synthFunc{{start: 0x100000, end: 0x101000}})
	var rs registers.Snapshot
	_, err := Step(sm.ix, sm.mod, 0x500000, &rs)
	require.ErrorIs(t, err, ErrNotFound)
	runtime.KeepAlive(sm)
}

func TestStepDoesNotAllocate(t *testing.T) {
	var prog []byte
	prog = append(prog, cfaOffset|6)
	prog = appendULEB(prog, 2)

	st := newFakeStack(64)
	sm := buildSynth(standardCIE(), []synthFunc{
		{start: 0x100000, end: 0x101000},
		{start: 0x102000, end: 0x103000, program: prog},
	}, st.readable())

	sp := st.addr(0)
	st.put64(8, 0x100500)
	st.put64(0, 0x66666666)

	allocs := testing.AllocsPerRun(100, func() {
		var rs registers.Snapshot
		rs.SetReg(7, sp)
		if _, err := Step(sm.ix, sm.mod, 0x102500, &rs); err != nil {
			t.Fatal(err)
		}
	})
	require.Zero(t, allocs)
	runtime.KeepAlive(sm)
	runtime.KeepAlive(st)
}
