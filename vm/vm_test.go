package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// collectSink records every Write call verbatim, for assertions against
// guest-visible output.
type collectSink struct {
	out string
}

func (c *collectSink) Write(text string) error {
	c.out += text
	return nil
}

func programBytes(words ...uint16) []byte {
	buf := make([]byte, len(words)*2)
	for i, w := range words {
		buf[i*2] = byte(w)
		buf[i*2+1] = byte(w >> 8)
	}
	return buf
}

func mustLoad(t *testing.T, words ...uint16) *Memory {
	t.Helper()
	mem, err := Load(programBytes(words...))
	require.NoError(t, err)
	return mem
}

func reg(n int) uint16 { return uint16(RegisterBase + n) }

func TestLoadRejectsOddLength(t *testing.T) {
	_, err := Load([]byte{0x01})
	require.Error(t, err)
}

func TestLoadRejectsTooLarge(t *testing.T) {
	_, err := Load(make([]byte, (MemSize+1)*2))
	require.Error(t, err)
}

func TestLoadZeroFillsRemainder(t *testing.T) {
	mem, err := Load(programBytes(21, 0))
	require.NoError(t, err)
	require.Equal(t, Cell(21), mem[0])
	require.Equal(t, Cell(0), mem[1])
	require.Equal(t, Cell(0), mem[MemSize-1])
}

// S1 — self-test sequence `9,32768,1,1,19,32768,0`: ADD R0, 1, 1 then
// OUT R0, HALT emits code 2 because ADD sets R0 := 1+1.
func TestSelfTestSequence(t *testing.T) {
	mem := mustLoad(t, 9, reg(0), 1, 1, 19, reg(0), 0)
	sink := &collectSink{}
	m := NewVM(mem, sink, nil, false)

	require.NoError(t, m.Run(context.Background(), 0))
	require.Equal(t, StatusFinished, m.Status)
	require.Equal(t, "\x02", sink.out)
}

// S2 — echo one line: IN R0, OUT R0, JMP 0.
type lineSource struct {
	lines []string
	i     int
}

func (s *lineSource) ReadLine() (string, error) {
	if s.i >= len(s.lines) {
		return "", errEOFSource
	}
	l := s.lines[s.i]
	s.i++
	return l, nil
}

var errEOFSource = errTestEOF{}

type errTestEOF struct{}

func (errTestEOF) Error() string { return "no more lines" }

func TestEchoOneLineThenSuspends(t *testing.T) {
	mem := mustLoad(t, 20, reg(0), 19, reg(0), 6, 0)
	sink := &collectSink{}
	m := NewVM(mem, sink, nil, true)
	m.SubmitInput("Hi\n")

	require.NoError(t, m.Run(context.Background(), 10))
	require.Equal(t, "Hi\n", sink.out)
	require.Equal(t, StatusExpectingInput, m.Status)
	require.Equal(t, Word(0), m.PC)
}

// S3 — stack discipline: PUSH 7; PUSH 8; POP R0; POP R1; HALT.
func TestStackDiscipline(t *testing.T) {
	mem := mustLoad(t, 2, 7, 2, 8, 3, reg(0), 3, reg(1), 0)
	m := NewVM(mem, nil, nil, false)

	require.NoError(t, m.Run(context.Background(), 0))
	require.Equal(t, StatusFinished, m.Status)
	require.Equal(t, Word(8), m.Registers[0])
	require.Equal(t, Word(7), m.Registers[1])
	require.Empty(t, m.Stack)
}

// S4 — NOT: R0 := NOT 1 = 32766; OUT R0 emits byte 32766 mod 256 = 0xFE.
func TestNotOpcode(t *testing.T) {
	mem := mustLoad(t, 14, reg(0), 1, 19, reg(0), 0)
	sink := &collectSink{}
	m := NewVM(mem, sink, nil, false)

	require.NoError(t, m.Run(context.Background(), 0))
	require.Equal(t, byte(0xFE), sink.out[0])
}

// S5 — input suspension rewinds PC to the IN instruction and resumes
// cleanly once the buffer is filled.
func TestInputSuspensionResumes(t *testing.T) {
	mem := mustLoad(t, 20, reg(0), 19, reg(0), 0)
	sink := &collectSink{}
	m := NewVM(mem, sink, nil, true)

	cont, err := m.Step()
	require.NoError(t, err)
	require.False(t, cont)
	require.Equal(t, StatusExpectingInput, m.Status)
	require.Equal(t, Word(0), m.PC)

	m.SubmitInput("A\n")
	require.NoError(t, m.Run(context.Background(), 0))
	require.Equal(t, StatusFinished, m.Status)
	require.Equal(t, "A", sink.out)
}

// S6 — snapshot isolation: running after a restore leaves no trace of the
// steps taken between snapshot and restore.
func TestSnapshotIsolation(t *testing.T) {
	mem := mustLoad(t, 9, reg(0), reg(0), 1, 6, 0)
	m := NewVM(mem, nil, nil, false)
	m.Registers[0] = 5

	snap := m.GetState()

	for i := 0; i < 1000; i++ {
		if _, err := m.Step(); err != nil {
			break
		}
	}
	require.NotEqual(t, snap.Cycle, m.Cycle)

	m.Restore(snap)
	require.Equal(t, snap.Cycle, m.Cycle)
	require.Equal(t, snap.PC, m.PC)
	require.Equal(t, snap.Registers, m.Registers)
}

// P6 — NOT(x) == x XOR 0x7FFF for every x in range.
func TestNotIsXor7FFF(t *testing.T) {
	for x := Word(0); x < ModBase; x += 997 {
		mem := mustLoad(t, 14, reg(0), uint16(x), 0)
		m := NewVM(mem, nil, nil, false)
		require.NoError(t, m.Run(context.Background(), 0))
		require.Equal(t, x^0x7FFF, m.Registers[0])
	}
}

// P7 — ADD/MULT wrap modulo 32768.
func TestAddMultWrapModulo(t *testing.T) {
	cases := []struct{ b, c uint16 }{
		{32767, 2},
		{20000, 20000},
		{0, 0},
		{1, 32767},
	}
	for _, tc := range cases {
		mem := mustLoad(t, 9, reg(0), tc.b, tc.c, 0)
		m := NewVM(mem, nil, nil, false)
		require.NoError(t, m.Run(context.Background(), 0))
		require.Equal(t, Word((int(tc.b)+int(tc.c))%ModBase), m.Registers[0])

		mem2 := mustLoad(t, 10, reg(0), tc.b, tc.c, 0)
		m2 := NewVM(mem2, nil, nil, false)
		require.NoError(t, m2.Run(context.Background(), 0))
		require.Equal(t, Word((int(tc.b)*int(tc.c))%ModBase), m2.Registers[0])
	}
}

func TestEqGt(t *testing.T) {
	mem := mustLoad(t, 4, reg(0), 5, 5, 5, reg(1), 5, 6, 0)
	m := NewVM(mem, nil, nil, false)
	require.NoError(t, m.Run(context.Background(), 0))
	require.Equal(t, Word(1), m.Registers[0])
	require.Equal(t, Word(0), m.Registers[1])
}

func TestAndOrMod(t *testing.T) {
	mem := mustLoad(t,
		12, reg(0), 6, 3, // AND R0, 6, 3 = 2
		13, reg(1), 6, 3, // OR R1, 6, 3 = 7
		11, reg(2), 7, 3, // MOD R2, 7, 3 = 1
		0,
	)
	m := NewVM(mem, nil, nil, false)
	require.NoError(t, m.Run(context.Background(), 0))
	require.Equal(t, Word(2), m.Registers[0])
	require.Equal(t, Word(7), m.Registers[1])
	require.Equal(t, Word(1), m.Registers[2])
}

func TestJf(t *testing.T) {
	// JF R0(=0) -> 7 ; SET R1 99 (skipped) ; target at 7: SET R1 1 ; HALT
	mem := mustLoad(t, 8, reg(0), 7, 1, reg(1), 99, 0, 1, reg(1), 1, 0)
	m := NewVM(mem, nil, nil, false)
	require.NoError(t, m.Run(context.Background(), 0))
	require.Equal(t, Word(1), m.Registers[1])
}

func TestCallRet(t *testing.T) {
	// 0: JMP 2
	// 2: CALL 6
	// 4: HALT
	// 6: SET R0 42
	// 9: RET
	mem := mustLoad(t, 6, 2, 17, 6, 0, 0, 1, reg(0), 42, 18)
	m := NewVM(mem, nil, nil, false)
	require.NoError(t, m.Run(context.Background(), 0))
	require.Equal(t, StatusFinished, m.Status)
	require.Equal(t, Word(42), m.Registers[0])
}

func TestRetOnEmptyStackHalts(t *testing.T) {
	mem := mustLoad(t, 18)
	m := NewVM(mem, nil, nil, false)
	cont, err := m.Step()
	require.NoError(t, err)
	require.False(t, cont)
	require.Equal(t, StatusFinished, m.Status)
}

func TestRmemWmemSelfModification(t *testing.T) {
	// WMEM 10, 99 ; RMEM R0, 10 ; HALT
	mem := mustLoad(t, 16, 10, 99, 15, reg(0), 10, 0)
	m := NewVM(mem, nil, nil, false)
	require.NoError(t, m.Run(context.Background(), 0))
	require.Equal(t, Word(99), m.Registers[0])
}

func TestBadOpcodeErrors(t *testing.T) {
	mem := mustLoad(t, 255)
	m := NewVM(mem, nil, nil, false)
	cont, err := m.Step()
	require.Error(t, err)
	require.False(t, cont)
	var eerr *EngineError
	require.ErrorAs(t, err, &eerr)
	require.Equal(t, KindBadOpcode, eerr.Kind)
}

func TestStackUnderflowErrors(t *testing.T) {
	mem := mustLoad(t, 3, reg(0))
	m := NewVM(mem, nil, nil, false)
	_, err := m.Step()
	require.ErrorIs(t, err, ErrStackUnderflow)
}

func TestDivByZeroErrors(t *testing.T) {
	mem := mustLoad(t, 11, reg(0), 5, 0)
	m := NewVM(mem, nil, nil, false)
	_, err := m.Step()
	require.ErrorIs(t, err, ErrDivByZero)
}

func TestBadOperandRequiresRegister(t *testing.T) {
	// SET with a literal first operand instead of a register.
	mem := mustLoad(t, 1, 5, 5, 0)
	m := NewVM(mem, nil, nil, false)
	_, err := m.Step()
	require.ErrorIs(t, err, ErrBadOperand)
}

func TestInputEOFWhenNotBreakingOnInput(t *testing.T) {
	mem := mustLoad(t, 20, reg(0), 0)
	src := &lineSource{}
	m := NewVM(mem, nil, src, false)
	_, err := m.Step()
	require.ErrorIs(t, err, ErrInputEOF)
}

// TestBufferSourceFeedsNonInteractiveRun exercises the replay path a --input
// feed file takes: IN pulls straight from BufferSource.ReadLine whenever the
// VM's own input buffer runs dry, since BreakOnInput is false, with no
// suspend in between.
func TestBufferSourceFeedsNonInteractiveRun(t *testing.T) {
	mem := mustLoad(t, 20, reg(0), 20, reg(1), 20, reg(2), 0)
	src := &BufferSource{}
	src.Fill("A\nB\n")
	m := NewVM(mem, nil, src, false)

	ok, err := m.Step()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Word('A'), m.Registers[0])
	require.False(t, src.Empty())

	ok, err = m.Step()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Word('\n'), m.Registers[1])
	require.False(t, src.Empty())

	ok, err = m.Step()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Word('B'), m.Registers[2])
	require.True(t, src.Empty())
}

// P3 — cycle counter increments by exactly one per completed step, and is
// unchanged on an engine-error return.
func TestCycleCounterDiscipline(t *testing.T) {
	mem := mustLoad(t, 21, 21, 255)
	m := NewVM(mem, nil, nil, false)

	cont, err := m.Step()
	require.NoError(t, err)
	require.True(t, cont)
	require.Equal(t, uint64(1), m.Cycle)

	cont, err = m.Step()
	require.NoError(t, err)
	require.True(t, cont)
	require.Equal(t, uint64(2), m.Cycle)

	_, err = m.Step()
	require.Error(t, err)
	require.Equal(t, uint64(2), m.Cycle)
}

// Invariant: registers always decode in [0, 32768).
func TestRegistersStayInRange(t *testing.T) {
	mem := mustLoad(t, 14, reg(0), 0, 0)
	m := NewVM(mem, nil, nil, false)
	require.NoError(t, m.Run(context.Background(), 0))
	for _, r := range m.Registers {
		require.Less(t, uint16(r), uint16(ModBase))
	}
}
