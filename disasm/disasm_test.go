package disasm

import (
	"testing"

	"github.com/stretchr/testify/require"
	"synacorvm/vm"
)

func loadWords(t *testing.T, words ...uint16) *vm.Memory {
	t.Helper()
	buf := make([]byte, len(words)*2)
	for i, w := range words {
		buf[i*2] = byte(w)
		buf[i*2+1] = byte(w >> 8)
	}
	mem, err := vm.Load(buf)
	require.NoError(t, err)
	return mem
}

func TestDecodeAtInstruction(t *testing.T) {
	mem := loadWords(t, 9, 32768, 1, 1, 0)
	rec := DecodeAt(mem, 0)
	require.False(t, rec.IsData)
	require.Equal(t, vm.OpAdd, rec.Opcode)
	require.Equal(t, "add r0 1 1", rec.String())
}

func TestDecodeAtData(t *testing.T) {
	mem := loadWords(t, 40000, 0)
	rec := DecodeAt(mem, 0)
	require.True(t, rec.IsData)
	require.Equal(t, vm.Cell(40000), rec.DataWord)
	require.Equal(t, "data 40000", rec.String())
}

func TestDisassembleSweepsWholeProgram(t *testing.T) {
	mem := loadWords(t, 9, 32768, 1, 1, 19, 32768, 0)
	records := Disassemble(mem)
	// The sweep covers all of memory: add at 0 (4 cells), out at 4 (2 cells),
	// then every cell from 6 to the end decodes as a one-cell halt.
	require.Len(t, records, vm.MemSize-4)
	require.Equal(t, vm.Word(0), records[0].Address)
	require.Equal(t, vm.OpAdd, records[0].Opcode)
	require.Equal(t, vm.Word(4), records[1].Address)
	require.Equal(t, vm.OpOut, records[1].Opcode)
	require.Equal(t, vm.Word(6), records[2].Address)
	require.Equal(t, vm.OpHalt, records[2].Opcode)
}

func TestDisassembleNextSteps(t *testing.T) {
	mem := loadWords(t, 9, 32768, 1, 1, 0)
	rec := DisassembleNext(mem, 0)
	require.Equal(t, vm.Word(4), rec.Address)
	require.Equal(t, vm.OpHalt, rec.Opcode)
}

func TestDisassemblePrevResyncsOnOpcode(t *testing.T) {
	mem := loadWords(t, 9, 32768, 1, 1, 0)
	// Walking back from 4, cell 3 holds the literal operand 1, which falls in
	// the opcode range, so the heuristic resyncs there and reads it as set.
	rec := DisassemblePrev(mem, 4)
	require.Equal(t, vm.Word(3), rec.Address)
	require.Equal(t, vm.OpSet, rec.Opcode)
}

func TestDisassemblePrevAtZero(t *testing.T) {
	mem := loadWords(t, 0)
	rec := DisassemblePrev(mem, 0)
	require.Equal(t, vm.Word(0), rec.Address)
}
