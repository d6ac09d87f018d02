// Package vm implements the Synacor Challenge bytecode virtual machine: a
// 16-bit word space, 8 registers, an unbounded stack and 22 opcodes.
package vm

// ModBase is the modulus for word arithmetic (2^15).
const ModBase = 32768

// RegisterBase is the first raw cell value that designates a register.
const RegisterBase = 32768

// NumRegisters is the number of general-purpose registers R0..R7.
const NumRegisters = 8

// MemSize is the number of addressable 16-bit cells.
const MemSize = 32768

// Word is an unsigned 15-bit value in [0, ModBase).
type Word uint16

// Cell is a raw 16-bit memory or instruction-stream value prior to operand
// decoding. It may hold literal values, register designators, or (only in
// memory, never as a decoded operand) the full uint16 range.
type Cell uint16

// mask reduces a raw arithmetic result to a valid Word.
func mask(v int) Word {
	return Word(((v % ModBase) + ModBase) % ModBase)
}

// IsRegister reports whether a raw cell designates one of R0..R7.
func (c Cell) IsRegister() bool {
	return c >= RegisterBase && c < RegisterBase+NumRegisters
}

// IsLiteral reports whether a raw cell is a literal value in [0, ModBase).
func (c Cell) IsLiteral() bool {
	return c < ModBase
}

// IsValidOperand reports whether a raw cell decodes as either a literal or
// a register designator (i.e. is not in the invalid 32776..65535 range).
func (c Cell) IsValidOperand() bool {
	return c.IsLiteral() || c.IsRegister()
}

// RegisterIndex returns which register a register-class cell designates.
// Only valid when IsRegister() is true.
func (c Cell) RegisterIndex() int {
	return int(c - RegisterBase)
}
