package vm

import (
	"encoding/binary"
	"fmt"
)

// Memory is the VM's flat 32768-cell address space. Code and data share it;
// WMEM may overwrite code, and the engine keeps no instruction cache.
type Memory [MemSize]Cell

// Load decodes a little-endian 16-bit word stream into a fresh Memory
// image, zero-filling the remaining cells. It rejects an odd-length input
// or one exceeding MemSize words. This is a pure transform over bytes
// already read from disk — reading the binary off disk is the CLI host's
// job, not this package's.
func Load(words []byte) (*Memory, error) {
	if len(words)%2 != 0 {
		return nil, fmt.Errorf("synacor: odd-length program image (%d bytes)", len(words))
	}
	n := len(words) / 2
	if n > MemSize {
		return nil, fmt.Errorf("synacor: program image has %d words, exceeds %d-word address space", n, MemSize)
	}

	var mem Memory
	for i := 0; i < n; i++ {
		mem[i] = Cell(binary.LittleEndian.Uint16(words[i*2 : i*2+2]))
	}
	return &mem, nil
}
