package mem

import (
	"errors"
	"fmt"
)

// ErrBadAddress reports a read or write outside [0, size).
var ErrBadAddress = errors.New("bad address")

// A Memory is the flat byte store the machine and the assembler share. It
// has no divisions or mirroring; the assembler writes instruction encodings
// into it and the running machine reads and writes it freely.
//
// Multi-byte values are always little-endian.
type Memory struct {
	data []byte
}

// New returns a zeroed Memory of the given size in bytes.
func New(size int) *Memory {
	return &Memory{data: make([]byte, size)}
}

// Size returns the memory size in bytes.
func (m *Memory) Size() int { return len(m.data) }

func (m *Memory) check(addr uint32, n int) error {
	if uint64(addr)+uint64(n) > uint64(len(m.data)) {
		return fmt.Errorf("%w: %#x+%d outside [0, %#x)", ErrBadAddress, addr, n, len(m.data))
	}
	return nil
}

// ReadUint reads n little-endian bytes starting at addr. n must be at most 8.
func (m *Memory) ReadUint(addr uint32, n int) (uint64, error) {
	if err := m.check(addr, n); err != nil {
		return 0, err
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(m.data[addr+uint32(i)])
	}
	return v, nil
}

// WriteUint writes the low n bytes of v at addr, least significant byte
// first.
func (m *Memory) WriteUint(addr uint32, v uint64, n int) error {
	if err := m.check(addr, n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		m.data[addr+uint32(i)] = byte(v)
		v >>= 8
	}
	return nil
}

// ReadWord reads the 32-bit word at addr.
func (m *Memory) ReadWord(addr uint32) (uint32, error) {
	v, err := m.ReadUint(addr, 4)
	return uint32(v), err
}

// WriteWord writes the 32-bit word v at addr.
func (m *Memory) WriteWord(addr uint32, v uint32) error {
	return m.WriteUint(addr, uint64(v), 4)
}

// Bytes returns a copy of the backing store, for observers.
func (m *Memory) Bytes() []byte {
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// At returns the single byte at addr without a bounds check wrapper; addr
// must be in range. It exists for renderers that walk the whole image.
func (m *Memory) At(addr uint32) byte { return m.data[addr] }
