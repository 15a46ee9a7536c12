package cpu

import "seq86/mask"

// An Instr is the fetcher's view of one encoded instruction: the opcode,
// the two operand slots after immediate substitution, and the address just
// past the encoding. NewPC is what call pushes as its return address; the
// pipeline itself falls through by the fixed Stride, since that is where
// the assembler placed the next instruction.
//
// The instruction word layout, LSB first:
//
//	0..7    opcode
//	8..11   rA
//	12..15  rB
//	16..47  imm32
//
// For opcodes whose immediate is the left operand (memory-destination
// mov/add/sub, jumps, call) the immediate lands in RA; where it is the
// right operand (movri, register-from-memory and register-immediate
// arithmetic) it lands in RB. Either way it has been through the
// two's-complement normalization, so negative encodings read negative.
type Instr struct {
	Op    Op
	RA    int64
	RB    int64
	NewPC uint32
}

// Fetch decodes the instruction at addr without touching machine state.
// The length comes from the first byte: 1 for ret/halt/pass, 2 for the
// register-register arithmetic forms, 6 for everything else.
func (m *Machine) Fetch(addr uint32) (Instr, error) {
	first, err := m.Mem.ReadUint(addr, 1)
	if err != nil {
		return Instr{}, err
	}
	op := Op(first)
	n := op.Len()

	word, err := m.Mem.ReadUint(addr, n)
	if err != nil {
		return Instr{}, err
	}

	in := Instr{
		Op:    Op(mask.Range(word, 0, 7)),
		RA:    int64(mask.Range(word, 8, 11)),
		RB:    int64(mask.Range(word, 12, 15)),
		NewPC: addr + uint32(n),
	}
	imm := mask.TwoC(int64(mask.Range(word, 16, 47)))

	switch Opcodes[in.Op].Imm {
	case ImmLeft:
		in.RA = imm
	case ImmRight:
		in.RB = imm
	}
	return in, nil
}
