package asm

import (
	"fmt"
	"strconv"
	"strings"

	"seq86/cpu"
	"seq86/mask"
)

// encode turns one tokenized instruction line into its little-endian word
// and byte length. Layout, LSB first: opcode in bits 0..7, rA in 8..11, rB
// in 12..15, immediate in 16..47.
func (a *Assembler) encode(tokens []string) (uint64, int, error) {
	op, ok := cpu.OpByName(tokens[0])
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrBadMnemonic, tokens[0])
	}
	n := cpu.Opcodes[op].Length

	if want := arity(op); len(tokens)-1 != want {
		return 0, 0, fmt.Errorf("%w: %s wants %d operand(s), got %d",
			ErrBadMnemonic, tokens[0], want, len(tokens)-1)
	}

	word := uint64(op)
	switch op {
	case cpu.Movrr, cpu.Addrr, cpu.Subrr:
		l, err := a.reg(first(tokens))
		if err != nil {
			return 0, 0, err
		}
		r, err := a.reg(tokens[2])
		if err != nil {
			return 0, 0, err
		}
		word |= l<<8 | r<<12

	case cpu.Movri, cpu.Movrm, cpu.Addri, cpu.Addrm, cpu.Subri, cpu.Subrm:
		l, err := a.reg(first(tokens))
		if err != nil {
			return 0, 0, err
		}
		r, err := a.immediate(tokens[2])
		if err != nil {
			return 0, 0, err
		}
		word |= l<<8 | r<<16

	case cpu.Movmr, cpu.Addmr, cpu.Submr:
		l, err := a.immediate(first(tokens))
		if err != nil {
			return 0, 0, err
		}
		r, err := a.reg(tokens[2])
		if err != nil {
			return 0, 0, err
		}
		word |= r<<12 | l<<16

	case cpu.Jp, cpu.Jnz, cpu.Jne, cpu.Je, cpu.Jge, cpu.Jle, cpu.Jg, cpu.Jl:
		t, err := a.labelTarget(tokens[1])
		if err != nil {
			return 0, 0, err
		}
		word |= t << 16

	case cpu.Call:
		t, err := a.callTarget(tokens[1])
		if err != nil {
			return 0, 0, err
		}
		word |= t << 16

	case cpu.Push, cpu.Pop:
		r, err := a.reg(tokens[1])
		if err != nil {
			return 0, 0, err
		}
		word |= r << 8

	case cpu.Ret, cpu.Halt, cpu.Pass:
		// opcode only
	}

	return word, n, nil
}

// arity is the operand count a mnemonic takes.
func arity(op cpu.Op) int {
	switch op {
	case cpu.Ret, cpu.Halt, cpu.Pass:
		return 0
	case cpu.Call, cpu.Push, cpu.Pop,
		cpu.Jp, cpu.Jnz, cpu.Jne, cpu.Je, cpu.Jge, cpu.Jle, cpu.Jg, cpu.Jl:
		return 1
	}
	return 2
}

// first returns the first operand with its trailing comma stripped.
func first(tokens []string) string {
	return strings.TrimSuffix(tokens[1], ",")
}

// reg resolves a register name, case-insensitively.
func (a *Assembler) reg(tok string) (uint64, error) {
	i, ok := cpu.RegFile[strings.ToLower(tok)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrBadRegister, tok)
	}
	return uint64(i), nil
}

// immediate resolves a data-variable name or a bare hex literal to its
// unsigned 32-bit encoding. Negative values land on the high unsigned
// half; the executor reads them back signed.
func (a *Assembler) immediate(tok string) (uint64, error) {
	v, ok := a.vars[tok]
	if !ok {
		var err error
		v, err = strconv.ParseInt(tok, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrBadLiteral, tok)
		}
	}
	return uint64(uint32(mask.TwoC(v))), nil
}

// labelTarget resolves a jump label, with or without its leading dot.
func (a *Assembler) labelTarget(tok string) (uint64, error) {
	addr, ok := a.labels[strings.TrimPrefix(tok, ".")]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrBadLabel, tok)
	}
	return uint64(addr), nil
}

// callTarget resolves a function name, falling back to a bare hex address.
func (a *Assembler) callTarget(tok string) (uint64, error) {
	if addr, ok := a.funcs[tok]; ok {
		return uint64(addr), nil
	}
	addr, err := strconv.ParseUint(tok, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrBadLabel, tok)
	}
	return addr, nil
}
