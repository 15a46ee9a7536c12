// Package asm assembles the textual assembly format into a machine's
// memory. A source file has a .data section of NAME HEXVAL variables and a
// .text section of function bodies:
//
//	.data
//	LIMIT 3
//	.text
//	<main:40>
//	    movri eax, 0
//	.loop
//	    addri eax, 1
//	    jl .loop
//	    halt
//
// Function headers pin bodies to absolute addresses; instructions are laid
// out at a fixed 6-byte stride so that label addresses are computable
// before operand encoding. Assembling also points the machine's PC at
// main. An Assembler's tables live for exactly one source file; make a
// fresh one per file.
package asm

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"seq86/cpu"
)

// Assembly-time errors. All are fatal; nothing has executed yet.
var (
	ErrBadMnemonic = errors.New("bad mnemonic")
	ErrBadRegister = errors.New("bad register")
	ErrBadLiteral  = errors.New("bad literal")
	ErrBadLabel    = errors.New("bad label")
	ErrBadSection  = errors.New("bad section")
)

// stride matches the machine's fall-through step; the layout and the
// fetcher must agree on it or padding bytes would execute.
const stride = cpu.Stride

type section int

const (
	sectNone section = iota
	sectData
	sectText
)

// An Assembler holds the variable, function and label tables for one
// source file and the machine whose memory receives the image.
type Assembler struct {
	m      *cpu.Machine
	vars   map[string]int64
	funcs  map[string]uint32
	labels map[string]uint32
}

// New returns an assembler targeting m.
func New(m *cpu.Machine) *Assembler {
	return &Assembler{
		m:      m,
		vars:   map[string]int64{},
		funcs:  map[string]uint32{},
		labels: map[string]uint32{},
	}
}

// AssembleFile reads and assembles one source file.
func (a *Assembler) AssembleFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return a.Assemble(string(src))
}

// Assemble loads the image described by src into the machine's memory and
// sets the entry PC. Two passes: the first fixes every label and function
// address, the second encodes and emits.
func (a *Assembler) Assemble(src string) error {
	var lines []string
	for _, line := range strings.Split(src, "\n") {
		line = strings.Trim(line, " \t\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := a.scan(lines); err != nil {
		return err
	}
	return a.emit(lines)
}

func isFuncHeader(line string) bool {
	return strings.Contains(line, "<") && strings.Contains(line, ">")
}

func parseFuncHeader(line string) (string, uint32, error) {
	body := strings.TrimSuffix(strings.TrimPrefix(line, "<"), ">")
	name, hex, ok := strings.Cut(body, ":")
	if !ok {
		return "", 0, fmt.Errorf("%w: malformed function header %q", ErrBadLiteral, line)
	}
	addr, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return "", 0, fmt.Errorf("%w: function address %q", ErrBadLiteral, hex)
	}
	return name, uint32(addr), nil
}

// scan is the first pass: walk .text, record every function and label
// address, and advance the cursor by the fixed stride per instruction.
func (a *Assembler) scan(lines []string) error {
	sect := sectNone
	cursor := uint32(0)
	for _, line := range lines {
		switch {
		case line == ".text":
			sect = sectText
		case line == ".data":
			sect = sectData
		case strings.HasPrefix(line, "."):
			if sect != sectText {
				return fmt.Errorf("%w: label outside .text: %s", ErrBadSection, line)
			}
			a.labels[line[1:]] = cursor
		case isFuncHeader(line):
			if sect != sectText {
				return fmt.Errorf("%w: function header outside .text: %s", ErrBadSection, line)
			}
			name, addr, err := parseFuncHeader(line)
			if err != nil {
				return err
			}
			a.funcs[name] = addr
			cursor = addr
		default:
			if sect == sectText {
				cursor += stride
			}
		}
	}
	return nil
}

// emit is the second pass: define variables, encode instructions and write
// them into memory, and latch the entry point from main.
func (a *Assembler) emit(lines []string) error {
	sect := sectNone
	cursor := uint32(0)
	entry := uint32(0)
	for _, line := range lines {
		switch {
		case line == ".text":
			sect = sectText
		case line == ".data":
			sect = sectData
		case strings.HasPrefix(line, "."):
			// label; its address was fixed in the first pass
		case isFuncHeader(line):
			name, addr, err := parseFuncHeader(line)
			if err != nil {
				return err
			}
			cursor = addr
			if name == "main" {
				entry = addr
			}
		case sect == sectData:
			if err := a.defineVariable(line); err != nil {
				return err
			}
		case sect == sectText:
			word, n, err := a.encode(strings.Fields(line))
			if err != nil {
				return fmt.Errorf("%q: %w", line, err)
			}
			if err := a.m.Mem.WriteUint(cursor, word, n); err != nil {
				return err
			}
			cursor += stride
		default:
			return fmt.Errorf("%w: instruction outside .text: %s", ErrBadSection, line)
		}
	}
	a.m.SetPC(entry)
	return nil
}

// defineVariable handles one NAME HEXVAL line in .data.
func (a *Assembler) defineVariable(line string) error {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return fmt.Errorf("%w: variable definition %q", ErrBadLiteral, line)
	}
	v, err := strconv.ParseInt(fields[1], 16, 64)
	if err != nil {
		return fmt.Errorf("%w: variable value %q", ErrBadLiteral, fields[1])
	}
	a.vars[fields[0]] = v
	return nil
}
