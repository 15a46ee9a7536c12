// Package cpu implements a pedagogical 32-bit x86-like machine in the
// style of the SEQ processor from Bryant & O'Hallaron: a flat byte memory,
// sixteen registers, and a five-stage fetch/decode/execute/memory/write-back
// pipeline stepped one tick at a time.
package cpu

import (
	"errors"
	"fmt"

	"seq86/mem"
)

// ErrUnknownOpcode reports an icode/ifun combination execute does not
// implement.
var ErrUnknownOpcode = errors.New("unknown opcode")

// A StageError is any stage observing a nonzero stat. The pipeline does
// not recover from one; the machine stays inspectable for diagnostics.
type StageError struct {
	Stage Stage
	Icode byte
	Err   error // underlying cause, may be nil
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v stage failed (icode %#x): %v", e.Stage, e.Icode, e.Err)
	}
	return fmt.Sprintf("%v stage failed (icode %#x)", e.Stage, e.Icode)
}

func (e *StageError) Unwrap() error { return e.Err }

// A Stage identifies one of the five pipeline stages. The controller walks
// them in reverse order each tick so that a stage's consumer drains before
// its producer refills it.
type Stage int

const (
	Fetch Stage = iota
	Decode
	Execute
	Memory
	WriteBack
)

func (s Stage) String() string {
	return [...]string{"fetch", "decode", "execute", "memory", "write-back"}[s]
}

// A State is the pipeline's lifecycle phase. halt moves Running to
// Halting; Halting persists while the downstream stages drain, then the
// machine is Halted. A stage error also ends in Halted, with Err set.
type State int

const (
	Running State = iota
	Halting
	Halted
)

func (s State) String() string {
	return [...]string{"running", "halting", "halted"}[s]
}

// Flags is the status word. Nine bits are defined; the core only ever
// writes and reads ZF, SF and OF.
type Flags struct {
	CF bool // carry
	PF bool // parity
	AF bool // adjust
	ZF bool // zero
	SF bool // sign
	TF bool // trap
	IF bool // interrupt enable
	DF bool // direction
	OF bool // overflow
}

// Stage banks. Each is a one-deep queue between adjacent stages, zeroed on
// every hand-off; the active flags on the Machine say whether a bank holds
// an in-flight instruction this tick. Value fields are int64 so they can
// carry either a register index or a sign-normalized immediate.

type DecodeBank struct {
	Stat  byte
	Icode byte
	Ifun  byte
	RA    int64
	RB    int64
}

type ExecuteBank struct {
	Stat  byte
	Icode byte
	Ifun  byte
	ValA  int64
	ValB  int64
	DstE  int64
	DstM  int64
	SrcA  int64
	SrcB  int64
}

type MemoryBank struct {
	Stat  byte
	Icode byte
	ValE  int64
	ValA  int64
	DstE  int64
	DstM  int64
}

type WriteBackBank struct {
	Stat  byte
	Icode byte
	ValE  int64
	ValM  int64
	DstE  int64
	DstM  int64
}

// Memory control values routed from execute to the memory stage.
const (
	memNone    = 0 // no memory action
	memStore   = 1 // mem32[valE] <- valA
	memForward = 2 // pass (valE, valA) to write-back as (dstE, valM)
	memLoad    = 3 // write-back gets mem32[valE], dst register rides in valA
)

// The Machine owns all state: memory, register file, flags, program
// counter, the four stage banks and the controller latches. Everything is
// zeroed at creation; the assembler fills memory and sets PC, the harness
// may place the stack pointer, then Run or Tick drive the pipeline.
type Machine struct {
	Mem   *mem.Memory
	Regs  [16]uint32
	Flags Flags
	PC    uint32

	DecodeRegs    DecodeBank
	ExecuteRegs   ExecuteBank
	MemoryRegs    MemoryBank
	WriteBackRegs WriteBackBank

	active [5]bool

	memCtl int  // routed execute -> memory
	wbCtl  bool // a register write is pending in write-back

	// controller latches; see Tick
	state           State
	bottom          Stage
	finishWriteBack bool
	updateFlag      bool
	drain           int
	lastSteps       string
	err             error

	logger Logger
}

// New returns a zeroed machine with the given memory size in bytes.
func New(memory int) *Machine {
	return &Machine{
		Mem:    mem.New(memory),
		bottom: Fetch,
		drain:  3,
	}
}

// SetPC sets the address of the next instruction to fetch. The assembler
// calls this with the entry point after loading an image.
func (m *Machine) SetPC(pc uint32) { m.PC = pc }

// SetStackPointer places esp. Typically called once before execution with
// an address near the top of memory.
func (m *Machine) SetStackPointer(sp uint32) { m.Regs[RegESP] = sp }

// State returns the pipeline's lifecycle phase.
func (m *Machine) State() State { return m.state }

// Err returns the stage error that stopped the machine, if any.
func (m *Machine) Err() error { return m.err }

// regSigned reads register i under its signed 32-bit interpretation.
func (m *Machine) regSigned(i int64) int64 {
	return int64(int32(m.Regs[i]))
}

// memSigned reads the 32-bit word at addr under its signed interpretation.
func (m *Machine) memSigned(addr int64) (int64, error) {
	v, err := m.Mem.ReadWord(uint32(addr))
	if err != nil {
		return 0, err
	}
	return int64(int32(v)), nil
}

// fail records err, halts the pipeline and returns err. The machine state
// stays readable afterwards.
func (m *Machine) fail(err error) error {
	m.err = err
	m.state = Halted
	return err
}

// A Snapshot is a read-only view of the machine for external tooling,
// taken between ticks.
type Snapshot struct {
	Bits    int
	MemSize int
	PC      uint32
	State   State
	Flags   Flags
	Regs    map[string]uint32
	Memory  []byte
	Steps   string // stages completed on the last tick, e.g. "FDEMW"
	Err     error
}

// Observe snapshots the machine. Observers are read-only and must only be
// called between ticks.
func (m *Machine) Observe() Snapshot {
	regs := make(map[string]uint32, len(RegNames))
	for i, name := range RegNames {
		regs[name] = m.Regs[i]
	}
	return Snapshot{
		Bits:    32,
		MemSize: m.Mem.Size(),
		PC:      m.PC,
		State:   m.state,
		Flags:   m.Flags,
		Regs:    regs,
		Memory:  m.Mem.Bytes(),
		Steps:   m.lastSteps,
		Err:     m.err,
	}
}
