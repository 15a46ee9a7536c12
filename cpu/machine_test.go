package cpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seq86/mem"
)

// hand-rolled encoders, independent of the assembler
func enc1(op Op) uint64 { return uint64(op) }
func enc2(op Op, ra, rb uint64) uint64 {
	return uint64(op) | ra<<8 | rb<<12
}
func encL(op Op, ra, rb, imm uint64) uint64 {
	return uint64(op) | ra<<8 | rb<<12 | imm<<16
}

// load writes instruction words at addr with the fixed 6-byte stride.
func load(t *testing.T, m *Machine, addr uint32, words ...uint64) {
	for _, w := range words {
		n := Op(w & 0xFF).Len()
		require.NoError(t, m.Mem.WriteUint(addr, w, n))
		addr += 6
	}
}

func newMachine(t *testing.T, words ...uint64) *Machine {
	m := New(1024)
	load(t, m, 0x40, words...)
	m.SetPC(0x40)
	m.SetStackPointer(200)
	return m
}

func TestFetchSplit(t *testing.T) {
	m := New(1024)
	load(t, m, 0x40,
		encL(Movri, 0, 0, 0x2A),
		enc2(Addrr, 0, 1),
		encL(Jp, 0, 0, 0x52),
		enc1(Halt),
		encL(Movri, 3, 0, 0xFFFFFFFF),
		encL(Movmr, 0, 4, 0x100),
	)

	in, err := m.Fetch(0x40)
	require.NoError(t, err)
	assert.Equal(t, in, Instr{Op: Movri, RA: 0, RB: 0x2A, NewPC: 0x46})

	in, err = m.Fetch(0x46)
	require.NoError(t, err)
	assert.Equal(t, in, Instr{Op: Addrr, RA: 0, RB: 1, NewPC: 0x48})

	// the jump target is the left operand
	in, err = m.Fetch(0x4C)
	require.NoError(t, err)
	assert.Equal(t, in, Instr{Op: Jp, RA: 0x52, RB: 0, NewPC: 0x52})

	in, err = m.Fetch(0x52)
	require.NoError(t, err)
	assert.Equal(t, in, Instr{Op: Halt, RA: 0, RB: 0, NewPC: 0x53})

	// immediates come out signed
	in, err = m.Fetch(0x58)
	require.NoError(t, err)
	assert.Equal(t, in, Instr{Op: Movri, RA: 3, RB: -1, NewPC: 0x5E})

	// memory-destination forms keep the register on the right
	in, err = m.Fetch(0x5E)
	require.NoError(t, err)
	assert.Equal(t, in, Instr{Op: Movmr, RA: 0x100, RB: 4, NewPC: 0x64})

	// a 2-byte opcode at the last byte runs off the end
	_, err = m.Fetch(1023)
	assert.ErrorIs(t, err, mem.ErrBadAddress)
}

// TestPipelineWalk follows scenario: movri eax, 2A; movri ebx, 10;
// addrr eax, ebx; halt -- tick by tick. The addrr stalls once on the
// pending write-back of ebx.
func TestPipelineWalk(t *testing.T) {
	m := newMachine(t,
		encL(Movri, 0, 0, 0x2A),
		encL(Movri, 1, 0, 0x10),
		enc2(Addrr, 0, 1),
		enc1(Halt),
	)

	for _, want := range []struct {
		steps    string
		eax, ebx uint32
	}{
		{"F", 0, 0},
		{"FD", 0, 0},
		{"FDE", 0, 0},
		{"FDEM", 0, 0},
		{"MW", 0x2A, 0},     // addrr stalls on ebx
		{"FDEW", 0x2A, 0x10}, // write-back lands, addrr resumes
		{"M", 0x2A, 0x10},    // halt reaches execute
		{"W", 0x3A, 0x10},    // drain
	} {
		require.NoError(t, m.Tick())
		assert.Equal(t, m.Observe().Steps, want.steps)
		assert.Equal(t, m.Regs[0], want.eax, "eax after %s", want.steps)
		assert.Equal(t, m.Regs[1], want.ebx, "ebx after %s", want.steps)
	}

	require.NoError(t, m.Tick())
	assert.Equal(t, m.State(), Halted)
	assert.False(t, m.Flags.ZF)
	assert.False(t, m.Flags.SF)
	assert.NoError(t, m.Err())
}

func TestFlags(t *testing.T) {
	// 5 - 5 = 0
	m := newMachine(t,
		encL(Movri, 0, 0, 5),
		encL(Subri, 0, 0, 5),
		enc1(Halt),
	)
	require.NoError(t, m.Run())
	assert.Equal(t, m.Regs[0], uint32(0))
	assert.True(t, m.Flags.ZF)
	assert.False(t, m.Flags.SF)
	assert.False(t, m.Flags.OF)

	// 1 - 2 = -1
	m = newMachine(t,
		encL(Movri, 0, 0, 1),
		encL(Subri, 0, 0, 2),
		enc1(Halt),
	)
	require.NoError(t, m.Run())
	assert.Equal(t, m.Regs[0], uint32(0xFFFFFFFF))
	assert.False(t, m.Flags.ZF)
	assert.True(t, m.Flags.SF)
	assert.False(t, m.Flags.OF)

	// 0x7FFFFFFF + 1 overflows the signed range
	m = newMachine(t,
		encL(Movri, 0, 0, 0x7FFFFFFF),
		encL(Addri, 0, 0, 1),
		enc1(Halt),
	)
	require.NoError(t, m.Run())
	assert.Equal(t, m.Regs[0], uint32(0x80000000))
	assert.False(t, m.Flags.ZF)
	assert.False(t, m.Flags.SF)
	assert.True(t, m.Flags.OF)

	// no other flag ever changes
	assert.Equal(t, m.Flags, Flags{OF: true})
}

func TestRegisterIsolation(t *testing.T) {
	m := newMachine(t,
		encL(Movri, 3, 0, 5),
		enc1(Halt),
	)
	require.NoError(t, m.Run())

	var want [16]uint32
	want[3] = 5
	want[RegESP] = 200
	assert.Equal(t, m.Regs, want)
	assert.Equal(t, m.Flags, Flags{})
}

// TestHazard checks that a dependent pair observes the written value for
// any gap between the writer and the reader.
func TestHazard(t *testing.T) {
	for gap := 0; gap <= 3; gap++ {
		words := []uint64{encL(Movri, 1, 0, 7)}
		for i := 0; i < gap; i++ {
			words = append(words, enc1(Pass))
		}
		words = append(words, enc2(Movrr, 0, 1), enc1(Halt))

		m := newMachine(t, words...)
		require.NoError(t, m.Run())
		assert.Equal(t, m.Regs[0], uint32(7), "gap %d", gap)
	}
}

func TestStoreLoad(t *testing.T) {
	m := newMachine(t,
		encL(Movri, 0, 0, 7),
		encL(Movmr, 0, 0, 0x100),
		encL(Movrm, 1, 0, 0x100),
		enc1(Halt),
	)
	require.NoError(t, m.Run())

	assert.Equal(t, m.Regs[1], uint32(7))
	v, err := m.Mem.ReadWord(0x100)
	require.NoError(t, err)
	assert.Equal(t, v, uint32(7))
	// little-endian in memory
	assert.Equal(t, m.Mem.At(0x100), byte(7))
	assert.Equal(t, m.Mem.At(0x101), byte(0))
}

func TestPushPop(t *testing.T) {
	m := newMachine(t,
		encL(Movri, 0, 0, 0x63),
		encL(Push, 0, 0, 0),
		encL(Movri, 0, 0, 0),
		encL(Pop, 1, 0, 0),
		enc1(Halt),
	)
	require.NoError(t, m.Run())

	assert.Equal(t, m.Regs[1], uint32(0x63))
	assert.Equal(t, m.Regs[RegESP], uint32(200))
	v, err := m.Mem.ReadWord(200)
	require.NoError(t, err)
	assert.Equal(t, v, uint32(0x63))
}

func TestConditionalStall(t *testing.T) {
	// the je is fetched while subri is still in execute; it must wait for
	// the real flags and then take the branch
	m := newMachine(t,
		encL(Movri, 0, 0, 1), // 0x40
		encL(Subri, 0, 0, 1), // 0x46
		encL(Je, 0, 0, 0x58), // 0x4C
		enc1(Halt),           // 0x52: not-taken path
		encL(Movri, 1, 0, 1), // 0x58: taken path
		enc1(Halt),           // 0x5E
	)
	require.NoError(t, m.Run())
	assert.True(t, m.Flags.ZF)
	assert.Equal(t, m.Regs[1], uint32(1))

	// jnz on the same program falls through
	m = newMachine(t,
		encL(Movri, 0, 0, 1),
		encL(Subri, 0, 0, 1),
		encL(Jnz, 0, 0, 0x58),
		enc1(Halt),
		encL(Movri, 1, 0, 1),
		enc1(Halt),
	)
	require.NoError(t, m.Run())
	assert.Equal(t, m.Regs[1], uint32(0))
}

func TestTakeBranch(t *testing.T) {
	m := New(64)
	for _, tc := range []struct {
		zf, sf bool
		taken  []Op
	}{
		{false, false, []Op{Jnz, Jne, Jg, Jge}},
		{true, false, []Op{Je, Jge, Jle}},
		{false, true, []Op{Jnz, Jne, Jl, Jle}},
		{true, true, []Op{Je, Jge, Jle}},
	} {
		m.Flags.ZF, m.Flags.SF = tc.zf, tc.sf
		for _, op := range []Op{Jnz, Jne, Je, Jg, Jl, Jge, Jle} {
			want := false
			for _, taken := range tc.taken {
				want = want || op == taken
			}
			assert.Equal(t, m.takeBranch(op), want,
				"%s with ZF=%v SF=%v", op, tc.zf, tc.sf)
		}
	}
}

func TestUnknownOpcode(t *testing.T) {
	m := newMachine(t,
		encL(Op(0x3F), 0, 0, 0),
	)
	err := m.Run()
	require.Error(t, err)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, se.Stage, Execute)
	assert.ErrorIs(t, err, ErrUnknownOpcode)
	assert.Equal(t, m.State(), Halted)
	assert.Equal(t, m.Err(), err)
}

func TestBadAddress(t *testing.T) {
	// load from far outside memory fails in the memory stage
	m := newMachine(t,
		encL(Movrm, 0, 0, 0x7000),
		enc1(Halt),
	)
	err := m.Run()
	require.Error(t, err)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, se.Stage, Memory)
	assert.ErrorIs(t, err, mem.ErrBadAddress)

	// the machine stays inspectable
	assert.Equal(t, m.State(), Halted)
	assert.Equal(t, m.Observe().Err, err)

	// store outside memory fails the same way
	m = newMachine(t,
		encL(Movri, 0, 0, 1),
		encL(Movmr, 0, 0, 0x7000),
		enc1(Halt),
	)
	err = m.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, mem.ErrBadAddress)
}

func TestObserve(t *testing.T) {
	m := newMachine(t,
		encL(Movri, 0, 0, 0x2A),
		enc1(Halt),
	)
	require.NoError(t, m.Run())

	s := m.Observe()
	assert.Equal(t, s.Bits, 32)
	assert.Equal(t, s.MemSize, 1024)
	assert.Equal(t, s.State, Halted)
	assert.Equal(t, s.Regs["eax"], uint32(0x2A))
	assert.Equal(t, s.Regs["esp"], uint32(200))
	assert.Len(t, s.Memory, 1024)
	assert.Equal(t, s.Memory[0x40], byte(Movri))
}

type captureLogger struct{ lines []string }

func (l *captureLogger) Log(msg string) { l.lines = append(l.lines, msg) }

func TestLogger(t *testing.T) {
	m := newMachine(t,
		encL(Movri, 0, 0, 1),
		enc1(Halt),
	)
	logger := &captureLogger{}
	m.SetLogger(logger)
	require.NoError(t, m.Run())
	assert.NotEmpty(t, logger.lines)
	assert.Contains(t, logger.lines, "E: movri eax, 1")
}
