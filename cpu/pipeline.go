package cpu

// The controller. Each Tick walks the stages from write-back down to
// fetch, skipping inactive ones; the reverse order means a stage's
// consumer has always drained before its producer refills it, so up to
// five instructions move forward together.
//
// Two latches model processor stalls:
//
//   - a RAW hazard found in execute narrows the walk to
//     [write-back..execute] and sets finishWriteBack, so the next tick
//     re-runs write-back and then lets execute read the fresh register;
//   - a conditional jump fetched while an add/sub sits in execute sets
//     updateFlag and re-fetches next tick, once the flags are real.

// Tick advances the pipeline by one tick. On a stage error the machine
// halts in place and the error is returned (and kept, see Err).
func (m *Machine) Tick() error {
	if m.state == Halted {
		return m.err
	}
	if m.bottom == Fetch {
		m.active[Fetch] = true
	}

	steps := ""
walk:
	for i := WriteBack; i >= m.bottom; i-- {
		if !m.active[i] {
			continue
		}
		switch i {
		case WriteBack:
			if err := m.stageWriteBack(); err != nil {
				return m.fail(err)
			}
			steps = "W" + steps
		case Memory:
			if err := m.stageMemory(); err != nil {
				return m.fail(err)
			}
			steps = "M" + steps
		case Execute:
			brk, err := m.stageExecute()
			if err != nil {
				return m.fail(err)
			}
			if brk {
				break walk
			}
			steps = "E" + steps
		case Decode:
			if err := m.stageDecode(); err != nil {
				return m.fail(err)
			}
			steps = "D" + steps
		case Fetch:
			brk, err := m.stageFetch()
			if err != nil {
				return m.fail(err)
			}
			if brk {
				break walk
			}
			steps = "F" + steps
		}
	}

	m.lastSteps = steps
	if steps != "" {
		m.logf("%s", steps)
	}
	if m.state == Halting {
		// give memory and write-back time to finish what halt left behind
		m.drain--
		if m.drain <= 0 {
			m.state = Halted
		}
	}
	return nil
}

// Run ticks the pipeline until the machine halts.
func (m *Machine) Run() error {
	for m.state != Halted {
		if err := m.Tick(); err != nil {
			return err
		}
	}
	return m.err
}

// stageFetch reads the instruction at PC and either resolves it on the
// spot (call, ret and jumps are predicted at fetch) or hands it to the
// decode bank. Returns true when the walk should stop at fetch.
func (m *Machine) stageFetch() (bool, error) {
	in, err := m.Fetch(m.PC)
	if err != nil {
		return true, &StageError{Stage: Fetch, Err: err}
	}
	op := in.Op
	exOp := Op(m.ExecuteRegs.Icode<<3 | m.ExecuteRegs.Ifun)
	// the next instruction sits a full stride away regardless of how many
	// bytes this one's encoding used
	fall := m.PC + Stride

	switch {
	case op == Call:
		if m.active[Execute] && exOp.IsStack() {
			// push/pop owns esp this tick; retry the call next tick
			m.logf("F: call waiting on %s in execute", exOp)
			return true, nil
		}
		esp := m.Regs[RegESP]
		if err := m.Mem.WriteWord(esp, in.NewPC); err != nil {
			return true, &StageError{Stage: Fetch, Icode: op.Icode(), Err: err}
		}
		m.Regs[RegESP] = esp + 4
		m.PC = uint32(in.RA)
		m.logf("F: call predicted: push %#x, jump %#x", in.NewPC, m.PC)
		return true, nil

	case op == Ret:
		esp := m.Regs[RegESP] - 4
		v, err := m.Mem.ReadWord(esp)
		if err != nil {
			return true, &StageError{Stage: Fetch, Icode: op.Icode(), Err: err}
		}
		m.Regs[RegESP] = esp
		m.PC = v
		m.logf("F: ret predicted: return to %#x", m.PC)
		return true, nil

	case op == Jp:
		m.PC = uint32(in.RA)
		m.logf("F: jump predicted: %#x", m.PC)
		return true, nil

	case op.IsCondJump():
		if !m.updateFlag && m.active[Execute] && exOp.IsArith() {
			// flags are one tick away; hold the jump
			m.updateFlag = true
			m.logf("F: %s waiting for flags", op)
			return true, nil
		}
		m.updateFlag = false
		if m.takeBranch(op) {
			m.PC = uint32(in.RA)
			m.logf("F: %s taken -> %#x", op, m.PC)
		} else {
			m.PC = fall
			m.logf("F: %s not taken", op)
		}
		return true, nil
	}

	m.DecodeRegs = DecodeBank{
		Icode: op.Icode(),
		Ifun:  op.Ifun(),
		RA:    in.RA,
		RB:    in.RB,
	}
	m.PC = fall
	m.active[Decode] = true
	m.active[Fetch] = false
	return false, nil
}

// takeBranch evaluates a conditional jump's predicate against the current
// flags.
func (m *Machine) takeBranch(op Op) bool {
	zf, sf := m.Flags.ZF, m.Flags.SF
	switch op {
	case Jnz, Jne:
		return !zf
	case Je:
		return zf
	case Jg:
		return !zf && !sf
	case Jl:
		return !zf && sf
	case Jge:
		return !sf || zf
	case Jle:
		return sf || zf
	}
	return false
}

// stageDecode is a pass-through: it moves the decoded tuple into the
// execute bank. ValA/ValB still hold register indices or immediates here;
// execute resolves which is which.
func (m *Machine) stageDecode() error {
	dec := &m.DecodeRegs
	if dec.Stat != 0 {
		return &StageError{Stage: Decode, Icode: dec.Icode}
	}
	m.ExecuteRegs = ExecuteBank{
		Stat:  dec.Stat,
		Icode: dec.Icode,
		Ifun:  dec.Ifun,
		ValA:  dec.RA,
		ValB:  dec.RB,
		SrcA:  -1,
		SrcB:  -1,
		DstE:  -1,
		DstM:  -1,
	}
	m.active[Execute] = true
	m.active[Decode] = false
	return nil
}

// stageMemory interprets the memory control routed from execute: nothing,
// a store, a forward to write-back, or a load.
func (m *Machine) stageMemory() error {
	mr := &m.MemoryRegs
	if mr.Stat != 0 {
		return &StageError{Stage: Memory, Icode: mr.Icode}
	}
	m.WriteBackRegs = WriteBackBank{}
	wb := &m.WriteBackRegs

	switch m.memCtl {
	case memStore:
		if err := m.Mem.WriteWord(uint32(mr.ValE), uint32(mr.ValA)); err != nil {
			mr.Stat = 1
			return &StageError{Stage: Memory, Icode: mr.Icode, Err: err}
		}
		m.logf("M: mem[%#x] <- %d", uint32(mr.ValE), mr.ValA)
		wb.DstE = mr.DstE
		m.wbCtl = false
	case memForward:
		wb.DstE = mr.ValE
		wb.ValM = mr.ValA
		m.wbCtl = true
		m.active[WriteBack] = true
		m.logf("M: forward %s <- %d", RegNames[wb.DstE&0xF], wb.ValM)
	case memLoad:
		v, err := m.memSigned(mr.ValE)
		if err != nil {
			mr.Stat = 1
			return &StageError{Stage: Memory, Icode: mr.Icode, Err: err}
		}
		wb.DstE = mr.ValA
		wb.ValM = v
		m.wbCtl = true
		m.active[WriteBack] = true
		m.logf("M: load %s <- mem[%#x] = %d", RegNames[wb.DstE&0xF], uint32(mr.ValE), v)
	default:
		wb.DstE = mr.DstE
	}

	wb.Stat = mr.Stat
	wb.Icode = mr.Icode
	wb.ValE = mr.ValE
	wb.DstM = mr.DstM
	m.memCtl = memNone
	m.active[Memory] = false
	return nil
}

// stageWriteBack commits a pending register write and, if execute is
// stalled on it, widens the walk again so execute resumes this very tick.
func (m *Machine) stageWriteBack() error {
	wb := &m.WriteBackRegs
	if wb.Stat != 0 {
		return &StageError{Stage: WriteBack, Icode: wb.Icode}
	}
	if m.wbCtl {
		m.Regs[wb.DstE&0xF] = uint32(wb.ValM)
		m.wbCtl = false
		m.logf("W: %s <- %d", RegNames[wb.DstE&0xF], wb.ValM)
		if m.finishWriteBack {
			m.finishWriteBack = false
			m.bottom = Fetch
		}
	}
	m.active[WriteBack] = false
	return nil
}
