package cpu

// The execute stage: the ALU and effective-address logic. It recombines
// icode/ifun into the opcode, checks the RAW hazard against the pending
// write-back, then dispatches; results are routed onward through the
// memory-control latch.

// operands names the source and destination registers an opcode touches,
// given the two operand slots. -1 means no register in that role; memory
// addresses and immediates never participate in the hazard check.
func operands(op Op, valA, valB int64) (srcA, srcB, dstE int64) {
	srcA, srcB, dstE = -1, -1, -1
	switch op {
	case Movrr:
		srcB, dstE = valB, valA
	case Movrm, Movri, Pop:
		dstE = valA
	case Movmr, Addmr, Submr:
		srcB = valB
	case Addrr, Subrr:
		srcA, srcB, dstE = valA, valB, valA
	case Addrm, Subrm, Addri, Subri:
		srcA, dstE = valA, valA
	case Push:
		srcA = valA
	}
	return srcA, srcB, dstE
}

// pendingWriteTo reports whether write-back holds an uncommitted write to
// the given register.
func (m *Machine) pendingWriteTo(reg int64) bool {
	return reg >= 0 && m.active[WriteBack] && m.wbCtl && m.WriteBackRegs.DstE == reg
}

// stageExecute runs one instruction's execute step. Returns true when the
// walk should stop here: on a hazard stall or on halt.
func (m *Machine) stageExecute() (bool, error) {
	ex := &m.ExecuteRegs
	if ex.Stat != 0 {
		return true, &StageError{Stage: Execute, Icode: ex.Icode}
	}
	op := Op(ex.Icode<<3 | ex.Ifun)

	ex.SrcA, ex.SrcB, ex.DstE = operands(op, ex.ValA, ex.ValB)
	if m.pendingWriteTo(ex.SrcA) || m.pendingWriteTo(ex.SrcB) {
		m.logf("E: %s waiting for %s to be written back",
			op, RegNames[m.WriteBackRegs.DstE&0xF])
		m.finishWriteBack = true
		m.bottom = Execute
		return true, nil
	}

	mr := MemoryBank{Icode: ex.Icode, DstE: ex.DstE, DstM: ex.DstM}
	ctl := memNone

	switch op {
	case Movrr:
		mr.ValE = ex.ValA
		mr.ValA = m.regSigned(ex.ValB)
		ctl = memForward
		m.logf("E: movrr %s, %s", RegNames[ex.ValA], RegNames[ex.ValB])

	case Movrm:
		// the destination register index rides to write-back in valA
		mr.ValE = ex.ValB
		mr.ValA = ex.ValA
		ctl = memLoad
		m.logf("E: movrm %s, mem[%#x]", RegNames[ex.ValA], uint32(ex.ValB))

	case Movmr:
		mr.ValE = ex.ValA
		mr.ValA = m.regSigned(ex.ValB)
		ctl = memStore
		m.logf("E: movmr mem[%#x], %s", uint32(ex.ValA), RegNames[ex.ValB])

	case Movri:
		mr.ValE = ex.ValA
		mr.ValA = ex.ValB
		ctl = memForward
		m.logf("E: movri %s, %d", RegNames[ex.ValA], ex.ValB)

	case Addrr, Addmr, Addrm, Addri, Subrr, Submr, Subrm, Subri:
		res, c, err := m.arith(op, ex)
		if err != nil {
			ex.Stat = 1
			return true, &StageError{Stage: Execute, Icode: ex.Icode, Err: err}
		}
		mr.ValE = ex.ValA // destination register index or memory address
		mr.ValA = res
		ctl = c

	case Push:
		esp := m.Regs[RegESP]
		mr.ValE = int64(esp)
		mr.ValA = m.regSigned(ex.ValA)
		ctl = memStore
		m.Regs[RegESP] = esp + 4
		m.logf("E: push %s", RegNames[ex.ValA])

	case Pop:
		esp := m.Regs[RegESP] - 4
		m.Regs[RegESP] = esp
		mr.ValE = int64(esp)
		mr.ValA = ex.ValA
		ctl = memLoad
		m.logf("E: pop %s", RegNames[ex.ValA])

	case Halt:
		// cancel everything upstream; memory and write-back still drain
		m.logf("E: halt")
		m.state = Halting
		m.active[Fetch], m.active[Decode], m.active[Execute] = false, false, false
		m.bottom = Memory
		return true, nil

	case Pass:
		m.logf("E: pass")

	default:
		ex.Stat = 1
		return true, &StageError{Stage: Execute, Icode: ex.Icode, Err: ErrUnknownOpcode}
	}

	m.MemoryRegs = mr
	m.memCtl = ctl
	m.active[Memory] = true
	m.active[Execute] = false
	return false, nil
}

// arith evaluates one add/sub form and rewrites ZF, SF and OF. The low 2
// bits of ifun select where the operands come from; bit 2 selects sub.
// Returns the result and the memory control that routes it to its
// destination.
func (m *Machine) arith(op Op, ex *ExecuteBank) (int64, int, error) {
	var l, r int64
	var err error
	ctl := memForward

	switch op.Ifun() & 0b11 {
	case 0b00: // rr
		l, r = m.regSigned(ex.ValA), m.regSigned(ex.ValB)
	case 0b01: // mr: destination is the memory word at valA
		l, err = m.memSigned(ex.ValA)
		r = m.regSigned(ex.ValB)
		ctl = memStore
	case 0b10: // rm
		l = m.regSigned(ex.ValA)
		r, err = m.memSigned(ex.ValB)
	case 0b11: // ri
		l, r = m.regSigned(ex.ValA), ex.ValB
	}
	if err != nil {
		return 0, 0, err
	}

	res := l + r
	sign := "+"
	if op.Ifun()&0b100 != 0 {
		res = l - r
		sign = "-"
	}

	m.Flags.ZF = res == 0
	m.Flags.SF = res < 0
	m.Flags.OF = res < -(1<<31) || res >= (1<<31)

	m.logf("E: %s: %d %s %d = %d", op, l, sign, r, res)
	return res, ctl, nil
}
