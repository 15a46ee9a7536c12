package cpu

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/davecgh/go-spew/spew"
)

type model struct {
	m      *Machine
	prevPC uint32
	err    error
}

// Init is the first function that will be called. The image is already in
// memory by the time the debugger starts, so there is nothing to do.
func (md model) Init() tea.Cmd { return nil }

// Update steps the pipeline one tick per keypress.
func (md model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			return md, tea.Quit

		case " ", "j":
			if md.m.State() == Halted {
				return md, tea.Quit
			}
			md.prevPC = md.m.PC
			if err := md.m.Tick(); err != nil {
				md.err = err
				return md, tea.Quit
			}
		}
	}
	return md, nil
}

// renderPage renders one 16-byte row of memory. The byte at PC is
// bracketed.
func (md model) renderPage(start uint32) string {
	if start%16 != 0 {
		panic("start must be a multiple of 16")
	}
	s := fmt.Sprintf("%04x | ", start)
	for i := uint32(0); i < 16; i++ {
		addr := start + i
		if int(addr) >= md.m.Mem.Size() {
			s += " --  "
			continue
		}
		if addr == md.m.PC {
			s += fmt.Sprintf("[%02x] ", md.m.Mem.At(addr))
		} else {
			s += fmt.Sprintf(" %02x  ", md.m.Mem.At(addr))
		}
	}
	return s
}

func (md model) pageTable() string {
	header := "addr | "
	for b := 0; b < 16; b++ {
		header += fmt.Sprintf("  %01x  ", b)
	}
	rows := []string{header}

	// the bottom of memory, the code around PC, and the stack
	seen := map[uint32]bool{}
	offsets := []uint32{0, 16}
	pc := md.m.PC &^ 15
	for i := uint32(0); i < 3*16; i += 16 {
		offsets = append(offsets, pc+i)
	}
	offsets = append(offsets, md.m.Regs[RegESP]&^15)
	for _, off := range offsets {
		if seen[off] || int(off) >= md.m.Mem.Size() {
			continue
		}
		seen[off] = true
		rows = append(rows, md.renderPage(off))
	}
	return strings.Join(rows, "\n")
}

func (md model) status() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nPC: %x (%x)   %s   [%s]\n\n",
		md.m.PC, md.prevPC, md.m.State(), md.m.lastSteps)
	for i, name := range RegNames {
		fmt.Fprintf(&b, "%4s: %08x", name, md.m.Regs[i])
		if i%4 == 3 {
			b.WriteString("\n")
		} else {
			b.WriteString("  ")
		}
	}
	b.WriteString("\nZ S O\n")
	for _, f := range []bool{md.m.Flags.ZF, md.m.Flags.SF, md.m.Flags.OF} {
		if f {
			b.WriteString("/ ")
		} else {
			b.WriteString("  ")
		}
	}
	return b.String()
}

// View renders the memory pages, the register/flag status and a dump of
// the next instruction plus the execute stage bank.
func (md model) View() string {
	next := "next: ?\n"
	if in, err := md.m.Fetch(md.m.PC); err == nil {
		next = spew.Sdump(in)
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		lipgloss.JoinHorizontal(
			lipgloss.Top,
			md.pageTable(),
			md.status(),
		),
		"",
		next,
		spew.Sdump(md.m.ExecuteRegs),
	)
}

// Debug starts an interactive TUI over the machine: space or j steps one
// tick, q quits. The image must already be assembled into memory.
func (m *Machine) Debug() error {
	out, err := tea.NewProgram(model{m: m}).Run()
	if err != nil {
		return err
	}
	if x := out.(model); x.err != nil {
		return x.err
	}
	return nil
}
