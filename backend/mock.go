// Package backend provides Backend implementations for regalloc.Allocator: Mock, a
// call-recording backend driving the allocator's own test suite, and AMD64, a minimal
// golang-asm-backed reference encoder exercising the same contract against real machine code.
package backend

import (
	"fmt"
	"strings"

	"github.com/tracejit/j2regalloc/hir"
	"github.com/tracejit/j2regalloc/regalloc"
)

// Mock is a Backend that records every call it receives as a formatted log line instead of
// emitting machine code, letting tests assert on the exact sequence and shape of allocator
// decisions. Registers are named rather than numbered so failures read naturally.
type Mock struct {
	gprNames []string
	fpNames  []string

	Log []string

	autoGPR, autoFP int

	FailOp string // if set, the named operation returns an error instead of succeeding
}

// NewMock builds a Mock with the given general-purpose and floating-point register names,
// indexed in that order (GPRs first).
func NewMock(gprNames, fpNames []string) *Mock {
	return &Mock{gprNames: gprNames, fpNames: fpNames}
}

func (m *Mock) MaxRegIdx() int { return len(m.gprNames) + len(m.fpNames) }

func (m *Mock) regName(r regalloc.Reg) string {
	if r.IsUndefined() {
		return "undef"
	}
	i := int(r)
	if i < len(m.gprNames) {
		return m.gprNames[i]
	}
	return m.fpNames[i-len(m.gprNames)]
}

// FromName implements hir.RegResolver, so Mock can drive the text parser directly.
func (m *Mock) FromName(name string) (int, bool) {
	for i, n := range m.gprNames {
		if n == name {
			return i, true
		}
	}
	for i, n := range m.fpNames {
		if n == name {
			return len(m.gprNames) + i, true
		}
	}
	return 0, false
}

// NextAuto implements hir.RegResolver.
func (m *Mock) NextAuto(ty hir.Type) (int, bool) {
	if ty.IsFloatLike() {
		if m.autoFP >= len(m.fpNames) {
			return 0, false
		}
		idx := len(m.gprNames) + m.autoFP
		m.autoFP++
		return idx, true
	}
	if m.autoGPR >= len(m.gprNames) {
		return 0, false
	}
	idx := m.autoGPR
	m.autoGPR++
	return idx, true
}

func (m *Mock) GPRs() regalloc.RegSet {
	regs := make(regalloc.RegSet, len(m.gprNames))
	for i := range m.gprNames {
		regs[i] = regalloc.Reg(i)
	}
	return regs
}

func (m *Mock) FPRs() regalloc.RegSet {
	regs := make(regalloc.RegSet, len(m.fpNames))
	for i := range m.fpNames {
		regs[i] = regalloc.Reg(len(m.gprNames) + i)
	}
	return regs
}

// LogAlloc records the registers a test driver's own constraint table picked for the
// positional operands of an instruction, so scenario assertions can read "alloc %N r0 r1 ..."
// directly out of Log alongside the real Backend calls Alloc triggered.
func (m *Mock) LogAlloc(iidx hir.IIx, regs []regalloc.Reg) {
	names := make([]string, len(regs))
	for i, r := range regs {
		names[i] = m.regName(r)
	}
	m.Log = append(m.Log, fmt.Sprintf("alloc %%%d %s", iidx, strings.Join(names, " ")))
}

func (m *Mock) fail(op string) error {
	if m.FailOp == op {
		return fmt.Errorf("mock: injected failure on %s", op)
	}
	return nil
}

func (m *Mock) AlignSpill(off uint32, bitw int) uint32 {
	size := uint32((bitw + 7) / 8)
	if size == 0 {
		return off
	}
	if rem := off % size; rem != 0 {
		off += size - rem
	}
	return off
}

func (m *Mock) Spill(reg regalloc.Reg, fill regalloc.Fill, stackOff uint32, bitw int) error {
	m.Log = append(m.Log, fmt.Sprintf("spill %s %s stack_off=%d bitw=%d", m.regName(reg), fill, stackOff, bitw))
	return m.fail("spill")
}

func (m *Mock) Unspill(stackOff uint32, reg regalloc.Reg, fill regalloc.Fill, bitw int) error {
	m.Log = append(m.Log, fmt.Sprintf("unspill stack_off=%d %s %s bitw=%d", stackOff, m.regName(reg), fill, bitw))
	return m.fail("unspill")
}

func (m *Mock) CopyReg(src, dst regalloc.Reg) error {
	m.Log = append(m.Log, fmt.Sprintf("copy_reg from=%s to=%s", m.regName(src), m.regName(dst)))
	return m.fail("copy_reg")
}

func (m *Mock) ArrangeFill(reg regalloc.Reg, bitw int, from, to regalloc.Fill) error {
	m.Log = append(m.Log, fmt.Sprintf("arrange_fill %s bitw=%d from=%s to=%s", m.regName(reg), bitw, from, to))
	return m.fail("arrange_fill")
}

func (m *Mock) MoveConst(reg regalloc.Reg, tmpReg *regalloc.Reg, tgtBitw int, fill regalloc.Fill, c hir.ConstKind) error {
	tmpName := "none"
	if tmpReg != nil {
		tmpName = m.regName(*tmpReg)
	}
	m.Log = append(m.Log, fmt.Sprintf("const %s tmp_reg=%s tgt_bitw=%d fill=%s %s", m.regName(reg), tmpName, tgtBitw, fill, c))
	return m.fail("const")
}

func (m *Mock) ConstNeedsTmpReg(reg regalloc.Reg, c hir.ConstKind) (regalloc.RegSet, bool) {
	if c.IsFloat || c.IsDouble {
		return m.GPRs(), true
	}
	return nil, false
}

func (m *Mock) PossibleRegs(mod hir.Module, iidx hir.IIx) regalloc.RegSet {
	if mod.InstType(iidx).IsFloatLike() {
		return m.FPRs()
	}
	return m.GPRs()
}
