package backend

import (
	"fmt"
	"math"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/tracejit/j2regalloc/hir"
	"github.com/tracejit/j2regalloc/regalloc"
)

// AMD64 is a reference Backend that drives golang-asm to encode the small subset of x86-64
// instructions the allocator itself needs: register-to-register moves, frame-relative spills
// and unspills, and sign/zero-extension for fill arrangement. It exists to exercise the
// golang-asm dependency against real register assignments, not as a complete code generator —
// the instructions an allocated operation itself performs (add, load, guard check, ...) are
// the caller's responsibility once Alloc has returned concrete registers.
type AMD64 struct {
	b *goasm.Builder

	gpr []int16 // x86.REG_* per regalloc.Reg, GPRs first
	fpr []int16
}

// amd64GPRs lists the general-purpose integer registers made available to the allocator, in
// the order backend.Reg indices are assigned. RSP and RBP are reserved for the frame and are
// never handed out.
var amd64GPRs = []int16{
	x86.REG_AX, x86.REG_BX, x86.REG_CX, x86.REG_DX,
	x86.REG_SI, x86.REG_DI, x86.REG_R8, x86.REG_R9,
	x86.REG_R10, x86.REG_R11, x86.REG_R12, x86.REG_R13,
}

var amd64FPRs = []int16{
	x86.REG_X0, x86.REG_X1, x86.REG_X2, x86.REG_X3,
	x86.REG_X4, x86.REG_X5, x86.REG_X6, x86.REG_X7,
}

// NewAMD64 allocates a fresh golang-asm builder sized for a trace of roughly the given number
// of instructions.
func NewAMD64(estimatedInsts int) (*AMD64, error) {
	b, err := goasm.NewBuilder("amd64", estimatedInsts*4+64)
	if err != nil {
		return nil, fmt.Errorf("backend: failed to create golang-asm builder: %w", err)
	}
	return &AMD64{b: b, gpr: amd64GPRs, fpr: amd64FPRs}, nil
}

func (a *AMD64) MaxRegIdx() int { return len(a.gpr) + len(a.fpr) }

func (a *AMD64) x86Reg(r regalloc.Reg) int16 {
	i := int(r)
	if i < len(a.gpr) {
		return a.gpr[i]
	}
	return a.fpr[i-len(a.gpr)]
}

func (a *AMD64) isFP(r regalloc.Reg) bool { return int(r) >= len(a.gpr) }

func (a *AMD64) add(as obj.As) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	a.b.AddInstruction(p)
	return p
}

func regOperand(t *obj.Addr, reg int16) {
	t.Type = obj.TYPE_REG
	t.Reg = reg
}

func memOperand(t *obj.Addr, base int16, off uint32) {
	t.Type = obj.TYPE_MEM
	t.Reg = base
	t.Offset = int64(off)
}

// CopyReg emits a register-to-register move sized to the wider of the two classes involved.
func (a *AMD64) CopyReg(src, dst regalloc.Reg) error {
	p := a.add(x86.AMOVQ)
	if a.isFP(src) || a.isFP(dst) {
		p.As = x86.AMOVUPS
	}
	regOperand(&p.From, a.x86Reg(src))
	regOperand(&p.To, a.x86Reg(dst))
	return nil
}

// Spill writes reg to [SP+stackOff], zero-extended to bitw as the contract requires.
func (a *AMD64) Spill(reg regalloc.Reg, fill regalloc.Fill, stackOff uint32, bitw int) error {
	p := a.add(movOpcodeFor(bitw, a.isFP(reg)))
	regOperand(&p.From, a.x86Reg(reg))
	memOperand(&p.To, x86.REG_SP, stackOff)
	return nil
}

// Unspill reads bitw bits from [SP+stackOff] into reg.
func (a *AMD64) Unspill(stackOff uint32, reg regalloc.Reg, fill regalloc.Fill, bitw int) error {
	p := a.add(movOpcodeFor(bitw, a.isFP(reg)))
	memOperand(&p.From, x86.REG_SP, stackOff)
	regOperand(&p.To, a.x86Reg(reg))
	return nil
}

// ArrangeFill converts reg's upper bits in place. Undefined->anything and same->same require
// no instruction; converting to Zeroed uses a zero-extending move, to Signed a sign-extending move.
func (a *AMD64) ArrangeFill(reg regalloc.Reg, bitw int, from, to regalloc.Fill) error {
	if from == to || to == regalloc.FillUndefined {
		return nil
	}
	switch to {
	case regalloc.FillZeroed:
		p := a.add(zeroExtendOpcodeFor(bitw))
		regOperand(&p.From, a.x86Reg(reg))
		regOperand(&p.To, a.x86Reg(reg))
	case regalloc.FillSigned:
		p := a.add(signExtendOpcodeFor(bitw))
		regOperand(&p.From, a.x86Reg(reg))
		regOperand(&p.To, a.x86Reg(reg))
	}
	return nil
}

// MoveConst materializes an integer constant with MOVQ $imm, and rematerializes a
// floating-point constant through tmpReg via a general-purpose immediate load followed by a
// move into the target vector register.
func (a *AMD64) MoveConst(reg regalloc.Reg, tmpReg *regalloc.Reg, tgtBitw int, fill regalloc.Fill, c hir.ConstKind) error {
	if !c.IsFloat && !c.IsDouble {
		p := a.add(x86.AMOVQ)
		p.From.Type = obj.TYPE_CONST
		p.From.Offset = c.IntVal
		regOperand(&p.To, a.x86Reg(reg))
		return nil
	}
	if tmpReg == nil {
		return fmt.Errorf("backend: float constant requires a temporary register")
	}
	bits := int64(0)
	if c.IsDouble {
		bits = int64(math.Float64bits(c.F64Val))
	} else {
		bits = int64(math.Float32bits(c.F32Val))
	}
	p := a.add(x86.AMOVQ)
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = bits
	regOperand(&p.To, a.x86Reg(*tmpReg))

	mv := a.add(x86.AMOVQ)
	regOperand(&mv.From, a.x86Reg(*tmpReg))
	regOperand(&mv.To, a.x86Reg(reg))
	return nil
}

func (a *AMD64) ConstNeedsTmpReg(reg regalloc.Reg, c hir.ConstKind) (regalloc.RegSet, bool) {
	if !c.IsFloat && !c.IsDouble {
		return nil, false
	}
	regs := make(regalloc.RegSet, len(a.gpr))
	for i := range a.gpr {
		regs[i] = regalloc.Reg(i)
	}
	return regs, true
}

func (a *AMD64) PossibleRegs(mod hir.Module, iidx hir.IIx) regalloc.RegSet {
	if mod.InstType(iidx).IsFloatLike() {
		regs := make(regalloc.RegSet, len(a.fpr))
		for i := range a.fpr {
			regs[i] = regalloc.Reg(len(a.gpr) + i)
		}
		return regs
	}
	regs := make(regalloc.RegSet, len(a.gpr))
	for i := range a.gpr {
		regs[i] = regalloc.Reg(i)
	}
	return regs
}

// AlignSpill rounds the next spill slot up to the value's own size, the simplest alignment
// that is always sufficient on amd64.
func (a *AMD64) AlignSpill(off uint32, bitw int) uint32 {
	size := uint32((bitw + 7) / 8)
	if size == 0 {
		return off
	}
	if rem := off % size; rem != 0 {
		off += size - rem
	}
	return off
}

// Assemble finalizes the instruction stream into machine code.
func (a *AMD64) Assemble() []byte {
	return a.b.Assemble()
}

func movOpcodeFor(bitw int, fp bool) obj.As {
	if fp {
		return x86.AMOVUPS
	}
	switch {
	case bitw <= 8:
		return x86.AMOVB
	case bitw <= 16:
		return x86.AMOVW
	case bitw <= 32:
		return x86.AMOVL
	default:
		return x86.AMOVQ
	}
}

func zeroExtendOpcodeFor(bitw int) obj.As {
	switch {
	case bitw <= 8:
		return x86.AMOVBLZX
	case bitw <= 16:
		return x86.AMOVWLZX
	default:
		return x86.AMOVL
	}
}

func signExtendOpcodeFor(bitw int) obj.As {
	switch {
	case bitw <= 8:
		return x86.AMOVBLSX
	case bitw <= 16:
		return x86.AMOVWLSX
	default:
		return x86.AMOVLQSX
	}
}
