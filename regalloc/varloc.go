package regalloc

import (
	"fmt"

	"github.com/tracejit/j2regalloc/hir"
)

// VarLocKind tags a VarLoc variant.
type VarLocKind uint8

const (
	VarLocReg VarLocKind = iota
	VarLocStack
	VarLocStackOff
	VarLocConst
)

// VarLoc is the externally reportable location of one value: a register, a stack offset, a
// stack-pointer offset, or a constant. Returned by deopt queries and entry/exit
// reconciliation, and supplied by callers describing externally fixed entry/exit locations.
type VarLoc struct {
	Kind  VarLocKind
	Reg   Reg
	Off   uint32
	Const hir.ConstKind
}

func RegLoc(r Reg) VarLoc          { return VarLoc{Kind: VarLocReg, Reg: r} }
func StackLoc(off uint32) VarLoc   { return VarLoc{Kind: VarLocStack, Off: off} }
func StackOffLoc(off uint32) VarLoc { return VarLoc{Kind: VarLocStackOff, Off: off} }
func ConstLoc(c hir.ConstKind) VarLoc { return VarLoc{Kind: VarLocConst, Const: c} }

func (v VarLoc) String() string {
	switch v.Kind {
	case VarLocReg:
		return v.Reg.String()
	case VarLocStack:
		return fmt.Sprintf("stack(%d)", v.Off)
	case VarLocStackOff:
		return fmt.Sprintf("stackoff(%d)", v.Off)
	case VarLocConst:
		return fmt.Sprintf("const(%s)", v.Const)
	default:
		return "?"
	}
}

// Equal reports whether v and o denote the same location.
func (v VarLoc) Equal(o VarLoc) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case VarLocReg:
		return v.Reg == o.Reg
	case VarLocStack, VarLocStackOff:
		return v.Off == o.Off
	default:
		return true
	}
}
