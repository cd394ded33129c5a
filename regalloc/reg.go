// Package regalloc implements a backwards-direction register allocator for a single-block
// trace IR: allocating for instruction n arranges the state instruction n+1 expects. The
// package is agnostic to the host's concrete register file and machine encoder; it drives
// both through the Backend interface in backend.go and the hir.Module it is given.
package regalloc

import "fmt"

// Reg is an opaque, totally-ordered register identity with a dense index in [0, MAX). It
// carries no notion of register class (general-purpose vs floating-point) on its own — that
// distinction lives entirely in which Regs a Backend hands back from PossibleRegs.
type Reg int16

// RegUndefined is the sentinel register returned for constraints (KeepAlive) that do not
// reserve a physical register.
const RegUndefined Reg = -1

func (r Reg) String() string {
	if r == RegUndefined {
		return "undef"
	}
	return fmt.Sprintf("r%d", int(r))
}

// IsUndefined reports whether r is the sentinel.
func (r Reg) IsUndefined() bool { return r == RegUndefined }

// RegSet is a small, order-preserving set of registers, used wherever the spec calls for an
// unordered candidate list (constraint "regs" fields, possible-regs iteration results).
type RegSet []Reg

func (s RegSet) Contains(r Reg) bool {
	for _, x := range s {
		if x == r {
			return true
		}
	}
	return false
}
