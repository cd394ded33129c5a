package regalloc

import "github.com/tracejit/j2regalloc/hir"

// EnsureSpilledForDeopt spills, from the register currently holding it, each non-constant
// value in iidxs that lacks a stack slot, so every value referenced by an upcoming guard is
// reachable from memory once EnsureSpilledForDeopt returns. Required before VarlocsForDeopt can report a
// complete location for every entry in iidxs.
func (a *Allocator) EnsureSpilledForDeopt(iidxs []hir.IIx) error {
	for _, iidx := range iidxs {
		if a.mod.IsConst(iidx) || !a.istates[iidx].IsNone() {
			continue
		}
		reg, ok := findHolder(a.rstates, iidx)
		if !ok {
			continue
		}
		off := a.newStackSlot(a.mod.InstWidth(iidx))
		if err := a.be.Spill(reg, a.rstates[reg].Fill, off, a.mod.InstWidth(iidx)); err != nil {
			return wrapBackendErr("spill", err)
		}
		a.markSpilt(RegSpill{Reg: reg, Off: off})
	}
	return nil
}

// VarlocsForDeopt reports, for every iidx referenced by a guard, the location deopt must read
// it from: Stack(off) when spilt, StackOff(off) when the value is a stack pointer, or
// Const(kind) for constants. Callers must invoke EnsureSpilledForDeopt first; any iidx still
// resident only in a register at this point is a bug.
func (a *Allocator) VarlocsForDeopt(iidxs []hir.IIx) []VarLoc {
	out := make([]VarLoc, len(iidxs))
	for i, iidx := range iidxs {
		if a.mod.IsConst(iidx) {
			out[i] = ConstLoc(a.mod.Inst(iidx).Const)
			continue
		}
		st := a.istates[iidx]
		switch st.Kind {
		case IStateStack:
			out[i] = StackLoc(st.Off)
		case IStateStackOff:
			out[i] = StackOffLoc(st.Off)
		default:
			panic("BUG: value has no deopt location; EnsureSpilledForDeopt was not called")
		}
	}
	return out
}
