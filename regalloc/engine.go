package regalloc

import "github.com/tracejit/j2regalloc/hir"

// Allocator drives one backwards pass over a hir.Module. Instructions are processed from the
// last to the first; Alloc is called once per instruction with that instruction's constraint
// array and arranges, as a side effect through Backend, the transition from the
// already-established state after the instruction to the state the instruction's own
// constraints require before it runs.
type Allocator struct {
	mod hir.Module
	be  Backend

	istates  []IState
	rstates  []RState
	isUsed   []hir.IIx
	stackOff uint32

	snapshots []*Snapshot
}

// NewAllocator prepares an Allocator for mod, to be driven by be. Alloc is called for the
// instructions of mod in reverse order, from the last (mod.Len()-1) down to 0.
func NewAllocator(mod hir.Module, be Backend) *Allocator {
	a := &Allocator{
		mod:     mod,
		be:      be,
		istates: make([]IState, mod.Len()),
		rstates: make([]RState, be.MaxRegIdx()),
		isUsed:  make([]hir.IIx, mod.Len()),
	}
	for i := range a.isUsed {
		a.isUsed[i] = hir.NoIIx
	}
	return a
}

func (a *Allocator) newStackSlot(bitw int) uint32 {
	off := a.be.AlignSpill(a.stackOff, bitw)
	a.stackOff = off + uint32((bitw+7)/8)
	return off
}

// IsUsed reports the last (highest-IIx) consumer of iidx discovered so far, or hir.NoIIx if
// none has been seen yet in the backward walk.
func (a *Allocator) IsUsed(iidx hir.IIx) hir.IIx { return a.isUsed[iidx] }

// IState reports the current instruction state for iidx.
func (a *Allocator) IState(iidx hir.IIx) IState { return a.istates[iidx] }

// Alloc processes instruction iidx against its constraint array, returning one register per
// constraint in positional order. At most one of Output/InputOutput may appear in cnstrs.
func (a *Allocator) Alloc(iidx hir.IIx, cnstrs []Cnstr) ([]Reg, error) {
	chosen := make([]Reg, len(cnstrs))
	outIdx := -1

	// Phase 1: choose registers. Clobber and single-choice candidate sets are hard
	// constraints; Input prefers a register already holding the value, then an empty one;
	// Output prefers the register already holding this instruction's own value (avoiding a
	// copy), or reuses a dying Input's register when same_as_input is set.
	var claimed RegSet
	for i, c := range cnstrs {
		switch c.Kind {
		case CnstrClobber:
			chosen[i] = c.ClobberReg
		case CnstrInput:
			chosen[i] = a.pickForInput(iidx, c.IIx, c.Regs, claimed)
		case CnstrTemp:
			chosen[i] = a.pickFree(iidx, c.Regs, claimed)
		case CnstrKeepAlive:
			chosen[i] = RegUndefined
		}
		if chosen[i] != RegUndefined {
			claimed = append(claimed, chosen[i])
		}
	}
	for i, c := range cnstrs {
		if c.Kind != CnstrOutput && c.Kind != CnstrInputOutput {
			continue
		}
		if outIdx >= 0 {
			panic("BUG: more than one Output/InputOutput constraint in one instruction")
		}
		outIdx = i
		if c.Kind == CnstrInputOutput {
			chosen[i] = a.pickForInput(iidx, c.IIx, c.Regs, claimed)
			continue
		}
		if c.SameAsInput {
			if r, ok := a.pickDyingInput(iidx, cnstrs, c.Regs); ok {
				chosen[i] = r
				continue
			}
		}
		chosen[i] = a.pickForOutput(iidx, c.Regs, claimed)
	}

	// currentPost is the state already established as required after iidx (by every
	// instruction already processed in this backward walk, i.e. > iidx).
	currentPost := make([]RState, len(a.rstates))
	copy(currentPost, a.rstates)

	// target is what iidx's own constraints require immediately before it runs.
	target := make([]RState, len(a.rstates))
	copy(target, a.rstates)
	skipEvict := map[Reg]bool{}

	// inputTouched marks registers an Input/InputOutput constraint claims in this same call,
	// so a coalescing Output (same_as_input, landing on that same register) does not stomp
	// the dying input's requirement out of target below: the destructive two-operand case
	// needs the input's value present immediately before the instruction runs even though the
	// instruction's own output reuses that register.
	inputTouched := map[Reg]bool{}
	for i, c := range cnstrs {
		if c.Kind == CnstrInput || c.Kind == CnstrInputOutput {
			inputTouched[chosen[i]] = true
		}
	}

	for i, c := range cnstrs {
		switch c.Kind {
		case CnstrClobber:
			target[chosen[i]] = RState{}
		case CnstrTemp:
			target[chosen[i]] = RState{}
		case CnstrInput:
			target[chosen[i]] = RState{Fill: c.InFill, IIxs: []hir.IIx{c.IIx}}
		case CnstrInputOutput:
			target[chosen[i]] = RState{Fill: c.InFill, IIxs: []hir.IIx{c.IIx}}
			skipEvict[chosen[i]] = true
		case CnstrOutput:
			skipEvict[chosen[i]] = true
			if !inputTouched[chosen[i]] {
				target[chosen[i]] = RState{}
			}
		}
	}

	// An Input with Clobber destroys its register as a side effect of being read, distinct
	// from the register simply holding a value that dies here. If pickForInput landed on a
	// register that currentPost already needed to go on holding this same value for an
	// already-processed (downstream) consumer, that coincidence must not be read as "nothing
	// to do": the register won't actually carry the value past this instruction. Feed the
	// diff a view with that one register's target cleared, so it takes the ordinary
	// eviction path and preserves the value elsewhere before the clobber destroys it.
	diffTarget := target
	copied := false
	for i, c := range cnstrs {
		if c.Kind != CnstrInput || !c.Clobber {
			continue
		}
		reg := chosen[i]
		dying := a.isUsed[c.IIx] == hir.NoIIx || a.isUsed[c.IIx] == iidx
		if dying || !currentPost[reg].Holds(c.IIx) {
			continue
		}
		if !copied {
			diffTarget = append([]RState(nil), target...)
			copied = true
		}
		diffTarget[reg] = RState{}
	}

	planner := &diffPlanner{mod: a.mod, istates: a.istates, freshOff: a.newStackSlot}
	actions := planner.rstateDiffToActionSkipping(currentPost, diffTarget, skipEvict)

	ordered, extraUnspills, extraSpills := toposortDistinctCopies(actions.DistinctCopies, currentPost, a.newStackSlot)
	actions.DistinctCopies = ordered
	actions.Unspills = append(actions.Unspills, extraUnspills...)
	actions.Spills = append(actions.Spills, extraSpills...)

	// Output-side post-phase bookkeeping: if downstream pressure already forced a stack
	// slot for this value before we reached its definition, commit it to memory now.
	if outIdx >= 0 {
		c := cnstrs[outIdx]
		outReg := chosen[outIdx]
		var outIIx hir.IIx
		var outFill Fill
		if c.Kind == CnstrInputOutput {
			outIIx = iidx
			if f, ok := c.OutFill.Resolve(FillUndefined); ok {
				outFill = f
			}
		} else {
			outIIx = iidx
			if f, ok := c.OutFill.Resolve(currentPost[outReg].Fill); ok {
				outFill = f
			}
		}
		if a.istates[outIIx].IsSpilt() {
			actions.Spills = append(actions.Spills, RegSpill{
				Reg: outReg, Fill: outFill, Off: a.istates[outIIx].Off, Bitw: a.mod.InstWidth(outIIx),
			})
		}
	}

	if err := a.emit(actions); err != nil {
		return nil, err
	}

	// KeepAlive: attempt guard-optimistic placement into the new target state.
	for _, c := range cnstrs {
		if c.Kind != CnstrKeepAlive {
			continue
		}
		for _, kept := range c.IIxs {
			if reg, ok := findHolder(target, kept); ok {
				target[reg].AddGRIx(c.GRIx)
				continue
			}
			if reg, ok := firstEmpty(target); ok {
				target[reg] = RState{Fill: FillUndefined, IIxs: []hir.IIx{kept}, GRIxs: []hir.GRIx{c.GRIx}}
				continue
			}
			if a.istates[kept].IsNone() {
				off := a.newStackSlot(a.mod.InstWidth(kept))
				a.istates[kept] = StackState(off)
			}
		}
	}

	for _, c := range cnstrs {
		if c.Kind == CnstrInput || c.Kind == CnstrInputOutput {
			if a.isUsed[c.IIx] == hir.NoIIx {
				a.isUsed[c.IIx] = iidx
			}
		}
		if c.Kind == CnstrKeepAlive {
			for _, kept := range c.IIxs {
				if a.isUsed[kept] == hir.NoIIx {
					a.isUsed[kept] = iidx
				}
			}
		}
	}

	a.rstates = target
	return chosen, nil
}

func (a *Allocator) emit(actions RegActions) error {
	for _, u := range actions.Unspills {
		if err := a.be.Unspill(u.Off, u.Reg, u.Fill, u.Bitw); err != nil {
			return wrapBackendErr("unspill", err)
		}
	}
	for _, m := range actions.ConstMoves {
		var tmpPtr *Reg
		if candidates, needed := a.be.ConstNeedsTmpReg(m.Reg, m.Const); needed {
			tmp := a.pickTmpFor(m.Reg, candidates)
			tmpPtr = &tmp
		}
		if err := a.be.MoveConst(m.Reg, tmpPtr, m.Bitw, m.Fill, m.Const); err != nil {
			return wrapBackendErr("move_const", err)
		}
	}
	for _, c := range actions.DistinctCopies {
		if c.FromFill != c.ToFill {
			if err := a.be.ArrangeFill(c.Src, c.Bitw, c.FromFill, c.ToFill); err != nil {
				return wrapBackendErr("arrange_fill", err)
			}
		}
		if err := a.be.CopyReg(c.Src, c.Dst); err != nil {
			return wrapBackendErr("copy_reg", err)
		}
	}
	for _, c := range actions.SelfCopies {
		if err := a.be.ArrangeFill(c.Dst, c.Bitw, c.FromFill, c.ToFill); err != nil {
			return wrapBackendErr("arrange_fill", err)
		}
	}
	for _, s := range actions.Spills {
		if canon := a.rstates[s.Reg].Canonical(); canon != hir.NoIIx && a.mod.IsConst(canon) {
			continue
		}
		if err := a.be.Spill(s.Reg, s.Fill, s.Off, s.Bitw); err != nil {
			return wrapBackendErr("spill", err)
		}
		a.markSpilt(s)
	}
	return nil
}

// pickTmpFor chooses a scratch register for float-constant rematerialization: an empty
// register from candidates other than target, or else the first candidate (accepting that
// its prior content will need re-deriving, same as any other clobbered Temp).
func (a *Allocator) pickTmpFor(target Reg, candidates RegSet) Reg {
	for _, r := range candidates {
		if r != target && int(r) < len(a.rstates) && a.rstates[r].IsEmpty() {
			return r
		}
	}
	for _, r := range candidates {
		if r != target {
			return r
		}
	}
	return target
}

func (a *Allocator) markSpilt(s RegSpill) {
	for _, held := range a.rstates[s.Reg].IIxs {
		if a.istates[held].IsNone() {
			a.istates[held] = StackState(s.Off)
			a.patchSnapshotsForSpill(s.Reg, held, s.Off)
		}
	}
}

// pickForInput chooses a register for an Input(inIIx) constraint of instruction curIIx:
// prefer a register already holding inIIx, else a free one (where "free" also admits a
// register whose sole occupant is curIIx's own not-yet-produced output — the common
// destructive two-operand case, e.g. x86 ADD dst,src where dst is reused as an input).
func (a *Allocator) pickForInput(curIIx, inIIx hir.IIx, regs RegSet, claimed RegSet) Reg {
	if reg, ok := findHolder(a.rstates, inIIx); ok && regs.Contains(reg) {
		return reg
	}
	return a.pickFree(curIIx, regs, claimed)
}

func (a *Allocator) pickForOutput(curIIx hir.IIx, regs RegSet, claimed RegSet) Reg {
	if reg, ok := findHolder(a.rstates, curIIx); ok && regs.Contains(reg) {
		return reg
	}
	return a.pickFree(curIIx, regs, claimed)
}

// pickDyingInput looks for an Input constraint on this same instruction whose value does not
// survive past iidx and whose register lies within regs, for Output{same_as_input}.
func (a *Allocator) pickDyingInput(iidx hir.IIx, cnstrs []Cnstr, regs RegSet) (Reg, bool) {
	for _, c := range cnstrs {
		if c.Kind != CnstrInput {
			continue
		}
		reg, ok := findHolder(a.rstates, c.IIx)
		if !ok || !regs.Contains(reg) {
			continue
		}
		if a.isUsed[c.IIx] == hir.NoIIx || a.isUsed[c.IIx] == iidx {
			return reg, true
		}
	}
	return RegUndefined, false
}

// pickFree chooses an unconstrained register from regs for curIIx: one that is genuinely
// empty, or whose only occupant is curIIx itself (about to be overwritten by curIIx's own
// result anyway), or failing that one held only for guard optimism, or else the first
// candidate (forcing the diff planner to spill its current occupant). claimed holds registers
// already handed out to an earlier constraint within this same Alloc call and is avoided on
// the first three passes, so two distinct constraints on one instruction never collide on the
// same register unless regs leaves no other choice.
func (a *Allocator) pickFree(curIIx hir.IIx, regs RegSet, claimed RegSet) Reg {
	for _, r := range regs {
		if !claimed.Contains(r) && a.regFreeFor(r, curIIx) {
			return r
		}
	}
	for _, r := range regs {
		if !claimed.Contains(r) && int(r) < len(a.rstates) && !a.rstates[r].IsEmpty() && a.rstates[r].canKeepAliveOnly() {
			return r
		}
	}
	for _, r := range regs {
		if !claimed.Contains(r) {
			return r
		}
	}
	for _, r := range regs {
		if a.regFreeFor(r, curIIx) {
			return r
		}
	}
	if len(regs) > 0 {
		return regs[0]
	}
	panic("BUG: empty candidate register set")
}

func (a *Allocator) regFreeFor(r Reg, curIIx hir.IIx) bool {
	if int(r) >= len(a.rstates) {
		return false
	}
	rs := a.rstates[r]
	if rs.IsEmpty() {
		return true
	}
	return len(rs.IIxs) == 1 && rs.IIxs[0] == curIIx && len(rs.GRIxs) == 0
}

func (rs *RState) canKeepAliveOnly() bool {
	return len(rs.GRIxs) > 0
}

func findHolder(states []RState, iidx hir.IIx) (Reg, bool) {
	for r, rs := range states {
		if rs.Holds(iidx) {
			return Reg(r), true
		}
	}
	return RegUndefined, false
}

func firstEmpty(states []RState) (Reg, bool) {
	for r, rs := range states {
		if rs.IsEmpty() {
			return Reg(r), true
		}
	}
	return RegUndefined, false
}
