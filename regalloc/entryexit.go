package regalloc

import (
	"sort"

	"github.com/tracejit/j2regalloc/hir"
)

// EntryVLoc is the set of candidate locations an external caller offers for a trace-entry
// argument. The allocator uses the first register location and the first stack location in
// Locs; other members are not considered.
type EntryVLoc struct {
	IIx   hir.IIx
	Locs  []VarLoc
}

// SetEntryStacksAtEnd pre-seeds istates for entry arguments whose candidate location set
// already names a stack offset. Call this once, right after NewAllocator and before the first
// Alloc call — "at end" names when the original ran it: at the end of setting up the
// allocator, before walking a single instruction. Without it, the first instruction reached
// walking backward that needs such an argument spilled would mint a brand new stack slot via
// freshOff instead of reusing the slot the caller already committed to, doubling the argument's
// footprint for no reason.
func (a *Allocator) SetEntryStacksAtEnd(entries []EntryVLoc) {
	for _, e := range entries {
		if !a.istates[e.IIx].IsNone() {
			continue
		}
		if off, ok := stackCandidate(e.Locs); ok {
			a.istates[e.IIx] = StackState(off)
		}
	}
}

// SetEntryVlocsAtStart reconciles the allocator's state at the start of the trace (the first
// instruction reached during the backward walk, emitted last in forward order) against the
// externally fixed entry locations. For each entry argument it plants the first register
// location of its candidate set, diffs against that synthetic pre-state, and emits the
// transition; arguments whose candidate set has no stack location but whose allocator state
// demands stack presence are spilt.
func (a *Allocator) SetEntryVlocsAtStart(entries []EntryVLoc) error {
	target := make([]RState, len(a.rstates))
	copy(target, a.rstates)
	var entrySpills []RegSpill

	for _, e := range entries {
		// Plant unconditionally, even when already in the right register: the caller only
		// promises *where* the argument arrives, not what fill its upper bits carry, so the
		// synthetic pre-state always starts from Undefined and lets the diff arrange whatever
		// fill downstream code already requires.
		if wantReg, hasRegLoc := regCandidate(e.Locs); hasRegLoc {
			target[wantReg] = RState{Fill: FillUndefined, IIxs: []hir.IIx{e.IIx}}
		}

		if !a.istates[e.IIx].IsNone() {
			continue
		}
		if off, hasStackLoc := stackCandidate(e.Locs); hasStackLoc {
			a.istates[e.IIx] = StackState(off)
		} else if needsStackAnyway(a, e.IIx) {
			reg, _ := findHolder(a.rstates, e.IIx)
			bitw := a.mod.InstWidth(e.IIx)
			entrySpills = append(entrySpills, RegSpill{Reg: reg, Fill: a.rstates[reg].Fill, Off: a.newStackSlot(bitw), Bitw: bitw})
		}
	}

	planner := &diffPlanner{mod: a.mod, istates: a.istates, freshOff: a.newStackSlot}
	actions := planner.rstateDiffToActionSkipping(a.rstates, target, nil)
	ordered, extraUnspills, extraSpills := toposortDistinctCopies(actions.DistinctCopies, a.rstates, a.newStackSlot)
	actions.DistinctCopies = ordered
	actions.Unspills = append(actions.Unspills, extraUnspills...)
	actions.Spills = append(actions.Spills, extraSpills...)
	actions.Spills = append(actions.Spills, entrySpills...)

	if err := a.emit(actions); err != nil {
		return err
	}
	a.rstates = target
	return nil
}

func needsStackAnyway(a *Allocator, iidx hir.IIx) bool {
	reg, ok := findHolder(a.rstates, iidx)
	return ok && len(a.rstates[reg].GRIxs) > 0
}

func regCandidate(locs []VarLoc) (Reg, bool) {
	for _, l := range locs {
		if l.Kind == VarLocReg {
			return l.Reg, true
		}
	}
	return RegUndefined, false
}

func stackCandidate(locs []VarLoc) (uint32, bool) {
	for _, l := range locs {
		if l.Kind == VarLocStack {
			return l.Off, true
		}
	}
	return 0, false
}

// ExitReq is one location an exit (or loop-back edge) requires a value to end up in.
type ExitReq struct {
	IIx    hir.IIx
	Loc    VarLoc
	IsLoop bool
}

// SetExitVlocs handles the terminating Exit instruction: marks every exit var's last use,
// plants register requirements directly, and collects stack-to-stack moves (same value,
// different offset) to be sorted by source offset and executed through a temporary when the
// move graph contains a cycle. When IsLoop is set the value's StackOff location must already
// match (no mixing of StackOff placements across a loop back-edge).
func (a *Allocator) SetExitVlocs(exitIIx hir.IIx, reqs []ExitReq) error {
	for _, r := range reqs {
		if a.isUsed[r.IIx] == hir.NoIIx {
			a.isUsed[r.IIx] = exitIIx
		}
	}

	type stackMove struct {
		iidx           hir.IIx
		fromOff, toOff uint32
	}
	var moves []stackMove

	for _, r := range reqs {
		switch r.Loc.Kind {
		case VarLocReg:
			if reg, ok := findHolder(a.rstates, r.IIx); !ok || reg != r.Loc.Reg {
				a.rstates[r.Loc.Reg] = RState{Fill: FillUndefined, IIxs: []hir.IIx{r.IIx}}
			}
		case VarLocStack:
			cur := a.istates[r.IIx]
			if cur.IsSpilt() && cur.Off != r.Loc.Off {
				moves = append(moves, stackMove{iidx: r.IIx, fromOff: cur.Off, toOff: r.Loc.Off})
			} else if cur.IsNone() {
				a.istates[r.IIx] = StackState(r.Loc.Off)
			}
		case VarLocStackOff:
			if r.IsLoop {
				if cur := a.istates[r.IIx]; cur.IsStackOff() && cur.Off != r.Loc.Off {
					panic("BUG: loop back-edge requires mismatched StackOff placement")
				}
			}
			a.istates[r.IIx] = StackOffState(r.Loc.Off)
		}
	}

	sort.Slice(moves, func(i, j int) bool { return moves[i].fromOff < moves[j].fromOff })
	for _, m := range moves {
		bitw := a.mod.InstWidth(m.iidx)
		tmp, ok := firstEmpty(a.rstates)
		if !ok {
			panic("BUG: no free register to break a stack-to-stack exit move cycle")
		}
		if err := a.be.Unspill(m.fromOff, tmp, FillUndefined, bitw); err != nil {
			return wrapBackendErr("unspill", err)
		}
		if err := a.be.Spill(tmp, FillUndefined, m.toOff, bitw); err != nil {
			return wrapBackendErr("spill", err)
		}
		a.istates[m.iidx] = StackState(m.toOff)
	}
	return nil
}
