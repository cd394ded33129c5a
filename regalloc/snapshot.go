package regalloc

import "github.com/tracejit/j2regalloc/hir"

// Snapshot captures the allocator state as of one guard side-exit: the prefix of istates up
// to (and including) the guard's IIx, and the register states at that point. If a value
// recorded here as register-resident is later evicted and spilled due to pressure, the
// snapshot is patched so deoptimization still finds it.
type Snapshot struct {
	GRIx    hir.GRIx
	IStates []IState // prefix, indexed by IIx [0, iidx]
	RStates []RState
}

// CaptureSnapshot records the allocator state as of guard gridx, whose guard instruction sits
// at uptoIIx. Must be called by the code generator immediately before allocating the guard
// instruction itself, while istates[0..=uptoIIx] still reflect the state at that point.
func (a *Allocator) CaptureSnapshot(gridx hir.GRIx, uptoIIx hir.IIx) *Snapshot {
	snap := &Snapshot{
		GRIx:    gridx,
		IStates: append([]IState(nil), a.istates[:uptoIIx+1]...),
		RStates: make([]RState, len(a.rstates)),
	}
	for i, rs := range a.rstates {
		snap.RStates[i] = RState{
			Fill:  rs.Fill,
			IIxs:  append([]hir.IIx(nil), rs.IIxs...),
			GRIxs: append([]hir.GRIx(nil), rs.GRIxs...),
		}
	}
	a.snapshots = append(a.snapshots, snap)
	return snap
}

// patchSnapshotsForSpill walks every captured snapshot that recorded reg as holding iidx's
// value register-resident, or whose guard is listed in reg's current GRIxs (a value placed
// there by guard optimism after the snapshot was captured), and rewrites its istate entry to
// Stack(off), so a later deopt reads the value from memory instead of the (since-reallocated)
// register. A snapshot only
// ever records a value as register-resident when its istate was None at capture time, so the
// slot being patched must still be None here; anything else means a value was spilt twice
// and the snapshot already disagrees with reality.
func (a *Allocator) patchSnapshotsForSpill(reg Reg, iidx hir.IIx, off uint32) {
	for _, snap := range a.snapshots {
		if int(reg) >= len(snap.RStates) {
			continue
		}
		if !snap.RStates[reg].Holds(iidx) && !a.rstates[reg].HasGRIx(snap.GRIx) {
			continue
		}
		if int(iidx) >= len(snap.IStates) {
			continue
		}
		if !snap.IStates[iidx].IsNone() {
			panic("BUG: patching a snapshot istate that was not None")
		}
		snap.IStates[iidx] = StackState(off)
	}
}
