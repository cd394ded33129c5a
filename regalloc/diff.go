package regalloc

import "github.com/tracejit/j2regalloc/hir"

// RegUnspill loads a value back from its spill slot into a register.
type RegUnspill struct {
	Off  uint32
	Reg  Reg
	Fill Fill
	Bitw int
}

// RegCopy moves a value from one register to another, arranging fill from FromFill to
// ToFill. Self copies (Src == Dst) exist purely to run fill arrangement.
type RegCopy struct {
	Src, Dst           Reg
	FromFill, ToFill   Fill
	Bitw               int
}

// RegSpill writes a register's value out to a stack slot.
type RegSpill struct {
	Reg  Reg
	Fill Fill
	Off  uint32
	Bitw int
}

// RegConstMove materializes a constant directly into a register; constants are never
// unspilt, since per the data model they are never assigned a stack slot.
type RegConstMove struct {
	Reg   Reg
	Bitw  int
	Fill  Fill
	Const hir.ConstKind
}

// RegActions is the unordered bundle of backend work needed to reconcile two register
// states, grouped as the emission contract requires: unspills (and constant
// materializations, emitted alongside them), distinct (cross-register) copies, self copies
// (fill arrangement only), and spills.
type RegActions struct {
	Unspills       []RegUnspill
	ConstMoves     []RegConstMove
	DistinctCopies []RegCopy
	SelfCopies     []RegCopy
	Spills         []RegSpill
}

// diffPlanner carries the read-only context rstateDiffToActionSkipping needs: the instruction states
// (for locating a value's existing stack slot), the per-type bit width function, and a way to
// mint a fresh stack slot for a value that register pressure evicts for the first time.
type diffPlanner struct {
	mod      hir.Module
	istates  []IState
	freshOff func(bitw int) uint32
}

func (p *diffPlanner) bitw(iidx hir.IIx) int {
	return p.mod.InstWidth(iidx)
}

// rstateDiffToActionSkipping computes the actions needed to transition the register file from
// `post` (the state already established for instruction n+1, going backward) to `target`
// (the state instruction n's constraints require to hold beforehand). A register whose
// post-state value is not held anywhere in target (and is neither a constant nor listed in
// skipEvict) gets a spill, to the value's existing stack slot or else a fresh one.
func (p *diffPlanner) rstateDiffToActionSkipping(post, target []RState, skipEvict map[Reg]bool) RegActions {
	var actions RegActions

	// Index which register currently holds each canonical IIx in post, so copies can find
	// a live source instead of falling back to stack.
	holderOf := map[hir.IIx]Reg{}
	for r, rs := range post {
		if rs.IsEmpty() {
			continue
		}
		holderOf[rs.Canonical()] = Reg(r)
	}

	for r := range target {
		reg := Reg(r)
		tgt := target[r]
		cur := post[r]

		if sameIIxSet(tgt.IIxs, cur.IIxs) {
			// Same value, same register, two different fill requirements: target is what
			// this point in the walk needs the register to hold going forward from here, post
			// is what was already established as needed further downstream. The arrangement
			// runs between the two, so it transitions target's fill into post's.
			if !tgt.IsEmpty() && tgt.Fill != cur.Fill {
				actions.SelfCopies = append(actions.SelfCopies, RegCopy{
					Src: reg, Dst: reg,
					FromFill: tgt.Fill, ToFill: cur.Fill,
					Bitw: p.bitw(tgt.Canonical()),
				})
			}
			continue
		}

		// Something else occupies this register in post; spill it first unless target still
		// holds it in some register, where a copy reads it before it is overwritten. A register
		// chosen as this instruction's own output is skipped here: its post-state content
		// is the instruction's freshly produced value, which does not exist before the
		// instruction runs and so needs no eviction. Constants never need eviction: they
		// rematerialize on demand and never occupy a stack slot.
		if !cur.IsEmpty() && !skipEvict[reg] {
			canon := cur.Canonical()
			if !p.mod.IsConst(canon) && !targetHolds(target, canon) {
				off := p.istates[canon].Off
				if !p.istates[canon].IsSpilt() {
					off = p.freshOff(p.bitw(canon))
				}
				actions.Spills = append(actions.Spills, RegSpill{
					Reg: reg, Fill: cur.Fill, Off: off, Bitw: p.bitw(canon),
				})
			}
		}

		if tgt.IsEmpty() {
			continue
		}

		canon := tgt.Canonical()
		// Constants are excluded from this copy-source lookup: rematerializing via
		// move_const is as cheap as a copy and needs no live source register, so every
		// register that wants the same constant gets its own independent move_const below
		// rather than chaining off another register holding it.
		if src, ok := holderOf[canon]; ok && src != reg && !p.mod.IsConst(canon) {
			actions.DistinctCopies = append(actions.DistinctCopies, RegCopy{
				Src: src, Dst: reg,
				FromFill: post[src].Fill, ToFill: tgt.Fill,
				Bitw: p.bitw(canon),
			})
			// The source register's content has now logically moved; later registers
			// wanting the same canonical IIx can still read it from src too (merging),
			// so holderOf is left pointing at src.
			continue
		}

		if p.istates[canon].IsSpilt() {
			actions.Unspills = append(actions.Unspills, RegUnspill{
				Off: p.istates[canon].Off, Reg: reg, Fill: tgt.Fill, Bitw: p.bitw(canon),
			})
			holderOf[canon] = reg
			continue
		}

		if p.mod.IsConst(canon) {
			actions.ConstMoves = append(actions.ConstMoves, RegConstMove{
				Reg: reg, Bitw: p.bitw(canon), Fill: tgt.Fill, Const: p.mod.Inst(canon).Const,
			})
			holderOf[canon] = reg
			continue
		}

		// Not live anywhere, not spilt, not a constant: this is the first time (walking
		// backward) this value is required. It has not been computed yet — its defining
		// instruction, reached later in this walk, will plant it here with no extra code.
		holderOf[canon] = reg
	}

	return actions
}

// targetHolds reports whether canon is required by the target state in any register at all —
// if so, whatever register is giving it up here will be read by a copy before it is
// overwritten, so no separate spill is needed to preserve it.
func targetHolds(target []RState, canon hir.IIx) bool {
	for _, rs := range target {
		if rs.Holds(canon) {
			return true
		}
	}
	return false
}
