package regalloc

import "github.com/tracejit/j2regalloc/hir"

// IStateKind tags an IState variant.
type IStateKind uint8

const (
	// IStateNone: not spilt; the value lives only in registers, or is a constant
	// materialized on demand.
	IStateNone IStateKind = iota
	// IStateStack: spilt at byte offset Off from the frame base, stored zero-extended to
	// the register-file width.
	IStateStack
	// IStateStackOff: the value *is* the address base+Off; a pointer-into-stack
	// optimization rather than a spill.
	IStateStackOff
)

// IState is the per-IIx instruction state: None, Stack(off), or StackOff(off).
type IState struct {
	Kind IStateKind
	Off  uint32
}

func NoneState() IState               { return IState{Kind: IStateNone} }
func StackState(off uint32) IState    { return IState{Kind: IStateStack, Off: off} }
func StackOffState(off uint32) IState { return IState{Kind: IStateStackOff, Off: off} }

func (s IState) IsNone() bool     { return s.Kind == IStateNone }
func (s IState) IsSpilt() bool    { return s.Kind == IStateStack }
func (s IState) IsStackOff() bool { return s.Kind == IStateStackOff }

// RState is the per-register record: its current fill, the set of IIxs it represents (more
// than one iff those values are merge-derivable from the widest), and the guards that would
// be invalidated if the register is reallocated before those guards fire.
type RState struct {
	Fill  Fill
	IIxs  []hir.IIx
	GRIxs []hir.GRIx
}

func (rs *RState) IsEmpty() bool { return len(rs.IIxs) == 0 }

func (rs *RState) Holds(iidx hir.IIx) bool {
	for _, x := range rs.IIxs {
		if x == iidx {
			return true
		}
	}
	return false
}

// Canonical returns the "value of truth" IIx held by rs: per the merging invariant, the
// smallest IIx, from which any wider merged values were derived via fill arrangement.
func (rs *RState) Canonical() hir.IIx {
	c := hir.NoIIx
	for _, x := range rs.IIxs {
		if c == hir.NoIIx || x < c {
			c = x
		}
	}
	return c
}

func (rs *RState) AddIIx(iidx hir.IIx) {
	if !rs.Holds(iidx) {
		rs.IIxs = append(rs.IIxs, iidx)
	}
}

func (rs *RState) Clear() {
	rs.IIxs = rs.IIxs[:0]
	rs.GRIxs = rs.GRIxs[:0]
	rs.Fill = FillUndefined
}

func (rs *RState) HasGRIx(g hir.GRIx) bool {
	for _, x := range rs.GRIxs {
		if x == g {
			return true
		}
	}
	return false
}

func (rs *RState) AddGRIx(g hir.GRIx) {
	if !rs.HasGRIx(g) {
		rs.GRIxs = append(rs.GRIxs, g)
	}
}

// sameIIxSet reports whether two IIx slices hold the same elements irrespective of order.
func sameIIxSet(a, b []hir.IIx) bool {
	if len(a) != len(b) {
		return false
	}
	for _, x := range a {
		found := false
		for _, y := range b {
			if x == y {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
