package regalloc_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracejit/j2regalloc/hir"
	"github.com/tracejit/j2regalloc/regalloc"
)

// These exercise the universal invariants as directly as the public Allocator surface allows.
// Invariant 1 (register content only ever holds values in a derivable-canonical relationship)
// is an internal structural property of RState/AddIIx/Canonical with no black-box accessor;
// it is exercised indirectly by every scenario test's arrange_fill assertions, since a
// mismatched canonical would produce a wrong fill-arrangement call. Invariant 4 (toposort
// convergence bound) is exercised by TestScenarioF_ThreeRegisterRotation, which confirms a
// genuine 3-cycle resolves in exactly one cycle-breaking iteration, well within the
// |distinct_copies| bound.

// Invariant 2: a value consumed after its definition remains reachable once allocation
// completes — either still register-resident (no stack state recorded at all) or spilt.
func TestInvariant_ValueReachableAfterAllocation(t *testing.T) {
	mod, be := parseWithMock(t, `
		%0:i8 = arg [reg "GPR0"]
		%1:i8 = arg [reg "GPR1"]
		%2:i8 = add %0,%1
		blackbox %2
	`, []string{"GPR0", "GPR1"}, nil)

	entries := map[hir.IIx][]regalloc.VarLoc{
		0: regLocsByName(be, "GPR0"),
		1: regLocsByName(be, "GPR1"),
	}
	a := compileTrace(t, mod, be, entries, nil)

	// %2 never comes under register pressure in this trace, so it stays resident — IState
	// records nothing for it, which is itself the "reachable in a register" case rather than
	// an absence of a location.
	require.True(t, a.IState(2).IsNone(), "unpressured value should remain register-resident, not spilt")
}

// Invariant 3: a spill/unspill pair round-trips a value through the same offset and width.
func TestInvariant_SpillUnspillRoundTripsOffsetAndWidth(t *testing.T) {
	mod, be := parseWithMock(t, `
		%0:i8 = arg [reg "GPR0"]
		%1:i8 = arg [reg "GPR1"]
		%2:i8 = add %0,%1
		blackbox %2
	`, []string{"GPR0", "GPR1", "GPR2"}, nil)

	entries := map[hir.IIx][]regalloc.VarLoc{
		0: regLocsByName(be, "GPR1"),
		1: regLocsByName(be, "GPR0"),
	}
	compileTrace(t, mod, be, entries, nil)

	var spillOff, spillBitw, unspillOff, unspillBitw string
	for _, line := range be.Log {
		switch {
		case strings.HasPrefix(line, "spill "):
			spillOff = offsetOf(t, line, "stack_off=")
			spillBitw = offsetOf(t, line, "bitw=")
		case strings.HasPrefix(line, "unspill "):
			unspillOff = offsetOf(t, line, "stack_off=")
			unspillBitw = offsetOf(t, line, "bitw=")
		}
	}
	require.NotEmpty(t, spillOff, "expected a spill in the cycle-break log: %v", be.Log)
	require.Equal(t, spillOff, unspillOff, "unspill must read back the exact slot its spill wrote")
	require.Equal(t, spillBitw, unspillBitw, "unspill must use the same width its spill wrote")
}

// Invariant 5: a value parked in a register for a guard and later spilt records, in the
// allocator's IState, the same offset the backend's spill call used. The snapshot patch is
// given that same offset; the snapshot itself is not inspected here.
func TestInvariant_GuardSnapshotSpillOffsetMatchesBackendCall(t *testing.T) {
	mod, be := parseWithMock(t, `
		%0:i8 = arg [reg "GPR0"]
		%1:i8 = arg [reg "GPR1"]
		%2:i8 = add %0,%1
		%3:i8 = add %0,%1
		%4:i8 = add %0,%1
		%5:i8 = add %3,%4
		guard [%2]
		blackbox %5
	`, []string{"GPR0", "GPR1", "GPR2"}, nil)

	entries := map[hir.IIx][]regalloc.VarLoc{
		0: regLocsByName(be, "GPR0"),
		1: regLocsByName(be, "GPR1"),
	}
	a := compileTrace(t, mod, be, entries, nil)

	require.True(t, a.IState(2).IsSpilt())
	wantMarker := fmt.Sprintf("stack_off=%d", a.IState(2).Off)
	found := false
	for _, line := range be.Log {
		if strings.HasPrefix(line, "spill ") && strings.Contains(line, wantMarker) {
			found = true
		}
	}
	require.True(t, found, "deopt's recorded offset must match the backend spill call, log: %v", be.Log)
}

// Invariant 6: constants are never assigned a Stack or StackOff location.
func TestInvariant_ConstantsNeverSpilt(t *testing.T) {
	mod, be := parseWithMock(t, `
		%0:i8 = 2
		%1:i8 = add %0,%0
		blackbox %1
		exit []
	`, []string{"GPR0", "GPR1"}, nil)

	a := compileTrace(t, mod, be, nil, nil)

	require.True(t, a.IState(0).IsNone(), "a constant must never be spilt")
	require.False(t, a.IState(0).IsSpilt())
	require.False(t, a.IState(0).IsStackOff())
}

// Invariant 7: after SetExitVlocs, every requested exit location is reflected in allocator
// state — here, a stack-destined exit var's IState records exactly the requested offset.
func TestInvariant_ExitVlocsSatisfied(t *testing.T) {
	mod, be := parseWithMock(t, `
		%0:i8 = arg [reg "GPR0"]
		%1:i8 = arg [reg "GPR1"]
		%2:i8 = add %0,%1
		exit [%2]
	`, []string{"GPR0", "GPR1"}, nil)

	entries := map[hir.IIx][]regalloc.VarLoc{
		0: regLocsByName(be, "GPR0"),
		1: regLocsByName(be, "GPR1"),
	}
	exitLocs := map[hir.IIx]regalloc.VarLoc{
		2: regalloc.StackLoc(24),
	}
	a := compileTrace(t, mod, be, entries, exitLocs)

	require.True(t, a.IState(2).IsSpilt())
	require.Equal(t, uint32(24), a.IState(2).Off)

	// The requested location isn't just bookkeeping: %2's defining instruction must see the
	// pre-pinned stack slot and actually commit the value to it.
	found := false
	for _, line := range be.Log {
		if strings.HasPrefix(line, "spill ") && strings.Contains(line, "stack_off=24") {
			found = true
		}
	}
	require.True(t, found, "exit-destined value must be physically spilt to its requested offset, log: %v", be.Log)
}
