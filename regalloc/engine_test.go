package regalloc_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracejit/j2regalloc/hir"
	"github.com/tracejit/j2regalloc/regalloc"
)

// Scenario A: a simple add whose result only escapes through blackbox. Both inputs arrive
// already in the registers the entries request, so the only work left is raising their fill
// from Undefined (the caller's bare promise of location) to Zeroed (what the add consumes).
func TestScenarioA_SimpleAdd(t *testing.T) {
	mod, be := parseWithMock(t, `
		%0:i8 = arg [reg "GPR0"]
		%1:i8 = arg [reg "GPR1"]
		%2:i8 = add %0,%1
		blackbox %2
	`, []string{"GPR0", "GPR1", "GPR2"}, nil)

	entries := map[hir.IIx][]regalloc.VarLoc{
		0: regLocsByName(be, "GPR0"),
		1: regLocsByName(be, "GPR1"),
	}
	compileTrace(t, mod, be, entries, nil)

	require.Equal(t, []string{
		"alloc %3 GPR0",
		"alloc %2 GPR0 GPR1",
		"arrange_fill GPR0 bitw=8 from=undefined to=zeroed",
		"arrange_fill GPR1 bitw=8 from=undefined to=zeroed",
	}, be.Log)
}

// Scenario B: same program, but the two entries arrive in each other's register. The
// allocator discovers a 2-cycle in the required register-to-register moves and breaks it by
// spilling one side through a fresh stack slot instead of looking for a third free register.
func TestScenarioB_EntrySwapForcesSpillUnspill(t *testing.T) {
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

	tail := be.Log[2:] // after the two "alloc" bookkeeping lines, identical to scenario A
	var spills, unspills, copies []string
	for _, line := range tail {
		switch {
		case strings.HasPrefix(line, "spill "):
			spills = append(spills, line)
		case strings.HasPrefix(line, "unspill "):
			unspills = append(unspills, line)
		case strings.HasPrefix(line, "copy_reg "):
			copies = append(copies, line)
		}
	}
	require.Len(t, spills, 1, "expected exactly one spill, got %v", tail)
	require.Len(t, unspills, 1, "expected exactly one unspill, got %v", tail)
	require.Len(t, copies, 1, "expected exactly one copy, got %v", tail)

	spillOff := offsetOf(t, spills[0], "stack_off=")
	unspillOff := offsetOf(t, unspills[0], "stack_off=")
	require.Equal(t, spillOff, unspillOff, "unspill must read back the exact offset its paired spill wrote")
}

// Scenario C: a value referenced only by a guard's entry_vars is tentatively placed in a free
// register (guard optimism). Once later instructions exhaust the register file, the allocator
// must retroactively spill that register and patch the already-captured snapshot so deopt
// reads the value from its new stack slot instead of the register it never truly committed to.
func TestScenarioC_GuardOptimismDemotion(t *testing.T) {
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

	// %2 is referenced only by the guard; everything downstream of it (%3, %4, %5) pressures
	// both remaining registers with values that survive past it, so the register the guard
	// optimistically parked %2 in gets reclaimed before %2's own definition is reached.
	require.True(t, a.IState(2).IsSpilt(), "guard-optimistic value must have been demoted to the stack once register pressure returned")

	wantMarker := fmt.Sprintf("stack_off=%d", a.IState(2).Off)
	foundSpillOf2 := false
	for _, line := range be.Log {
		if strings.HasPrefix(line, "spill ") && strings.Contains(line, wantMarker) {
			foundSpillOf2 = true
		}
	}
	require.True(t, foundSpillOf2, "expected a spill writing to %%2's recorded stack slot, log: %v", be.Log)
}

// Scenario D: the same constant feeds both operands of an add. Constants never occupy a
// stack slot and are cheap to rematerialize, so each consuming register gets its own
// move_const rather than one being copied from the other.
func TestScenarioD_ConstantRematerialization(t *testing.T) {
	mod, be := parseWithMock(t, `
		%0:i8 = 2
		%1:i8 = add %0,%0
		blackbox %1
		exit []
	`, []string{"GPR0", "GPR1"}, nil)

	compileTrace(t, mod, be, nil, nil)

	var constMoves []string
	for _, line := range be.Log {
		if strings.HasPrefix(line, "const ") {
			constMoves = append(constMoves, line)
		}
	}
	require.Len(t, constMoves, 2, "expected two independent move_const calls, log: %v", be.Log)
	for _, line := range be.Log {
		require.NotContains(t, line, "copy_reg", "a constant must never be relocated via copy_reg: %v", be.Log)
	}
}

// Scenario E: a float constant must round-trip through a general-purpose temporary, since it
// cannot be materialized directly as a vector-register immediate.
func TestScenarioE_FloatConstantNeedsTemporary(t *testing.T) {
	mod, be := parseWithMock(t, `
		%0:double = 0.0
		%1:double = 1.0
		%2:double = fadd %0,%1
		blackbox %2
		exit []
	`, []string{"GPR0", "GPR1"}, []string{"XMM0", "XMM1"})

	compileTrace(t, mod, be, nil, nil)

	var constMoves []string
	for _, line := range be.Log {
		if strings.HasPrefix(line, "const ") {
			constMoves = append(constMoves, line)
		}
	}
	require.Len(t, constMoves, 2)
	for _, line := range constMoves {
		require.NotContains(t, line, "tmp_reg=none", "a double constant must be routed through a temporary: %s", line)
	}
}

// Scenario F: three entries arrive rotated through the registers the allocator placed them
// in (%0 in GPR0, %2 in GPR1, %1 in GPR2), forming a 3-cycle in the required moves. Breaking it needs exactly one spill (to free a slot in the cycle)
// and one unspill to close it, with the remaining two registers settled by direct copies.
func TestScenarioF_ThreeRegisterRotation(t *testing.T) {
	mod, be := parseWithMock(t, `
		%0:i8 = arg [reg "GPR0"]
		%1:i8 = arg [reg "GPR1"]
		%2:i8 = arg [reg "GPR2"]
		%3:i8 = add %0,%1
		%4:i8 = add %3,%2
		blackbox %4
	`, []string{"GPR0", "GPR1", "GPR2"}, nil)

	entries := map[hir.IIx][]regalloc.VarLoc{
		0: regLocsByName(be, "GPR1"),
		1: regLocsByName(be, "GPR0"),
		2: regLocsByName(be, "GPR2"),
	}
	compileTrace(t, mod, be, entries, nil)

	var spills, unspills, copies int
	for _, line := range be.Log {
		switch {
		case strings.HasPrefix(line, "spill "):
			spills++
		case strings.HasPrefix(line, "unspill "):
			unspills++
		case strings.HasPrefix(line, "copy_reg "):
			copies++
		}
	}
	require.Equal(t, 1, spills, "log: %v", be.Log)
	require.Equal(t, 1, unspills, "log: %v", be.Log)
	require.GreaterOrEqual(t, copies, 1, "log: %v", be.Log)
}

// Scenario G: a value is consumed twice by separate add instructions that both destructively
// clobber their input registers (the common two-operand machine shape). The earlier consumer
// in program order lands on the exact register the later consumer's own processing already
// parked the value in; since clobbering destroys that register, the value must be preserved
// elsewhere before the earlier consumer runs, or the later consumer — already allocated,
// walking backward — would silently read garbage once the clobber actually executes.
func TestScenarioG_ClobberedInputPreservedAcrossReuse(t *testing.T) {
	mod, be := parseWithMock(t, `
		%0:i8 = arg [reg "GPR0"]
		%1:i8 = arg [reg "GPR1"]
		%2:i8 = add %0,%1
		%3:i8 = add %0,%1
		blackbox %3
	`, []string{"GPR0", "GPR1", "GPR2"}, nil)

	entries := map[hir.IIx][]regalloc.VarLoc{
		0: regLocsByName(be, "GPR0"),
		1: regLocsByName(be, "GPR1"),
	}
	a := compileTrace(t, mod, be, entries, nil)

	require.True(t, a.IState(0).IsSpilt(), "%%0 must be preserved before %%2's clobbering read destroys GPR0")
	require.True(t, a.IState(1).IsSpilt(), "%%1 must be preserved before %%2's clobbering read destroys GPR1")

	for _, iidx := range []hir.IIx{0, 1} {
		marker := fmt.Sprintf("stack_off=%d", a.IState(iidx).Off)
		found := false
		for _, line := range be.Log {
			if strings.HasPrefix(line, "spill ") && strings.Contains(line, marker) {
				found = true
			}
		}
		require.True(t, found, "expected a preserving spill for %%%d, log: %v", iidx, be.Log)
	}
}

func offsetOf(t *testing.T, line, marker string) string {
	t.Helper()
	i := strings.Index(line, marker)
	require.GreaterOrEqual(t, i, 0, "expected %q in %q", marker, line)
	rest := line[i+len(marker):]
	if sp := strings.IndexByte(rest, ' '); sp >= 0 {
		rest = rest[:sp]
	}
	return rest
}
