package regalloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracejit/j2regalloc/backend"
	"github.com/tracejit/j2regalloc/hir"
	"github.com/tracejit/j2regalloc/regalloc"
)

// compileTrace drives an Allocator backward over mod exactly as a real backend would: one
// Alloc call per non-arg, non-const, non-exit instruction, built from a small constraint table covering
// the opcodes the scenario suite exercises. Entry and exit reconciliation are handled at the
// edges, mirroring how a trace compiler would call SetEntryVlocsAtStart/SetExitVlocs.
func compileTrace(t *testing.T, mod *hir.Block, be *backend.Mock, entryLocs map[hir.IIx][]regalloc.VarLoc, exitLocs map[hir.IIx]regalloc.VarLoc) *regalloc.Allocator {
	t.Helper()
	a := regalloc.NewAllocator(mod, be)

	var entries []regalloc.EntryVLoc
	for i := 0; i < mod.Len(); i++ {
		iidx := hir.IIx(i)
		if mod.Inst(iidx).Op != hir.OpArg {
			continue
		}
		if locs, ok := entryLocs[iidx]; ok {
			entries = append(entries, regalloc.EntryVLoc{IIx: iidx, Locs: locs})
		}
	}
	a.SetEntryStacksAtEnd(entries)

	for i := mod.Len() - 1; i >= 0; i-- {
		iidx := hir.IIx(i)
		inst := mod.Inst(iidx)

		switch inst.Op {
		case hir.OpArg, hir.OpConst:
			continue

		case hir.OpBlackBox:
			regs := be.PossibleRegs(mod, inst.In1)
			chosen, err := a.Alloc(iidx, []regalloc.Cnstr{
				regalloc.InputC(inst.In1, regalloc.FillUndefined, regs, false),
			})
			require.NoError(t, err)
			be.LogAlloc(iidx, chosen)

		case hir.OpGuard:
			gr := mod.GuardRestores()[inst.GuardIdx]
			a.CaptureSnapshot(inst.GuardIdx, iidx)
			_, err := a.Alloc(iidx, []regalloc.Cnstr{
				regalloc.KeepAliveC(inst.GuardIdx, gr.EntryVars),
			})
			require.NoError(t, err)

		case hir.OpExit:
			var reqs []regalloc.ExitReq
			for _, v := range inst.ExitVars {
				loc, ok := exitLocs[v]
				if !ok {
					loc = regalloc.RegLoc(be.PossibleRegs(mod, v)[0])
				}
				reqs = append(reqs, regalloc.ExitReq{IIx: v, Loc: loc})
			}
			require.NoError(t, a.SetExitVlocs(iidx, reqs))

		case hir.OpTrunc, hir.OpZExt, hir.OpSExt:
			regs := be.PossibleRegs(mod, iidx)
			outFill := regalloc.AnyOfUndefined | regalloc.AnyOfZeroed | regalloc.AnyOfSigned
			if inst.Op == hir.OpZExt {
				outFill = regalloc.AnyOfZeroed
			} else if inst.Op == hir.OpSExt {
				outFill = regalloc.AnyOfSigned
			}
			chosen, err := a.Alloc(iidx, []regalloc.Cnstr{
				regalloc.InputC(inst.In1, regalloc.FillUndefined, regs, true),
				regalloc.OutputC(outFill, regs, true),
			})
			require.NoError(t, err)
			be.LogAlloc(iidx, chosen[:1])

		default:
			// Binary arithmetic/compare/pointer ops: two clobbered inputs feeding a destructively
			// reused output, the common two-operand machine-instruction shape.
			regs := be.PossibleRegs(mod, iidx)
			inFill := regalloc.FillZeroed
			outFill := regalloc.AnyOfZeroed
			if mod.InstType(iidx).IsFloatLike() {
				inFill = regalloc.FillUndefined
				outFill = regalloc.AnyOfUndefined
			}
			chosen, err := a.Alloc(iidx, []regalloc.Cnstr{
				regalloc.InputC(inst.In1, inFill, regs, true),
				regalloc.InputC(inst.In2, inFill, regs, true),
				regalloc.OutputC(outFill, regs, true),
			})
			require.NoError(t, err)
			be.LogAlloc(iidx, chosen[:2])
		}
	}

	require.NoError(t, a.SetEntryVlocsAtStart(entries))
	return a
}

// parseWithMock parses src against a fresh Mock sized for the given register names and returns
// both, ready to feed compileTrace.
func parseWithMock(t *testing.T, src string, gprNames, fpNames []string) (*hir.Block, *backend.Mock) {
	t.Helper()
	be := backend.NewMock(gprNames, fpNames)
	mod, err := hir.Parse(src, be)
	require.NoError(t, err)
	return mod, be
}

func regLocsByName(be *backend.Mock, names ...string) []regalloc.VarLoc {
	locs := make([]regalloc.VarLoc, len(names))
	for i, n := range names {
		idx, ok := be.FromName(n)
		if !ok {
			panic("unknown register name " + n)
		}
		locs[i] = regalloc.RegLoc(regalloc.Reg(idx))
	}
	return locs
}
