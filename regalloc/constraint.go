package regalloc

import "github.com/tracejit/j2regalloc/hir"

// CnstrKind tags a Cnstr variant.
type CnstrKind uint8

const (
	CnstrClobber CnstrKind = iota
	CnstrInput
	CnstrOutput
	CnstrInputOutput
	CnstrTemp
	CnstrKeepAlive
)

// Cnstr is one per-instruction register request. Alloc returns exactly one Reg per Cnstr, in
// the order the constraints were given.
type Cnstr struct {
	Kind CnstrKind

	// Clobber
	ClobberReg Reg

	// Input / InputOutput
	IIx     hir.IIx
	InFill  Fill
	Clobber bool // Input only: register considered destroyed afterward

	// Output / InputOutput
	OutFill     AnyOfFill
	SameAsInput bool // Output only: may coalesce with a dying Input register

	// Input / Output / InputOutput / Temp
	Regs RegSet

	// KeepAlive
	GRIx hir.GRIx
	IIxs []hir.IIx
}

func ClobberC(reg Reg) Cnstr { return Cnstr{Kind: CnstrClobber, ClobberReg: reg} }

func InputC(iidx hir.IIx, fill Fill, regs RegSet, clobber bool) Cnstr {
	return Cnstr{Kind: CnstrInput, IIx: iidx, InFill: fill, Regs: regs, Clobber: clobber}
}

func OutputC(outFill AnyOfFill, regs RegSet, sameAsInput bool) Cnstr {
	return Cnstr{Kind: CnstrOutput, OutFill: outFill, Regs: regs, SameAsInput: sameAsInput}
}

func InputOutputC(iidx hir.IIx, inFill Fill, outFill AnyOfFill, regs RegSet) Cnstr {
	return Cnstr{Kind: CnstrInputOutput, IIx: iidx, InFill: inFill, OutFill: outFill, Regs: regs}
}

func TempC(regs RegSet) Cnstr { return Cnstr{Kind: CnstrTemp, Regs: regs} }

func KeepAliveC(gridx hir.GRIx, iidxs []hir.IIx) Cnstr {
	return Cnstr{Kind: CnstrKeepAlive, GRIx: gridx, IIxs: iidxs}
}
