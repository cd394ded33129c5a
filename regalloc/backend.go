package regalloc

import "github.com/tracejit/j2regalloc/hir"

// Backend is the narrow code-emission contract the allocator drives. Implementations own a
// concrete register file and assembler; the allocator never encodes machine instructions
// itself. Every method with an error result may fail with a backend-specific error, which the
// allocator wraps in a CompilationError before returning it to the caller.
type Backend interface {
	// MaxRegIdx returns the number of addressable registers; valid Regs are [0, MaxRegIdx).
	MaxRegIdx() int

	// AlignSpill deterministically aligns the next spill slot for a value of bitw bits,
	// given the current high-water stack offset off, and returns the new offset to use.
	AlignSpill(off uint32, bitw int) uint32

	// Spill writes reg's contents (fill-interpreted as fill) to stack offset stackOff,
	// zero-extended to bitw bits.
	Spill(reg Reg, fill Fill, stackOff uint32, bitw int) error
	// Unspill reads bitw bits from stackOff into reg, arranging fill on load.
	Unspill(stackOff uint32, reg Reg, fill Fill, bitw int) error

	// CopyReg moves the value in src into dst verbatim (fill unchanged).
	CopyReg(src, dst Reg) error
	// ArrangeFill converts reg's upper bits in place from srcFill to dstFill, for a value
	// of bitw nominal width.
	ArrangeFill(reg Reg, bitw int, srcFill, dstFill Fill) error

	// MoveConst materializes c into reg at tgtBitw with the given fill, using tmpReg (if
	// non-nil) as scratch for constant kinds that require one (e.g. float constants
	// rematerialized through a general-purpose register).
	MoveConst(reg Reg, tmpReg *Reg, tgtBitw int, fill Fill, c hir.ConstKind) error
	// ConstNeedsTmpReg reports whether materializing c into reg requires a temporary
	// register, and if so a candidate set to choose from.
	ConstNeedsTmpReg(reg Reg, c hir.ConstKind) (candidates RegSet, needed bool)

	// PossibleRegs returns the registers appropriate for the type of the value at iidx
	// (e.g. general-purpose for integers/pointers, floating-point for float/double).
	PossibleRegs(mod hir.Module, iidx hir.IIx) RegSet
}
