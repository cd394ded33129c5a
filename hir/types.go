// Package hir defines the read-only intermediate representation consumed by the register
// allocator: a single, linear block of instructions plus the guard-restore metadata that
// describes side-exit snapshots. Production embedders implement Module themselves against
// their own IR storage; Block is the concrete, in-memory implementation used by tests and by
// the text parser in parser.go.
package hir

import "fmt"

// IIx is a dense index identifying an instruction's position, and hence its value, in a
// Block. Instructions are produced at their defining IIx and consumed at later ones.
type IIx int32

// NoIIx marks the absence of an instruction reference (e.g. an unused operand slot).
const NoIIx IIx = -1

// GRIx is a dense index identifying one guard side-exit and its associated snapshot.
type GRIx int32

// OpKind enumerates the instruction opcodes the allocator and its test harness understand.
type OpKind uint8

const (
	OpArg OpKind = iota
	OpConst
	OpAdd
	OpSub
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr
	OpICmp
	OpTrunc
	OpZExt
	OpSExt
	OpPtrAdd
	OpDynPtrAdd
	OpLoad
	OpStore
	OpCall
	OpGuard
	OpBlackBox
	OpExit
	OpFAdd
)

func (k OpKind) String() string {
	switch k {
	case OpArg:
		return "arg"
	case OpConst:
		return "const"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpXor:
		return "xor"
	case OpShl:
		return "shl"
	case OpLShr:
		return "lshr"
	case OpAShr:
		return "ashr"
	case OpICmp:
		return "icmp"
	case OpTrunc:
		return "trunc"
	case OpZExt:
		return "zext"
	case OpSExt:
		return "sext"
	case OpPtrAdd:
		return "ptradd"
	case OpDynPtrAdd:
		return "dynptradd"
	case OpLoad:
		return "load"
	case OpStore:
		return "store"
	case OpCall:
		return "call"
	case OpGuard:
		return "guard"
	case OpBlackBox:
		return "blackbox"
	case OpExit:
		return "exit"
	case OpFAdd:
		return "fadd"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// TypeTag distinguishes the broad kind of a value's type. Integer width lives alongside the
// tag in Type rather than as distinct tags, following the way the allocator needs "Int(w)"
// treated as one family when deciding which register class and fill rules apply.
type TypeTag uint8

const (
	TypeTagInt TypeTag = iota
	TypeTagPtr
	TypeTagFloat
	TypeTagDouble
	TypeTagFunc
	TypeTagVoid
)

// Type is the tag union of value types the allocator must reason about: Int(w), Ptr, Float,
// Double, Func, Void. Width is meaningful only when Tag == TypeTagInt.
type Type struct {
	Tag   TypeTag
	Width int
}

func IntType(width int) Type { return Type{Tag: TypeTagInt, Width: width} }
func PtrType() Type          { return Type{Tag: TypeTagPtr} }
func FloatType() Type        { return Type{Tag: TypeTagFloat} }
func DoubleType() Type       { return Type{Tag: TypeTagDouble} }
func FuncType() Type         { return Type{Tag: TypeTagFunc} }
func VoidType() Type         { return Type{Tag: TypeTagVoid} }

func (t Type) String() string {
	switch t.Tag {
	case TypeTagInt:
		return fmt.Sprintf("i%d", t.Width)
	case TypeTagPtr:
		return "ptr"
	case TypeTagFloat:
		return "float"
	case TypeTagDouble:
		return "double"
	case TypeTagFunc:
		return "func"
	case TypeTagVoid:
		return "void"
	default:
		return "?"
	}
}

// IsFloatLike is true for Float and Double, the two types for which register fill bits are
// irrelevant (spec: "Fill bits are thus irrelevant in this case").
func (t Type) IsFloatLike() bool {
	return t.Tag == TypeTagFloat || t.Tag == TypeTagDouble
}

// ConstKind is the value carried by an OpConst instruction.
type ConstKind struct {
	IsFloat  bool
	IsDouble bool
	IsPtr    bool
	Width    int
	IntVal   int64
	F32Val   float32
	F64Val   float64
	PtrVal   uintptr
}

func ConstInt(width int, v int64) ConstKind  { return ConstKind{Width: width, IntVal: v} }
func ConstFloat(v float32) ConstKind         { return ConstKind{IsFloat: true, F32Val: v} }
func ConstDouble(v float64) ConstKind        { return ConstKind{IsDouble: true, F64Val: v} }
func ConstPtr(v uintptr) ConstKind           { return ConstKind{IsPtr: true, PtrVal: v} }

func (c ConstKind) String() string {
	switch {
	case c.IsFloat:
		return fmt.Sprintf("%g", c.F32Val)
	case c.IsDouble:
		return fmt.Sprintf("%g", c.F64Val)
	case c.IsPtr:
		return fmt.Sprintf("ptr(%#x)", c.PtrVal)
	default:
		return fmt.Sprintf("%d", c.IntVal)
	}
}

// ArgLoc describes one candidate location a trace-entry argument may already occupy, supplied
// externally by the caller at trace-entry reconciliation time.
type ArgLoc struct {
	IsReg      bool
	RegName    string // name checked with RegResolver.FromName, or "#N" for an index N from RegResolver.NextAuto
	IsStack    bool
	StackOff   uint32
	IsStackOff bool // value *is* the address base+off (StackOff optimization)
	IsConst    bool
}

// Inst is one instruction in a Block.
type Inst struct {
	Op    OpKind
	Ty    Type
	In1   IIx
	In2   IIx
	Const ConstKind
	// ArgLocs is populated only for OpArg: the externally supplied candidate locations for
	// this trace-entry argument.
	ArgLocs []ArgLoc
	// ExitVars is populated only for OpExit: the values reported live at trace exit.
	ExitVars []IIx
	// GuardIdx is populated only for OpGuard: which GuardRestore this guard is tied to.
	GuardIdx GRIx
}

// GuardRestore records, for one guard side-exit, which values must be reconstructable from
// their recorded VarLoc at deopt time.
type GuardRestore struct {
	EntryVars []IIx
}

// Module is the read-only view the allocator queries. Production embedders implement this
// against their own IR storage; spec.md treats both the HIR parser and the host module as
// external collaborators — the allocator package depends only on this interface.
type Module interface {
	// Len returns the number of instructions in the block.
	Len() int
	// Inst returns the instruction at iidx.
	Inst(iidx IIx) Inst
	// InstWidth returns the result bit width of the value at iidx (for non-integer types:
	// 32 for float, 64 for ptr, double and the rest).
	InstWidth(iidx IIx) int
	// InstType returns the type tag of the value at iidx.
	InstType(iidx IIx) Type
	// IsConst reports whether iidx is a constant (never spilt; materialized on demand).
	IsConst(iidx IIx) bool
	// GuardRestores returns the guard metadata, indexed by GRIx.
	GuardRestores() []GuardRestore
}
