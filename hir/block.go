package hir

// Block is the concrete, in-memory Module implementation built by the text parser and used
// throughout the allocator's test suite. Embedders with their own IR storage implement
// Module directly instead of going through Block.
type Block struct {
	insts         []Inst
	guardRestores []GuardRestore
}

var _ Module = (*Block)(nil)

// NewBlock returns an empty Block ready to be appended to via Push.
func NewBlock() *Block {
	return &Block{}
}

// Push appends inst as the next instruction and returns its IIx.
func (b *Block) Push(inst Inst) IIx {
	iidx := IIx(len(b.insts))
	b.insts = append(b.insts, inst)
	return iidx
}

// PushGuardRestore appends a new GuardRestore and returns its GRIx.
func (b *Block) PushGuardRestore(gr GuardRestore) GRIx {
	gridx := GRIx(len(b.guardRestores))
	b.guardRestores = append(b.guardRestores, gr)
	return gridx
}

func (b *Block) Len() int { return len(b.insts) }

func (b *Block) Inst(iidx IIx) Inst { return b.insts[iidx] }

func (b *Block) InstWidth(iidx IIx) int {
	ty := b.insts[iidx].Ty
	switch ty.Tag {
	case TypeTagInt:
		return ty.Width
	case TypeTagPtr:
		return 64
	case TypeTagFloat:
		return 32
	case TypeTagDouble:
		return 64
	default:
		return 64
	}
}

func (b *Block) InstType(iidx IIx) Type { return b.insts[iidx].Ty }

func (b *Block) IsConst(iidx IIx) bool { return b.insts[iidx].Op == OpConst }

func (b *Block) GuardRestores() []GuardRestore { return b.guardRestores }
