package ir

import "fmt"

// BlockIndex is the stable index of a block in its Graph.
type BlockIndex int32

// InvalidBlock is the BlockIndex of no block.
const InvalidBlock BlockIndex = -1

// BlockKind follows from a block's predecessors.
type BlockKind uint8

const (
	// BlockMerge has zero (function entry) or several forward predecessors.
	BlockMerge BlockKind = iota
	// BlockLoop is a loop header: forward predecessor first, backedge last.
	BlockLoop
	// BlockBranchTarget has exactly one predecessor.
	BlockBranchTarget
)

func (k BlockKind) String() string {
	switch k {
	case BlockMerge:
		return "merge"
	case BlockLoop:
		return "loop"
	case BlockBranchTarget:
		return "branch_target"
	default:
		return fmt.Sprintf("invalid(%d)", k)
	}
}

// Block is a basic block. Predecessor order is significant: phi input i
// flows in from predecessor i.
type Block struct {
	index BlockIndex
	kind  BlockKind
	preds []BlockIndex
	ops   []OpIndex
}

func (b *Block) Index() BlockIndex {
	return b.index
}

func (b *Block) Kind() BlockKind {
	return b.kind
}

func (b *Block) IsLoop() bool {
	return b.kind == BlockLoop
}

func (b *Block) IsBranchTarget() bool {
	return b.kind == BlockBranchTarget
}

func (b *Block) HasPredecessors() bool {
	return len(b.preds) > 0
}

func (b *Block) PredecessorCount() int {
	return len(b.preds)
}

// Predecessors returns the predecessor list; callers must not modify it.
func (b *Block) Predecessors() []BlockIndex {
	return b.preds
}

// LastPredecessor returns the last predecessor, which for a loop header is
// the backedge source. InvalidBlock when there are none.
func (b *Block) LastPredecessor() BlockIndex {
	if len(b.preds) == 0 {
		return InvalidBlock
	}
	return b.preds[len(b.preds)-1]
}

// Operations returns the operation indices in execution order.
func (b *Block) Operations() []OpIndex {
	return b.ops
}

func (b *Block) String() string {
	return fmt.Sprintf("B%d", b.index)
}

// Graph is the control-flow graph of one function body. It is immutable
// once returned by Builder.Finish.
type Graph struct {
	blocks  []*Block
	ops     []Operation
	opBlock []BlockIndex
}

func (g *Graph) NumBlocks() int {
	return len(g.blocks)
}

func (g *Graph) NumOps() int {
	return len(g.ops)
}

func (g *Graph) Block(i BlockIndex) *Block {
	return g.blocks[i]
}

func (g *Graph) Blocks() []*Block {
	return g.blocks
}

func (g *Graph) Op(i OpIndex) Operation {
	return g.ops[i]
}

// BlockOf returns the block containing op.
func (g *Graph) BlockOf(op OpIndex) BlockIndex {
	return g.opBlock[op]
}

// LastOperation returns the terminator of a block, or nil for an empty one.
func (g *Graph) LastOperation(b BlockIndex) Operation {
	ops := g.blocks[b].ops
	if len(ops) == 0 {
		return nil
	}
	return g.ops[ops[len(ops)-1]]
}

// Successors returns the blocks b transfers control to.
func (g *Graph) Successors(b BlockIndex) []BlockIndex {
	last := g.LastOperation(b)
	if last == nil {
		return nil
	}
	return Successors(last)
}

// ResolveAliases follows pass-through operations (casts, non-null
// assertions and type annotations) back to the value they forward. Values
// related this way are one value for typing purposes.
func (g *Graph) ResolveAliases(v OpIndex) OpIndex {
	for {
		switch op := g.ops[v].(type) {
		case *TypeCast:
			v = op.Object
		case *AssertNotNull:
			v = op.Object
		case *TypeAnnotation:
			v = op.Value
		default:
			return v
		}
	}
}
