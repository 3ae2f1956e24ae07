package ir

import "fmt"

// Builder assembles a Graph. Blocks are numbered in creation order and
// predecessor edges are recorded in the order terminators are emitted, so a
// loop header must be entered from its forward edge before its backedge is
// emitted.
type Builder struct {
	g        *Graph
	finished bool
}

// NewBuilder creates a builder for an empty graph.
func NewBuilder() *Builder {
	return &Builder{g: &Graph{}}
}

// NewBlock appends an empty block.
func (b *Builder) NewBlock() BlockIndex {
	b.mustBeOpen()
	idx := BlockIndex(len(b.g.blocks))
	b.g.blocks = append(b.g.blocks, &Block{index: idx})
	return idx
}

// Emit appends op to block and returns the index of its value. Terminators
// register their edges as predecessors of the destination blocks.
func (b *Builder) Emit(block BlockIndex, op Operation) OpIndex {
	b.mustBeOpen()
	if int(block) < 0 || int(block) >= len(b.g.blocks) {
		panic(fmt.Sprintf("ir: emit into undeclared block %d", block))
	}

	idx := OpIndex(len(b.g.ops))
	b.g.ops = append(b.g.ops, op)
	b.g.opBlock = append(b.g.opBlock, block)
	blk := b.g.blocks[block]
	blk.ops = append(blk.ops, idx)

	for _, succ := range Successors(op) {
		if int(succ) < 0 || int(succ) >= len(b.g.blocks) {
			panic(fmt.Sprintf("ir: edge from B%d to undeclared block %d", block, succ))
		}
		dest := b.g.blocks[succ]
		dest.preds = append(dest.preds, block)
	}
	return idx
}

func (b *Builder) Parameter(block BlockIndex, index int) OpIndex {
	return b.Emit(block, &Parameter{Index: index})
}

// Phi emits a phi. Inputs not yet available (backedge values) may be passed
// as InvalidOp and filled later with SetPhiInput.
func (b *Builder) Phi(block BlockIndex, inputs ...OpIndex) OpIndex {
	return b.Emit(block, &Phi{Values: inputs})
}

// SetPhiInput replaces the i-th input of a phi.
func (b *Builder) SetPhiInput(phi OpIndex, i int, v OpIndex) {
	b.mustBeOpen()
	p, ok := b.g.ops[phi].(*Phi)
	if !ok {
		panic(fmt.Sprintf("ir: operation %d is %s, not a phi", phi, b.g.ops[phi].Opcode()))
	}
	p.Values[i] = v
}

func (b *Builder) Goto(block, dest BlockIndex) OpIndex {
	return b.Emit(block, &Goto{Destination: dest})
}

func (b *Builder) Branch(block BlockIndex, cond OpIndex, ifTrue, ifFalse BlockIndex) OpIndex {
	return b.Emit(block, &Branch{Condition: cond, IfTrue: ifTrue, IfFalse: ifFalse})
}

func (b *Builder) Return(block BlockIndex, values ...OpIndex) OpIndex {
	return b.Emit(block, &Return{Values: values})
}

// Finish derives block kinds, validates the graph and returns it. The
// builder cannot be used afterwards.
func (b *Builder) Finish() (*Graph, error) {
	b.mustBeOpen()
	b.finished = true

	for _, blk := range b.g.blocks {
		blk.kind = BlockMerge
		for _, p := range blk.preds {
			if p >= blk.index {
				blk.kind = BlockLoop
			}
		}
		if blk.kind != BlockLoop && len(blk.preds) == 1 {
			blk.kind = BlockBranchTarget
		}
	}

	if err := b.g.Validate(); err != nil {
		return nil, err
	}
	return b.g, nil
}

func (b *Builder) mustBeOpen() {
	if b.finished {
		panic("ir: builder used after Finish")
	}
}
