package ir

import (
	"errors"
	"fmt"
)

// ErrInvalidGraph is returned when a graph breaks the structural rules the
// analyses rely on.
var ErrInvalidGraph = errors.New("invalid graph")

// Validate checks the structural preconditions of the type analyses:
//
//   - block 0 is the only block without predecessors;
//   - every block is non-empty and ends with its only terminator;
//   - forward edges go from lower to higher block indices, so visiting
//     blocks by index sees every forward predecessor first;
//   - a loop header has exactly two predecessors, the forward edge first and
//     an unconditional backedge last;
//   - phis lead their block and carry one input per predecessor;
//   - non-phi operands are defined before use, so alias chains terminate.
func (g *Graph) Validate() error {
	if len(g.blocks) == 0 {
		return fmt.Errorf("%w: no blocks", ErrInvalidGraph)
	}

	for _, blk := range g.blocks {
		if err := g.validateBlock(blk); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidGraph, blk, err)
		}
	}

	return nil
}

func (g *Graph) validateBlock(blk *Block) error {
	switch {
	case blk.index == 0 && blk.HasPredecessors():
		return fmt.Errorf("entry block has predecessors")
	case blk.index != 0 && !blk.HasPredecessors():
		return fmt.Errorf("block has no predecessors")
	case len(blk.ops) == 0:
		return fmt.Errorf("block is empty")
	}

	if blk.IsLoop() {
		if len(blk.preds) != 2 {
			return fmt.Errorf("loop header has %d predecessors, want forward edge and backedge", len(blk.preds))
		}
		if blk.preds[0] >= blk.index {
			return fmt.Errorf("loop header's first predecessor B%d is not a forward edge", blk.preds[0])
		}
		if _, ok := g.LastOperation(blk.preds[1]).(*Goto); !ok {
			return fmt.Errorf("backedge from B%d is not an unconditional goto", blk.preds[1])
		}
	} else {
		for _, p := range blk.preds {
			if p >= blk.index {
				return fmt.Errorf("predecessor B%d does not precede the block", p)
			}
		}
	}

	seenNonPhi := false
	for i, idx := range blk.ops {
		op := g.ops[idx]
		last := i == len(blk.ops)-1
		if IsTerminator(op) != last {
			if last {
				return fmt.Errorf("block does not end with a terminator")
			}
			return fmt.Errorf("terminator %s at %d is not the last operation", op.Opcode(), idx)
		}
		if br, ok := op.(*Branch); ok && br.IfTrue == br.IfFalse {
			return fmt.Errorf("branch %d targets B%d on both edges", idx, br.IfTrue)
		}

		phi, isPhi := op.(*Phi)
		if isPhi {
			if seenNonPhi {
				return fmt.Errorf("phi %d follows a non-phi operation", idx)
			}
			if len(phi.Values) != len(blk.preds) {
				return fmt.Errorf("phi %d has %d inputs for %d predecessors", idx, len(phi.Values), len(blk.preds))
			}
		} else {
			seenNonPhi = true
		}

		for _, in := range op.Inputs() {
			if in < 0 || int(in) >= len(g.ops) {
				return fmt.Errorf("%s %d uses undefined value %d", op.Opcode(), idx, in)
			}
			if !isPhi && in >= idx {
				return fmt.Errorf("%s %d uses value %d before its definition", op.Opcode(), idx, in)
			}
		}

		switch alloc := op.(type) {
		case *AllocateStruct:
			if _, ok := g.ops[alloc.Rtt].(*RttCanon); !ok {
				return fmt.Errorf("allocation %d takes its type from %s, not rtt_canon", idx, g.ops[alloc.Rtt].Opcode())
			}
		case *AllocateArray:
			if _, ok := g.ops[alloc.Rtt].(*RttCanon); !ok {
				return fmt.Errorf("allocation %d takes its type from %s, not rtt_canon", idx, g.ops[alloc.Rtt].Opcode())
			}
		}
	}

	return nil
}
