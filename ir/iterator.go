package ir

import "fmt"

// Iterator yields the blocks of a validated graph in an order where every
// forward predecessor is visited before its successor, and lets a loop
// analysis schedule another pass over a loop body.
//
// Validated graphs number blocks topologically along forward edges and keep
// a loop body between its header and its backedge source, so the order is
// index order and a revisit rewinds the cursor to just after the header.
type Iterator struct {
	g       *Graph
	next    BlockIndex
	current *Block
}

// NewIterator returns an iterator over the blocks of g in index order.
func NewIterator(g *Graph) *Iterator {
	return &Iterator{g: g}
}

func (it *Iterator) HasNext() bool {
	return int(it.next) < len(it.g.blocks)
}

// Next returns the next block to visit.
func (it *Iterator) Next() *Block {
	if !it.HasNext() {
		panic("ir: iterator exhausted")
	}
	it.current = it.g.blocks[it.next]
	it.next++
	return it.current
}

// MarkLoopForRevisitSkipHeader schedules the body of the loop closed by the
// current block's backedge to be visited again, starting right after the
// header. The header itself is not yielded again unless it closes its own
// loop, in which case it is the whole body.
func (it *Iterator) MarkLoopForRevisitSkipHeader() {
	if it.current == nil {
		panic("ir: revisit requested before the first block")
	}
	jump, ok := it.g.LastOperation(it.current.index).(*Goto)
	if !ok {
		panic(fmt.Sprintf("ir: %s does not end with a goto", it.current))
	}
	header := it.g.blocks[jump.Destination]
	if !header.IsLoop() || header.LastPredecessor() != it.current.index {
		panic(fmt.Sprintf("ir: %s is not the backedge of %s", it.current, header))
	}
	if header.index == it.current.index {
		it.next = header.index
		return
	}
	it.next = header.index + 1
}
