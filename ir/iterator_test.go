package ir

import (
	"slices"
	"testing"
)

func visitAll(it *Iterator, onBlock func(*Block) bool) []BlockIndex {
	var order []BlockIndex
	for it.HasNext() {
		blk := it.Next()
		order = append(order, blk.Index())
		if onBlock(blk) {
			it.MarkLoopForRevisitSkipHeader()
		}
	}
	return order
}

func TestIteratorOrder(t *testing.T) {
	g, _ := buildLoop(t)

	order := visitAll(NewIterator(g), func(*Block) bool { return false })
	if want := []BlockIndex{0, 1, 2, 3}; !slices.Equal(order, want) {
		t.Errorf("Expected %v, got %v", want, order)
	}
}

func TestIteratorRevisitSkipsHeader(t *testing.T) {
	g, _ := buildLoop(t)

	revisits := 2
	order := visitAll(NewIterator(g), func(blk *Block) bool {
		if blk.Index() == 2 && revisits > 0 {
			revisits--
			return true
		}
		return false
	})
	if want := []BlockIndex{0, 1, 2, 2, 2, 3}; !slices.Equal(order, want) {
		t.Errorf("Expected %v, got %v", want, order)
	}
}

func TestIteratorSelfLoop(t *testing.T) {
	b := NewBuilder()
	e, h := b.NewBlock(), b.NewBlock()
	b.Goto(e, h)
	b.Goto(h, h)
	g, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	revisited := false
	order := visitAll(NewIterator(g), func(blk *Block) bool {
		if blk.Index() == 1 && !revisited {
			revisited = true
			return true
		}
		return false
	})
	if want := []BlockIndex{0, 1, 1}; !slices.Equal(order, want) {
		t.Errorf("Expected %v, got %v", want, order)
	}
}

func TestIteratorRejectsNonBackedge(t *testing.T) {
	g, _ := buildLoop(t)
	it := NewIterator(g)
	it.Next()

	defer func() {
		if recover() == nil {
			t.Error("Expected a panic when the current block is not a backedge")
		}
	}()
	it.MarkLoopForRevisitSkipHeader()
}
