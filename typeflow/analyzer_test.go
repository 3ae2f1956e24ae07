package typeflow

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/speakeasy-api/typeflow/ir"
	"github.com/speakeasy-api/typeflow/wasm"
)

// testModule declares
//
//	Base {i32}   A <: Base {i32, mut ref null Base}   C <: Base {i32}
//	Other {}     Bytes = array i32   Sig = func(anyref)
//
// with globals gA: ref A, gC: ref C and function f: Sig.
func testModule(t *testing.T) *wasm.Module {
	t.Helper()
	m := wasm.NewModule()
	base := m.AddStruct("Base", wasm.NoSupertype, wasm.Field{Type: wasm.I32})
	a := m.AddStruct("A", base, wasm.Field{Type: wasm.I32}, wasm.Field{Type: wasm.RefNull(base), Mutable: true})
	c := m.AddStruct("C", base, wasm.Field{Type: wasm.I32})
	m.AddStruct("Other", wasm.NoSupertype)
	m.AddArray("Bytes", wasm.NoSupertype, wasm.Field{Type: wasm.I32, Mutable: true})
	sig := m.AddFunc("Sig", wasm.NoSupertype, wasm.FuncType{Params: []wasm.ValueType{wasm.RefNull(wasm.HeapAny)}})
	m.AddGlobal("gA", wasm.Ref(a), false)
	m.AddGlobal("gC", wasm.Ref(c), false)
	m.AddFunction("f", sig)
	if err := m.Validate(); err != nil {
		t.Fatalf("test module: %v", err)
	}
	return m
}

func heap(t *testing.T, m *wasm.Module, name string) wasm.HeapType {
	t.Helper()
	h, ok := m.Lookup(name)
	if !ok {
		t.Fatalf("type %s not declared", name)
	}
	return h
}

func finish(t *testing.T, b *ir.Builder) *ir.Graph {
	t.Helper()
	g, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return g
}

func run(t *testing.T, g *ir.Graph, m *wasm.Module, params ...wasm.ValueType) *Analyzer {
	t.Helper()
	a, err := Analyze(g, &wasm.FuncType{Params: params}, m, DefaultOptions())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return a
}

func expectType(t *testing.T, m *wasm.Module, what string, got, want wasm.ValueType) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %s, got %s", what, m.Format(want), m.Format(got))
	}
}

func expectInput(t *testing.T, m *wasm.Module, a *Analyzer, op ir.OpIndex, want wasm.ValueType) {
	t.Helper()
	got, ok := a.InputTypeOf(op)
	if !ok {
		t.Errorf("Expected an input type for operation %d", op)
		return
	}
	expectType(t, m, "input type", got, want)
}

func TestCastOfParameter(t *testing.T) {
	m := testModule(t)
	b := ir.NewBuilder()
	entry := b.NewBlock()
	p := b.Parameter(entry, 1)
	cast := b.Emit(entry, &ir.TypeCast{Object: p, To: m.MustParse("ref A")})
	b.Return(entry, cast)
	a := run(t, finish(t, b), m, m.MustParse("anyref"))

	expectInput(t, m, a, cast, m.MustParse("anyref"))
	expectType(t, m, "cast", a.ResolvedType(cast), m.MustParse("ref A"))
	expectType(t, m, "parameter", a.ResolvedType(p), m.MustParse("ref A"))
}

func TestNullCheckEdges(t *testing.T) {
	m := testModule(t)
	b := ir.NewBuilder()
	entry, isNull, notNull := b.NewBlock(), b.NewBlock(), b.NewBlock()
	x := b.Parameter(entry, 1)
	check := b.Emit(entry, &ir.IsNull{Object: x, Type: m.MustParse("ref null A")})
	b.Branch(entry, check, isNull, notNull)
	b.Return(isNull)
	b.Return(notNull)
	a := run(t, finish(t, b), m, m.MustParse("ref null A"))

	expectInput(t, m, a, check, m.MustParse("ref null A"))
	expectType(t, m, "null edge", a.ResolvedTypeAt(isNull, x), m.MustParse("nullref"))
	expectType(t, m, "non-null edge", a.ResolvedTypeAt(notNull, x), m.MustParse("ref A"))
	expectType(t, m, "entry", a.ResolvedTypeAt(entry, x), m.MustParse("ref null A"))
	// Edge facts live in the target blocks only.
	expectType(t, m, "defining block", a.ResolvedType(x), m.MustParse("ref null A"))
	if a.IsUnreachable(isNull) || a.IsUnreachable(notNull) {
		t.Error("Expected both edges to stay reachable")
	}
}

func TestNullCheckOfNonNullable(t *testing.T) {
	m := testModule(t)
	b := ir.NewBuilder()
	entry, isNull, notNull := b.NewBlock(), b.NewBlock(), b.NewBlock()
	x := b.Parameter(entry, 1)
	check := b.Emit(entry, &ir.IsNull{Object: x, Type: m.MustParse("ref null A")})
	b.Branch(entry, check, isNull, notNull)
	b.Return(isNull)
	b.Return(notNull)
	a := run(t, finish(t, b), m, m.MustParse("ref A"))

	if !a.IsUnreachable(isNull) {
		t.Error("Expected the null edge of a non-nullable value to be unreachable")
	}
	if a.IsUnreachable(notNull) {
		t.Error("Expected the non-null edge to be reachable")
	}
}

func TestTypeCheckEdges(t *testing.T) {
	m := testModule(t)

	build := func(to string) (*ir.Graph, ir.BlockIndex, ir.BlockIndex, ir.OpIndex, ir.OpIndex) {
		b := ir.NewBuilder()
		entry, yes, no := b.NewBlock(), b.NewBlock(), b.NewBlock()
		p := b.Parameter(entry, 1)
		v := b.Emit(entry, &ir.TypeCast{Object: p, To: m.MustParse("ref A")})
		check := b.Emit(entry, &ir.TypeCheck{Object: v, To: m.MustParse(to)})
		b.Branch(entry, check, yes, no)
		b.Return(yes)
		b.Return(no)
		return finish(t, b), yes, no, v, check
	}

	t.Run("disjoint target", func(t *testing.T) {
		g, yes, no, _, check := build("ref Other")
		a := run(t, g, m, m.MustParse("anyref"))
		expectInput(t, m, a, check, m.MustParse("ref A"))
		if !a.IsUnreachable(yes) {
			t.Error("Expected the true edge of a disjoint test to be unreachable")
		}
		if a.IsUnreachable(no) {
			t.Error("Expected the false edge to be reachable")
		}
	})

	t.Run("always passes", func(t *testing.T) {
		g, yes, no, _, _ := build("ref Base")
		a := run(t, g, m, m.MustParse("anyref"))
		if a.IsUnreachable(yes) {
			t.Error("Expected the true edge to be reachable")
		}
		if !a.IsUnreachable(no) {
			t.Error("Expected the false edge of an always-passing test to be unreachable")
		}
	})

	t.Run("narrows on true edge", func(t *testing.T) {
		b := ir.NewBuilder()
		entry, yes, no := b.NewBlock(), b.NewBlock(), b.NewBlock()
		p := b.Parameter(entry, 1)
		check := b.Emit(entry, &ir.TypeCheck{Object: p, To: m.MustParse("ref C")})
		b.Branch(entry, check, yes, no)
		b.Return(yes)
		b.Return(no)
		a := run(t, finish(t, b), m, m.MustParse("ref null Base"))

		expectType(t, m, "true edge", a.ResolvedTypeAt(yes, p), m.MustParse("ref C"))
		expectType(t, m, "false edge", a.ResolvedTypeAt(no, p), m.MustParse("ref null Base"))
		if got := a.Result().Unreachable; len(got) != 0 {
			t.Errorf("Expected no unreachable blocks, got %v", got)
		}
	})
}

func TestStructAccess(t *testing.T) {
	m := testModule(t)
	A := heap(t, m, "A")
	b := ir.NewBuilder()
	entry := b.NewBlock()
	s := b.Parameter(entry, 1)
	get := b.Emit(entry, &ir.StructGet{Object: s, Struct: A, Field: 1})
	set := b.Emit(entry, &ir.StructSet{Object: s, Value: get, Struct: A, Field: 1})
	b.Return(entry)
	a := run(t, finish(t, b), m, m.MustParse("ref null A"))

	expectInput(t, m, a, get, m.MustParse("ref null A"))
	expectInput(t, m, a, set, m.MustParse("ref A"))
	expectType(t, m, "container", a.ResolvedType(s), m.MustParse("ref A"))
	expectType(t, m, "field", a.ResolvedType(get), m.MustParse("ref null Base"))
}

func TestAliasChain(t *testing.T) {
	m := testModule(t)
	b := ir.NewBuilder()
	entry := b.NewBlock()
	p := b.Parameter(entry, 1)
	nn := b.Emit(entry, &ir.AssertNotNull{Object: p, Type: m.MustParse("anyref")})
	ann := b.Emit(entry, &ir.TypeAnnotation{Value: nn, Type: m.MustParse("eqref")})
	b.Return(entry, ann)
	a := run(t, finish(t, b), m, m.MustParse("anyref"))

	expectInput(t, m, a, nn, m.MustParse("anyref"))
	want := m.MustParse("ref eq")
	for _, v := range []ir.OpIndex{p, nn, ann} {
		expectType(t, m, "alias", a.ResolvedType(v), want)
	}
	if _, ok := a.InputTypeOf(ann); ok {
		t.Error("Expected no input type for a type annotation")
	}
}

func TestProducers(t *testing.T) {
	m := testModule(t)
	A, bytes := heap(t, m, "A"), heap(t, m, "Bytes")
	b := ir.NewBuilder()
	entry := b.NewBlock()
	instance := b.Parameter(entry, 0)
	g := b.Emit(entry, &ir.GlobalGet{Global: 1})
	fn := b.Emit(entry, &ir.RefFunc{Function: 0})
	rttA := b.Emit(entry, &ir.RttCanon{Type: A})
	obj := b.Emit(entry, &ir.AllocateStruct{Rtt: rttA})
	n := b.Emit(entry, &ir.Opaque{Name: "i32.const"})
	rttBytes := b.Emit(entry, &ir.RttCanon{Type: bytes})
	arr := b.Emit(entry, &ir.AllocateArray{Rtt: rttBytes, Length: n})
	length := b.Emit(entry, &ir.ArrayLength{Array: arr})
	null := b.Emit(entry, &ir.Null{Type: m.MustParse("ref null A")})
	b.Return(entry, length)
	a := run(t, finish(t, b), m, m.MustParse("anyref"))

	expectType(t, m, "instance", a.ResolvedType(instance), wasm.Unknown)
	expectType(t, m, "global", a.ResolvedType(g), m.MustParse("ref C"))
	expectType(t, m, "ref.func", a.ResolvedType(fn), m.MustParse("ref Sig"))
	expectType(t, m, "struct.new", a.ResolvedType(obj), m.MustParse("ref A"))
	expectType(t, m, "array.new", a.ResolvedType(arr), m.MustParse("ref Bytes"))
	expectType(t, m, "null", a.ResolvedType(null), m.MustParse("nullref"))
	expectType(t, m, "opaque", a.ResolvedType(n), wasm.Unknown)
	expectInput(t, m, a, length, m.MustParse("ref Bytes"))
}

func TestAccessOfNullIsUnreachable(t *testing.T) {
	m := testModule(t)
	b := ir.NewBuilder()
	entry := b.NewBlock()
	null := b.Emit(entry, &ir.Null{Type: m.MustParse("ref null A")})
	get := b.Emit(entry, &ir.StructGet{Object: null, Struct: heap(t, m, "A"), Field: 0})
	b.Return(entry, get)
	a := run(t, finish(t, b), m)

	if !a.IsUnreachable(entry) {
		t.Error("Expected a field read of null to make the block unreachable")
	}
	expectType(t, m, "null after access", a.ResolvedType(null), wasm.Bottom)
}

// diamond builds entry→{left,right}→join with a phi over gA/gC. When
// nullCheck is set, the left edge is the null edge of a non-nullable
// parameter and left reaches join through an extra block.
func diamond(t *testing.T, nullCheck bool) (*ir.Graph, map[string]ir.OpIndex, map[string]ir.BlockIndex) {
	b := ir.NewBuilder()
	blocks := map[string]ir.BlockIndex{"entry": b.NewBlock(), "left": b.NewBlock()}
	if nullCheck {
		blocks["detour"] = b.NewBlock()
	}
	blocks["right"] = b.NewBlock()
	blocks["join"] = b.NewBlock()

	vals := map[string]ir.OpIndex{}
	vals["p"] = b.Parameter(blocks["entry"], 1)
	if nullCheck {
		vals["cond"] = b.Emit(blocks["entry"], &ir.IsNull{Object: vals["p"], Type: wasm.RefNull(wasm.HeapAny)})
	} else {
		vals["cond"] = b.Emit(blocks["entry"], &ir.Opaque{Name: "cond"})
	}
	b.Branch(blocks["entry"], vals["cond"], blocks["left"], blocks["right"])

	vals["a"] = b.Emit(blocks["left"], &ir.GlobalGet{Global: 0})
	if nullCheck {
		b.Goto(blocks["left"], blocks["detour"])
		b.Goto(blocks["detour"], blocks["join"])
	} else {
		b.Goto(blocks["left"], blocks["join"])
	}
	vals["c"] = b.Emit(blocks["right"], &ir.GlobalGet{Global: 1})
	b.Goto(blocks["right"], blocks["join"])

	vals["phi"] = b.Phi(blocks["join"], vals["a"], vals["c"])
	b.Return(blocks["join"], vals["phi"])
	return finish(t, b), vals, blocks
}

func TestMerge(t *testing.T) {
	m := testModule(t)

	t.Run("both reachable", func(t *testing.T) {
		g, vals, blocks := diamond(t, false)
		a := run(t, g, m, m.MustParse("anyref"))
		expectType(t, m, "phi", a.ResolvedType(vals["phi"]), m.Union(m.MustParse("ref A"), m.MustParse("ref C")))
		expectType(t, m, "phi", a.ResolvedType(vals["phi"]), m.MustParse("ref Base"))
		if a.IsUnreachable(blocks["join"]) {
			t.Error("Expected join to be reachable")
		}
	})

	t.Run("one side unreachable", func(t *testing.T) {
		g, vals, blocks := diamond(t, true)
		a := run(t, g, m, m.MustParse("ref any"))
		if !a.IsUnreachable(blocks["left"]) {
			t.Error("Expected the null edge to be unreachable")
		}
		if !a.IsUnreachable(blocks["detour"]) {
			t.Error("Expected a block reached only from an unreachable block to be unreachable")
		}
		if a.IsUnreachable(blocks["join"]) {
			t.Error("Expected join to stay reachable")
		}
		expectType(t, m, "phi", a.ResolvedType(vals["phi"]), m.MustParse("ref C"))
		if diff := cmp.Diff([]ir.BlockIndex{blocks["left"], blocks["detour"]}, a.Result().Unreachable); diff != "" {
			t.Errorf("unreachable blocks mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestUnknownPoisonsPhi(t *testing.T) {
	m := testModule(t)
	b := ir.NewBuilder()
	entry, left, right, join := b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock()
	cond := b.Emit(entry, &ir.Opaque{Name: "cond"})
	b.Branch(entry, cond, left, right)
	known := b.Emit(left, &ir.GlobalGet{Global: 0})
	b.Goto(left, join)
	opaque := b.Emit(right, &ir.Opaque{Name: "call"})
	b.Goto(right, join)
	phi := b.Phi(join, known, opaque)
	b.Return(join, phi)
	a := run(t, finish(t, b), m)

	expectType(t, m, "phi", a.ResolvedType(phi), wasm.Unknown)
}

// loop builds
//
//	B0: g = global.get gC; goto B1
//	B1: y = phi(g, d); t = opaque; branch t B2 B3
//	B2: d = struct.new A; goto B1
//	B3: return y
func loop(t *testing.T, m *wasm.Module) (*ir.Graph, ir.OpIndex) {
	b := ir.NewBuilder()
	entry, header, body, exit := b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock()
	g := b.Emit(entry, &ir.GlobalGet{Global: 1})
	b.Goto(entry, header)
	y := b.Phi(header, g, ir.InvalidOp)
	cond := b.Emit(header, &ir.Opaque{Name: "cond"})
	b.Branch(header, cond, body, exit)
	rtt := b.Emit(body, &ir.RttCanon{Type: heap(t, m, "A")})
	d := b.Emit(body, &ir.AllocateStruct{Rtt: rtt})
	b.Goto(body, header)
	b.SetPhiInput(y, 1, d)
	b.Return(exit, y)
	return finish(t, b), y
}

func TestLoopFixedPoint(t *testing.T) {
	m := testModule(t)
	g, y := loop(t, m)

	t.Run("first header evaluation is forward only", func(t *testing.T) {
		a := New(g, &wasm.FuncType{}, m, DefaultOptions())
		a.processBlock(g.Block(0))
		a.seal(g.Block(0))
		a.processBlock(g.Block(1))
		if !a.firstLoopHeaderEvaluation {
			t.Error("Expected a provisional header evaluation")
		}
		expectType(t, m, "provisional phi", a.ResolvedType(y), m.MustParse("ref C"))
		a.table.Seal()
	})

	t.Run("converges to the union", func(t *testing.T) {
		a := New(g, &wasm.FuncType{}, m, DefaultOptions())
		if err := a.Run(); err != nil {
			t.Fatalf("Run: %v", err)
		}
		expectType(t, m, "phi", a.ResolvedType(y), m.MustParse("ref Base"))
		expectType(t, m, "phi at exit", a.ResolvedTypeAt(3, y), m.MustParse("ref Base"))
		// entry, header, body, body revisit, exit
		if a.visits != 5 {
			t.Errorf("Expected 5 block visits, got %d", a.visits)
		}
	})

	t.Run("iteration limit", func(t *testing.T) {
		opts := DefaultOptions()
		opts.MaxBlockVisits = 3
		a := New(g, &wasm.FuncType{}, m, opts)
		err := a.Run()
		if !errors.Is(err, ErrIterationLimit) {
			t.Fatalf("Expected ErrIterationLimit, got %v", err)
		}
		if _, err := Analyze(g, &wasm.FuncType{}, m, opts); !errors.Is(err, ErrIterationLimit) {
			t.Errorf("Expected Analyze to wrap ErrIterationLimit, got %v", err)
		}
	})
}

func TestSelfLoop(t *testing.T) {
	m := testModule(t)
	b := ir.NewBuilder()
	entry, header := b.NewBlock(), b.NewBlock()
	g := b.Emit(entry, &ir.GlobalGet{Global: 1})
	b.Goto(entry, header)
	y := b.Phi(header, g, ir.InvalidOp)
	rtt := b.Emit(header, &ir.RttCanon{Type: heap(t, m, "A")})
	d := b.Emit(header, &ir.AllocateStruct{Rtt: rtt})
	b.Goto(header, header)
	b.SetPhiInput(y, 1, d)
	a := run(t, finish(t, b), m)

	expectType(t, m, "phi", a.ResolvedType(y), m.MustParse("ref Base"))
}

func TestNestedLoops(t *testing.T) {
	m := testModule(t)
	b := ir.NewBuilder()
	var blk [7]ir.BlockIndex
	for i := range blk {
		blk[i] = b.NewBlock()
	}
	// B0 → H1(B1) → B2 → H2(B3) ⇄ B4, H2 → B5 → H1, H1 → B6
	g := b.Emit(blk[0], &ir.GlobalGet{Global: 1})
	b.Goto(blk[0], blk[1])

	y := b.Phi(blk[1], g, ir.InvalidOp)
	outer := b.Emit(blk[1], &ir.Opaque{Name: "outer"})
	b.Branch(blk[1], outer, blk[2], blk[6])

	b.Goto(blk[2], blk[3])

	z := b.Phi(blk[3], y, ir.InvalidOp)
	inner := b.Emit(blk[3], &ir.Opaque{Name: "inner"})
	b.Branch(blk[3], inner, blk[4], blk[5])

	rtt := b.Emit(blk[4], &ir.RttCanon{Type: heap(t, m, "A")})
	d := b.Emit(blk[4], &ir.AllocateStruct{Rtt: rtt})
	b.Goto(blk[4], blk[3])

	b.Goto(blk[5], blk[1])
	b.Return(blk[6], y)

	b.SetPhiInput(y, 1, z)
	b.SetPhiInput(z, 1, d)
	a := run(t, finish(t, b), m)

	base := m.MustParse("ref Base")
	expectType(t, m, "outer phi", a.ResolvedType(y), base)
	expectType(t, m, "inner phi", a.ResolvedType(z), base)
	expectType(t, m, "outer phi at exit", a.ResolvedTypeAt(blk[6], y), base)
}

func TestUnreachableBackedgeKeepsForwardType(t *testing.T) {
	m := testModule(t)
	b := ir.NewBuilder()
	entry, header, body, exit := b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock()
	p := b.Parameter(entry, 1)
	b.Goto(entry, header)
	y := b.Phi(header, p, ir.InvalidOp)
	check := b.Emit(header, &ir.TypeCheck{Object: y, To: m.MustParse("ref Other")})
	b.Branch(header, check, body, exit)
	rtt := b.Emit(body, &ir.RttCanon{Type: heap(t, m, "C")})
	d := b.Emit(body, &ir.AllocateStruct{Rtt: rtt})
	b.Goto(body, header)
	b.SetPhiInput(y, 1, d)
	b.Return(exit, y)
	a := run(t, finish(t, b), m, m.MustParse("ref A"))

	if !a.IsUnreachable(body) {
		t.Fatal("Expected the loop body to be unreachable")
	}
	expectType(t, m, "phi", a.ResolvedType(y), m.MustParse("ref A"))
}

func TestRunTwice(t *testing.T) {
	m := testModule(t)
	g, y := loop(t, m)
	a := New(g, &wasm.FuncType{}, m, DefaultOptions())
	if err := a.Run(); err != nil {
		t.Fatal(err)
	}
	visits := a.visits
	if err := a.Run(); err != nil {
		t.Fatal(err)
	}
	if a.visits != visits {
		t.Errorf("Expected a second Run to do nothing, visits went from %d to %d", visits, a.visits)
	}
	expectType(t, m, "phi", a.ResolvedType(y), m.MustParse("ref Base"))
}

func TestDeterministicAndIndependent(t *testing.T) {
	m := testModule(t)
	g, vals, _ := diamond(t, true)
	sig := &wasm.FuncType{Params: []wasm.ValueType{m.MustParse("ref any")}}

	want := run(t, g, m, sig.Params...).Result()

	const workers = 8
	results := make([]*Result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := New(g, sig, m, DefaultOptions())
			if err := a.Run(); err != nil {
				t.Errorf("Run: %v", err)
				return
			}
			results[i] = a.Result()
		}(i)
	}
	wg.Wait()

	opt := cmp.Comparer(func(x, y wasm.ValueType) bool { return x == y })
	for i, got := range results {
		if diff := cmp.Diff(want, got, opt); diff != "" {
			t.Errorf("worker %d result mismatch (-want +got):\n%s", i, diff)
		}
	}
	if _, ok := want.InputTypes[vals["cond"]]; !ok {
		t.Error("Expected the null test to record its input type")
	}
}

func TestAnalyzeRejectsInvalidInput(t *testing.T) {
	m := testModule(t)
	b := ir.NewBuilder()
	entry := b.NewBlock()
	b.Parameter(entry, 2)
	b.Return(entry)
	g := finish(t, b)

	if _, err := Analyze(g, &wasm.FuncType{Params: []wasm.ValueType{wasm.I32}}, m, DefaultOptions()); err == nil {
		t.Error("Expected an error for a parameter missing from the signature")
	}

	bad := wasm.NewModule()
	bad.AddStruct("Orphan", wasm.HeapType(7))
	if _, err := Analyze(g, nil, bad, DefaultOptions()); !errors.Is(err, wasm.ErrInvalidModule) {
		t.Errorf("Expected ErrInvalidModule, got %v", err)
	}
}
