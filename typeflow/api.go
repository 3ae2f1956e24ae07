package typeflow

import (
	"fmt"
	"maps"

	"github.com/speakeasy-api/typeflow/ir"
	"github.com/speakeasy-api/typeflow/wasm"
)

// Analyze validates module and graph, then runs a fresh analysis of graph.
//
// Example:
//
//	a, err := typeflow.Analyze(graph, sig, module, typeflow.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if a.IsUnreachable(target) {
//	    // drop the block
//	}
func Analyze(graph *ir.Graph, sig *wasm.FuncType, module *wasm.Module, opts Options) (*Analyzer, error) {
	if err := module.Validate(); err != nil {
		return nil, fmt.Errorf("invalid module: %w", err)
	}
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid function graph: %w", err)
	}
	if err := checkParameters(graph, sig); err != nil {
		return nil, err
	}

	a := New(graph, sig, module, opts)
	if err := a.Run(); err != nil {
		return nil, fmt.Errorf("type analysis failed: %w", err)
	}
	return a, nil
}

func checkParameters(graph *ir.Graph, sig *wasm.FuncType) error {
	params := 0
	if sig != nil {
		params = len(sig.Params)
	}
	for i := 0; i < graph.NumOps(); i++ {
		p, ok := graph.Op(ir.OpIndex(i)).(*ir.Parameter)
		if ok && (p.Index < 0 || p.Index > params) {
			return fmt.Errorf("parameter %d at operation %d: signature declares %d parameters", p.Index, i, params)
		}
	}
	return nil
}

// ResolvedType returns the type known for v, aliases resolved. While the
// analysis is processing a block this is the type known at that point of
// the block; afterwards it is the type at the exit of the block defining v
// itself, so a cast reports its narrowed type. Narrowing learned on a
// branch edge (a null check or type check of v) is recorded in the target
// block and is only visible through ResolvedTypeAt.
func (a *Analyzer) ResolvedType(v ir.OpIndex) wasm.ValueType {
	if a.table.open {
		return a.resolvedType(v)
	}
	return a.ResolvedTypeAt(a.graph.BlockOf(v), v)
}

// ResolvedTypeAt returns the type known for v at the exit of block b, or
// unknown if b has not been analyzed.
func (a *Analyzer) ResolvedTypeAt(b ir.BlockIndex, v ir.OpIndex) wasm.ValueType {
	snapshot := a.blockToSnapshot[b]
	if !snapshot.Valid() {
		return wasm.Unknown
	}
	return a.table.Lookup(snapshot, a.graph.ResolveAliases(v))
}

// InputTypeOf returns the type the operand of op had right before op. It
// reports false for operations that do not consume a refinable value.
func (a *Analyzer) InputTypeOf(op ir.OpIndex) (wasm.ValueType, bool) {
	t, ok := a.inputTypes[op]
	return t, ok
}

// IsUnreachable reports whether block b was proven impossible to execute.
func (a *Analyzer) IsUnreachable(b ir.BlockIndex) bool {
	return a.unreachable.Has(int(b))
}

// Result copies the analysis artifacts out of the analyzer.
func (a *Analyzer) Result() *Result {
	blocks := a.unreachable.AppendTo(nil)
	unreachable := make([]ir.BlockIndex, len(blocks))
	for i, b := range blocks {
		unreachable[i] = ir.BlockIndex(b)
	}
	return &Result{
		InputTypes:  maps.Clone(a.inputTypes),
		Unreachable: unreachable,
	}
}
